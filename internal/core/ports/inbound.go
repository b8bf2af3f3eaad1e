package ports

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

// SubmitRequest carries an uploaded document before it is stored.
// DocumentID is optional; resubmitting the same document under its id lets the
// fingerprint cache skip extraction.
type SubmitRequest struct {
	DocumentID      string
	Filename        string
	MimeType        string
	Body            io.Reader
	SubmittedBy     string
	Origin          domain.Origin
	Confidentiality domain.Confidentiality
	Quality         *domain.ImageQuality
}

// PipelineService is the inbound contract for document intake, review and read models.
type PipelineService interface {
	Submit(ctx context.Context, req SubmitRequest, opts domain.SubmitOptions) (*domain.PipelineRun, error)
	Validate(ctx context.Context, runID string, outcome domain.ValidationOutcome) (*domain.PipelineRun, error)
	GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error)
	Cancel(ctx context.Context, runID string) (*domain.PipelineRun, error)
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.PipelineRun, error)
	Statistics(ctx context.Context) (domain.Statistics, error)
}

// RunProcessor drives one submitted run through the stages.
type RunProcessor interface {
	Process(ctx context.Context, runID string) error
}

// LearningReader exposes the learning state for dashboards.
type LearningReader interface {
	Snapshot() domain.CompetencySnapshot
	Sessions(ctx context.Context, limit int) ([]domain.LearningSession, error)
}

// TaxCalculator computes the taxes of an operation against the configured set.
type TaxCalculator interface {
	CalculateOperation(ctx context.Context, base decimal.Decimal, journal string, date time.Time) (domain.OperationTaxes, error)
}
