package ports

import (
	"context"
	"io"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

// RunRepository persists pipeline runs. Update fails with ErrConcurrentUpdate
// when run.Version no longer matches the stored one and bumps it on success.
type RunRepository interface {
	Create(ctx context.Context, run *domain.PipelineRun) error
	Get(ctx context.Context, id string) (*domain.PipelineRun, error)
	Update(ctx context.Context, run *domain.PipelineRun) error
	List(ctx context.Context, filter domain.RunFilter) ([]domain.PipelineRun, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Extractor turns a stored document into structured content.
type Extractor interface {
	Extract(ctx context.Context, doc domain.Document) (domain.ExtractionResult, error)
}

// ExtractionCache stores extraction results by fingerprint.
type ExtractionCache interface {
	Get(ctx context.Context, fp domain.Fingerprint) (domain.ExtractionResult, bool, error)
	Put(ctx context.Context, fp domain.Fingerprint, res domain.ExtractionResult) error
}

// SemanticClassifier maps extracted content to a document type and intent.
type SemanticClassifier interface {
	Classify(ctx context.Context, res domain.ExtractionResult) (domain.SemanticAnalysis, error)
}

// TaxConfigProvider supplies the tax configurations of the legal entity.
type TaxConfigProvider interface {
	TaxConfigurations(ctx context.Context) ([]domain.TaxConfiguration, error)
}

// Dispatcher hands a pending run over for processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, runID string) error
}

// RunQueue is a Dispatcher whose runs are consumed by workers.
type RunQueue interface {
	Dispatcher
	Subscribe(ctx context.Context, handler func(context.Context, string) error) error
}

// RunNotifier publishes run state changes.
type RunNotifier interface {
	RunStateChanged(ctx context.Context, event domain.RunEvent) error
}

// LedgerPoster hands validated entries to the general ledger.
type LedgerPoster interface {
	PostEntry(ctx context.Context, runID string, entry domain.GeneratedEntry) error
}

// LearningObserver receives human validation outcomes. Observe never blocks.
type LearningObserver interface {
	Observe(sample domain.LearningSample)
}

// ThresholdSource reports the current auto-validation threshold.
type ThresholdSource interface {
	Threshold() float64
}

// LearningStore persists learning sessions and the competency snapshot.
type LearningStore interface {
	SaveSession(ctx context.Context, session domain.LearningSession) error
	ListSessions(ctx context.Context, limit int) ([]domain.LearningSession, error)
	SaveSnapshot(ctx context.Context, snapshot domain.CompetencySnapshot) error
	LoadSnapshot(ctx context.Context) (*domain.CompetencySnapshot, error)
}
