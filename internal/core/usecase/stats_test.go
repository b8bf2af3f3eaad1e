package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

func TestComputeStatistics(t *testing.T) {
	done := time.Now()
	runs := []domain.PipelineRun{
		{
			State:       domain.StateValidated,
			Extraction:  &domain.ExtractionResult{},
			Analysis:    &domain.SemanticAnalysis{DocumentType: domain.DocPurchaseInvoice},
			Entry:       &domain.GeneratedEntry{Confidence: 90},
			Validation:  &domain.ValidationOutcome{System: true},
			CompletedAt: &done,
			Elapsed:     2 * time.Second,
		},
		{
			State:       domain.StateRejected,
			Extraction:  &domain.ExtractionResult{},
			CacheHit:    true,
			Analysis:    &domain.SemanticAnalysis{DocumentType: domain.DocPurchaseInvoice},
			Entry:       &domain.GeneratedEntry{Confidence: 70},
			Validation:  &domain.ValidationOutcome{},
			CompletedAt: &done,
			Elapsed:     4 * time.Second,
		},
		{State: domain.StatePending},
	}

	stats := ComputeStatistics(runs)
	if stats.TotalRuns != 3 || stats.ByState[domain.StatePending] != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.ByDocumentType[domain.DocPurchaseInvoice] != 2 {
		t.Fatalf("expected 2 purchase invoices, got %d", stats.ByDocumentType[domain.DocPurchaseInvoice])
	}
	if stats.AverageProcessing != 3*time.Second {
		t.Fatalf("expected 3s average, got %v", stats.AverageProcessing)
	}
	if stats.AverageConfidence != 80 || stats.AutoValidationRate != 50 || stats.HumanValidationRate != 50 {
		t.Fatalf("unexpected rates: %+v", stats)
	}
	if stats.CacheHitRate != 50 {
		t.Fatalf("expected cache hit rate 50, got %v", stats.CacheHitRate)
	}
}

func TestStatisticsReportsCurrentThreshold(t *testing.T) {
	f := newPipelineFixture(87)
	stats, err := f.pipeline.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.CurrentThreshold != 87 || stats.TotalRuns != 0 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
}
