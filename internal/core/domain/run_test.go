package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestRun() *PipelineRun {
	return NewPipelineRun("run-1", Document{ID: "doc-1"}, SubmitOptions{}, time.Unix(0, 0).UTC())
}

func TestTransitionsFollowStageOrder(t *testing.T) {
	run := newTestRun()
	now := time.Unix(10, 0).UTC()
	for _, next := range []RunState{StateExtracting, StateAnalyzing, StateGenerating, StateAwaitingValidation, StateValidated} {
		if err := run.TransitionTo(next, now); err != nil {
			t.Fatalf("TransitionTo(%s) error = %v", next, err)
		}
	}
	if run.CompletedAt == nil || run.Elapsed != 10*time.Second {
		t.Fatalf("expected completion time and elapsed 10s, got %v %v", run.CompletedAt, run.Elapsed)
	}
	if err := run.TransitionTo(StateError, now); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected terminal run to refuse transitions, got %v", err)
	}
}

func TestTransitionRejectsSkippingStages(t *testing.T) {
	run := newTestRun()
	if err := run.TransitionTo(StateGenerating, time.Now()); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if run.State != StatePending {
		t.Fatalf("expected run untouched, got %s", run.State)
	}
}

func TestRecordArtifactsOncePerStage(t *testing.T) {
	run := newTestRun()
	now := time.Now()
	if err := run.RecordExtraction(ExtractionResult{}, false, now); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected extraction to require extracting state, got %v", err)
	}
	_ = run.TransitionTo(StateExtracting, now)
	if err := run.RecordExtraction(ExtractionResult{Text: "a"}, false, now); err != nil {
		t.Fatalf("RecordExtraction() error = %v", err)
	}
	if err := run.RecordExtraction(ExtractionResult{Text: "b"}, false, now); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected second extraction to be refused, got %v", err)
	}
	if run.Extraction.Text != "a" {
		t.Fatalf("expected first artifact kept, got %q", run.Extraction.Text)
	}
}

func TestFailKeepsArtifacts(t *testing.T) {
	run := newTestRun()
	now := time.Now()
	_ = run.TransitionTo(StateExtracting, now)
	_ = run.RecordExtraction(ExtractionResult{Text: "kept"}, false, now)
	_ = run.TransitionTo(StateAnalyzing, now)

	cause := WrapError(ErrConfiguration, "load", errors.New("no account"))
	if err := run.Fail(StageAnalysis, cause, now); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if run.State != StateError || run.Extraction == nil {
		t.Fatalf("expected error state with extraction kept, got %s", run.State)
	}
	if len(run.Errors) != 1 || run.Errors[0].Kind != "ConfigurationError" || run.Errors[0].Stage != StageAnalysis {
		t.Fatalf("unexpected stage errors: %+v", run.Errors)
	}
}

func TestRecordValidationDecidesFinalState(t *testing.T) {
	for _, tc := range []struct {
		decision Decision
		want     RunState
	}{
		{DecisionAccepted, StateValidated},
		{DecisionModified, StateValidated},
		{DecisionRejected, StateRejected},
	} {
		run := newTestRun()
		run.State = StateAwaitingValidation
		run.Entry = &GeneratedEntry{ID: "e"}
		if err := run.RecordValidation(ValidationOutcome{Decision: tc.decision}, nil, time.Now()); err != nil {
			t.Fatalf("RecordValidation(%s) error = %v", tc.decision, err)
		}
		if run.State != tc.want {
			t.Fatalf("decision %s: expected %s, got %s", tc.decision, tc.want, run.State)
		}
		if err := run.RecordValidation(ValidationOutcome{Decision: tc.decision}, nil, time.Now()); !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("expected re-validation to fail, got %v", err)
		}
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	run := newTestRun()
	run.Entry = &GeneratedEntry{Lines: []EntryLine{{Account: "601", Debit: decimal.NewFromInt(1)}}}
	cp := run.Clone()
	cp.Entry.Lines[0].Account = "999"
	if run.Entry.Lines[0].Account != "601" {
		t.Fatalf("clone aliases entry lines")
	}
}

func TestApplyModificationsAndBalance(t *testing.T) {
	entry := GeneratedEntry{
		ID: "e",
		Lines: []EntryLine{
			{Order: 1, Account: "601", Debit: decimal.NewFromInt(100), Credit: decimal.Zero},
			{Order: 2, Account: "401", Debit: decimal.Zero, Credit: decimal.NewFromInt(100)},
		},
	}
	out, err := ApplyModifications(entry, []LineModification{
		{Order: 1, Account: "602", Debit: decimal.NewNullDecimal(decimal.NewFromInt(120))},
	})
	if err != nil {
		t.Fatalf("ApplyModifications() error = %v", err)
	}
	if out.Lines[0].Account != "602" || out.Lines[0].Origin != OriginManual {
		t.Fatalf("unexpected modified line: %+v", out.Lines[0])
	}
	if err := out.CheckBalance(2); !errors.Is(err, ErrAmountImbalance) {
		t.Fatalf("expected imbalance after modification, got %v", err)
	}
	if entry.Lines[0].Account != "601" {
		t.Fatalf("original entry must stay untouched")
	}

	if _, err := ApplyModifications(entry, []LineModification{{Order: 9, Remove: true}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown line to be rejected, got %v", err)
	}
}

func TestFingerprintDependsOnIdentitySizeAndType(t *testing.T) {
	a := FingerprintOf(Document{ID: "d", Size: 10, MimeType: "application/PDF"})
	b := FingerprintOf(Document{ID: "d", Size: 10, MimeType: "application/pdf", Filename: "other.pdf"})
	c := FingerprintOf(Document{ID: "d", Size: 11, MimeType: "application/pdf"})
	if a != b {
		t.Fatalf("expected fingerprint to ignore filename and mime case")
	}
	if a == c {
		t.Fatalf("expected size to change the fingerprint")
	}
}
