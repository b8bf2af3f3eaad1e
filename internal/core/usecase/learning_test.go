package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

func sample(decision domain.Decision, mods ...domain.LineModification) domain.LearningSample {
	return domain.LearningSample{
		RunID:   "run",
		Outcome: domain.ValidationOutcome{ValidatorID: "u", Decision: decision, Modifications: mods},
	}
}

func TestRejectionLowersCompetencyWithinBounds(t *testing.T) {
	store := &learningStoreFake{snapshot: &domain.CompetencySnapshot{
		Competencies: map[domain.CompetencyDomain]float64{
			domain.CompetencyOCRText:        61,
			domain.CompetencyOCRAmounts:     90,
			domain.CompetencyClassification: 90,
			domain.CompetencyEntries:        85,
		},
		Threshold: 80,
	}}
	loop := NewLearningLoop(LearningConfig{}, store, nil)
	if err := loop.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	session, err := loop.ProcessBatch(context.Background(), time.Now(), []domain.LearningSample{sample(domain.DecisionRejected)})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	snap := loop.Snapshot()
	if snap.Competencies[domain.CompetencyOCRText] != 60 {
		t.Fatalf("expected ocr_text clamped at 60, got %v", snap.Competencies[domain.CompetencyOCRText])
	}
	if snap.Competencies[domain.CompetencyOCRAmounts] != 88 {
		t.Fatalf("expected ocr_amounts 88, got %v", snap.Competencies[domain.CompetencyOCRAmounts])
	}
	if session.Deltas[domain.CompetencyOCRText] != -1 || session.Deltas[domain.CompetencyEntries] != -2 {
		t.Fatalf("unexpected deltas: %+v", session.Deltas)
	}
	if session.Status != domain.SessionCompleted {
		t.Fatalf("expected completed session, got %s", session.Status)
	}
	if len(store.sessions) != 1 || store.snapshot.SessionsCompleted != 1 {
		t.Fatalf("expected session and snapshot persisted")
	}

	for i := 0; i < 30; i++ {
		if _, err := loop.ProcessBatch(context.Background(), time.Now(), []domain.LearningSample{sample(domain.DecisionRejected)}); err != nil {
			t.Fatalf("ProcessBatch() error = %v", err)
		}
	}
	for d, v := range loop.Snapshot().Competencies {
		if v < 60 {
			t.Fatalf("competency %s dropped below 60: %v", d, v)
		}
	}
}

func TestModifiedAmountsPenaliseAmountRecognition(t *testing.T) {
	loop := NewLearningLoop(LearningConfig{}, nil, nil)
	before := loop.Snapshot()

	_, err := loop.ProcessBatch(context.Background(), time.Now(), []domain.LearningSample{
		sample(domain.DecisionModified, domain.LineModification{Order: 1, Debit: amount("10")}),
	})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	after := loop.Snapshot()
	if after.Competencies[domain.CompetencyOCRAmounts] != before.Competencies[domain.CompetencyOCRAmounts]-2 {
		t.Fatalf("expected ocr_amounts down by 2")
	}
	if after.Competencies[domain.CompetencyEntries] != before.Competencies[domain.CompetencyEntries]-2 {
		t.Fatalf("expected entry_generation down by 2")
	}
	if after.Competencies[domain.CompetencyOCRText] != before.Competencies[domain.CompetencyOCRText]+1 {
		t.Fatalf("expected ocr_text up by 1")
	}
}

func TestThresholdMovesOnStreaks(t *testing.T) {
	loop := NewLearningLoop(LearningConfig{Streak: 3, InitialThreshold: 80}, nil, nil)

	accepts := []domain.LearningSample{sample(domain.DecisionAccepted), sample(domain.DecisionAccepted), sample(domain.DecisionAccepted)}
	session, err := loop.ProcessBatch(context.Background(), time.Now(), accepts)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if loop.Threshold() != 81 || session.ThresholdBefore != 80 || session.ThresholdAfter != 81 {
		t.Fatalf("expected threshold 80 -> 81, got %v -> %v", session.ThresholdBefore, loop.Threshold())
	}

	// Two corrections, then an acceptance resets the streak.
	_, _ = loop.ProcessBatch(context.Background(), time.Now(), []domain.LearningSample{sample(domain.DecisionRejected), sample(domain.DecisionRejected), sample(domain.DecisionAccepted)})
	if loop.Threshold() != 81 {
		t.Fatalf("expected unchanged threshold, got %v", loop.Threshold())
	}

	_, _ = loop.ProcessBatch(context.Background(), time.Now(), []domain.LearningSample{sample(domain.DecisionRejected), sample(domain.DecisionRejected), sample(domain.DecisionRejected)})
	if loop.Threshold() != 79 {
		t.Fatalf("expected threshold 79 after rejections, got %v", loop.Threshold())
	}
}

func TestThresholdStaysWithinBounds(t *testing.T) {
	loop := NewLearningLoop(LearningConfig{Streak: 1, InitialThreshold: 99, ThresholdMin: 60, ThresholdMax: 100}, nil, nil)
	for i := 0; i < 5; i++ {
		_, _ = loop.ProcessBatch(context.Background(), time.Now(), []domain.LearningSample{sample(domain.DecisionAccepted)})
	}
	if loop.Threshold() != 100 {
		t.Fatalf("expected threshold capped at 100, got %v", loop.Threshold())
	}
	for i := 0; i < 40; i++ {
		_, _ = loop.ProcessBatch(context.Background(), time.Now(), []domain.LearningSample{sample(domain.DecisionRejected)})
	}
	if loop.Threshold() != 60 {
		t.Fatalf("expected threshold floored at 60, got %v", loop.Threshold())
	}
}

func TestObserveIgnoresSystemOutcomesAndNeverBlocks(t *testing.T) {
	loop := NewLearningLoop(LearningConfig{Buffer: 1}, nil, nil)
	system := sample(domain.DecisionAccepted)
	system.Outcome.System = true
	loop.Observe(system)
	if len(loop.samples) != 0 {
		t.Fatalf("expected system outcome to be ignored")
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			loop.Observe(sample(domain.DecisionAccepted))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Observe blocked on a full buffer")
	}
}

func TestRunClosesSessionOnBatchSize(t *testing.T) {
	store := &learningStoreFake{}
	loop := NewLearningLoop(LearningConfig{BatchSize: 2, Window: time.Hour}, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	loop.Observe(sample(domain.DecisionAccepted))
	loop.Observe(sample(domain.DecisionAccepted))

	deadline := time.Now().Add(2 * time.Second)
	for loop.Snapshot().SessionsCompleted < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected a session once the batch filled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	sessions, err := loop.Sessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0].SampleCount != 2 {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}
