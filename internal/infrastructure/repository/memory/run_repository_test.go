package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

func newRun(id string, at time.Time) *domain.PipelineRun {
	return domain.NewPipelineRun(id, domain.Document{ID: "doc-" + id}, domain.SubmitOptions{}, at)
}

func TestUpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository()
	run := newRun("r1", time.Now())
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	a, _ := repo.Get(ctx, "r1")
	b, _ := repo.Get(ctx, "r1")
	if err := a.TransitionTo(domain.StateExtracting, time.Now()); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("version = %d", a.Version)
	}

	if err := b.Cancel(time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := repo.Update(ctx, b); !domain.IsKind(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}

	stored, _ := repo.Get(ctx, "r1")
	if stored.State != domain.StateExtracting {
		t.Fatalf("stale write leaked: %s", stored.State)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository()
	_ = repo.Create(ctx, newRun("r1", time.Now()))

	got, _ := repo.Get(ctx, "r1")
	got.State = domain.StateError
	again, _ := repo.Get(ctx, "r1")
	if again.State != domain.StatePending {
		t.Fatalf("repository state aliased: %s", again.State)
	}

	if _, err := repo.Get(ctx, "missing"); !domain.IsKind(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListNewestFirstWithFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		_ = repo.Create(ctx, newRun(id, base.Add(time.Duration(i)*time.Hour)))
	}
	c, _ := repo.Get(ctx, "c")
	_ = c.Cancel(base.Add(4 * time.Hour))
	_ = repo.Update(ctx, c)

	runs, _ := repo.List(ctx, domain.RunFilter{Limit: 2})
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("unexpected order %v", ids(runs))
	}

	pending, _ := repo.List(ctx, domain.RunFilter{State: domain.StatePending})
	if len(pending) != 2 || pending[0].ID != "b" {
		t.Fatalf("unexpected pending runs %v", ids(pending))
	}
}

func TestLearningStoreKeepsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewLearningStore()
	for _, id := range []string{"s1", "s2", "s3"} {
		_ = store.SaveSession(ctx, domain.LearningSession{ID: id, Samples: []domain.LearningSample{{RunID: id}}})
	}
	sessions, _ := store.ListSessions(ctx, 2)
	if len(sessions) != 2 || sessions[0].ID != "s3" || sessions[0].Samples != nil {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	if snap, _ := store.LoadSnapshot(ctx); snap != nil {
		t.Fatalf("expected empty snapshot")
	}
	_ = store.SaveSnapshot(ctx, domain.CompetencySnapshot{Threshold: 82, Competencies: map[domain.CompetencyDomain]float64{domain.CompetencyOCRText: 90}})
	snap, _ := store.LoadSnapshot(ctx)
	snap.Competencies[domain.CompetencyOCRText] = 0
	again, _ := store.LoadSnapshot(ctx)
	if again.Threshold != 82 || again.Competencies[domain.CompetencyOCRText] != 90 {
		t.Fatalf("unexpected snapshot %+v", again)
	}
}

func ids(runs []domain.PipelineRun) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
