// Package memory keeps runs and learning state in process. It backs the
// single-binary deployment and tests; state is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
)

var _ ports.RunRepository = (*RunRepository)(nil)

type RunRepository struct {
	mu   sync.RWMutex
	runs map[string]*domain.PipelineRun
}

func NewRunRepository() *RunRepository {
	return &RunRepository{runs: make(map[string]*domain.PipelineRun)}
}

func (r *RunRepository) Create(ctx context.Context, run *domain.PipelineRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("create run: id %s already exists", run.ID)
	}
	run.Version = 1
	r.runs[run.ID] = run.Clone()
	return nil
}

func (r *RunRepository) Get(ctx context.Context, id string) (*domain.PipelineRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRunNotFound, "get run", fmt.Errorf("id=%s", id))
	}
	return run.Clone(), nil
}

func (r *RunRepository) Update(ctx context.Context, run *domain.PipelineRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.runs[run.ID]
	if !ok {
		return domain.WrapError(domain.ErrRunNotFound, "update run", fmt.Errorf("id=%s", run.ID))
	}
	if stored.Version != run.Version {
		return domain.WrapError(domain.ErrConcurrentUpdate, "update run",
			fmt.Errorf("id=%s version=%d stored=%d", run.ID, run.Version, stored.Version))
	}
	run.Version++
	r.runs[run.ID] = run.Clone()
	return nil
}

// List returns runs newest first.
func (r *RunRepository) List(ctx context.Context, filter domain.RunFilter) ([]domain.PipelineRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]domain.PipelineRun, 0, len(r.runs))
	for _, run := range r.runs {
		if filter.State != "" && run.State != filter.State {
			continue
		}
		out = append(out, *run.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
