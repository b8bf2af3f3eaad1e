package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
)

var _ ports.RunRepository = (*RunRepository)(nil)

// RunRepository stores each run as a JSONB document next to the columns
// used for filtering and optimistic locking.
type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *domain.PipelineRun) error {
	run.Version = 1
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO pipeline_runs (id, document_id, state, payload, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, run.ID, run.Document.ID, string(run.State), payload, run.Version, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *RunRepository) Get(ctx context.Context, id string) (*domain.PipelineRun, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT payload, version
FROM pipeline_runs
WHERE id = $1
`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRunNotFound, "get run", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

// Update writes run when its version still matches and bumps it.
func (r *RunRepository) Update(ctx context.Context, run *domain.PipelineRun) error {
	next := run.Version + 1
	stored := *run
	stored.Version = next
	payload, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE pipeline_runs
SET state = $2, payload = $3, version = $4, updated_at = $5
WHERE id = $1 AND version = $6
`, run.ID, string(run.State), payload, next, run.UpdatedAt, run.Version)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pipeline_runs WHERE id = $1)`, run.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check run exists: %w", err)
		}
		if !exists {
			return domain.WrapError(domain.ErrRunNotFound, "update run", fmt.Errorf("id=%s", run.ID))
		}
		return domain.WrapError(domain.ErrConcurrentUpdate, "update run", fmt.Errorf("id=%s version=%d", run.ID, run.Version))
	}
	run.Version = next
	return nil
}

func (r *RunRepository) List(ctx context.Context, filter domain.RunFilter) ([]domain.PipelineRun, error) {
	query := `
SELECT payload, version
FROM pipeline_runs
`
	args := []any{}
	if filter.State != "" {
		args = append(args, string(filter.State))
		query += "WHERE state = $1\n"
	}
	query += "ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PipelineRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.PipelineRun, error) {
	var (
		payload []byte
		version int64
	)
	if err := row.Scan(&payload, &version); err != nil {
		return nil, err
	}
	var run domain.PipelineRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	run.Version = version
	return &run, nil
}
