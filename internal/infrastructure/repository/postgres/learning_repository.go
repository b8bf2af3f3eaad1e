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

var _ ports.LearningStore = (*LearningRepository)(nil)

type LearningRepository struct {
	db *sql.DB
}

func NewLearningRepository(db *sql.DB) *LearningRepository {
	return &LearningRepository{db: db}
}

func (r *LearningRepository) SaveSession(ctx context.Context, session domain.LearningSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal learning session: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO learning_sessions (id, window_start, window_end, status, sample_count, payload)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE
SET window_end = EXCLUDED.window_end, status = EXCLUDED.status, sample_count = EXCLUDED.sample_count, payload = EXCLUDED.payload
`, session.ID, session.WindowStart, session.WindowEnd, string(session.Status), session.SampleCount, payload)
	if err != nil {
		return fmt.Errorf("save learning session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions without their samples.
func (r *LearningRepository) ListSessions(ctx context.Context, limit int) ([]domain.LearningSession, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT payload
FROM learning_sessions
ORDER BY window_end DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list learning sessions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.LearningSession, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan learning session: %w", err)
		}
		var session domain.LearningSession
		if err := json.Unmarshal(payload, &session); err != nil {
			return nil, fmt.Errorf("unmarshal learning session: %w", err)
		}
		session.Samples = nil
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate learning sessions: %w", err)
	}
	return out, nil
}

func (r *LearningRepository) SaveSnapshot(ctx context.Context, snapshot domain.CompetencySnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal competency snapshot: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO learning_snapshot (id, payload, updated_at)
VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
`, payload, snapshot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save competency snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns nil when nothing was saved yet.
func (r *LearningRepository) LoadSnapshot(ctx context.Context) (*domain.CompetencySnapshot, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM learning_snapshot WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load competency snapshot: %w", err)
	}
	var snapshot domain.CompetencySnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal competency snapshot: %w", err)
	}
	return &snapshot, nil
}
