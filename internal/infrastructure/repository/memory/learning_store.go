package memory

import (
	"context"
	"sync"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
)

var _ ports.LearningStore = (*LearningStore)(nil)

const maxSessions = 500

type LearningStore struct {
	mu       sync.RWMutex
	sessions []domain.LearningSession
	snapshot *domain.CompetencySnapshot
}

func NewLearningStore() *LearningStore {
	return &LearningStore{}
}

func (s *LearningStore) SaveSession(_ context.Context, session domain.LearningSession) error {
	session.Samples = nil
	session.Deltas = copyDeltas(session.Deltas)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, session)
	if len(s.sessions) > maxSessions {
		s.sessions = s.sessions[len(s.sessions)-maxSessions:]
	}
	return nil
}

// ListSessions returns the most recent sessions first.
func (s *LearningStore) ListSessions(_ context.Context, limit int) ([]domain.LearningSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.LearningSession, 0, min(limit, len(s.sessions)))
	for i := len(s.sessions) - 1; i >= 0 && len(out) < limit; i-- {
		session := s.sessions[i]
		session.Deltas = copyDeltas(session.Deltas)
		out = append(out, session)
	}
	return out, nil
}

func (s *LearningStore) SaveSnapshot(_ context.Context, snapshot domain.CompetencySnapshot) error {
	snapshot.Competencies = copyDeltas(snapshot.Competencies)
	s.mu.Lock()
	s.snapshot = &snapshot
	s.mu.Unlock()
	return nil
}

func (s *LearningStore) LoadSnapshot(context.Context) (*domain.CompetencySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil, nil
	}
	out := *s.snapshot
	out.Competencies = copyDeltas(s.snapshot.Competencies)
	return &out, nil
}

func copyDeltas(in map[domain.CompetencyDomain]float64) map[domain.CompetencyDomain]float64 {
	if in == nil {
		return nil
	}
	out := make(map[domain.CompetencyDomain]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
