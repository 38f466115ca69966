package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stakeproof/internal/domain"
	"stakeproof/internal/keymu"
)

// Store persists mission aggregates. Missions are saved whole, evidence included.
type Store interface {
	CreateMission(ctx context.Context, m domain.Mission) error
	GetMission(ctx context.Context, id string) (domain.Mission, error)
	// UpdateMission loads the mission, applies fn and saves the result as one atomic
	// step against every other writer of the store. Nothing is saved when fn fails.
	UpdateMission(ctx context.Context, id string, fn func(m *domain.Mission) error) (domain.Mission, error)
	MissionForEvidence(ctx context.Context, evidenceID string) (string, error)
	ListMissions(ctx context.Context, f Filter) ([]domain.Mission, error)
	CreateJoin(ctx context.Context, j domain.JoinedMission) error
	ListJoins(ctx context.Context, sourceMissionID string) ([]domain.JoinedMission, error)
}

type Filter struct {
	OwnerID    string
	Status     domain.MissionStatus
	Visibility domain.Visibility
	// AwaitingAssessment keeps only missions holding evidence with no automated result.
	AwaitingAssessment bool
	Limit              int
}

// Match reports whether m passes the filter, ignoring Limit.
func (f Filter) Match(m domain.Mission) bool {
	if f.OwnerID != "" && m.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Visibility != "" && m.Visibility != f.Visibility {
		return false
	}
	if f.AwaitingAssessment {
		for _, ev := range m.Evidence {
			if ev.AI == nil {
				return true
			}
		}
		return false
	}
	return true
}

// MemoryStore keeps missions in process memory. Reads and writes copy the aggregate.
type MemoryStore struct {
	locks    keymu.Map
	mu       sync.RWMutex
	missions map[string]domain.Mission
	order    []string
	evidence map[string]string
	joins    []domain.JoinedMission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		missions: map[string]domain.Mission{},
		evidence: map[string]string{},
	}
}

func (s *MemoryStore) CreateMission(_ context.Context, m domain.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[m.ID]; ok {
		return fmt.Errorf("%w: mission %s already exists", domain.ErrValidation, m.ID)
	}
	s.missions[m.ID] = m.Clone()
	s.order = append(s.order, m.ID)
	s.indexEvidence(m)
	return nil
}

func (s *MemoryStore) GetMission(_ context.Context, id string) (domain.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.missions[id]
	if !ok {
		return domain.Mission{}, fmt.Errorf("mission %s: %w", id, domain.ErrNotFound)
	}
	return m.Clone(), nil
}

// UpdateMission holds the mission's lock across load, fn and save. Different
// missions never contend.
func (s *MemoryStore) UpdateMission(ctx context.Context, id string, fn func(m *domain.Mission) error) (domain.Mission, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	m, err := s.GetMission(ctx, id)
	if err != nil {
		return domain.Mission{}, err
	}
	if err := fn(&m); err != nil {
		return domain.Mission{}, err
	}
	s.mu.Lock()
	s.missions[id] = m.Clone()
	s.indexEvidence(m)
	s.mu.Unlock()
	return m, nil
}

func (s *MemoryStore) indexEvidence(m domain.Mission) {
	for _, ev := range m.Evidence {
		s.evidence[ev.ID] = m.ID
	}
}

func (s *MemoryStore) MissionForEvidence(_ context.Context, evidenceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.evidence[evidenceID]
	if !ok {
		return "", fmt.Errorf("evidence %s: %w", evidenceID, domain.ErrNotFound)
	}
	return id, nil
}

func (s *MemoryStore) ListMissions(_ context.Context, f Filter) ([]domain.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Mission{}
	for _, id := range s.order {
		m := s.missions[id]
		if !f.Match(m) {
			continue
		}
		out = append(out, m.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateJoin(_ context.Context, j domain.JoinedMission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.joins {
		if existing.SourceMissionID == j.SourceMissionID && existing.UserID == j.UserID {
			return fmt.Errorf("%w: user %s already joined mission %s", domain.ErrValidation, j.UserID, j.SourceMissionID)
		}
	}
	s.joins = append(s.joins, j)
	return nil
}

func (s *MemoryStore) ListJoins(_ context.Context, sourceMissionID string) ([]domain.JoinedMission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.JoinedMission{}
	for _, j := range s.joins {
		if sourceMissionID == "" || j.SourceMissionID == sourceMissionID {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].JoinedAt.Before(out[k].JoinedAt) })
	return out, nil
}
