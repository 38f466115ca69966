package progress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"stakeproof/internal/domain"
	"stakeproof/internal/keymu"
)

type Store interface {
	// GetProfile fails with domain.ErrNotFound for unknown users.
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, error)
	// UpdateProfile applies fn to the stored profile, or to a fresh one for unknown
	// users, and saves it as one atomic step. Nothing is saved when fn fails.
	UpdateProfile(ctx context.Context, userID string, fn func(p *domain.UserProfile) error) (domain.UserProfile, error)
	ListProfiles(ctx context.Context) ([]domain.UserProfile, error)
}

type MemoryStore struct {
	locks    keymu.Map
	mu       sync.RWMutex
	profiles map[string]domain.UserProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: map[string]domain.UserProfile{}}
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domain.UserProfile{}, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, userID string, fn func(p *domain.UserProfile) error) (domain.UserProfile, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()
	p, err := s.GetProfile(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		p, err = domain.NewProfile(userID), nil
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	if err := fn(&p); err != nil {
		return domain.UserProfile{}, err
	}
	s.mu.Lock()
	s.profiles[userID] = p.Clone()
	s.mu.Unlock()
	return p, nil
}

func (s *MemoryStore) ListProfiles(_ context.Context) ([]domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Tracker applies profile changes through Store.UpdateProfile, one user at a time.
type Tracker struct {
	Store Store
	Now   func() time.Time
}

func NewTracker(store Store) *Tracker {
	return &Tracker{Store: store, Now: time.Now}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// Profile returns the stored profile, or a fresh level-1 profile for unknown users.
func (t *Tracker) Profile(ctx context.Context, userID string) (domain.UserProfile, error) {
	p, err := t.Store.GetProfile(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewProfile(userID), nil
	}
	return p, err
}

// Update applies fn to the user's profile and saves it in one store update.
func (t *Tracker) Update(ctx context.Context, userID string, fn func(p *domain.UserProfile) error) (domain.UserProfile, error) {
	if userID == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: user is required", domain.ErrValidation)
	}
	p, err := t.Store.UpdateProfile(ctx, userID, func(p *domain.UserProfile) error {
		if err := fn(p); err != nil {
			return err
		}
		p.UserID = userID
		return nil
	})
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("update profile %s: %w", userID, err)
	}
	return p, nil
}

// RecordCompletion awards a completed task to the user's profile. A mission
// already credited to the profile is not credited again; the returned change
// is then marked Duplicate.
func (t *Tracker) RecordCompletion(ctx context.Context, userID string, in CompletionInput) (domain.UserProfile, LevelChange, error) {
	if in.Category == "" {
		return domain.UserProfile{}, LevelChange{}, fmt.Errorf("%w: category is required", domain.ErrValidation)
	}
	if in.Points < 0 {
		return domain.UserProfile{}, LevelChange{}, fmt.Errorf("%w: points must not be negative", domain.ErrValidation)
	}
	if in.Difficulty == "" {
		in.Difficulty = domain.Beginner
	}
	if !in.Difficulty.Valid() {
		return domain.UserProfile{}, LevelChange{}, fmt.Errorf("%w: unknown difficulty %q", domain.ErrValidation, in.Difficulty)
	}
	if in.At.IsZero() {
		in.At = t.now()
	}
	var change LevelChange
	p, err := t.Update(ctx, userID, func(p *domain.UserProfile) error {
		if Completed(*p, in.MissionID) {
			level := p.Level(in.Category)
			change = LevelChange{Category: in.Category, From: level, To: level, Duplicate: true}
			return nil
		}
		*p, change = RecordCompletion(*p, in)
		return nil
	})
	return p, change, err
}

// SetPreferences replaces the user's preference set.
func (t *Tracker) SetPreferences(ctx context.Context, userID string, prefs domain.Preferences) (domain.UserProfile, error) {
	if prefs.DailyMinutes < 0 {
		return domain.UserProfile{}, fmt.Errorf("%w: daily minutes must not be negative", domain.ErrValidation)
	}
	for _, fav := range prefs.Favorite {
		for _, avoid := range prefs.Avoid {
			if fav == avoid {
				return domain.UserProfile{}, fmt.Errorf("%w: %s is both favored and avoided", domain.ErrValidation, fav)
			}
		}
	}
	return t.Update(ctx, userID, func(p *domain.UserProfile) error {
		p.Preferences = prefs
		return nil
	})
}

// SetSchedule replaces the user's weekly busy schedule.
func (t *Tracker) SetSchedule(ctx context.Context, userID string, schedule []domain.DaySchedule) (domain.UserProfile, error) {
	for _, d := range schedule {
		if d.Day < 0 || d.Day > 6 {
			return domain.UserProfile{}, fmt.Errorf("%w: day %d out of range", domain.ErrValidation, d.Day)
		}
		for _, s := range d.Slots {
			start, err := ParseClock(s.Start)
			if err != nil {
				return domain.UserProfile{}, err
			}
			end, err := ParseClock(s.End)
			if err != nil {
				return domain.UserProfile{}, err
			}
			if end <= start {
				return domain.UserProfile{}, fmt.Errorf("%w: slot %s-%s ends before it starts", domain.ErrValidation, s.Start, s.End)
			}
		}
	}
	return t.Update(ctx, userID, func(p *domain.UserProfile) error {
		p.Schedule = schedule
		return nil
	})
}

// ParseClock converts "HH:MM" to minutes after midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: invalid time %q", domain.ErrValidation, s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: invalid time %q", domain.ErrValidation, s)
	}
	return h*60 + m, nil
}

// FormatClock converts minutes after midnight to "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
