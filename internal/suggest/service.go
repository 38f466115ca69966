// Package suggest fronts the generative mission-suggestion provider with a
// rate limit, a short-lived cache and a per-session reroll quota.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stakeproof/internal/domain"
	"stakeproof/internal/metrics"
)

const (
	DefaultCount = 3
	MaxCount     = 10
)

// Provider generates mission suggestions.
type Provider interface {
	Generate(ctx context.Context, prefs domain.SuggestionPreferences, count int) ([]domain.MissionSuggestion, error)
	Reroll(ctx context.Context, current domain.MissionSuggestion, prefs domain.SuggestionPreferences, reason string) (domain.MissionSuggestion, error)
}

type Options struct {
	PerMinute   int
	PerHour     int
	CacheTTL    time.Duration
	RerollQuota int
	Cache       Cache
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

type Service struct {
	provider Provider
	cache    Cache
	ttl      time.Duration
	quota    int
	limiter  *Limiter
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu      sync.Mutex
	rerolls map[string]int
}

func New(p Provider, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		provider: p,
		cache:    opts.Cache,
		ttl:      opts.CacheTTL,
		quota:    opts.RerollQuota,
		limiter:  &Limiter{PerMinute: opts.PerMinute, PerHour: opts.PerHour, Now: opts.Now},
		metrics:  opts.Metrics,
		log:      opts.Logger,
		rerolls:  map[string]int{},
	}
}

func validate(prefs domain.SuggestionPreferences) error {
	if len(prefs.Interests) == 0 && len(prefs.Goals) == 0 {
		return fmt.Errorf("%w: at least one interest or goal is required", domain.ErrValidation)
	}
	switch strings.ToLower(prefs.SkillLevel) {
	case "", "beginner", "intermediate", "advanced":
	default:
		return fmt.Errorf("%w: unknown skill level %q", domain.ErrValidation, prefs.SkillLevel)
	}
	if prefs.AvailableMinutes < 0 {
		return fmt.Errorf("%w: available minutes must not be negative", domain.ErrValidation)
	}
	return nil
}

func providerError(err error) error {
	if errors.Is(err, domain.ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
}

// Suggest returns count generated missions. Cached batches are served
// without touching the rate limit.
func (s *Service) Suggest(ctx context.Context, prefs domain.SuggestionPreferences, count int) ([]domain.MissionSuggestion, error) {
	if err := validate(prefs); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = DefaultCount
	}
	if count > MaxCount {
		return nil, fmt.Errorf("%w: count %d above %d", domain.ErrValidation, count, MaxCount)
	}
	key := CacheKey(prefs, count)
	if s.ttl > 0 {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn("suggestion cache read failed", zap.Error(err))
		}
		if ok {
			s.metrics.Suggestion("cached")
			return cached, nil
		}
	}
	if s.provider == nil {
		return nil, fmt.Errorf("%w: no suggestion provider configured", domain.ErrProviderUnavailable)
	}
	if !s.limiter.Allow() {
		s.metrics.Suggestion("rate_limited")
		return nil, fmt.Errorf("%w: suggestion provider quota reached", domain.ErrRateLimited)
	}
	out, err := s.provider.Generate(ctx, prefs, count)
	if err != nil {
		s.log.Warn("generate suggestions failed", zap.Error(err))
		return nil, providerError(err)
	}
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	s.metrics.Suggestion("generated")
	if s.ttl > 0 {
		if err := s.cache.Set(ctx, key, out, s.ttl); err != nil {
			s.log.Warn("suggestion cache write failed", zap.Error(err))
		}
	}
	return out, nil
}

// Reroll replaces one suggestion, spending one of the session's rerolls on success.
func (s *Service) Reroll(ctx context.Context, sessionID string, current domain.MissionSuggestion, prefs domain.SuggestionPreferences, reason string) (domain.MissionSuggestion, int, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.MissionSuggestion{}, 0, fmt.Errorf("%w: session is required", domain.ErrValidation)
	}
	if err := validate(prefs); err != nil {
		return domain.MissionSuggestion{}, 0, err
	}
	if s.provider == nil {
		return domain.MissionSuggestion{}, s.Remaining(sessionID), fmt.Errorf("%w: no suggestion provider configured", domain.ErrProviderUnavailable)
	}
	if !s.reserve(sessionID) {
		return domain.MissionSuggestion{}, 0, fmt.Errorf("%w: %d rerolls used", domain.ErrRerollQuotaExhausted, s.quota)
	}
	if !s.limiter.Allow() {
		s.release(sessionID)
		s.metrics.Suggestion("rate_limited")
		return domain.MissionSuggestion{}, s.Remaining(sessionID), fmt.Errorf("%w: suggestion provider quota reached", domain.ErrRateLimited)
	}
	next, err := s.provider.Reroll(ctx, current, prefs, reason)
	if err != nil {
		s.release(sessionID)
		s.log.Warn("reroll failed", zap.String("session", sessionID), zap.Error(err))
		return domain.MissionSuggestion{}, s.Remaining(sessionID), providerError(err)
	}
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	s.metrics.Suggestion("rerolled")
	return next, s.Remaining(sessionID), nil
}

func (s *Service) reserve(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rerolls[sessionID] >= s.quota {
		return false
	}
	s.rerolls[sessionID]++
	return true
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rerolls[sessionID] > 0 {
		s.rerolls[sessionID]--
	}
}

// Remaining is the number of rerolls left in the session.
func (s *Service) Remaining(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(0, s.quota-s.rerolls[sessionID])
}

// ResetSession restores the full reroll quota.
func (s *Service) ResetSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rerolls, sessionID)
}
