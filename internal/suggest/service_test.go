package suggest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeproof/internal/domain"
)

type stubProvider struct {
	mu        sync.Mutex
	generated int
	rerolled  int
	err       error
}

func (p *stubProvider) Generate(_ context.Context, prefs domain.SuggestionPreferences, count int) ([]domain.MissionSuggestion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.generated++
	out := make([]domain.MissionSuggestion, count)
	for i := range out {
		out[i] = domain.MissionSuggestion{
			Title:      fmt.Sprintf("%s #%d", prefs.Interests[0], i+1),
			Category:   "learning",
			Difficulty: "easy",
			XPReward:   100,
			CoinReward: 50,
			Tags:       []string{prefs.Interests[0]},
		}
	}
	return out, nil
}

func (p *stubProvider) Reroll(_ context.Context, current domain.MissionSuggestion, _ domain.SuggestionPreferences, reason string) (domain.MissionSuggestion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return domain.MissionSuggestion{}, p.err
	}
	p.rerolled++
	return domain.MissionSuggestion{Title: "instead of " + current.Title, Reasoning: reason, Difficulty: current.Difficulty}, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var prefs = domain.SuggestionPreferences{Interests: []string{"Coding", "reading"}, Goals: []string{"learn go"}, SkillLevel: "beginner", AvailableMinutes: 45}

func newService(p Provider, c *clock) *Service {
	cache := NewMemoryCache()
	cache.Now = c.Now
	return New(p, Options{PerMinute: 15, PerHour: 60, CacheTTL: 5 * time.Minute, RerollQuota: 3, Cache: cache, Now: c.Now})
}

func TestSuggestCachesByNormalizedPreferences(t *testing.T) {
	p := &stubProvider{}
	c := &clock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	s := newService(p, c)
	ctx := context.Background()

	first, err := s.Suggest(ctx, prefs, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	for _, m := range first {
		assert.NotEmpty(t, m.ID)
	}

	shuffled := domain.SuggestionPreferences{Interests: []string{" reading", "coding", "coding"}, Goals: []string{"Learn Go"}, SkillLevel: "Beginner", AvailableMinutes: 45}
	second, err := s.Suggest(ctx, shuffled, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, p.generated)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("cached batch differs (-first +second):\n%s", diff)
	}

	c.Advance(5 * time.Minute)
	_, err = s.Suggest(ctx, prefs, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, p.generated)
}

func TestSuggestRateLimit(t *testing.T) {
	p := &stubProvider{}
	c := &clock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	s := New(p, Options{PerMinute: 2, PerHour: 3, RerollQuota: 3, Now: c.Now})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Suggest(ctx, prefs, 1)
		require.NoError(t, err)
	}
	_, err := s.Suggest(ctx, prefs, 1)
	require.ErrorIs(t, err, domain.ErrRateLimited)

	c.Advance(61 * time.Second)
	_, err = s.Suggest(ctx, prefs, 1)
	require.NoError(t, err)

	c.Advance(61 * time.Second)
	_, err = s.Suggest(ctx, prefs, 1)
	require.ErrorIs(t, err, domain.ErrRateLimited, "hourly window")

	c.Advance(time.Hour)
	_, err = s.Suggest(ctx, prefs, 1)
	require.NoError(t, err)
}

func TestSuggestValidationAndProviderErrors(t *testing.T) {
	p := &stubProvider{}
	c := &clock{t: time.Now()}
	s := newService(p, c)
	ctx := context.Background()

	_, err := s.Suggest(ctx, domain.SuggestionPreferences{}, 3)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.Suggest(ctx, prefs, MaxCount+1)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.Suggest(ctx, domain.SuggestionPreferences{Interests: []string{"x"}, SkillLevel: "guru"}, 3)
	require.ErrorIs(t, err, domain.ErrValidation)

	p.err = errors.New("503 from upstream")
	_, err = s.Suggest(ctx, prefs, 3)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestRerollQuotaPerSession(t *testing.T) {
	p := &stubProvider{}
	c := &clock{t: time.Now()}
	s := newService(p, c)
	ctx := context.Background()
	current := domain.MissionSuggestion{Title: "Read a chapter", Difficulty: "easy"}

	for want := 2; want >= 0; want-- {
		next, remaining, err := s.Reroll(ctx, "sess-1", current, prefs, "too easy")
		require.NoError(t, err)
		assert.Equal(t, want, remaining)
		assert.Equal(t, "instead of Read a chapter", next.Title)
		assert.NotEmpty(t, next.ID)
	}
	_, _, err := s.Reroll(ctx, "sess-1", current, prefs, "")
	require.ErrorIs(t, err, domain.ErrRerollQuotaExhausted)
	assert.Equal(t, 3, s.Remaining("sess-2"))

	s.ResetSession("sess-1")
	assert.Equal(t, 3, s.Remaining("sess-1"))
}

func TestRerollFailureKeepsQuota(t *testing.T) {
	p := &stubProvider{err: errors.New("boom")}
	c := &clock{t: time.Now()}
	s := newService(p, c)
	_, remaining, err := s.Reroll(context.Background(), "sess", domain.MissionSuggestion{Title: "x"}, prefs, "")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, 3, remaining)
}

func TestCacheKeyDistinguishesCount(t *testing.T) {
	assert.NotEqual(t, CacheKey(prefs, 3), CacheKey(prefs, 4))
	assert.Equal(t, CacheKey(prefs, 3), CacheKey(domain.SuggestionPreferences{
		Interests: []string{"READING", "coding"}, Goals: []string{"learn go "}, SkillLevel: "beginner", AvailableMinutes: 45,
	}, 3))
}

func TestUnreachableRedisFallsThroughToProvider(t *testing.T) {
	p := &stubProvider{}
	rc := &RedisCache{Client: redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})}
	defer rc.Close()
	s := New(p, Options{PerMinute: 15, PerHour: 60, CacheTTL: time.Minute, RerollQuota: 3, Cache: rc})

	got, err := s.Suggest(context.Background(), prefs, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, p.generated)
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	in := []domain.MissionSuggestion{{Title: "a", Tags: []string{"x"}}}
	require.NoError(t, c.Set(ctx, "k", in, time.Minute))
	in[0].Tags[0] = "mutated"

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff([]domain.MissionSuggestion{{Title: "a", Tags: []string{"x"}}}, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("cache entry changed (-want +got):\n%s", diff)
	}
}

func TestNoProviderIsUnavailable(t *testing.T) {
	s := New(nil, Options{PerMinute: 1, PerHour: 1, RerollQuota: 3})
	_, err := s.Suggest(context.Background(), prefs, 3)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	_, remaining, err := s.Reroll(context.Background(), "sess", domain.MissionSuggestion{}, prefs, "")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, 3, remaining)
}
