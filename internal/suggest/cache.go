package suggest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"stakeproof/internal/domain"
)

// Cache stores generated suggestion batches for a short time.
type Cache interface {
	Get(ctx context.Context, key string) ([]domain.MissionSuggestion, bool, error)
	Set(ctx context.Context, key string, v []domain.MissionSuggestion, ttl time.Duration) error
}

// CacheKey normalizes prefs so equivalent requests share an entry.
func CacheKey(prefs domain.SuggestionPreferences, count int) string {
	norm := func(in []string) []string {
		seen := map[string]bool{}
		out := []string{}
		for _, s := range in {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
		sort.Strings(out)
		return out
	}
	canonical := struct {
		Interests []string `json:"i"`
		Goals     []string `json:"g"`
		Avoid     []string `json:"a"`
		Skill     string   `json:"s"`
		Minutes   int      `json:"m"`
		Count     int      `json:"c"`
	}{
		Interests: norm(prefs.Interests),
		Goals:     norm(prefs.Goals),
		Avoid:     norm(prefs.Avoid),
		Skill:     strings.ToLower(strings.TrimSpace(prefs.SkillLevel)),
		Minutes:   prefs.AvailableMinutes,
		Count:     count,
	}
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return "suggest:" + hex.EncodeToString(sum[:16])
}

type memoryEntry struct {
	value   []domain.MissionSuggestion
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	Now func() time.Time

	mu    sync.Mutex
	items map[string]memoryEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{Now: time.Now, items: map[string]memoryEntry{}}
}

func (c *MemoryCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]domain.MissionSuggestion, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.items, key)
		return nil, false, nil
	}
	return clone(e.value), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, v []domain.MissionSuggestion, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = map[string]memoryEntry{}
	}
	now := c.now()
	for k, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, k)
		}
	}
	c.items[key] = memoryEntry{value: clone(v), expires: now.Add(ttl)}
	return nil
}

// RedisCache shares cached batches between processes as JSON values with a TTL.
type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache connects to a redis:// URL.
func NewRedisCache(url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return &RedisCache{Client: redis.NewClient(opt)}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]domain.MissionSuggestion, bool, error) {
	data, err := c.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []domain.MissionSuggestion
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("decode cached suggestions: %w", err)
	}
	return out, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, v []domain.MissionSuggestion, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}

func clone(in []domain.MissionSuggestion) []domain.MissionSuggestion {
	out := make([]domain.MissionSuggestion, len(in))
	for i, s := range in {
		s.Tags = append([]string(nil), s.Tags...)
		out[i] = s
	}
	return out
}
