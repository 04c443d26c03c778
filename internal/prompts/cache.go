package prompts

import (
	"context"
	"sync"
	"time"

	"github.com/familydiary/diary/internal/models"
)

// Lookup returns the prompt stored for a date.
type Lookup interface {
	Get(ctx context.Context, date string) (models.DailyPrompt, error)
}

type cacheEntry struct {
	prompt  models.DailyPrompt
	expires time.Time
}

// CachingLookup wraps another Lookup with a TTL-based in-memory cache. Misses
// are not cached so a prompt generated later becomes visible at once.
type CachingLookup struct {
	base Lookup
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewCachingLookup returns a Lookup that caches found prompts for ttl.
func NewCachingLookup(base Lookup, ttl time.Duration) *CachingLookup {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingLookup{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]cacheEntry),
	}
}

// Get returns a cached prompt when available, otherwise it delegates to the
// underlying lookup and stores the result.
func (c *CachingLookup) Get(ctx context.Context, date string) (models.DailyPrompt, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[date]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.prompt, nil
	}

	prompt, err := c.base.Get(ctx, date)
	if err != nil {
		return models.DailyPrompt{}, err
	}

	c.mu.Lock()
	c.items[date] = cacheEntry{prompt: prompt, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return prompt, nil
}
