package gomatrixstateres

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEventCacheSize is the number of events a CachingEventProvider
// holds if no size is given.
const DefaultEventCacheSize = 4096

// CachingEventProvider wraps an EventProvider with a least recently used
// cache of events. Events are immutable so entries never go stale. Errors
// are not cached. It is safe for concurrent use, so one cache can serve
// several resolutions running at once.
type CachingEventProvider struct {
	provider EventProvider
	cache    *lru.Cache[string, Event]
	metrics  *Metrics
}

// NewCachingEventProvider returns a CachingEventProvider holding up to
// size events. A size of zero or less uses DefaultEventCacheSize.
func NewCachingEventProvider(provider EventProvider, size int, metrics *Metrics) (*CachingEventProvider, error) {
	if size <= 0 {
		size = DefaultEventCacheSize
	}
	cache, err := lru.New[string, Event](size)
	if err != nil {
		return nil, err
	}
	return &CachingEventProvider{
		provider: provider,
		cache:    cache,
		metrics:  metrics,
	}, nil
}

// Event implements EventProvider
func (c *CachingEventProvider) Event(ctx context.Context, eventID string) (Event, error) {
	if event, ok := c.cache.Get(eventID); ok {
		c.metrics.observeCacheLookup(true)
		return event, nil
	}
	c.metrics.observeCacheLookup(false)
	event, err := c.provider.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(eventID, event)
	return event, nil
}

// Len returns the number of cached events.
func (c *CachingEventProvider) Len() int {
	return c.cache.Len()
}

// Purge empties the cache.
func (c *CachingEventProvider) Purge() {
	c.cache.Purge()
}
