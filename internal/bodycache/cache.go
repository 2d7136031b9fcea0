// Package bodycache holds recently viewed message bodies in memory, bounded
// by an LRU cap, with per-message fetch state tracking and automatic retry
// after provider rate limits.
package bodycache

import (
	"container/list"
	"context"
	"errors"
	"log"
	gosync "sync"
	"time"

	"github.com/meridianhq/mailsync/internal/provider"
)

// Status is the fetch state of one cached body.
type Status string

const (
	StatusLoading     Status = "loading"
	StatusLoaded      Status = "loaded"
	StatusRateLimited Status = "rate_limited"
	StatusError       Status = "error"
)

// defaultRetryDelay applies when a rate-limited provider gives no
// Retry-After hint.
const defaultRetryDelay = 5 * time.Second

// defaultPrefetchSlots caps concurrent prefetch fetches so hover-driven
// loading cannot saturate the provider's rate limit.
const defaultPrefetchSlots = 3

// Fetcher loads one message body from the provider. The cache owns retry
// scheduling; the fetcher performs a single attempt.
type Fetcher func(ctx context.Context, messageID string) (*provider.Body, error)

// Result is what a consumer gets back for a body request.
type Result struct {
	Status      Status
	Body        []byte
	ContentType string
	// RetryAfter is set when Status is rate_limited.
	RetryAfter time.Duration
}

type entry struct {
	key         string
	status      Status
	body        []byte
	contentType string
	retryAfter  time.Duration
	elem        *list.Element
	// done is closed whenever the entry leaves the loading state.
	done chan struct{}
}

// Cache is a bounded LRU of message bodies. Safe for concurrent use.
type Cache struct {
	fetch    Fetcher
	capacity int

	mu      gosync.Mutex
	entries map[string]*entry
	order   *list.List // front = most recently touched

	retryDelay    time.Duration
	prefetchSlots chan struct{}
}

// New creates a cache holding at most capacity bodies.
func New(capacity int, fetch Fetcher) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		fetch:         fetch,
		capacity:      capacity,
		entries:       make(map[string]*entry),
		order:         list.New(),
		retryDelay:    defaultRetryDelay,
		prefetchSlots: make(chan struct{}, defaultPrefetchSlots),
	}
}

// Get returns the body for a message, fetching it on first request. Blocks
// while a fetch is in flight; a rate-limited entry returns immediately with
// the delay after which the cache retries on its own.
func (c *Cache) Get(ctx context.Context, messageID string) Result {
	c.mu.Lock()
	e, ok := c.entries[messageID]
	if ok {
		c.order.MoveToFront(e.elem)
	} else {
		e = c.insertLocked(messageID)
		go c.load(messageID, e.done)
	}

	for e.status == StatusLoading {
		done := e.done
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return Result{Status: StatusError}
		}
		c.mu.Lock()
	}

	result := Result{
		Status:      e.status,
		Body:        e.body,
		ContentType: e.contentType,
		RetryAfter:  e.retryAfter,
	}
	c.mu.Unlock()
	return result
}

// Prefetch warms the cache for messages the user is likely to open next.
// Skips anything already requested, never exceeds the concurrency cap, and
// never surfaces failures.
func (c *Cache) Prefetch(messageIDs ...string) {
	for _, messageID := range messageIDs {
		select {
		case c.prefetchSlots <- struct{}{}:
		default:
			return
		}

		c.mu.Lock()
		if _, ok := c.entries[messageID]; ok {
			c.mu.Unlock()
			<-c.prefetchSlots
			continue
		}
		e := c.insertLocked(messageID)
		c.mu.Unlock()

		go func(id string, done chan struct{}) {
			defer func() { <-c.prefetchSlots }()
			c.load(id, done)
		}(messageID, e.done)
	}
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// insertLocked adds a loading entry, evicting the least-recently-touched
// entry when the cache is full. Caller holds the lock.
func (c *Cache) insertLocked(messageID string) *entry {
	if len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			victim := oldest.Value.(*entry)
			c.order.Remove(oldest)
			delete(c.entries, victim.key)
			if victim.status == StatusLoading {
				// Waiters still hold the victim; settle it so they
				// don't block on a fetch that can no longer land.
				victim.status = StatusError
				close(victim.done)
			}
		}
	}

	e := &entry{
		key:    messageID,
		status: StatusLoading,
		done:   make(chan struct{}),
	}
	e.elem = c.order.PushFront(e)
	c.entries[messageID] = e
	return e
}

// load runs one fetch attempt and settles the entry. A rate-limited result
// schedules an automatic retry; a not-found result settles as loaded with
// empty content, since the message vanishing between listing and fetch is a
// benign race, not a user-visible failure.
func (c *Cache) load(messageID string, done chan struct{}) {
	body, err := c.fetch(context.Background(), messageID)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[messageID]
	if !ok || e.done != done {
		// Evicted or superseded while the fetch was in flight; eviction
		// already settled the entry and closed its channel.
		return
	}

	switch {
	case err == nil:
		e.status = StatusLoaded
		e.body = body.Content
		e.contentType = body.ContentType

	case errors.Is(err, provider.ErrNotFound):
		e.status = StatusLoaded
		e.body = nil
		e.contentType = ""

	default:
		if rateErr, ok := provider.AsRateLimit(err); ok {
			delay := rateErr.RetryAfter
			if delay <= 0 {
				delay = c.retryDelay
			}
			e.status = StatusRateLimited
			e.retryAfter = delay
			c.scheduleRetryLocked(messageID, delay)
		} else {
			log.Printf("Warning: failed to fetch body for message %s: %v", messageID, err)
			e.status = StatusError
		}
	}

	close(done)
}

// scheduleRetryLocked flips the entry back to loading after the delay and
// fetches again. Caller holds the lock.
func (c *Cache) scheduleRetryLocked(messageID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		c.mu.Lock()
		e, ok := c.entries[messageID]
		if !ok || e.status != StatusRateLimited {
			c.mu.Unlock()
			return
		}
		e.status = StatusLoading
		e.retryAfter = 0
		e.done = make(chan struct{})
		done := e.done
		c.mu.Unlock()

		c.load(messageID, done)
	})
}
