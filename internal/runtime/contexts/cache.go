// Package contexts correlates asynchronous responses with the requests that
// caused them.
package contexts

import (
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/protocol"
)

// DefaultTTL bounds how long an outstanding request may wait for its answer.
const DefaultTTL = 30 * time.Second

// Entry is an outstanding request.
type Entry struct {
	Token    string
	Expected protocol.MessageType
	Payload  any
	Deadline time.Time
}

// Cache maps context tokens to outstanding requests. Each token resolves at
// most once.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache returns a cache whose entries expire after ttl. A non-positive
// ttl selects DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create registers token as awaiting a response to a request of type expected.
// A token that is already outstanding yields ErrContextExists so the caller
// can draw a new one.
func (c *Cache) Create(token string, expected protocol.MessageType, payload any) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", errspkg.ErrContextNotFound)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[token]; ok && c.now().Before(e.Deadline) {
		return fmt.Errorf("%w: %s", errspkg.ErrContextExists, token)
	}
	c.entries[token] = Entry{
		Token:    token,
		Expected: expected,
		Payload:  payload,
		Deadline: c.now().Add(c.ttl),
	}
	return nil
}

// Resolve consumes the entry for token if incoming corresponds to the
// request it was created for. A mismatch leaves the entry in place.
func (c *Cache) Resolve(token string, incoming protocol.MessageType) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[token]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrContextNotFound, token)
	}
	if !c.now().Before(e.Deadline) {
		delete(c.entries, token)
		return nil, fmt.Errorf("%w: %q expired", errspkg.ErrContextNotFound, token)
	}
	if !protocol.Corresponds(e.Expected, incoming) {
		return nil, fmt.Errorf("%w: %q expects %s, got %s", errspkg.ErrContextTypeMismatch, token, e.Expected, incoming)
	}
	delete(c.entries, token)
	return e.Payload, nil
}

// Delete abandons an outstanding request.
func (c *Cache) Delete(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[token]
	delete(c.entries, token)
	return ok
}

// Sweep removes and returns every expired entry.
func (c *Cache) Sweep() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []Entry
	for token, e := range c.entries {
		if !now.Before(e.Deadline) {
			expired = append(expired, e)
			delete(c.entries, token)
		}
	}
	return expired
}

// Len returns the number of outstanding entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
