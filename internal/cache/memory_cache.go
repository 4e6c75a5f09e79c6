// Package cache holds CompletionStore implementations for the model gateway.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/errbuilder-go"
)

// InMemoryStore keeps completions in a map. A zero TTL keeps them forever.
type InMemoryStore struct {
	store  map[string]cacheItem
	mutex  sync.RWMutex
	ttl    time.Duration
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

type cacheItem struct {
	Completion analyst.CachedCompletion `json:"completion"`
	Expiration int64                    `json:"expiration"`
}

func (i cacheItem) expired(now int64) bool {
	return i.Expiration > 0 && now > i.Expiration
}

var _ analyst.CompletionStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates a store. With a positive TTL a background loop
// removes expired entries until Close is called.
func NewInMemoryStore(ttl time.Duration, logger *slog.Logger) *InMemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	c := &InMemoryStore{
		store:  make(map[string]cacheItem),
		ttl:    ttl,
		logger: logger.With("component", "cache"),
		done:   make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanupLoop(cleanupInterval(ttl))
	}
	return c
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < 10*time.Minute {
		return ttl
	}
	return 10 * time.Minute
}

func (c *InMemoryStore) expiration() int64 {
	if c.ttl <= 0 {
		return 0
	}
	return time.Now().Add(c.ttl).UnixNano()
}

// Lookup returns the completion stored under hashID.
func (c *InMemoryStore) Lookup(ctx context.Context, hashID string) (*analyst.CachedCompletion, bool, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, false, err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[hashID]
	if !found {
		return nil, false, nil
	}
	if item.expired(time.Now().UnixNano()) {
		c.logger.Debug("cache item expired", "hash_id", hashID)
		return nil, false, nil
	}

	completion := item.Completion
	return &completion, true, nil
}

// Save stores a completion. Saving an existing key keeps the first value.
func (c *InMemoryStore) Save(ctx context.Context, completion *analyst.CachedCompletion) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if item, found := c.store[completion.HashID]; found && !item.expired(time.Now().UnixNano()) {
		return nil
	}
	c.store[completion.HashID] = cacheItem{Completion: *completion, Expiration: c.expiration()}
	c.logger.Debug("cache item set", "hash_id", completion.HashID)
	return nil
}

// List returns the live completions ordered by creation time.
func (c *InMemoryStore) List(ctx context.Context) ([]analyst.CachedCompletion, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return liveCompletions(c.store), nil
}

func liveCompletions(store map[string]cacheItem) []analyst.CachedCompletion {
	now := time.Now().UnixNano()
	out := make([]analyst.CachedCompletion, 0, len(store))
	for _, item := range store {
		if !item.expired(now) {
			out = append(out, item.Completion)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].HashID < out[j].HashID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete evicts one completion.
func (c *InMemoryStore) Delete(ctx context.Context, hashID string) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, found := c.store[hashID]; !found {
		return errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	delete(c.store, hashID)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryStore) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.store)
}

// Close stops the cleanup loop.
func (c *InMemoryStore) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *InMemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *InMemoryStore) removeExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return removeExpired(c.store)
}

func removeExpired(store map[string]cacheItem) int {
	now := time.Now().UnixNano()
	removed := 0
	for key, item := range store {
		if item.expired(now) {
			delete(store, key)
			removed++
		}
	}
	return removed
}
