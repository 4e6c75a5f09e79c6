package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/errbuilder-go"
)

// FileStore keeps completions in memory and mirrors them to a JSON file.
type FileStore struct {
	store    map[string]cacheItem
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string
	logger   *slog.Logger
}

var _ analyst.CompletionStore = (*FileStore)(nil)

// NewFileStore loads filePath if it exists. A zero TTL keeps entries forever.
func NewFileStore(ttl time.Duration, filePath string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &FileStore{
		store:    make(map[string]cacheItem),
		ttl:      ttl,
		filePath: filePath,
		logger:   logger.With("component", "cache"),
	}
	if err := c.loadFromFile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FileStore) loadFromFile() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache file %s: %w", c.filePath, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &c.store); err != nil {
		return fmt.Errorf("decode cache file %s: %w", c.filePath, err)
	}
	removed := removeExpired(c.store)
	c.logger.Debug("cache file loaded", "path", c.filePath, "entries", len(c.store), "expired", removed)
	return nil
}

// saveToFile writes the map through a temporary file. Callers hold the lock.
func (c *FileStore) saveToFile() error {
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(c.store)
	if err != nil {
		return err
	}
	tmp := c.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.filePath)
}

// Lookup returns the completion stored under hashID.
func (c *FileStore) Lookup(ctx context.Context, hashID string) (*analyst.CachedCompletion, bool, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, false, err
	}

	c.mutex.RLock()
	item, found := c.store[hashID]
	c.mutex.RUnlock()
	if !found || item.expired(time.Now().UnixNano()) {
		return nil, false, nil
	}
	completion := item.Completion
	return &completion, true, nil
}

// Save stores a completion and rewrites the file. Existing keys are kept.
func (c *FileStore) Save(ctx context.Context, completion *analyst.CachedCompletion) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if item, found := c.store[completion.HashID]; found && !item.expired(time.Now().UnixNano()) {
		return nil
	}
	var expiration int64
	if c.ttl > 0 {
		expiration = time.Now().Add(c.ttl).UnixNano()
	}
	c.store[completion.HashID] = cacheItem{Completion: *completion, Expiration: expiration}
	removeExpired(c.store)
	if err := c.saveToFile(); err != nil {
		return fmt.Errorf("persist cache file %s: %w", c.filePath, err)
	}
	c.logger.Debug("persistent cache item set", "hash_id", completion.HashID)
	return nil
}

// List returns the live completions ordered by creation time.
func (c *FileStore) List(ctx context.Context) ([]analyst.CachedCompletion, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return liveCompletions(c.store), nil
}
