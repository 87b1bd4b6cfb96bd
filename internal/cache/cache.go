// Package cache memoizes expensive read results (tiles, aggregations) per published dataset version.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type Config struct {
	TTL          time.Duration
	Disabled     bool
	WriteTimeout time.Duration
}

type Cache struct {
	store Store
	cfg   Config
	log   *logger.Logger
	wg    sync.WaitGroup
}

func New(store Store, cfg Config, baseLog *logger.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Cache{store: store, cfg: cfg, log: baseLog.With("component", "Cache")}
}

// Key hashes the request parameters. finalizedAt is part of the key so a new publication
// never serves stale entries.
func Key(datasetID string, finalizedAt time.Time, params map[string]any) (string, error) {
	raw, err := json.Marshal(params) // map keys are sorted
	if err != nil {
		return "", err
	}
	h := xxhash.New()
	_, _ = h.WriteString(finalizedAt.UTC().Format(time.RFC3339Nano))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(raw)
	return datasetID + ":" + strconv.FormatUint(h.Sum64(), 16), nil
}

// Get treats store failures as misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.cfg.Disabled || c.store == nil {
		return nil, false
	}
	v, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}
	return v, ok
}

// SetAsync writes in the background with its own timeout. Failures are only logged.
func (c *Cache) SetAsync(key string, value []byte) {
	if c == nil || c.cfg.Disabled || c.store == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		defer cancel()
		if err := c.store.Set(ctx, key, value, c.cfg.TTL); err != nil {
			c.log.Warn("cache write failed", "key", key, "error", err)
		}
	}()
}

// Invalidate drops every entry of a dataset.
func (c *Cache) Invalidate(ctx context.Context, datasetID string) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.DeletePrefix(ctx, datasetID+":")
}

// Wait blocks until pending background writes finish.
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.wg.Wait()
}
