// Package versioncache caches journey versions in Redis in front of the
// version repository.
//
// A (recorrido_id, version) row never changes once written, so those entries
// live for the configured TTL. The latest published version does change when
// a new version is published; its entry is short-lived and dropped by
// Invalidate, which the server calls on every recorridos_versions
// notification.
package versioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/sendas-app/recorridos/internal/model"
)

// MaxLatestTTL bounds how long a latest-version entry may be served without
// an invalidation reaching this instance.
const MaxLatestTTL = 30 * time.Second

const keyPrefix = "recorridos:version:"

// Source is the repository the cache reads through to.
type Source interface {
	GetLatestPublished(ctx context.Context, recorridoID string) (model.JourneyVersion, error)
	GetVersion(ctx context.Context, recorridoID string, version int) (model.JourneyVersion, error)
}

// Cache is a read-through Source. A nil Redis client makes it a pass-through
// that still collapses concurrent identical lookups.
type Cache struct {
	source Source
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// New wraps source. ttl applies to pinned versions; latest-version entries
// use the smaller of ttl and MaxLatestTTL.
func New(source Source, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{source: source, client: client, ttl: ttl, logger: logger}
}

// GetLatestPublished returns the latest published version of recorridoID.
func (c *Cache) GetLatestPublished(ctx context.Context, recorridoID string) (model.JourneyVersion, error) {
	return c.load(ctx, latestKey(recorridoID), min(c.ttl, MaxLatestTTL), func(ctx context.Context) (model.JourneyVersion, error) {
		return c.source.GetLatestPublished(ctx, recorridoID)
	})
}

// GetVersion returns a specific version of recorridoID.
func (c *Cache) GetVersion(ctx context.Context, recorridoID string, version int) (model.JourneyVersion, error) {
	return c.load(ctx, versionKey(recorridoID, version), c.ttl, func(ctx context.Context) (model.JourneyVersion, error) {
		return c.source.GetVersion(ctx, recorridoID, version)
	})
}

// Invalidate drops the cached latest version of recorridoID.
func (c *Cache) Invalidate(ctx context.Context, recorridoID string) error {
	c.group.Forget(latestKey(recorridoID))
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, latestKey(recorridoID)).Err(); err != nil {
		return fmt.Errorf("versioncache: invalidate %s: %w", recorridoID, err)
	}
	return nil
}

func (c *Cache) load(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (model.JourneyVersion, error)) (model.JourneyVersion, error) {
	if v, ok := c.get(ctx, key); ok {
		return v, nil
	}

	// singleflight shares the first caller's result with every waiter, so
	// the fetch must not die with that caller's context.
	res, err, _ := c.group.Do(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		v, err := fetch(fetchCtx)
		if err != nil {
			return model.JourneyVersion{}, err
		}
		c.set(fetchCtx, key, v, ttl)
		return v, nil
	})
	if err != nil {
		return model.JourneyVersion{}, err
	}
	return res.(model.JourneyVersion), nil
}

// get reads key; Redis failures are logged and treated as misses.
func (c *Cache) get(ctx context.Context, key string) (model.JourneyVersion, bool) {
	if c.client == nil {
		return model.JourneyVersion{}, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("versioncache: redis get failed", "key", key, "error", err)
		}
		return model.JourneyVersion{}, false
	}
	var v model.JourneyVersion
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("versioncache: dropping undecodable entry", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
		return model.JourneyVersion{}, false
	}
	return v, true
}

func (c *Cache) set(ctx context.Context, key string, v model.JourneyVersion, ttl time.Duration) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("versioncache: encode version", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("versioncache: redis set failed", "key", key, "error", err)
	}
}

func latestKey(recorridoID string) string {
	return keyPrefix + recorridoID + ":latest"
}

func versionKey(recorridoID string, version int) string {
	return keyPrefix + recorridoID + ":" + strconv.Itoa(version)
}
