package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// SnapshotCacheKey is the Redis key holding the last extracted snapshot.
const SnapshotCacheKey = "ekaya-query:snapshot"

// SnapshotCache shares extracted snapshots between instances.
type SnapshotCache interface {
	// Get returns the cached snapshot, or nil when there is none.
	Get(ctx context.Context) (*models.SchemaSnapshot, error)
	Set(ctx context.Context, snapshot *models.SchemaSnapshot) error
}

// RedisSnapshotCache stores the snapshot as JSON under SnapshotCacheKey.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshotCache creates a cache whose entries expire after ttl.
// A zero ttl keeps entries until overwritten.
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

// Get implements SnapshotCache. An entry whose version does not match its
// content is treated as absent.
func (c *RedisSnapshotCache) Get(ctx context.Context) (*models.SchemaSnapshot, error) {
	data, err := c.client.Get(ctx, SnapshotCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached snapshot: %w", err)
	}
	return decodeCachedSnapshot(data)
}

// Set implements SnapshotCache.
func (c *RedisSnapshotCache) Set(ctx context.Context, snapshot *models.SchemaSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, SnapshotCacheKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cached snapshot: %w", err)
	}
	return nil
}

func decodeCachedSnapshot(data []byte) (*models.SchemaSnapshot, error) {
	var cached models.SchemaSnapshot
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	snapshot := models.NewSchemaSnapshot(cached.Tables, cached.ExtractedAt)
	if snapshot.Version != cached.Version {
		return nil, nil
	}
	return snapshot, nil
}

// SchemaRefresher keeps the SnapshotStore current. It runs outside the
// request path: requests only ever read the store.
type SchemaRefresher struct {
	source   datasource.SnapshotSource
	cache    SnapshotCache
	store    *SnapshotStore
	interval time.Duration
	logger   *zap.Logger
}

// NewSchemaRefresher creates a refresher. cache may be nil.
func NewSchemaRefresher(source datasource.SnapshotSource, cache SnapshotCache, store *SnapshotStore, interval time.Duration, logger *zap.Logger) *SchemaRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaRefresher{
		source:   source,
		cache:    cache,
		store:    store,
		interval: interval,
		logger:   logger.Named("schema_refresher"),
	}
}

// Warm loads the first snapshot, preferring the cache over the database.
func (r *SchemaRefresher) Warm(ctx context.Context) error {
	if r.cache != nil {
		snapshot, err := r.cache.Get(ctx)
		switch {
		case err != nil:
			r.logger.Warn("Snapshot cache unavailable, extracting from database", zap.Error(err))
		case snapshot != nil:
			r.store.Swap(snapshot)
			r.logger.Info("Loaded schema snapshot from cache",
				zap.String("version", snapshot.Version),
				zap.Int("tables", len(snapshot.Tables)))
			return nil
		}
	}
	return r.Refresh(ctx)
}

// Refresh extracts a snapshot, publishes it to the cache and swaps it in.
// On failure the active snapshot is kept.
func (r *SchemaRefresher) Refresh(ctx context.Context) error {
	snapshot, err := r.source.FetchSnapshot(ctx)
	metrics.ObserveSnapshotRefresh(err == nil)
	if err != nil {
		return fmt.Errorf("failed to extract schema snapshot: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, snapshot); err != nil {
			r.logger.Warn("Failed to publish snapshot to cache", zap.Error(err))
		}
	}

	previous := r.store.Swap(snapshot)
	if previous == nil || previous.Version != snapshot.Version {
		r.logger.Info("Schema snapshot updated",
			zap.String("version", snapshot.Version),
			zap.Int("tables", len(snapshot.Tables)))
	}
	return nil
}

// Run refreshes on every interval tick until ctx is done. A non-positive
// interval disables periodic refresh.
func (r *SchemaRefresher) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Schema refresh failed", zap.Error(err))
			}
		}
	}
}
