package internal

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// redisKV is the subset of the redis client the snapshot cache needs.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CacheManager keeps the last successfully loaded leaderboard in Redis for
// the dashboard.
type CacheManager struct {
	client  redisKV
	prefix  string
	ttl     time.Duration
	Enabled bool
}

func NewCacheManager(cfg *Config) *CacheManager {
	return &CacheManager{
		client:  newRedisClient(cfg),
		prefix:  cfg.RateLimitRedisPrefix,
		ttl:     cfg.SnapshotTTL,
		Enabled: cfg.CacheEnabled,
	}
}

func (cm *CacheManager) Key(parts ...string) string {
	return cm.prefix + ":" + strings.Join(parts, ":")
}

func (cm *CacheManager) snapshotKey(region string) string {
	return cm.Key("snapshot", strings.ToLower(region))
}

func (cm *CacheManager) PublishSnapshot(ctx context.Context, snap Snapshot) error {
	if !cm.Enabled {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := cm.client.Set(ctx, cm.snapshotKey(snap.Region), data, cm.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns redis.Nil when caching is off or nothing is stored.
func (cm *CacheManager) LatestSnapshot(ctx context.Context, region string) (*Snapshot, error) {
	if !cm.Enabled {
		return nil, redis.Nil
	}

	data, err := cm.client.Get(ctx, cm.snapshotKey(region)).Bytes()
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
