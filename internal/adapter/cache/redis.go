package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/logger"
)

// Remote is the Redis tier. Every method tolerates a dead server: failures
// are logged at debug and the caller falls back to the memory tier.
type Remote struct {
	client *redis.Client
	logger *logger.StyledLogger
}

// RemoteConfig mirrors the redis block of the engine configuration.
type RemoteConfig struct {
	Address     string
	Password    string
	DB          int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func NewRemote(cfg RemoteConfig, logger *logger.StyledLogger) *Remote {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
	})
	return &Remote{client: client, logger: logger}
}

// Ping verifies connectivity at startup. A failure downgrades the engine to
// memory-only caching but is not fatal.
func (r *Remote) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Remote) Close() error {
	return r.client.Close()
}

func (r *Remote) Get(ctx context.Context, key string) ([]domain.NewsItem, time.Duration, bool) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Debug("redis get failed", "key", key, "error", err)
		}
		return nil, 0, false
	}

	var items []domain.NewsItem
	if err := json.Unmarshal(payload, &items); err != nil {
		r.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		r.client.Del(ctx, key)
		return nil, 0, false
	}

	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = 0
	}
	return items, ttl, true
}

func (r *Remote) Set(ctx context.Context, key string, items []domain.NewsItem, ttl time.Duration) {
	payload, err := json.Marshal(items)
	if err != nil {
		r.logger.Warn("cache entry not serialisable", "key", key, "error", err)
		return
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		r.logger.Debug("redis set failed", "key", key, "error", err)
	}
}

func (r *Remote) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Debug("redis del failed", "key", key, "error", err)
	}
}

// Clear scans for keys matching the pattern and removes them in batches.
func (r *Remote) Clear(ctx context.Context, pattern string) int {
	var removed int
	iter := r.client.Scan(ctx, 0, pattern, 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			removed += r.deleteBatch(ctx, batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Debug("redis scan failed", "pattern", pattern, "error", err)
	}
	if len(batch) > 0 {
		removed += r.deleteBatch(ctx, batch)
	}
	return removed
}

func (r *Remote) deleteBatch(ctx context.Context, keys []string) int {
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		r.logger.Debug("redis batch delete failed", "error", err)
		return 0
	}
	return int(n)
}

func (r *Remote) Exists(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, key).Result()
	return err == nil && n > 0
}

func (r *Remote) TTL(ctx context.Context, key string) (time.Duration, bool) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return 0, false
	}
	return ttl, true
}
