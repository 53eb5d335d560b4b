package thresholds

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// DefaultCacheTTL bounds how long a cached threshold set is served.
const DefaultCacheTTL = 5 * time.Minute

// redisClient is the subset of *redis.Client used by the cache.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type versioned interface {
	Version() string
}

// RedisCache is a read-through cache in front of another Provider. Redis
// errors fall through to the wrapped provider.
type RedisCache struct {
	client redisClient
	next   Provider
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// RedisOptions configures the Redis connection used by the cache.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisClient opens a go-redis client. The connection is lazy.
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// NewRedisCache wraps next with a Redis cache.
func NewRedisCache(client redisClient, next Provider, opts RedisOptions, logger *zap.Logger) *RedisCache {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "brokerwatch:thresholds:"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client: client,
		next:   next,
		prefix: opts.KeyPrefix,
		ttl:    opts.TTL,
		logger: logger,
	}
}

// key embeds the wrapped provider's version when it has one, so a reload
// stops serving entries cached from the previous file.
func (c *RedisCache) key(tenantID string) string {
	version := defaultVersion
	if v, ok := c.next.(versioned); ok {
		version = v.Version()
	}
	return c.prefix + version + ":" + tenantID
}

// Thresholds returns cached thresholds, populating the cache on a miss.
func (c *RedisCache) Thresholds(ctx context.Context, tenantID string) (models.MetricThresholds, error) {
	key := c.key(tenantID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t models.MetricThresholds
		if jerr := json.Unmarshal(data, &t); jerr == nil {
			return t, nil
		}
		c.logger.Warn("discarding corrupt cached thresholds", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("threshold cache read failed", zap.String("key", key), zap.Error(err))
		return c.next.Thresholds(ctx, tenantID)
	}

	t, err := c.next.Thresholds(ctx, tenantID)
	if err != nil {
		return t, err
	}
	if payload, jerr := json.Marshal(t); jerr == nil {
		if serr := c.client.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
			c.logger.Warn("threshold cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return t, nil
}
