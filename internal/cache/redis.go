package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	conf "github.com/restockd/restockd/internal/config"
	"github.com/rs/zerolog"
)

// Redis implements Cache on go-redis.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
}

// New returns a Redis cache, or the in-memory fallback when the server
// is unreachable. The service must keep working without Redis.
func New(log zerolog.Logger, cfg conf.RedisConfig) Cache {
	log = log.With().Str("component", "cache").Logger()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable, using in-memory cache")
		_ = rdb.Close()
		return NewMemory()
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("redis cache ready")
	return &Redis{client: rdb, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
