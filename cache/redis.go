// cache/redis.go
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by a Redis server.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisConfig configures NewRedis.
type RedisConfig struct {
	// Client, when set, is used as is and the connection fields are ignored.
	Client redis.UniversalClient

	Addr     string
	Password string
	DB       int

	// KeyPrefix is prepended to every key, e.g. "docstore:".
	KeyPrefix string

	PoolSize     int           // default 10
	DialTimeout  time.Duration // default 5s
	ReadTimeout  time.Duration // default 3s
	WriteTimeout time.Duration // default 3s
}

// NewRedis connects to Redis and pings it once.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := cfg.Client
	if client == nil {
		if cfg.Addr == "" {
			return nil, errors.New("cache: redis address required")
		}
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     orDefault(cfg.PoolSize, 10),
			DialTimeout:  orDefault(cfg.DialTimeout, 5*time.Second),
			ReadTimeout:  orDefault(cfg.ReadTimeout, 3*time.Second),
			WriteTimeout: orDefault(cfg.WriteTimeout, 3*time.Second),
		})
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return &Redis{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

func (r *Redis) key(k string) string { return r.keyPrefix + k }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
