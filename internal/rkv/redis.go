package rkv

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3047/totalizer/internal/errors"
)

// RedisConfig carries the connection settings for one backend instance.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

const defaultDialTimeout = 5 * time.Second

// Redis implements Store against a single Redis instance.
type Redis struct {
	client *redis.Client
	addr   string
}

// NewRedis opens a client for the configured instance. The connection itself
// is established lazily; backend unavailability surfaces per operation.
func NewRedis(cfg RedisConfig) *Redis {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})
	return &Redis{client: client, addr: cfg.Addr}
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.BackendError("incr", r.addr, err)
	}
	return n, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return errors.BackendError("expire", r.addr, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", errors.ErrNotFound
	}
	if err != nil {
		return "", errors.BackendError("get", r.addr, err)
	}
	return value, nil
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, errors.BackendError("keys", r.addr, err)
	}
	return keys, nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// RedisCluster implements Reader by opening one Redis client per endpoint.
// Endpoints are backend addresses; clients are dialed lazily and cached for
// the reader's lifetime.
type RedisCluster struct {
	cfg     RedisConfig // Addr ignored; per-endpoint credentials shared
	mu      sync.Mutex
	clients map[string]*Redis
}

// NewRedisCluster builds a per-endpoint reader sharing cfg's credentials.
func NewRedisCluster(cfg RedisConfig) *RedisCluster {
	return &RedisCluster{
		cfg:     cfg,
		clients: make(map[string]*Redis),
	}
}

func (c *RedisCluster) store(endpoint string) *Redis {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[endpoint]; ok {
		return client
	}
	cfg := c.cfg
	cfg.Addr = withDefaultPort(endpoint)
	client := NewRedis(cfg)
	c.clients[endpoint] = client
	return client
}

func (c *RedisCluster) Get(ctx context.Context, endpoint, key string) (string, error) {
	return c.store(endpoint).Get(ctx, key)
}

func (c *RedisCluster) Keys(ctx context.Context, endpoint, pattern string) ([]string, error) {
	return c.store(endpoint).Keys(ctx, pattern)
}

// Close closes every opened client.
func (c *RedisCluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for endpoint, client := range c.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.clients, endpoint)
	}
	return firstErr
}

func withDefaultPort(endpoint string) string {
	if _, _, err := net.SplitHostPort(endpoint); err == nil {
		return endpoint
	}
	return net.JoinHostPort(endpoint, "6379")
}
