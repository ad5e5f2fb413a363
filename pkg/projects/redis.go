package projects

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fileforge/fileforge/pkg/manifest"
)

// RedisConfig configures the Redis projects backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all project keys
	Prefix string

	// TTL is the time-to-live for project keys (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "fileforge:projects:",
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores manifests in Redis for low-latency access.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

// key returns the Redis key for a project name.
func (b *RedisBackend) key(name string) string {
	return b.cfg.Prefix + sanitizeName(name)
}

// Save persists a manifest to Redis.
func (b *RedisBackend) Save(ctx context.Context, name string, m *manifest.Manifest) error {
	doc, err := m.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	if err := b.client.Set(ctx, b.key(name), doc, b.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("failed to save manifest to Redis: %w", err)
	}
	return nil
}

// Load retrieves a manifest from Redis.
func (b *RedisBackend) Load(ctx context.Context, name string) (*manifest.Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(name)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to load manifest from Redis: %w", err)
	}
	return manifest.Parse(data)
}

// Delete removes a manifest from Redis.
func (b *RedisBackend) Delete(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Del(ctx, b.key(name)).Err()
}

// List returns all stored project names.
func (b *RedisBackend) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var names []string
	iter := b.client.Scan(ctx, 0, b.cfg.Prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), b.cfg.Prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan project keys: %w", err)
	}
	return names, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
