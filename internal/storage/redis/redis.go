// Package redis stores cart sessions as Redis strings with a sliding TTL.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/timbouc/cart/internal/storage"
)

// Driver is the name the redis driver registers under.
const Driver = "redis"

const (
	defaultPrefix = "cart:"
	scanBatch     = 100
)

// Config configures the redis driver.
type Config struct {
	Client *redis.Client
	// Prefix namespaces keys so Clear only touches cart sessions. Defaults to "cart:".
	Prefix string
	// TTL is refreshed on every Put. Zero keeps keys forever.
	TTL time.Duration
}

// Storage implements storage.Storage using Redis.
type Storage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ storage.Storage = (*Storage)(nil)

// New creates a new Redis-backed cart storage.
func New(client *redis.Client, prefix string, ttl time.Duration) *Storage {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Storage{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Factory builds a redis storage from a Config or *Config.
func Factory(config any) (storage.Storage, error) {
	var cfg Config
	switch c := config.(type) {
	case Config:
		cfg = c
	case *Config:
		if c != nil {
			cfg = *c
		}
	default:
		return nil, storage.InvalidConfig(fmt.Sprintf("redis storage expects redis.Config, got %T", config))
	}
	if cfg.Client == nil {
		return nil, storage.InvalidConfig("Make sure to define a client for the redis storage")
	}
	return New(cfg.Client, cfg.Prefix, cfg.TTL), nil
}

func (s *Storage) key(k string) string {
	return s.prefix + k
}

// Has reports whether a session is stored.
func (s *Storage) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, storage.IO("redis exists", err)
	}
	return n > 0, nil
}

// Get retrieves a session snapshot.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.KeyNotFound(key)
		}
		return nil, storage.IO("redis get", err)
	}
	return data, nil
}

// Put stores a session snapshot with the configured TTL.
func (s *Storage) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return storage.IO("redis set", err)
	}
	return nil
}

// Delete removes a session.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return storage.IO("redis del", err)
	}
	return nil
}

// Clear removes every key under the prefix.
func (s *Storage) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return storage.IO("redis scan", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return storage.IO("redis del", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
