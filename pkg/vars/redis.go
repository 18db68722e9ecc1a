package vars

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces variable keys.
const DefaultRedisPrefix = "action-runner:vars:"

// Redis is a Backend shared across processes. Values are stored as JSON.
type Redis struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis backend.
type RedisOption func(*Redis)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRedisTTL sets an expiration on every write. Zero keeps values forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// NewRedis connects to a Redis server.
func NewRedis(address, password string, db int, opts ...RedisOption) *Redis {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisFromClient(client, opts...)
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *backend.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(name string) string {
	return r.prefix + name
}

func (r *Redis) Get(ctx context.Context, name string) (any, bool, error) {
	raw, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", name, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := r.client.Set(ctx, r.key(name), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", name, err)
	}
	return nil
}

func (r *Redis) All(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		name := strings.TrimPrefix(iter.Val(), r.prefix)
		v, ok, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out[name] = v
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}
