// Package cache wraps the shared Redis client behind a namespaced, typed
// surface.
//
// Every key is prefixed with the service namespace so co-tenant data in the
// same Redis cannot collide with ours. The client is a process-wide resource
// with an explicit lifecycle: construct once in app wiring, inject into
// consumers, Close on shutdown.
//
// Failure contract: ErrCacheMiss means "key absent"; any other error is a
// transport/server failure and must be propagated so security-sensitive
// callers can fail closed.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key does not exist.
var ErrCacheMiss = errors.New("cache: key not found")

// Config holds Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	// OpTimeout bounds every single cache operation.
	OpTimeout time.Duration
}

// Client is the namespaced Redis wrapper.
type Client struct {
	rdb       *redis.Client
	prefix    string
	opTimeout time.Duration
}

const defaultOpTimeout = 2 * time.Second

// New connects to Redis and verifies connectivity with a ping.
func New(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	c := newWithClient(rdb, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

// NewWithClient wraps an existing Redis client (used by tests with miniature
// servers or by callers that manage their own connection options).
func NewWithClient(rdb *redis.Client, cfg Config) *Client {
	return newWithClient(rdb, cfg)
}

func newWithClient(rdb *redis.Client, cfg Config) *Client {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pulse"
	}
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &Client{rdb: rdb, prefix: prefix, opTimeout: opTimeout}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Key returns the namespaced form of key.
func (c *Client) Key(key string) string {
	return c.prefix + ":" + key
}

func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// Set writes a string value. ttl <= 0 means no expiry; session artifacts
// must always pass a positive ttl (enforced by the session layer).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.rdb.Set(ctx, c.Key(key), value, ttl).Err()
}

// Get reads a string value; a missing key yields ErrCacheMiss.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	v, err := c.rdb.Get(ctx, c.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return v, err
}

// Delete removes keys. Missing keys are not an error.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.Key(k)
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.rdb.Del(ctx, namespaced...).Err()
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	n, err := c.rdb.Exists(ctx, c.Key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Decr atomically decrements key and returns the new value.
func (c *Client) Decr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.rdb.Decr(ctx, c.Key(key)).Result()
}

// Eval runs a Lua script against namespaced keys. Used for operations that
// need single-key atomicity beyond the basic commands, such as the session
// layer's compare-and-delete and the rate limiter's window counters.
func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.Key(k)
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.rdb.Eval(ctx, script, namespaced, args...).Result()
}
