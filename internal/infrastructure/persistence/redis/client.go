// Package redis holds the Redis-backed collaborators of the progression
// engine: the cross-instance user lock and the event channel publisher.
// Progression state itself never lives in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// KeyPrefix namespaces every key and channel, e.g. "progression:".
	KeyPrefix string

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		KeyPrefix:    "progression:",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrConnection is returned when Redis cannot be reached.
	ErrConnection = errors.New("redis: connection failed")

	// ErrSerialization is returned when a message cannot be encoded.
	ErrSerialization = errors.New("redis: serialization failed")

	// ErrEmptyKey is returned when an empty key or channel is provided.
	ErrEmptyKey = errors.New("redis: key cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS
// ══════════════════════════════════════════════════════════════════════════════

const (
	segmentLock   = "lock:user:"
	segmentEvents = "events"
)

// Keys builds namespaced key and channel names.
type Keys struct {
	prefix string
}

// NewKeys creates a key builder for prefix.
func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

// UserLock returns the lock key of a user.
func (k Keys) UserLock(userID string) string {
	return k.prefix + segmentLock + userID
}

// EventsChannel returns the pub/sub channel progression events go to.
func (k Keys) EventsChannel() string {
	return k.prefix + segmentEvents
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client wraps a go-redis client with the configured key namespace.
type Client struct {
	rdb  redis.UniversalClient
	keys Keys
}

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	return NewClientFrom(rdb, cfg.KeyPrefix), nil
}

// NewClientFrom wraps an existing go-redis client.
func NewClientFrom(rdb redis.UniversalClient, keyPrefix string) *Client {
	return &Client{rdb: rdb, keys: NewKeys(keyPrefix)}
}

// Keys returns the key builder.
func (c *Client) Keys() Keys { return c.keys }

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish JSON-encodes message and publishes it to channel.
func (c *Client) Publish(ctx context.Context, channel string, message any) error {
	if channel == "" {
		return ErrEmptyKey
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	return c.rdb.Publish(ctx, channel, data).Err()
}
