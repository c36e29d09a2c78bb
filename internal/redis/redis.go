// Package redis wraps go-redis for the listing cache.
//
// Graceful fallback: a Client that failed to connect (or a nil *Client)
// answers every call with a miss instead of blocking the caller.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes.
const (
	KeyListings   = "listings:"    // Cached listing query results
	KeyGeneration = "listings:gen" // Bumped on every listing write
)

// Config holds Redis connection settings.
type Config struct {
	URL      string // redis://host:port
	Password string
	DB       int
}

// Client is a connected Redis handle. The zero value and nil are unavailable.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis. It never fails: when the URL is empty or the server
// is unreachable the returned Client is simply unavailable.
func New(ctx context.Context, cfg Config) *Client {
	if cfg.URL == "" {
		log.Println("[Redis] URL not configured, cache disabled")
		return &Client{}
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Printf("[Redis] ❌ Invalid URL: %v", err)
		return &Client{}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("[Redis] ❌ Connection failed: %v", err)
		rdb.Close()
		return &Client{}
	}

	log.Println("[Redis] ✅ Connected")
	return &Client{rdb: rdb}
}

// Available reports whether the client is connected.
func (c *Client) Available() bool {
	return c != nil && c.rdb != nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if !c.Available() {
		return nil
	}
	err := c.rdb.Close()
	log.Println("[Redis] Connection closed")
	return err
}

// Get reads a string value. ok is false on a miss or when unavailable.
func (c *Client) Get(ctx context.Context, key string) (string, bool) {
	if !c.Available() {
		return "", false
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[Redis] get failed (%s): %v", key, err)
		}
		return "", false
	}
	return val, true
}

// Set writes a string value with TTL. Returns false on failure.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !c.Available() {
		return false
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("[Redis] set failed (%s): %v", key, err)
		return false
	}
	return true
}

// Del deletes keys. Returns false on failure.
func (c *Client) Del(ctx context.Context, keys ...string) bool {
	if !c.Available() {
		return false
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[Redis] del failed (%v): %v", keys, err)
		return false
	}
	return true
}

// Incr increments a counter and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, bool) {
	if !c.Available() {
		return 0, false
	}
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[Redis] incr failed (%s): %v", key, err)
		return 0, false
	}
	return n, true
}

// GetJSON reads a JSON value into out. Returns false if not found or on error.
func (c *Client) GetJSON(ctx context.Context, key string, out any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Printf("[Redis] get_json parse failed (%s): %v", key, err)
		return false
	}
	return true
}

// SetJSON writes a JSON-serialized value with TTL.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[Redis] set_json marshal failed (%s): %v", key, err)
		return false
	}
	return c.Set(ctx, key, string(data), ttl)
}

// ListingsKey returns the cache key for a listing query within a generation.
func ListingsKey(generation, filterKey string) string {
	return KeyListings + generation + ":" + filterKey
}
