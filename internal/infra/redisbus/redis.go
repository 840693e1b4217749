// Package redisbus connects the engine to Redis: recompute job deduplication
// across worker processes and fan-out of trigger events over pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"aquacore/internal/observability"
	"aquacore/pkg/domain"
)

// Defaults applied by Options.normalize.
const (
	DefaultChannel   = "aquacore:triggers"
	DefaultKeyPrefix = "aquacore:recompute"
	DefaultDedupTTL  = 10 * time.Minute
)

// Options configures a Client.
type Options struct {
	Addr      string
	Password  string
	DB        int
	Channel   string
	KeyPrefix string
	DedupTTL  time.Duration
}

func (o Options) normalize() Options {
	o.Addr = strings.TrimSpace(o.Addr)
	if strings.TrimSpace(o.Channel) == "" {
		o.Channel = DefaultChannel
	}
	if strings.TrimSpace(o.KeyPrefix) == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = DefaultDedupTTL
	}
	return o
}

// Client wraps a go-redis client.
type Client struct {
	log  *observability.Logger
	rdb  *goredis.Client
	opts Options
}

// New dials Redis and verifies the connection with a ping.
func New(ctx context.Context, opts Options, log *observability.Logger) (*Client, error) {
	opts = opts.normalize()
	if opts.Addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{
		log:  observability.OrNop(log).With("service", "RedisBus"),
		rdb:  rdb,
		opts: opts,
	}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// DedupKey is the Redis key guarding one (assignment, day) recompute.
func (c *Client) DedupKey(key string) string {
	return c.opts.KeyPrefix + ":" + key
}

// Claim reserves key for the dedup TTL. It reports false when another
// worker already holds it.
func (c *Client) Claim(ctx context.Context, key string) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, fmt.Errorf("redis bus not initialized")
	}
	ok, err := c.rdb.SetNX(ctx, c.DedupKey(key), time.Now().UTC().Format(time.RFC3339Nano), c.opts.DedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release drops a claim once its job finishes.
func (c *Client) Release(ctx context.Context, key string) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	return c.rdb.Del(ctx, c.DedupKey(key)).Err()
}

// Publish implements trigger.Sink by publishing the event as JSON.
func (c *Client) Publish(ctx context.Context, ev domain.TriggerEvent) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.opts.Channel, raw).Err()
}

// Subscribe forwards trigger events published on the channel to onEvent
// until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, onEvent func(domain.TriggerEvent)) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	sub := c.rdb.Subscribe(ctx, c.opts.Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev domain.TriggerEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					c.log.Warn("bad trigger payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}
