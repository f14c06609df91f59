// Package stream wraps Redis Streams and the small set of KV operations the
// gateway relies on: consumer-group consumption with explicit ACKs, stream
// appends, idempotency keys, and the pipelined reads behind memory prefetch.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults applied when ConsumeArgs leave count or block unset.
const (
	DefaultReadCount = 10
	DefaultBlock     = 5 * time.Second
)

// redisAPI is the slice of go-redis used by Client. *redis.Client satisfies it.
type redisAPI interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ redisAPI = (*redis.Client)(nil)

// Entry is a single stream entry as read from a consumer group.
type Entry struct {
	// ID is the Redis-assigned stream entry id.
	ID string

	// Fields is the flat payload appended by the publisher.
	Fields map[string]string
}

// ConsumeArgs parameterizes a single consumer-group read.
type ConsumeArgs struct {
	Stream   string
	Group    string
	Consumer string

	// Count limits the batch size. Zero means DefaultReadCount.
	Count int64

	// Block is how long the read blocks waiting for entries.
	// Zero means DefaultBlock.
	Block time.Duration
}

// Client is the gateway's Redis access layer.
type Client struct {
	rdb redisAPI
}

// New connects to Redis using a redis:// URL and verifies the connection.
func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("stream: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("stream: ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Append adds an entry to a stream and returns the assigned entry id.
func (c *Client) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("stream: xadd %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group at stream start, creating the stream
// if missing. An already existing group is not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0-0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("stream: create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Consume reads a batch of new entries (">") for a consumer. A blocked read
// that times out returns an empty batch, not an error.
func (c *Client) Consume(ctx context.Context, args ConsumeArgs) ([]Entry, error) {
	count := args.Count
	if count <= 0 {
		count = DefaultReadCount
	}
	block := args.Block
	if block <= 0 {
		block = DefaultBlock
	}

	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{args.Stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("stream: xreadgroup %s: %w", args.Stream, err)
	}

	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			fields := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				fields[k] = fmt.Sprint(v)
			}
			entries = append(entries, Entry{ID: msg.ID, Fields: fields})
		}
	}
	return entries, nil
}

// Ack acknowledges a processed entry.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	if err := c.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("stream: xack %s %s: %w", stream, id, err)
	}
	return nil
}

// Get fetches a string key. A missing key yields "" without an error.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("stream: get %s: %w", key, err)
	}
	return val, nil
}

// SetEx writes a string key. A positive ttl sets an expiry; ttl <= 0 writes
// without one.
func (c *Client) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("stream: set %s: %w", key, err)
	}
	return nil
}

// ListPush prepends a value to a list (newest first).
func (c *Client) ListPush(ctx context.Context, key, value string) error {
	if err := c.rdb.LPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("stream: lpush %s: %w", key, err)
	}
	return nil
}

// ListTrim bounds a list to its first keep entries.
func (c *Client) ListTrim(ctx context.Context, key string, keep int64) error {
	if keep < 1 {
		keep = 1
	}
	if err := c.rdb.LTrim(ctx, key, 0, keep-1).Err(); err != nil {
		return fmt.Errorf("stream: ltrim %s: %w", key, err)
	}
	return nil
}

// ListRange reads list entries in [start, stop].
func (c *Client) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	items, err := c.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("stream: lrange %s: %w", key, err)
	}
	return items, nil
}

// Expire sets a ttl on a key. Non-positive ttls are ignored.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("stream: expire %s: %w", key, err)
	}
	return nil
}

// FetchBundle reads several string keys plus the head of a list in one
// pipelined round trip. Missing keys come back as "".
func (c *Client) FetchBundle(ctx context.Context, keys []string, listKey string, listCount int64) ([]string, []string, error) {
	if listCount < 1 {
		listCount = 1
	}

	getCmds := make([]*redis.StringCmd, len(keys))
	var listCmd *redis.StringSliceCmd
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			getCmds[i] = pipe.Get(ctx, key)
		}
		listCmd = pipe.LRange(ctx, listKey, 0, listCount-1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("stream: pipelined fetch: %w", err)
	}

	values := make([]string, len(keys))
	for i, cmd := range getCmds {
		val, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, nil, fmt.Errorf("stream: pipelined get %s: %w", keys[i], err)
		}
		values[i] = val
	}
	list, err := listCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("stream: pipelined lrange %s: %w", listKey, err)
	}
	return values, list, nil
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("stream: ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
