package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Marks is a set of TTL'd markers used to skip already-handled events.
type Marks struct {
	RDB redis.Cmdable
	TTL time.Duration
}

// Seen reports whether key was marked before.
func (m *Marks) Seen(ctx context.Context, key string) (bool, error) {
	return Exists(ctx, m.RDB, key)
}

// Mark stores key; it reports false when the key was already present.
func (m *Marks) Mark(ctx context.Context, key string) (bool, error) {
	return m.RDB.SetNX(ctx, key, "1", m.TTL).Result()
}

// Unmark forgets key so the event can be handled again.
func (m *Marks) Unmark(ctx context.Context, key string) error {
	return m.RDB.Del(ctx, key).Err()
}

// StatusCache caches small JSON status documents for read endpoints.
type StatusCache struct {
	RDB redis.Cmdable
}

func (c *StatusCache) Get(ctx context.Context, orderID string) ([]byte, bool) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (c *StatusCache) Put(ctx context.Context, orderID string, body []byte) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), body, TTLStatusCache).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
