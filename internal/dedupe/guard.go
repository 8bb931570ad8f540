package dedupe

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fastcar:update:"

// DefaultTTL is how long an update id is remembered.
const DefaultTTL = 24 * time.Hour

// Guard remembers inbound update ids so redelivered webhooks are acknowledged
// without being processed twice.
type Guard interface {
	// FirstSeen marks updateID and reports whether it was new.
	FirstSeen(ctx context.Context, updateID int64) (bool, error)
	// Release forgets updateID so a redelivery is processed again.
	Release(ctx context.Context, updateID int64) error
}

// Redis is a Guard shared by every replica through SETNX.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis builds a guard on client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Connect opens and pings a Redis client from a redis:// URL.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (r *Redis) FirstSeen(ctx context.Context, updateID int64) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+strconv.FormatInt(updateID, 10), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, updateID int64) error {
	if err := r.client.Del(ctx, keyPrefix+strconv.FormatInt(updateID, 10)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Memory is a process local Guard.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[int64]time.Time
}

// NewMemory builds an in-process guard.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, seen: make(map[int64]time.Time)}
}

func (m *Memory) FirstSeen(ctx context.Context, updateID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, exp := range m.seen {
		if now.After(exp) {
			delete(m.seen, id)
		}
	}
	if _, ok := m.seen[updateID]; ok {
		return false, nil
	}
	m.seen[updateID] = now.Add(m.ttl)
	return true, nil
}

func (m *Memory) Release(ctx context.Context, updateID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.seen, updateID)
	m.mu.Unlock()
	return nil
}

var (
	_ Guard = (*Redis)(nil)
	_ Guard = (*Memory)(nil)
)
