package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FinalizeGuard admits exactly one finalizer per session. Release gives the slot back once
// the session is terminal or the finalize attempt failed.
type FinalizeGuard interface {
	Acquire(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

// LocalGuard admits one finalizer per session within this process.
type LocalGuard struct {
	mu   sync.Mutex
	done map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{done: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, sessionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, taken := g.done[sessionID]; taken {
		return false, nil
	}
	g.done[sessionID] = struct{}{}
	return true, nil
}

func (g *LocalGuard) Release(_ context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.done, sessionID)
	return nil
}

func (g *LocalGuard) held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.done)
}

type guardClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisGuard admits one finalizer per session across replicas sharing a Redis instance.
type RedisGuard struct {
	client guardClient
	owner  string
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client guardClient, owner string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisGuard{client: client, owner: owner, prefix: "adjudicator:finalize:", ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, sessionID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+sessionID, g.owner, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis finalize guard %s: %w", sessionID, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, sessionID string) error {
	if err := g.client.Del(ctx, g.prefix+sessionID).Err(); err != nil {
		return fmt.Errorf("redis finalize guard release %s: %w", sessionID, err)
	}
	return nil
}
