package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyFulfillClaim marks an order whose pipeline is running: fulfill:claim:{order_id}.
const KeyFulfillClaim = "fulfill:claim:%s"

// Claimer hands out short-lived per-order processing markers so concurrent
// triggers do not run the pipeline twice. A claim that is never released
// expires after its ttl.
type Claimer interface {
	Claim(ctx context.Context, orderID string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, orderID, token string) error
}

type RedisClaimer struct {
	rdb redis.Cmdable
}

func NewRedisClaimer(rdb redis.Cmdable) *RedisClaimer {
	return &RedisClaimer{rdb: rdb}
}

// NewRedisClient builds the client behind RedisClaimer.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func (c *RedisClaimer) Claim(ctx context.Context, orderID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf(KeyFulfillClaim, orderID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx: %w", err)
	}
	return token, ok, nil
}

// Only the holder's token may delete the marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *RedisClaimer) Release(ctx context.Context, orderID, token string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf(KeyFulfillClaim, orderID)}, token).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// MemoryClaimer is the single-process Claimer.
type MemoryClaimer struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	now    func() time.Time
}

type memoryClaim struct {
	token   string
	expires time.Time
}

func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{claims: make(map[string]memoryClaim), now: time.Now}
}

func (c *MemoryClaimer) Claim(_ context.Context, orderID string, ttl time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if held, ok := c.claims[orderID]; ok && now.Before(held.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	c.claims[orderID] = memoryClaim{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (c *MemoryClaimer) Release(_ context.Context, orderID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if held, ok := c.claims[orderID]; ok && held.token == token {
		delete(c.claims, orderID)
	}
	return nil
}
