package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/complete_idempotency.lua
var completeIdempotencyScript string

const pendingPrefix = "pending:"

type Client struct {
	rdb            *redis.Client
	releaseScript  *redis.Script
	completeScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:            rdb,
		releaseScript:  redis.NewScript(releaseLockScript),
		completeScript: redis.NewScript(completeIdempotencyScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock takes a lock owned by the returned token. ok is false when
// someone else holds it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.New().String()
	ok, err = c.rdb.SetNX(ctx, lockName(lockKey), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	return token, ok, nil
}

// ReleaseLock deletes the lock only if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	if _, err := c.releaseScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, token).Result(); err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// IdempotencyClaim is the outcome of claiming an idempotency key.
type IdempotencyClaim struct {
	// Claimed is true when the caller now owns the key and must Complete or
	// Abandon it.
	Claimed bool
	// Token identifies the caller's claim.
	Token string
	// Result is the stored result of an earlier completed request.
	Result string
	// InFlight is true when another request holds the claim.
	InFlight bool
}

// ClaimIdempotencyKey reserves key for the current request, or reports what an
// earlier request with the same key left behind.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (*IdempotencyClaim, error) {
	token := pendingPrefix + uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, idempotencyName(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return &IdempotencyClaim{Claimed: true, Token: token}, nil
	}

	val, err := c.rdb.Get(ctx, idempotencyName(key)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; treat as someone else's in-flight claim
		return &IdempotencyClaim{InFlight: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	if strings.HasPrefix(val, pendingPrefix) {
		return &IdempotencyClaim{InFlight: true}, nil
	}
	return &IdempotencyClaim{Result: val}, nil
}

// CompleteIdempotencyKey stores result under a key claimed with token
func (c *Client) CompleteIdempotencyKey(ctx context.Context, key, token, result string, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	_, err := c.completeScript.Run(ctx, c.rdb, []string{idempotencyName(key)}, token, result, seconds).Result()
	if err != nil {
		return fmt.Errorf("complete idempotency script failed: %w", err)
	}
	return nil
}

// AbandonIdempotencyKey drops a claim so the request can be retried
func (c *Client) AbandonIdempotencyKey(ctx context.Context, key, token string) error {
	if _, err := c.releaseScript.Run(ctx, c.rdb, []string{idempotencyName(key)}, token).Result(); err != nil {
		return fmt.Errorf("abandon idempotency key: %w", err)
	}
	return nil
}

func lockName(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

func idempotencyName(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}
