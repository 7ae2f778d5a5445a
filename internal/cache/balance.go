// Package cache holds the read-through view of account balances. The ledger
// tables stay authoritative: entries are dropped on every committed write and
// a miss always falls back to the database.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"carbon-ledger-backend/internal/domain"

	"github.com/redis/go-redis/v9"
)

type BalanceCache interface {
	Get(ctx context.Context, userID int32) (*domain.CreditAccount, bool, error)
	Set(ctx context.Context, account *domain.CreditAccount) error
	Invalidate(ctx context.Context, userIDs ...int32) error
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisBalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID int32) string {
	return "ledger:balance:" + strconv.FormatInt(int64(userID), 10)
}

func (c *RedisBalanceCache) Get(ctx context.Context, userID int32) (*domain.CreditAccount, bool, error) {
	data, err := c.client.HGetAll(ctx, balanceKey(userID)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}

	acct := &domain.CreditAccount{UserID: userID}
	fields := map[string]*int64{
		"total":     &acct.TotalBalance,
		"available": &acct.AvailableBalance,
		"locked":    &acct.LockedBalance,
		"retired":   &acct.RetiredBalance,
		"version":   &acct.Version,
	}
	for name, dst := range fields {
		n, err := strconv.ParseInt(data[name], 10, 64)
		if err != nil {
			// a half-written hash is a miss, not an error
			return nil, false, nil
		}
		*dst = n
	}
	id, err := strconv.ParseInt(data["account_id"], 10, 32)
	if err != nil {
		return nil, false, nil
	}
	acct.ID = int32(id)
	if unix, err := strconv.ParseInt(data["updated_on"], 10, 64); err == nil {
		acct.UpdatedOn = time.Unix(0, unix).UTC()
	}
	return acct, true, nil
}

func (c *RedisBalanceCache) Set(ctx context.Context, a *domain.CreditAccount) error {
	key := balanceKey(a.UserID)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"account_id", a.ID,
			"total", a.TotalBalance,
			"available", a.AvailableBalance,
			"locked", a.LockedBalance,
			"retired", a.RetiredBalance,
			"version", a.Version,
			"updated_on", a.UpdatedOn.UnixNano(),
		)
		p.Expire(ctx, key, c.ttl)
		return nil
	})
	return err
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, userIDs ...int32) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = balanceKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

// NoopBalanceCache always misses; used when Redis is not configured.
type NoopBalanceCache struct{}

func (NoopBalanceCache) Get(context.Context, int32) (*domain.CreditAccount, bool, error) {
	return nil, false, nil
}
func (NoopBalanceCache) Set(context.Context, *domain.CreditAccount) error { return nil }
func (NoopBalanceCache) Invalidate(context.Context, ...int32) error       { return nil }
