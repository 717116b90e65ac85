package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const balanceKeyPrefix = "crash:balance:"

// BalanceStore keeps player balances in Redis. Increments use IncrByFloat,
// which is atomic on the server, so concurrent settlements for different
// players never corrupt each other; per-player ordering is the ledger's job.
type BalanceStore struct {
	client *redis.Client
}

func NewBalanceStore(client *redis.Client) *BalanceStore {
	return &BalanceStore{client: client}
}

func (b *BalanceStore) key(playerID string) string {
	return balanceKeyPrefix + playerID
}

func (b *BalanceStore) Balance(ctx context.Context, playerID string) (float64, error) {
	v, err := b.client.Get(ctx, b.key(playerID)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (b *BalanceStore) Add(ctx context.Context, playerID string, delta float64) (float64, error) {
	return b.client.IncrByFloat(ctx, b.key(playerID), delta).Result()
}

func (b *BalanceStore) Set(ctx context.Context, playerID string, balance float64) error {
	return b.client.Set(ctx, b.key(playerID), balance, 0).Err()
}
