package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const balanceKeyPrefix = "round:balance:"

// debitScript compares and decrements in one step; balances are whole cents.
var debitScript = redis.NewScript(`
local bal = tonumber(redis.call('GET', KEYS[1]) or '0')
local amt = tonumber(ARGV[1])
if bal < amt then
  return {0, bal}
end
return {1, redis.call('DECRBY', KEYS[1], amt)}
`)

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func balanceKey(userID string) string { return balanceKeyPrefix + userID }

func (w *Redis) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	res, err := debitScript.Run(ctx, w.client, []string{balanceKey(userID)}, toCents(amount)).Int64Slice()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis debit %s: %w", userID, err)
	}
	if len(res) != 2 {
		return decimal.Zero, fmt.Errorf("redis debit %s: unexpected reply %v", userID, res)
	}
	if res[0] == 0 {
		return fromCents(res[1]), ErrInsufficientFunds
	}
	return fromCents(res[1]), nil
}

func (w *Redis) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	cents, err := w.client.IncrBy(ctx, balanceKey(userID), toCents(amount)).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis credit %s: %w", userID, err)
	}
	return fromCents(cents), nil
}

func (w *Redis) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	cents, err := w.client.Get(ctx, balanceKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis balance %s: %w", userID, err)
	}
	return fromCents(cents), nil
}
