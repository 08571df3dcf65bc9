// internal/repository/pass_ledger.go
package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PassLedgerRepository keeps each user's pass balance as a Redis counter. A
// balance is shared across all of that user's tickets, so redemption must be
// an atomic decrement-if-positive: the Lua script below can never drive a
// balance negative under concurrent redemptions.
type PassLedgerRepository struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPassLedgerRepository(rdb *redis.Client, logger *zap.Logger) *PassLedgerRepository {
	return &PassLedgerRepository{
		rdb:    rdb,
		logger: logger,
	}
}

var redeemScript = redis.NewScript(`
	local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
	if balance > 0 then
		redis.call('DECR', KEYS[1])
		return 1
	end
	return 0
`)

func passKey(userID string) string {
	return "trade:passes:" + userID
}

// Balance returns the user's current pass balance (0 if none recorded).
func (r *PassLedgerRepository) Balance(ctx context.Context, userID string) (int, error) {
	n, err := r.rdb.Get(ctx, passKey(userID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read pass balance: %w", err)
	}
	return n, nil
}

// RedeemOne atomically decrements the balance if positive. Returns false when
// the user has no passes left.
func (r *PassLedgerRepository) RedeemOne(ctx context.Context, userID string) (bool, error) {
	res, err := redeemScript.Run(ctx, r.rdb, []string{passKey(userID)}).Int()
	if err != nil {
		return false, fmt.Errorf("failed to redeem pass: %w", err)
	}
	redeemed := res == 1
	if redeemed {
		r.logger.Info("Pass redeemed", zap.String("user_id", userID))
	}
	return redeemed, nil
}

// Grant adds passes to a user's balance. Used by back-office tooling and to
// refund a redemption whose ticket transition failed to persist.
func (r *PassLedgerRepository) Grant(ctx context.Context, userID string, n int) error {
	if err := r.rdb.IncrBy(ctx, passKey(userID), int64(n)).Err(); err != nil {
		return fmt.Errorf("failed to grant passes: %w", err)
	}
	return nil
}
