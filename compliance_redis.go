package ledgerxgo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const dailyCounterTTL = 48 * time.Hour

// RedisCounter keeps daily totals in integer minor units so every instance sees the same figure.
type RedisCounter struct {
	rdb redis.Cmdable
}

var (
	_ DailyCounter = (*RedisCounter)(nil)
)

func NewRedisCounter(rdb redis.Cmdable) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func DailyCounterKey(ownerID string, day time.Time) string {
	return fmt.Sprintf("compliance:daily:%s:%s", ownerID, day.UTC().Format("2006-01-02"))
}

func (r *RedisCounter) Total(ctx context.Context, ownerID string, day time.Time) (decimal.Decimal, error) {
	cents, err := r.rdb.Get(ctx, DailyCounterKey(ownerID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(cents, -2), nil
}

func (r *RedisCounter) Add(ctx context.Context, ownerID string, day time.Time, amount decimal.Decimal) error {
	key := DailyCounterKey(ownerID, day)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, amount.Shift(2).IntPart())
		pipe.Expire(ctx, key, dailyCounterTTL)
		return nil
	})
	return err
}
