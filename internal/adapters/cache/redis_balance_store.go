package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

const balanceKeyPrefix = "matchfunds:balance:"

// RedisBalanceStore keeps funding balances as decimal strings, one key per funding.
// CompareAndSet uses WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisBalanceStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBalanceStore(client *redis.Client, ttl time.Duration) *RedisBalanceStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisBalanceStore{client: client, ttl: ttl}
}

var _ ports.BalanceStore = (*RedisBalanceStore)(nil)

func BalanceKey(fundingID int64) string {
	return balanceKeyPrefix + strconv.FormatInt(fundingID, 10)
}

func (s *RedisBalanceStore) Get(ctx context.Context, fundingID int64) (decimal.Decimal, bool, error) {
	raw, err := s.client.Get(ctx, BalanceKey(fundingID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse balance of funding %d: %w", fundingID, err)
	}
	return value, true, nil
}

func (s *RedisBalanceStore) CompareAndSet(ctx context.Context, fundingID int64, expected *decimal.Decimal, next decimal.Decimal) (bool, error) {
	key := BalanceKey(fundingID)
	stale := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if expected != nil {
				stale = true
				return nil
			}
		case err != nil:
			return err
		default:
			if expected == nil {
				stale = true
				return nil
			}
			current, parseErr := decimal.NewFromString(raw)
			if parseErr != nil {
				return fmt.Errorf("parse balance of funding %d: %w", fundingID, parseErr)
			}
			if !current.Equal(*expected) {
				stale = true
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, next.String(), s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !stale, nil
}

func (s *RedisBalanceStore) SetIfAbsent(ctx context.Context, fundingID int64, value decimal.Decimal) (bool, error) {
	return s.client.SetNX(ctx, BalanceKey(fundingID), value.String(), s.ttl).Result()
}

func (s *RedisBalanceStore) Set(ctx context.Context, fundingID int64, value decimal.Decimal) error {
	return s.client.Set(ctx, BalanceKey(fundingID), value.String(), s.ttl).Err()
}

func (s *RedisBalanceStore) Delete(ctx context.Context, fundingID int64) error {
	return s.client.Del(ctx, BalanceKey(fundingID)).Err()
}
