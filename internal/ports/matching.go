package ports

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
)

// BalanceStore holds the real-time available balance of each funding.
type BalanceStore interface {
	Get(ctx context.Context, fundingID int64) (decimal.Decimal, bool, error)
	// CompareAndSet writes next only if the stored value still equals expected.
	// A nil expected means the key must be absent. It reports false on conflict.
	CompareAndSet(ctx context.Context, fundingID int64, expected *decimal.Decimal, next decimal.Decimal) (bool, error)
	SetIfAbsent(ctx context.Context, fundingID int64, value decimal.Decimal) (bool, error)
	Set(ctx context.Context, fundingID int64, value decimal.Decimal) error
	Delete(ctx context.Context, fundingID int64) error
}

// MatchingAdapter is the only writer of real-time balances.
type MatchingAdapter interface {
	Reserve(ctx context.Context, funding domain.CampaignFunding, requested decimal.Decimal) (decimal.Decimal, error)
	Release(ctx context.Context, fundingID int64, amount decimal.Decimal) (decimal.Decimal, bool, error)
	Initialize(ctx context.Context, funding domain.CampaignFunding) (bool, error)
	Rebuild(ctx context.Context, fundingID int64, amount decimal.Decimal) error
	Balance(ctx context.Context, fundingID int64) (decimal.Decimal, bool, error)
}
