// Package matching owns the real-time balance of every campaign funding.
//
// Every change goes through a bounded optimistic loop against the balance store:
// read the current value, compute the next one, and compare-and-set it. A lost
// race re-reads after a short linear backoff. Nothing else writes balances.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

const (
	DefaultMaxAttempts = 10
	DefaultBackoffBase = 5 * time.Millisecond
)

type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
}

type Adapter struct {
	store  ports.BalanceStore
	logger *slog.Logger
	cfg    Config
}

func NewAdapter(store ports.BalanceStore, logger *slog.Logger, cfg Config) *Adapter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{store: store, logger: logger, cfg: cfg}
}

var _ ports.MatchingAdapter = (*Adapter)(nil)

// Reserve takes up to requested from the funding's balance and returns what it took,
// which is never more than was available. A missing balance is seeded from the
// funding's durable AmountAvailable in the same compare-and-set.
func (a *Adapter) Reserve(ctx context.Context, funding domain.CampaignFunding, requested decimal.Decimal) (decimal.Decimal, error) {
	if !requested.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: reserve %s from funding %d", domain.ErrInvalidAmount, requested, funding.ID)
	}

	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		current, found, err := a.store.Get(ctx, funding.ID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("read balance of funding %d: %w", funding.ID, err)
		}
		var expected *decimal.Decimal
		if found {
			expected = &current
		} else {
			current = funding.AmountAvailable
		}

		if current.IsNegative() {
			a.logNegative(ctx, "reserve", funding.ID, current, requested)
			return decimal.Zero, fmt.Errorf("%w: funding %d holds %s", domain.ErrNegativeBalance, funding.ID, current)
		}

		reserved := decimal.Min(requested, current)
		if !reserved.IsPositive() && found {
			return decimal.Zero, nil
		}
		next := current.Sub(reserved)
		if next.IsNegative() {
			a.logNegative(ctx, "reserve", funding.ID, next, requested)
			return decimal.Zero, fmt.Errorf("%w: funding %d would hold %s", domain.ErrNegativeBalance, funding.ID, next)
		}

		ok, err := a.store.CompareAndSet(ctx, funding.ID, expected, next)
		if err != nil {
			return decimal.Zero, fmt.Errorf("reserve from funding %d: %w", funding.ID, err)
		}
		if ok {
			return reserved, nil
		}
		if err := a.backoff(ctx, attempt); err != nil {
			return decimal.Zero, err
		}
	}

	a.logger.WarnContext(ctx, "balance reservation retries exhausted",
		"module", "matching.adapter",
		"layer", "domain_service",
		"operation", "reserve",
		"outcome", "retries_exhausted",
		"funding_id", funding.ID,
		"attempts", a.cfg.MaxAttempts,
	)
	return decimal.Zero, fmt.Errorf("%w: funding %d after %d attempts", domain.ErrReservationRetriesExhausted, funding.ID, a.cfg.MaxAttempts)
}

// Release returns amount to the funding's balance. It reports applied=false when no
// balance is stored; the next reservation reseeds it from the ledger.
func (a *Adapter) Release(ctx context.Context, fundingID int64, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	if !amount.IsPositive() {
		return decimal.Zero, false, fmt.Errorf("%w: release %s to funding %d", domain.ErrInvalidAmount, amount, fundingID)
	}

	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		current, found, err := a.store.Get(ctx, fundingID)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("read balance of funding %d: %w", fundingID, err)
		}
		if !found {
			return decimal.Zero, false, nil
		}
		next := current.Add(amount)
		if next.IsNegative() {
			a.logNegative(ctx, "release", fundingID, next, amount)
			return decimal.Zero, false, fmt.Errorf("%w: funding %d would hold %s", domain.ErrNegativeBalance, fundingID, next)
		}

		ok, err := a.store.CompareAndSet(ctx, fundingID, &current, next)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("release to funding %d: %w", fundingID, err)
		}
		if ok {
			return next, true, nil
		}
		if err := a.backoff(ctx, attempt); err != nil {
			return decimal.Zero, false, err
		}
	}
	return decimal.Zero, false, fmt.Errorf("%w: release to funding %d after %d attempts", domain.ErrReservationRetriesExhausted, fundingID, a.cfg.MaxAttempts)
}

// Initialize stores the funding's durable balance unless one is already present.
func (a *Adapter) Initialize(ctx context.Context, funding domain.CampaignFunding) (bool, error) {
	if funding.AmountAvailable.IsNegative() {
		a.logNegative(ctx, "initialize", funding.ID, funding.AmountAvailable, decimal.Zero)
		return false, fmt.Errorf("%w: funding %d holds %s", domain.ErrNegativeBalance, funding.ID, funding.AmountAvailable)
	}
	return a.store.SetIfAbsent(ctx, funding.ID, funding.AmountAvailable)
}

// Rebuild overwrites the stored balance. Only reconciliation calls this.
func (a *Adapter) Rebuild(ctx context.Context, fundingID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		a.logNegative(ctx, "rebuild", fundingID, amount, decimal.Zero)
		return fmt.Errorf("%w: rebuild funding %d to %s", domain.ErrNegativeBalance, fundingID, amount)
	}
	return a.store.Set(ctx, fundingID, amount)
}

func (a *Adapter) Balance(ctx context.Context, fundingID int64) (decimal.Decimal, bool, error) {
	return a.store.Get(ctx, fundingID)
}

func (a *Adapter) backoff(ctx context.Context, attempt int) error {
	delay := a.cfg.BackoffBase * time.Duration(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (a *Adapter) logNegative(ctx context.Context, operation string, fundingID int64, balance, amount decimal.Decimal) {
	a.logger.ErrorContext(ctx, "refusing negative funding balance",
		"module", "matching.adapter",
		"layer", "domain_service",
		"operation", operation,
		"outcome", "negative_balance",
		"funding_id", fundingID,
		"balance", balance.String(),
		"amount", amount.String(),
	)
}
