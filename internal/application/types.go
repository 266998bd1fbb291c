package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
)

type Config struct {
	// MatchExpiry is how long a donation may hold match funds without completing payment.
	MatchExpiry         time.Duration
	SweepBatchSize      int
	CompensationTimeout time.Duration
	ReconcilePageSize   int
}

func (c Config) withDefaults() Config {
	if c.MatchExpiry <= 0 {
		c.MatchExpiry = 32 * time.Minute
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 100
	}
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = 10 * time.Second
	}
	if c.ReconcilePageSize <= 0 {
		c.ReconcilePageSize = 200
	}
	return c
}

// AllocationResult reports one AllocateMatchFunds call. Amounts are truncated to the
// minor unit; Withdrawals holds the ledger rows this call appended.
type AllocationResult struct {
	DonationID    uuid.UUID                  `json:"donation_id"`
	Currency      string                     `json:"currency"`
	AmountMatched decimal.Decimal            `json:"amount_matched"`
	TotalMatched  decimal.Decimal            `json:"total_matched"`
	Withdrawals   []domain.FundingWithdrawal `json:"-"`
}

type ReleaseResult struct {
	DonationID uuid.UUID                  `json:"donation_id"`
	Reason     string                     `json:"reason"`
	Amount     decimal.Decimal            `json:"amount_released"`
	Released   []domain.FundingWithdrawal `json:"-"`
}

// SweepResult summarises one pass of a scheduled sweep.
type SweepResult struct {
	Examined  int             `json:"examined"`
	Processed int             `json:"processed"`
	Failed    int             `json:"failed"`
	Amount    decimal.Decimal `json:"amount"`
}

type RecordDonationInput struct {
	DonationID  uuid.UUID
	CampaignID  string
	Amount      decimal.Decimal
	Currency    string
	Status      domain.DonationStatus
	CreatedAt   time.Time
	CollectedAt *time.Time
}

type BalanceDrift struct {
	FundingID int64           `json:"funding_id"`
	Expected  decimal.Decimal `json:"expected"`
	Actual    decimal.Decimal `json:"actual"`
}

type ReconcileReport struct {
	Checked     int            `json:"checked"`
	Seeded      int            `json:"seeded"`
	Rebuilt     int            `json:"rebuilt"`
	LedgerDrift []BalanceDrift `json:"ledger_drift"`
	CacheDrift  []BalanceDrift `json:"cache_drift"`
}
