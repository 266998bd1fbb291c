package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DonationStatus string

const (
	DonationStatusPending   DonationStatus = "pending"
	DonationStatusCollected DonationStatus = "collected"
	DonationStatusPaid      DonationStatus = "paid"
	DonationStatusCancelled DonationStatus = "cancelled"
	DonationStatusRefunded  DonationStatus = "refunded"
	DonationStatusFailed    DonationStatus = "failed"
)

func ParseDonationStatus(raw string) (DonationStatus, error) {
	s := DonationStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case DonationStatusPending, DonationStatusCollected, DonationStatusPaid,
		DonationStatusCancelled, DonationStatusRefunded, DonationStatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: donation status %q", ErrInvalidInput, raw)
	}
}

// IsSuccessful reports whether payment completed; only these donations keep their match funds.
func (s DonationStatus) IsSuccessful() bool {
	return s == DonationStatusCollected || s == DonationStatusPaid
}

// IsReversed reports statuses that require match funds to be returned.
func (s DonationStatus) IsReversed() bool {
	return s == DonationStatusCancelled || s == DonationStatusRefunded
}

// CanReserveMatch reports whether a donation in this status may take new match funds.
func (s DonationStatus) CanReserveMatch() bool {
	return !s.IsReversed() && s != DonationStatusFailed
}

// Donation is the part of a donor's gift the matching engine needs.
type Donation struct {
	ID                 uuid.UUID
	CampaignID         string
	Amount             decimal.Decimal
	Currency           string
	Status             DonationStatus
	CreatedAt          time.Time
	CollectedAt        *time.Time
	MatchingReservedAt *time.Time
	UpdatedAt          time.Time
}

func (d Donation) Validate() error {
	if d.ID == uuid.Nil {
		return fmt.Errorf("%w: donation id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(d.CampaignID) == "" {
		return fmt.Errorf("%w: campaign id is required", ErrInvalidInput)
	}
	if !d.Amount.IsPositive() {
		return fmt.Errorf("%w: donation amount %s", ErrInvalidAmount, d.Amount)
	}
	if _, err := NormalizeCurrency(d.Currency); err != nil {
		return err
	}
	return nil
}

func (d Donation) Money() Money {
	return Money{Amount: d.Amount, Currency: d.Currency}
}

// RemainingToMatch is the donation amount not yet covered by active withdrawals, floored at zero.
func (d Donation) RemainingToMatch(withdrawals []FundingWithdrawal) decimal.Decimal {
	remaining := d.Amount.Sub(SumActive(withdrawals))
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}
