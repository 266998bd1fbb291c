package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the ledger state of a FundingWithdrawal.
type WithdrawalStatus int

const (
	// WithdrawalActive counts towards the donation's matched total.
	WithdrawalActive WithdrawalStatus = iota
	// WithdrawalReversed has been cancelled by a reversal entry.
	WithdrawalReversed
	// WithdrawalReversal is the marker entry cancelling another withdrawal.
	WithdrawalReversal
)

func (s WithdrawalStatus) String() string {
	switch s {
	case WithdrawalActive:
		return "active"
	case WithdrawalReversed:
		return "reversed"
	case WithdrawalReversal:
		return "reversal"
	default:
		return "unknown"
	}
}

// WithdrawalState is either Active, ReversedBy(id) or a reversal marker for Reverses(id).
type WithdrawalState struct {
	Status WithdrawalStatus
	// Ref is the reversal id for WithdrawalReversed and the original id for WithdrawalReversal.
	Ref int64
}

// FundingWithdrawal is an append-only ledger entry: a donation drew Amount from a pool.
// Rows are never deleted; cancellation appends a reversal marker and links it via ReversedBy.
type FundingWithdrawal struct {
	ID                int64
	DonationID        uuid.UUID
	CampaignFundingID int64
	Amount            decimal.Decimal
	ReversedBy        *int64
	Reverses          *int64
	CreatedAt         time.Time
}

func NewWithdrawal(donationID uuid.UUID, campaignFundingID int64, amount decimal.Decimal, at time.Time) (FundingWithdrawal, error) {
	if !amount.IsPositive() {
		return FundingWithdrawal{}, fmt.Errorf("%w: withdrawal amount %s", ErrInvalidAmount, amount)
	}
	if donationID == uuid.Nil || campaignFundingID <= 0 {
		return FundingWithdrawal{}, fmt.Errorf("%w: withdrawal needs a donation and a funding", ErrInvalidInput)
	}
	return FundingWithdrawal{
		DonationID:        donationID,
		CampaignFundingID: campaignFundingID,
		Amount:            amount,
		CreatedAt:         at,
	}, nil
}

func (w FundingWithdrawal) State() WithdrawalState {
	switch {
	case w.Reverses != nil:
		return WithdrawalState{Status: WithdrawalReversal, Ref: *w.Reverses}
	case w.ReversedBy != nil:
		return WithdrawalState{Status: WithdrawalReversed, Ref: *w.ReversedBy}
	default:
		return WithdrawalState{Status: WithdrawalActive}
	}
}

func (w FundingWithdrawal) IsActive() bool {
	return w.State().Status == WithdrawalActive
}

// NewReversal builds the marker entry that cancels w. The marker carries the same amount
// and points back at w; the caller links w.ReversedBy once the marker has an id.
func (w FundingWithdrawal) NewReversal(at time.Time) (FundingWithdrawal, error) {
	if !w.IsActive() {
		return FundingWithdrawal{}, fmt.Errorf("%w: withdrawal %d is %s", ErrAlreadyReversed, w.ID, w.State().Status)
	}
	original := w.ID
	return FundingWithdrawal{
		DonationID:        w.DonationID,
		CampaignFundingID: w.CampaignFundingID,
		Amount:            w.Amount,
		Reverses:          &original,
		CreatedAt:         at,
	}, nil
}

// SumActive totals the amounts of active withdrawals only.
func SumActive(withdrawals []FundingWithdrawal) decimal.Decimal {
	total := decimal.Zero
	for _, w := range withdrawals {
		if w.IsActive() {
			total = total.Add(w.Amount)
		}
	}
	return total
}

func ActiveOnly(withdrawals []FundingWithdrawal) []FundingWithdrawal {
	out := make([]FundingWithdrawal, 0, len(withdrawals))
	for _, w := range withdrawals {
		if w.IsActive() {
			out = append(out, w)
		}
	}
	return out
}
