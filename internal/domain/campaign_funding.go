package domain

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// CampaignFunding is the share of a Fund allocated to one or more campaigns.
// Amount is fixed at creation; AmountAvailable is the live remaining balance.
type CampaignFunding struct {
	ID              int64
	FundID          int64
	FundType        FundType
	CampaignIDs     []string
	Amount          decimal.Decimal
	AmountAvailable decimal.Decimal
	Currency        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewCampaignFunding starts a pool with its whole amount available.
func NewCampaignFunding(fund Fund, amount decimal.Decimal, at time.Time) (CampaignFunding, error) {
	if err := fund.Validate(); err != nil {
		return CampaignFunding{}, err
	}
	if !amount.IsPositive() {
		return CampaignFunding{}, fmt.Errorf("%w: funding amount %s", ErrInvalidAmount, amount)
	}
	currency, _ := NormalizeCurrency(fund.Currency)
	return CampaignFunding{
		FundID:          fund.ID,
		FundType:        fund.Type,
		Amount:          amount,
		AmountAvailable: amount,
		Currency:        currency,
		CreatedAt:       at,
		UpdatedAt:       at,
	}, nil
}

// AddCampaign links the pool to a campaign; linking the same campaign twice is a no-op.
func (f *CampaignFunding) AddCampaign(campaignID string) {
	if campaignID == "" || slices.Contains(f.CampaignIDs, campaignID) {
		return
	}
	f.CampaignIDs = append(f.CampaignIDs, campaignID)
}

func (f CampaignFunding) AppliesTo(campaignID string) bool {
	return slices.Contains(f.CampaignIDs, campaignID)
}

func (f CampaignFunding) Priority() int { return f.FundType.Priority() }

// Committed is the part of the pool attributed to active withdrawals.
func (f CampaignFunding) Committed() decimal.Decimal {
	return f.Amount.Sub(f.AmountAvailable)
}

func (f CampaignFunding) Validate() error {
	if f.AmountAvailable.IsNegative() || f.AmountAvailable.GreaterThan(f.Amount) {
		return fmt.Errorf("%w: funding %d available %s of %s", ErrBalanceInvariant, f.ID, f.AmountAvailable, f.Amount)
	}
	return nil
}

// Debit takes amount out of the durable available balance.
func (f *CampaignFunding) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: debit %s", ErrInvalidAmount, amount)
	}
	next := f.AmountAvailable.Sub(amount)
	if next.IsNegative() {
		return fmt.Errorf("%w: funding %d has %s, debit %s", ErrNegativeBalance, f.ID, f.AmountAvailable, amount)
	}
	f.AmountAvailable = next
	return nil
}

// Credit returns amount to the durable available balance, never above Amount.
func (f *CampaignFunding) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit %s", ErrInvalidAmount, amount)
	}
	next := f.AmountAvailable.Add(amount)
	if next.GreaterThan(f.Amount) {
		return fmt.Errorf("%w: funding %d credit %s exceeds amount %s", ErrBalanceInvariant, f.ID, amount, f.Amount)
	}
	f.AmountAvailable = next
	return nil
}

// CompareAllocationOrder orders pools by fund type priority, then by id (first created, first used).
func CompareAllocationOrder(a, b CampaignFunding) int {
	if c := cmp.Compare(a.Priority(), b.Priority()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func SortByAllocationOrder(fundings []CampaignFunding) {
	slices.SortStableFunc(fundings, CompareAllocationOrder)
}
