package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestFundTypePriorityOrder(t *testing.T) {
	types := FundTypes()
	for i := 1; i < len(types); i++ {
		assert.Less(t, types[i-1].Priority(), types[i].Priority())
	}
	assert.Less(t, FundTypePledge.Priority(), FundTypeChampionFund.Priority())
	assert.Less(t, FundTypeChampionFund.Priority(), FundTypeTopupPledge.Priority())

	ft, err := ParseFundType("ChampionFund")
	require.NoError(t, err)
	assert.Equal(t, FundTypeChampionFund, ft)
	_, err = ParseFundType("grant")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewCampaignFundingStartsFullyAvailable(t *testing.T) {
	fund := Fund{ID: 7, Currency: "gbp", Name: "Pledges", Type: FundTypePledge}
	funding, err := NewCampaignFunding(fund, d("250.00"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "GBP", funding.Currency)
	assert.True(t, funding.AmountAvailable.Equal(funding.Amount))
	assert.True(t, funding.Committed().IsZero())

	_, err = NewCampaignFunding(fund, decimal.Zero, time.Now())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAddCampaignDeduplicates(t *testing.T) {
	var funding CampaignFunding
	funding.AddCampaign("camp-1")
	funding.AddCampaign("camp-1")
	funding.AddCampaign("camp-2")
	funding.AddCampaign("")
	assert.Equal(t, []string{"camp-1", "camp-2"}, funding.CampaignIDs)
	assert.True(t, funding.AppliesTo("camp-2"))
	assert.False(t, funding.AppliesTo("camp-3"))
}

func TestDebitCreditKeepBounds(t *testing.T) {
	funding := CampaignFunding{ID: 1, Amount: d("10.00"), AmountAvailable: d("10.00")}

	require.NoError(t, funding.Debit(d("6.00")))
	assert.Equal(t, "4", funding.AmountAvailable.String())

	err := funding.Debit(d("4.01"))
	assert.ErrorIs(t, err, ErrNegativeBalance)
	assert.Equal(t, "4", funding.AmountAvailable.String())

	err = funding.Credit(d("6.01"))
	assert.ErrorIs(t, err, ErrBalanceInvariant)
	require.NoError(t, funding.Credit(d("6.00")))
	assert.True(t, funding.AmountAvailable.Equal(funding.Amount))

	assert.ErrorIs(t, funding.Debit(d("-1")), ErrInvalidAmount)
	assert.ErrorIs(t, funding.Credit(decimal.Zero), ErrInvalidAmount)
	require.NoError(t, funding.Validate())

	funding.AmountAvailable = d("-0.01")
	assert.ErrorIs(t, funding.Validate(), ErrBalanceInvariant)
}

func TestSortByAllocationOrder(t *testing.T) {
	fundings := []CampaignFunding{
		{ID: 5, FundType: FundTypeTopupPledge},
		{ID: 4, FundType: FundTypeChampionFund},
		{ID: 9, FundType: FundTypePledge},
		{ID: 2, FundType: FundTypeChampionFund},
		{ID: 3, FundType: FundTypePledge},
	}
	SortByAllocationOrder(fundings)

	ids := make([]int64, 0, len(fundings))
	for _, f := range fundings {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []int64{3, 9, 2, 4, 5}, ids)
}
