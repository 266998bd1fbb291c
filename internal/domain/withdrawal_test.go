package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawalStateTransitions(t *testing.T) {
	donationID := uuid.New()
	w, err := NewWithdrawal(donationID, 3, d("4.00"), time.Now())
	require.NoError(t, err)
	w.ID = 11
	assert.Equal(t, WithdrawalActive, w.State().Status)

	marker, err := w.NewReversal(time.Now())
	require.NoError(t, err)
	marker.ID = 12
	assert.Equal(t, WithdrawalState{Status: WithdrawalReversal, Ref: 11}, marker.State())
	assert.False(t, marker.IsActive())
	assert.True(t, marker.Amount.Equal(w.Amount))

	w.ReversedBy = &marker.ID
	assert.Equal(t, WithdrawalState{Status: WithdrawalReversed, Ref: 12}, w.State())

	_, err = w.NewReversal(time.Now())
	assert.ErrorIs(t, err, ErrAlreadyReversed)
	_, err = marker.NewReversal(time.Now())
	assert.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestNewWithdrawalValidates(t *testing.T) {
	_, err := NewWithdrawal(uuid.New(), 1, d("0"), time.Now())
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = NewWithdrawal(uuid.Nil, 1, d("1"), time.Now())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSumActiveIgnoresReversedAndMarkers(t *testing.T) {
	reversal := int64(3)
	original := int64(2)
	ledger := []FundingWithdrawal{
		{ID: 1, Amount: d("1.50")},
		{ID: 2, Amount: d("2.00"), ReversedBy: &reversal},
		{ID: 3, Amount: d("2.00"), Reverses: &original},
		{ID: 4, Amount: d("0.25")},
	}
	assert.Equal(t, "1.75", SumActive(ledger).String())
	assert.Len(t, ActiveOnly(ledger), 2)
}

func TestDonationRemainingToMatch(t *testing.T) {
	donation := Donation{ID: uuid.New(), CampaignID: "c", Amount: d("2.00"), Currency: "GBP"}
	require.NoError(t, donation.Validate())
	assert.Equal(t, "1", donation.RemainingToMatch([]FundingWithdrawal{{Amount: d("1.00")}}).String())
	assert.True(t, donation.RemainingToMatch([]FundingWithdrawal{{Amount: d("3.00")}}).IsZero())

	assert.True(t, DonationStatusPaid.IsSuccessful())
	assert.False(t, DonationStatusPending.IsSuccessful())
	assert.True(t, DonationStatusRefunded.IsReversed())
	assert.True(t, DonationStatusCollected.CanReserveMatch())
	assert.False(t, DonationStatusCancelled.CanReserveMatch())
	assert.False(t, DonationStatusFailed.CanReserveMatch())

	_, err := ParseDonationStatus("bogus")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
