package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
)

func TestReleaseDonationReversesEveryActiveWithdrawal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pledge := f.addFunding(t, domain.FundTypePledge, "6", "GBP")
	champion := f.addFunding(t, domain.FundTypeChampionFund, "100", "GBP")
	donationID := f.addDonation(t, "10", "GBP")
	mustAllocate(t, f, donationID)

	result, err := f.service.ReleaseDonation(context.Background(), donationID, domain.ReleaseReasonCancelled)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if result.Amount.String() != "10" || len(result.Released) != 2 {
		t.Fatalf("expected 10 released across 2 withdrawals, got %s / %d", result.Amount, len(result.Released))
	}

	rows := f.store.Withdrawals()
	if len(rows) != 4 {
		t.Fatalf("expected 2 originals and 2 reversal markers, got %d rows", len(rows))
	}
	for _, w := range rows {
		if w.IsActive() {
			t.Fatalf("withdrawal %d still active", w.ID)
		}
		if w.Reverses != nil && !w.Amount.IsPositive() {
			t.Fatalf("reversal marker %d must carry the original amount", w.ID)
		}
	}
	if v, _ := f.cached(t, pledge.ID); v.String() != "6" {
		t.Fatalf("expected pledge real-time balance restored to 6, got %s", v)
	}
	if v, _ := f.cached(t, champion.ID); v.String() != "100" {
		t.Fatalf("expected champion real-time balance restored to 100, got %s", v)
	}
	f.assertLedgerConsistent(t, pledge, champion)

	donation, _ := f.service.GetDonation(context.Background(), donationID)
	if donation.MatchingReservedAt != nil {
		t.Fatalf("fully released donation must clear its reservation stamp")
	}

	events := f.store.OutboxEvents()
	last := events[len(events)-1]
	if last.EventType != domain.EventFundsReleased {
		t.Fatalf("expected %s, got %s", domain.EventFundsReleased, last.EventType)
	}
	var payload map[string]any
	if err := json.Unmarshal(last.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["reason"] != domain.ReleaseReasonCancelled || payload["amount_released"] != "10" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	funding := f.addFunding(t, domain.FundTypePledge, "50", "GBP")
	donationID := f.addDonation(t, "20", "GBP")
	allocated := mustAllocate(t, f, donationID)
	withdrawalID := allocated.Withdrawals[0].ID

	first, err := f.service.ReleaseWithdrawal(context.Background(), withdrawalID, domain.ReleaseReasonManual)
	if err != nil {
		t.Fatalf("first release: %v", err)
	}
	if first.Amount.String() != "20" {
		t.Fatalf("expected 20 released, got %s", first.Amount)
	}
	rowsAfterFirst := len(f.store.Withdrawals())
	eventsAfterFirst := len(f.store.OutboxEvents())

	second, err := f.service.ReleaseWithdrawal(context.Background(), withdrawalID, domain.ReleaseReasonManual)
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if !second.Amount.IsZero() || len(second.Released) != 0 {
		t.Fatalf("second release must be a no-op, got %+v", second)
	}
	if _, err := f.service.ReleaseDonation(context.Background(), donationID, domain.ReleaseReasonManual); err != nil {
		t.Fatalf("release donation: %v", err)
	}

	marker := f.store.Withdrawals()[rowsAfterFirst-1]
	if _, err := f.service.ReleaseWithdrawal(context.Background(), marker.ID, domain.ReleaseReasonManual); err != nil {
		t.Fatalf("releasing a marker: %v", err)
	}

	if got := len(f.store.Withdrawals()); got != rowsAfterFirst {
		t.Fatalf("expected ledger unchanged at %d rows, got %d", rowsAfterFirst, got)
	}
	if got := len(f.store.OutboxEvents()); got != eventsAfterFirst {
		t.Fatalf("expected no further events, got %d", got-eventsAfterFirst)
	}
	if v, _ := f.cached(t, funding.ID); v.String() != "50" {
		t.Fatalf("real-time balance must be restored exactly once, got %s", v)
	}
	f.assertLedgerConsistent(t, funding)
}

func TestReleaseUnknownWithdrawal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.service.ReleaseWithdrawal(context.Background(), 404, domain.ReleaseReasonManual)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReleaseSurvivesMissingRealTimeBalance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	funding := f.addFunding(t, domain.FundTypePledge, "10", "GBP")
	donationID := f.addDonation(t, "4", "GBP")
	mustAllocate(t, f, donationID)
	if err := f.balances.Delete(context.Background(), funding.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := f.service.ReleaseDonation(context.Background(), donationID, domain.ReleaseReasonRefunded); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, found := f.cached(t, funding.ID); found {
		t.Fatalf("release must not create a real-time balance")
	}
	if f.funding(t, funding.ID).AmountAvailable.String() != "10" {
		t.Fatalf("durable balance must be restored")
	}

	other := f.addDonation(t, "10", "GBP")
	result := mustAllocate(t, f, other)
	if result.AmountMatched.StringFixed(2) != "10.00" {
		t.Fatalf("next allocation should reseed from the ledger, got %s", result.AmountMatched)
	}
}

func TestHandleDonationEventReleasesOnCancellation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	funding := f.addFunding(t, domain.FundTypePledge, "10", "GBP")
	donationID := uuid.New()

	created, _ := json.Marshal(map[string]any{
		"donation_id": donationID,
		"campaign_id": campaignID,
		"amount":      "8.00",
		"currency":    "gbp",
		"status":      "pending",
	})
	if err := f.service.HandleDonationEvent(context.Background(), domain.EventDonationCreated, created); err != nil {
		t.Fatalf("created event: %v", err)
	}
	mustAllocate(t, f, donationID)

	cancelled, _ := json.Marshal(map[string]any{"donation_id": donationID})
	if err := f.service.HandleDonationEvent(context.Background(), domain.EventDonationCancelled, cancelled); err != nil {
		t.Fatalf("cancelled event: %v", err)
	}

	donation, _ := f.service.GetDonation(context.Background(), donationID)
	if donation.Status != domain.DonationStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", donation.Status)
	}
	if f.funding(t, funding.ID).AmountAvailable.String() != "10" {
		t.Fatalf("cancelled donation must give its match funds back")
	}
}

func TestRecordDonationKeepsImmutableFields(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := uuid.New()
	input := RecordDonationInput{DonationID: id, CampaignID: campaignID, Amount: dec("5"), Currency: "GBP"}
	if _, err := f.service.RecordDonation(context.Background(), input); err != nil {
		t.Fatalf("record: %v", err)
	}

	collected := f.now.Add(time.Minute)
	input.Status = domain.DonationStatusCollected
	input.CollectedAt = &collected
	saved, err := f.service.RecordDonation(context.Background(), input)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if saved.Status != domain.DonationStatusCollected || saved.CollectedAt == nil {
		t.Fatalf("expected collected donation, got %+v", saved)
	}

	input.Amount = dec("6")
	if _, err := f.service.RecordDonation(context.Background(), input); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on amount change, got %v", err)
	}
	input.Amount = dec("5")
	input.Currency = "usd"
	if _, err := f.service.RecordDonation(context.Background(), input); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on currency change, got %v", err)
	}
}
