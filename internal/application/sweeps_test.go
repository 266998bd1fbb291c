package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/thebiggive/matchbot-sub000/internal/adapters/memory"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

func TestExpireStaleMatchesReleasesOnlyUnpaidExpiredDonations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	funding := f.addFunding(t, domain.FundTypePledge, "100", "GBP")

	stale := f.addDonation(t, "10", "GBP")
	mustAllocate(t, f, stale)
	paid := f.addDonation(t, "10", "GBP")
	mustAllocate(t, f, paid)

	f.now = f.now.Add(20 * time.Minute)
	fresh := f.addDonation(t, "10", "GBP")
	mustAllocate(t, f, fresh)

	donation, _ := f.service.GetDonation(context.Background(), paid)
	donation.Status = domain.DonationStatusPaid
	f.store.PutDonation(donation)

	f.now = f.now.Add(15 * time.Minute)
	result, err := f.service.ExpireStaleMatches(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if result.Examined != 1 || result.Processed != 1 || result.Amount.String() != "10" {
		t.Fatalf("expected only the stale donation released, got %+v", result)
	}

	for id, wantActive := range map[uuid.UUID]bool{stale: false, paid: true, fresh: true} {
		rows, _ := f.service.ListDonationWithdrawals(context.Background(), id)
		if active := domain.SumActive(rows).IsPositive(); active != wantActive {
			t.Fatalf("donation %s: expected active=%v", id, wantActive)
		}
	}
	if f.funding(t, funding.ID).AmountAvailable.String() != "80" {
		t.Fatalf("expected 80 available after expiry, got %s", f.funding(t, funding.ID).AmountAvailable)
	}
	f.assertLedgerConsistent(t, funding)

	again, err := f.service.ExpireStaleMatches(context.Background())
	if err != nil || again.Examined != 0 {
		t.Fatalf("second sweep should find nothing, got %+v, %v", again, err)
	}
}

// payingDonations completes payment for every donation the expiry sweep selects, before
// the sweep gets to release it.
type payingDonations struct {
	ports.DonationRepository
	store  *memory.Store
	paidAt time.Time
}

func (r payingDonations) FindWithExpiredMatching(ctx context.Context, cutoff time.Time, limit int) ([]domain.Donation, error) {
	found, err := r.DonationRepository.FindWithExpiredMatching(ctx, cutoff, limit)
	for _, d := range found {
		d.Status = domain.DonationStatusCollected
		d.CollectedAt = &r.paidAt
		r.store.PutDonation(d)
	}
	return found, err
}

func TestExpireKeepsMatchOfDonationPaidMidSweep(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	funding := f.addFunding(t, domain.FundTypePledge, "100", "GBP")
	id := f.addDonation(t, "10", "GBP")
	mustAllocate(t, f, id)

	f.now = f.now.Add(40 * time.Minute)
	deps := f.dependencies(f.adapter)
	deps.Donations = payingDonations{DonationRepository: deps.Donations, store: f.store, paidAt: f.now}
	service := NewService(deps)

	result, err := service.ExpireStaleMatches(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if result.Examined != 1 || result.Processed != 0 || result.Failed != 0 {
		t.Fatalf("expected the paid donation to be skipped, got %+v", result)
	}
	rows, _ := f.service.ListDonationWithdrawals(context.Background(), id)
	if got := domain.SumActive(rows).String(); got != "10" {
		t.Fatalf("paid donation must keep its 10 match, got %s", got)
	}
	if f.funding(t, funding.ID).AmountAvailable.String() != "90" {
		t.Fatalf("durable balance must still reflect the match")
	}
	f.assertLedgerConsistent(t, funding)
}

func TestReallocateMovesDonationToFreedPledge(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pledge := f.addFunding(t, domain.FundTypePledge, "10", "GBP")
	champion := f.addFunding(t, domain.FundTypeChampionFund, "100", "GBP")

	first := f.addDonation(t, "10", "GBP")
	mustAllocate(t, f, first)
	second := f.addDonation(t, "5", "GBP")
	mustAllocate(t, f, second)

	collectedAt := f.now.Add(time.Hour)
	for _, id := range []uuid.UUID{first, second} {
		d, _ := f.service.GetDonation(context.Background(), id)
		d.Status = domain.DonationStatusCollected
		d.CollectedAt = &collectedAt
		f.store.PutDonation(d)
	}

	// The first donor refunds, freeing the whole pledge after the campaign closed.
	if _, err := f.service.ReleaseDonation(context.Background(), first, domain.ReleaseReasonRefunded); err != nil {
		t.Fatalf("refund: %v", err)
	}
	d, _ := f.service.GetDonation(context.Background(), first)
	d.Status = domain.DonationStatusRefunded
	f.store.PutDonation(d)

	result, err := f.service.ReallocateToHigherPriority(context.Background(), f.now, f.now)
	if err != nil {
		t.Fatalf("reallocate: %v", err)
	}
	if result.Examined != 1 || result.Processed != 1 || result.Failed != 0 {
		t.Fatalf("expected one donation reallocated, got %+v", result)
	}

	rows, _ := f.service.ListDonationWithdrawals(context.Background(), second)
	active := domain.ActiveOnly(rows)
	if len(active) != 1 || active[0].CampaignFundingID != pledge.ID || active[0].Amount.String() != "5" {
		t.Fatalf("expected 5 matched from the pledge, got %+v", active)
	}
	if f.funding(t, champion.ID).AmountAvailable.String() != "100" {
		t.Fatalf("champion fund should be fully available again")
	}
	f.assertLedgerConsistent(t, pledge, champion)

	events := f.store.OutboxEvents()
	if events[len(events)-1].EventType != domain.EventDonationReallocated {
		t.Fatalf("expected reallocation event last, got %s", events[len(events)-1].EventType)
	}

	again, err := f.service.ReallocateToHigherPriority(context.Background(), f.now, f.now)
	if err != nil || again.Examined != 0 {
		t.Fatalf("nothing left to reallocate, got %+v, %v", again, err)
	}
}

func TestReallocateRollsBackWhenCommitFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pledge := f.addFunding(t, domain.FundTypePledge, "10", "GBP")
	champion := f.addFunding(t, domain.FundTypeChampionFund, "100", "GBP")

	first := f.addDonation(t, "10", "GBP")
	mustAllocate(t, f, first)
	second := f.addDonation(t, "5", "GBP")
	mustAllocate(t, f, second)

	collectedAt := f.now.Add(time.Hour)
	for _, id := range []uuid.UUID{first, second} {
		d, _ := f.service.GetDonation(context.Background(), id)
		d.Status = domain.DonationStatusCollected
		d.CollectedAt = &collectedAt
		f.store.PutDonation(d)
	}
	if _, err := f.service.ReleaseDonation(context.Background(), first, domain.ReleaseReasonRefunded); err != nil {
		t.Fatalf("refund: %v", err)
	}
	d, _ := f.service.GetDonation(context.Background(), first)
	d.Status = domain.DonationStatusRefunded
	f.store.PutDonation(d)
	eventsBefore := len(f.store.OutboxEvents())

	f.store.FailNextCommit(errors.New("connection lost"))
	result, err := f.service.ReallocateToHigherPriority(context.Background(), f.now, f.now)
	if err != nil {
		t.Fatalf("reallocate: %v", err)
	}
	if result.Examined != 1 || result.Processed != 0 || result.Failed != 1 {
		t.Fatalf("expected one failed reallocation, got %+v", result)
	}

	rows, _ := f.service.ListDonationWithdrawals(context.Background(), second)
	active := domain.ActiveOnly(rows)
	if len(active) != 1 || active[0].CampaignFundingID != champion.ID || active[0].Amount.String() != "5" {
		t.Fatalf("donation must keep its champion match after a failed reallocation, got %+v", active)
	}
	if v, _ := f.cached(t, pledge.ID); v.String() != "10" {
		t.Fatalf("pledge reservation must be compensated, got %s", v)
	}
	if v, _ := f.cached(t, champion.ID); v.String() != "95" {
		t.Fatalf("champion real-time balance must be unchanged, got %s", v)
	}
	if got := len(f.store.OutboxEvents()); got != eventsBefore {
		t.Fatalf("rolled back reallocation must not leave events, got %d new", got-eventsBefore)
	}
	f.assertLedgerConsistent(t, pledge, champion)

	retry, err := f.service.ReallocateToHigherPriority(context.Background(), f.now, f.now)
	if err != nil || retry.Processed != 1 {
		t.Fatalf("next sweep should reallocate, got %+v, %v", retry, err)
	}
	if v, _ := f.cached(t, champion.ID); v.String() != "100" {
		t.Fatalf("released champion amount must reach the real-time store after commit, got %s", v)
	}
	f.assertLedgerConsistent(t, pledge, champion)
}

func TestReallocateIgnoresOpenCampaigns(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addFunding(t, domain.FundTypePledge, "10", "GBP")
	f.addFunding(t, domain.FundTypeChampionFund, "10", "GBP")
	id := f.addDonation(t, "15", "GBP")
	mustAllocate(t, f, id)

	result, err := f.service.ReallocateToHigherPriority(context.Background(), f.now.Add(-72*time.Hour), f.now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("reallocate: %v", err)
	}
	if result.Examined != 0 {
		t.Fatalf("campaign closed after the cutoff must be skipped, got %+v", result)
	}
}

func TestDetectOverMatchedReportsWithoutCorrecting(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	funding := f.addFunding(t, domain.FundTypePledge, "100", "GBP")
	healthy := f.addDonation(t, "10", "GBP")
	mustAllocate(t, f, healthy)

	broken := f.addDonation(t, "5", "GBP")
	f.store.AppendWithdrawal(domain.FundingWithdrawal{DonationID: broken, CampaignFundingID: funding.ID, Amount: dec("4")})
	f.store.AppendWithdrawal(domain.FundingWithdrawal{DonationID: broken, CampaignFundingID: funding.ID, Amount: dec("3")})

	rows, err := f.service.DetectOverMatched(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(rows) != 1 || rows[0].DonationID != broken || rows[0].WithdrawalTotal.String() != "7" {
		t.Fatalf("expected the broken donation reported, got %+v", rows)
	}
	events := f.store.OutboxEvents()
	if events[len(events)-1].EventType != domain.EventOverMatchedDetected {
		t.Fatalf("expected over-match event, got %s", events[len(events)-1].EventType)
	}
	withdrawals, _ := f.service.ListDonationWithdrawals(context.Background(), broken)
	if domain.SumActive(withdrawals).String() != "7" {
		t.Fatalf("detection must not modify the ledger")
	}
}

func TestReconcileBalances(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seeded := f.addFunding(t, domain.FundTypePledge, "10", "GBP")
	drifted := f.addFunding(t, domain.FundTypeChampionFund, "20", "GBP")
	broken := f.addFunding(t, domain.FundTypeTopupPledge, "30", "GBP")
	ctx := context.Background()

	if err := f.balances.Set(ctx, drifted.ID, dec("19")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := f.balances.Set(ctx, broken.ID, dec("30")); err != nil {
		t.Fatalf("set: %v", err)
	}
	f.store.AppendWithdrawal(domain.FundingWithdrawal{DonationID: uuid.New(), CampaignFundingID: broken.ID, Amount: dec("2")})

	report, err := f.service.ReconcileBalances(ctx, false)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Checked != 3 || report.Seeded != 1 || report.Rebuilt != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.LedgerDrift) != 1 || report.LedgerDrift[0].FundingID != broken.ID || report.LedgerDrift[0].Expected.String() != "28" {
		t.Fatalf("expected ledger drift on funding %d, got %+v", broken.ID, report.LedgerDrift)
	}
	if len(report.CacheDrift) != 1 || report.CacheDrift[0].FundingID != drifted.ID {
		t.Fatalf("expected cache drift on funding %d, got %+v", drifted.ID, report.CacheDrift)
	}
	if v, found := f.cached(t, seeded.ID); !found || v.String() != "10" {
		t.Fatalf("missing balance should be seeded to 10")
	}
	if v, _ := f.cached(t, drifted.ID); v.String() != "19" {
		t.Fatalf("differing balance is only reported without reset, got %s", v)
	}

	report, err = f.service.ReconcileBalances(ctx, true)
	if err != nil {
		t.Fatalf("reconcile with reset: %v", err)
	}
	if report.Rebuilt != 1 {
		t.Fatalf("expected one rebuild, got %+v", report)
	}
	if v, _ := f.cached(t, drifted.ID); v.String() != "20" {
		t.Fatalf("expected rebuilt balance 20, got %s", v)
	}

	if err := f.balances.Set(ctx, seeded.ID, dec("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	balance, err := f.service.ResetCachedBalance(ctx, seeded.ID)
	if err != nil || balance.String() != "10" {
		t.Fatalf("reset cached balance: %s, %v", balance, err)
	}
}

func TestInitializeFundingDoesNotOverwrite(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	funding := f.addFunding(t, domain.FundTypePledge, "10", "GBP")

	ok, err := f.service.InitializeFunding(context.Background(), funding.ID)
	if err != nil || !ok {
		t.Fatalf("first initialize: %v, %v", ok, err)
	}
	if err := f.service.HandleFundingSynced(context.Background(), []byte(`{"campaign_funding_id": 1}`)); err != nil {
		t.Fatalf("funding synced: %v", err)
	}
	if v, _ := f.cached(t, funding.ID); v.String() != "10" {
		t.Fatalf("expected 10, got %s", v)
	}
}
