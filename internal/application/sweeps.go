package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

// ExpireStaleMatches releases match funds held by donations that reserved them longer
// than the configured expiry ago and never completed payment. Eligibility is checked
// again under the donation lock, so a payment completing mid-sweep keeps its match.
func (s *Service) ExpireStaleMatches(ctx context.Context) (SweepResult, error) {
	cutoff := s.nowFn().Add(-s.cfg.MatchExpiry)
	donations, err := s.donations.FindWithExpiredMatching(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("find donations with expired matching: %w", err)
	}

	stillExpired := func(d domain.Donation) bool {
		return !d.Status.IsSuccessful() && d.MatchingReservedAt != nil && d.MatchingReservedAt.Before(cutoff)
	}
	result := SweepResult{Examined: len(donations), Amount: decimal.Zero}
	for _, donation := range donations {
		released, err := s.releaseDonation(ctx, donation.ID, domain.ReleaseReasonExpired, stillExpired)
		if err != nil {
			result.Failed++
			continue
		}
		if len(released.Released) > 0 {
			result.Processed++
			result.Amount = result.Amount.Add(released.Amount)
		}
	}
	s.logSweep(ctx, "expire_stale_matches", result)
	return result, nil
}

// ReallocateToHigherPriority moves completed donations of closed campaigns off lower
// priority pools when a higher priority pool of the same campaign has capacity again.
func (s *Service) ReallocateToHigherPriority(ctx context.Context, campaignsClosedBefore, collectedAfter time.Time) (SweepResult, error) {
	donations, err := s.donations.FindReplaceableByHigherPriority(ctx, campaignsClosedBefore, collectedAfter, s.cfg.SweepBatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("find reallocation candidates: %w", err)
	}

	result := SweepResult{Examined: len(donations), Amount: decimal.Zero}
	for _, donation := range donations {
		outcome, err := s.reallocate(ctx, donation.ID)
		if errors.Is(err, domain.ErrReservationRetriesExhausted) {
			outcome, err = s.reallocate(ctx, donation.ID)
		}
		if err != nil {
			result.Failed++
			s.logger.ErrorContext(ctx, "donation reallocation rolled back",
				"module", "application.sweeps",
				"layer", "application",
				"operation", "reallocate_to_higher_priority",
				"outcome", "failure",
				"donation_id", donation.ID.String(),
				"error", err,
			)
			continue
		}
		if !outcome.moved {
			continue
		}
		result.Processed++
		result.Amount = result.Amount.Add(outcome.after)
	}
	s.logSweep(ctx, "reallocate_to_higher_priority", result)
	return result, nil
}

type reallocation struct {
	moved  bool
	before decimal.Decimal
	after  decimal.Decimal
}

// reallocate reverses a donation's active withdrawals and draws its amount again in
// priority order, in one transaction. The released amounts are drawn back without going
// through the real-time store; whatever is left of them is restored there after commit.
// The transaction rolls back if the donation would end up matching less than before.
func (s *Service) reallocate(ctx context.Context, donationID uuid.UUID) (reallocation, error) {
	var (
		out          reallocation
		reservations []reservation
		credits      map[int64]decimal.Decimal
		draw         matchDraw
	)

	err := s.uow.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
		donation, err := repos.Donations.GetForUpdate(ctx, donationID)
		if err != nil {
			return fmt.Errorf("lock donation %s: %w", donationID, err)
		}
		if !donation.Status.IsSuccessful() {
			return nil
		}
		withdrawals, err := repos.Withdrawals.ListByDonation(ctx, donationID)
		if err != nil {
			return fmt.Errorf("list withdrawals of donation %s: %w", donationID, err)
		}
		active := domain.ActiveOnly(withdrawals)
		if len(active) == 0 {
			return nil
		}
		before := domain.SumActive(active)
		reservedAt := donation.MatchingReservedAt

		released := ReleaseResult{DonationID: donationID, Reason: domain.ReleaseReasonReallocation, Amount: decimal.Zero}
		if err := s.releaseLocked(ctx, repos, donation, active, domain.ReleaseReasonReallocation, &released); err != nil {
			return err
		}
		credits = map[int64]decimal.Decimal{}
		for _, w := range released.Released {
			credits[w.CampaignFundingID] = credits[w.CampaignFundingID].Add(w.Amount)
		}

		now := s.nowFn()
		draw, err = s.drawMatchFunds(ctx, repos, donation, donation.Amount, credits, now, &reservations)
		if err != nil {
			return err
		}
		if draw.matched.LessThan(before) {
			return fmt.Errorf("%w: donation %s would match %s after reallocation, %s before",
				domain.ErrConflict, donationID, draw.matched, before)
		}

		donation.MatchingReservedAt = reservedAt
		if donation.MatchingReservedAt == nil {
			donation.MatchingReservedAt = &now
		}
		donation.UpdatedAt = now
		if err := repos.Donations.Save(ctx, donation); err != nil {
			return fmt.Errorf("save donation %s: %w", donationID, err)
		}
		if err := enqueueFundsAllocated(ctx, repos.Outbox, donation, draw, decimal.Zero, now); err != nil {
			return err
		}

		out = reallocation{
			moved:  true,
			before: domain.TruncateToMinorUnit(before),
			after:  domain.TruncateToMinorUnit(draw.matched),
		}
		return enqueue(ctx, repos.Outbox, domain.EventDonationReallocated, donationID, donationReallocatedPayload{
			DonationID:    donationID,
			MatchedBefore: before,
			MatchedAfter:  draw.matched,
			OccurredAt:    now,
		}, now)
	})
	if err != nil {
		return reallocation{}, s.compensate(ctx, donationID, reservations, err)
	}
	if !out.moved {
		return out, nil
	}

	unused := make([]reservation, 0, len(credits))
	for fundingID, credit := range credits {
		if left := credit.Sub(draw.creditUsed[fundingID]); left.IsPositive() {
			unused = append(unused, reservation{fundingID: fundingID, amount: left})
		}
	}
	s.returnToRealTime(ctx, donationID, unused)
	s.logger.InfoContext(ctx, "donation reallocated",
		"module", "application.sweeps",
		"layer", "application",
		"operation", "reallocate_to_higher_priority",
		"outcome", "success",
		"donation_id", donationID.String(),
		"matched_before", out.before.String(),
		"matched_after", out.after.String(),
	)
	return out, nil
}

// ListOverMatched reports donations whose active withdrawals exceed the donation amount.
func (s *Service) ListOverMatched(ctx context.Context) ([]ports.OverMatchedDonation, error) {
	rows, err := s.donations.FindOverMatched(ctx)
	if err != nil {
		return nil, fmt.Errorf("find over-matched donations: %w", err)
	}
	return rows, nil
}

// DetectOverMatched logs every over-matched donation and records an event for operators.
// Nothing is corrected automatically.
func (s *Service) DetectOverMatched(ctx context.Context) ([]ports.OverMatchedDonation, error) {
	rows, err := s.ListOverMatched(ctx)
	if err != nil {
		return nil, err
	}
	now := s.nowFn()
	for _, row := range rows {
		s.logger.ErrorContext(ctx, "donation is over-matched",
			"module", "application.sweeps",
			"layer", "application",
			"operation", "detect_over_matched",
			"outcome", "invariant_violation",
			"donation_id", row.DonationID.String(),
			"campaign_id", row.CampaignID,
			"amount", row.Amount.String(),
			"withdrawal_total", row.WithdrawalTotal.String(),
		)
		if err := enqueue(ctx, s.outbox, domain.EventOverMatchedDetected, row.DonationID, overMatchedPayload{
			DonationID:      row.DonationID,
			CampaignID:      row.CampaignID,
			Currency:        row.Currency,
			Amount:          row.Amount,
			WithdrawalTotal: row.WithdrawalTotal,
			DetectedAt:      now,
		}, now); err != nil {
			return rows, err
		}
	}
	return rows, nil
}

// ReconcileBalances compares every funding's durable balance with its ledger and with the
// real-time store. Missing real-time balances are seeded. Differing ones are reported, and
// overwritten only when resetCache is set.
func (s *Service) ReconcileBalances(ctx context.Context, resetCache bool) (ReconcileReport, error) {
	report := ReconcileReport{LedgerDrift: []BalanceDrift{}, CacheDrift: []BalanceDrift{}}
	var afterID int64
	for {
		page, err := s.fundings.ListAll(ctx, afterID, s.cfg.ReconcilePageSize)
		if err != nil {
			return report, fmt.Errorf("list fundings after %d: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}
		for _, funding := range page {
			if err := s.reconcileFunding(ctx, funding, resetCache, &report); err != nil {
				return report, err
			}
			afterID = funding.ID
		}
		if len(page) < s.cfg.ReconcilePageSize {
			break
		}
	}

	s.logger.InfoContext(ctx, "balance reconciliation finished",
		"module", "application.sweeps",
		"layer", "application",
		"operation", "reconcile_balances",
		"outcome", "success",
		"checked", report.Checked,
		"seeded", report.Seeded,
		"rebuilt", report.Rebuilt,
		"ledger_drift", len(report.LedgerDrift),
		"cache_drift", len(report.CacheDrift),
	)
	return report, nil
}

func (s *Service) reconcileFunding(ctx context.Context, funding domain.CampaignFunding, resetCache bool, report *ReconcileReport) error {
	report.Checked++
	committed, err := s.withdrawals.SumActiveByFunding(ctx, funding.ID)
	if err != nil {
		return fmt.Errorf("sum withdrawals of funding %d: %w", funding.ID, err)
	}
	expected := funding.Amount.Sub(committed)
	if !expected.Equal(funding.AmountAvailable) {
		report.LedgerDrift = append(report.LedgerDrift, BalanceDrift{FundingID: funding.ID, Expected: expected, Actual: funding.AmountAvailable})
		s.logger.ErrorContext(ctx, "durable funding balance disagrees with ledger",
			"module", "application.sweeps",
			"layer", "application",
			"operation", "reconcile_balances",
			"outcome", "ledger_drift",
			"funding_id", funding.ID,
			"expected", expected.String(),
			"actual", funding.AmountAvailable.String(),
		)
	}

	cached, found, err := s.matching.Balance(ctx, funding.ID)
	if err != nil {
		return fmt.Errorf("read real-time balance of funding %d: %w", funding.ID, err)
	}
	switch {
	case !found:
		seeded, err := s.matching.Initialize(ctx, funding)
		if err != nil {
			return fmt.Errorf("seed real-time balance of funding %d: %w", funding.ID, err)
		}
		if seeded {
			report.Seeded++
		}
	case !cached.Equal(funding.AmountAvailable):
		report.CacheDrift = append(report.CacheDrift, BalanceDrift{FundingID: funding.ID, Expected: funding.AmountAvailable, Actual: cached})
		if resetCache {
			if err := s.matching.Rebuild(ctx, funding.ID, funding.AmountAvailable); err != nil {
				return fmt.Errorf("rebuild real-time balance of funding %d: %w", funding.ID, err)
			}
			report.Rebuilt++
			return nil
		}
		s.logger.WarnContext(ctx, "real-time funding balance differs from durable balance",
			"module", "application.sweeps",
			"layer", "application",
			"operation", "reconcile_balances",
			"outcome", "cache_drift",
			"funding_id", funding.ID,
			"durable", funding.AmountAvailable.String(),
			"real_time", cached.String(),
		)
	}
	return nil
}

// ResetCachedBalance overwrites one funding's real-time balance with its durable value.
func (s *Service) ResetCachedBalance(ctx context.Context, fundingID int64) (decimal.Decimal, error) {
	funding, err := s.fundings.GetByID(ctx, fundingID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get funding %d: %w", fundingID, err)
	}
	if err := s.matching.Rebuild(ctx, funding.ID, funding.AmountAvailable); err != nil {
		return decimal.Zero, err
	}
	return funding.AmountAvailable, nil
}

func (s *Service) logSweep(ctx context.Context, operation string, result SweepResult) {
	s.logger.InfoContext(ctx, "sweep finished",
		"module", "application.sweeps",
		"layer", "application",
		"operation", operation,
		"outcome", "success",
		"examined", result.Examined,
		"processed", result.Processed,
		"failed", result.Failed,
		"amount", result.Amount.String(),
	)
}
