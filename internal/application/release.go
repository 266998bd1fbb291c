package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

// ReleaseWithdrawal reverses a single withdrawal. Releasing a reversed withdrawal or a
// reversal marker does nothing.
func (s *Service) ReleaseWithdrawal(ctx context.Context, withdrawalID int64, reason string) (ReleaseResult, error) {
	var result ReleaseResult
	err := s.uow.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
		withdrawal, err := repos.Withdrawals.GetByID(ctx, withdrawalID)
		if err != nil {
			return fmt.Errorf("get withdrawal %d: %w", withdrawalID, err)
		}
		donation, err := repos.Donations.GetForUpdate(ctx, withdrawal.DonationID)
		if err != nil {
			return fmt.Errorf("lock donation %s: %w", withdrawal.DonationID, err)
		}
		// Re-read under the donation lock; a concurrent release may have won.
		withdrawal, err = repos.Withdrawals.GetByID(ctx, withdrawalID)
		if err != nil {
			return fmt.Errorf("get withdrawal %d: %w", withdrawalID, err)
		}
		result = ReleaseResult{DonationID: donation.ID, Reason: reason, Amount: decimal.Zero}
		if !withdrawal.IsActive() {
			return nil
		}
		return s.releaseLocked(ctx, repos, donation, []domain.FundingWithdrawal{withdrawal}, reason, &result)
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	s.restoreBalances(ctx, result)
	return result, nil
}

// ReleaseDonation reverses every active withdrawal of the donation.
func (s *Service) ReleaseDonation(ctx context.Context, donationID uuid.UUID, reason string) (ReleaseResult, error) {
	return s.releaseDonation(ctx, donationID, reason, nil)
}

// releaseDonation reverses every active withdrawal of the donation when eligible, checked
// against the locked donation row, allows it. A nil eligible releases unconditionally.
func (s *Service) releaseDonation(ctx context.Context, donationID uuid.UUID, reason string, eligible func(domain.Donation) bool) (ReleaseResult, error) {
	result := ReleaseResult{DonationID: donationID, Reason: reason, Amount: decimal.Zero}
	err := s.uow.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
		donation, err := repos.Donations.GetForUpdate(ctx, donationID)
		if err != nil {
			return fmt.Errorf("lock donation %s: %w", donationID, err)
		}
		if eligible != nil && !eligible(donation) {
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
		return s.releaseLocked(ctx, repos, donation, active, reason, &result)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "match fund release failed",
			"module", "application.release",
			"layer", "application",
			"operation", "release_donation",
			"outcome", "failure",
			"donation_id", donationID.String(),
			"reason", reason,
			"error", err,
		)
		return ReleaseResult{}, err
	}
	s.restoreBalances(ctx, result)
	return result, nil
}

// releaseLocked appends a reversal marker per withdrawal, returns the amounts to the durable
// balances and enqueues matching.funds_released. The donation row must already be locked.
func (s *Service) releaseLocked(ctx context.Context, repos ports.TxRepositories, donation domain.Donation, withdrawals []domain.FundingWithdrawal, reason string, result *ReleaseResult) error {
	now := s.nowFn()
	for _, w := range withdrawals {
		marker, err := w.NewReversal(now)
		if err != nil {
			return err
		}
		marker, err = repos.Withdrawals.Append(ctx, marker)
		if err != nil {
			return fmt.Errorf("append reversal of withdrawal %d: %w", w.ID, err)
		}
		ok, err := repos.Withdrawals.MarkReversed(ctx, w.ID, marker.ID)
		if err != nil {
			return fmt.Errorf("mark withdrawal %d reversed: %w", w.ID, err)
		}
		if !ok {
			return fmt.Errorf("%w: withdrawal %d reversed concurrently", domain.ErrConflict, w.ID)
		}
		if err := repos.Fundings.IncrementAvailable(ctx, w.CampaignFundingID, w.Amount, now); err != nil {
			return fmt.Errorf("credit funding %d: %w", w.CampaignFundingID, err)
		}
		reversedBy := marker.ID
		w.ReversedBy = &reversedBy
		result.Released = append(result.Released, w)
		result.Amount = result.Amount.Add(w.Amount)
	}

	remaining, err := repos.Withdrawals.ListByDonation(ctx, donation.ID)
	if err != nil {
		return fmt.Errorf("list withdrawals of donation %s: %w", donation.ID, err)
	}
	if len(domain.ActiveOnly(remaining)) == 0 {
		donation.MatchingReservedAt = nil
	}
	donation.UpdatedAt = now
	if err := repos.Donations.Save(ctx, donation); err != nil {
		return fmt.Errorf("save donation %s: %w", donation.ID, err)
	}

	return enqueue(ctx, repos.Outbox, domain.EventFundsReleased, donation.ID, fundsReleasedPayload{
		DonationID:     donation.ID,
		Reason:         reason,
		AmountReleased: result.Amount,
		Withdrawals:    toWithdrawalPayloads(result.Released),
		OccurredAt:     now,
	}, now)
}

// restoreBalances returns released amounts to the real-time store after the ledger commit.
func (s *Service) restoreBalances(ctx context.Context, result ReleaseResult) {
	if len(result.Released) == 0 {
		return
	}
	amounts := make([]reservation, 0, len(result.Released))
	for _, w := range result.Released {
		amounts = append(amounts, reservation{fundingID: w.CampaignFundingID, amount: w.Amount})
	}
	s.returnToRealTime(ctx, result.DonationID, amounts)
	s.logger.InfoContext(ctx, "match funds released",
		"module", "application.release",
		"layer", "application",
		"operation", "release",
		"outcome", "success",
		"donation_id", result.DonationID.String(),
		"reason", result.Reason,
		"amount_released", result.Amount.String(),
		"withdrawals", len(result.Released),
	)
}

// returnToRealTime credits amounts back to the real-time store, ignoring the caller's
// cancellation. A failure leaves the store understating capacity until reconciliation
// rebuilds it.
func (s *Service) returnToRealTime(ctx context.Context, donationID uuid.UUID, amounts []reservation) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()
	for _, a := range amounts {
		if _, _, err := s.matching.Release(rctx, a.fundingID, a.amount); err != nil {
			s.logger.WarnContext(ctx, "real-time balance not restored",
				"module", "application.release",
				"layer", "application",
				"operation", "restore_balance",
				"outcome", "deferred_to_reconciliation",
				"donation_id", donationID.String(),
				"funding_id", a.fundingID,
				"amount", a.amount.String(),
				"error", err,
			)
		}
	}
}
