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

type reservation struct {
	fundingID int64
	amount    decimal.Decimal
}

// matchDraw is what drawMatchFunds took from a campaign's pools.
type matchDraw struct {
	withdrawals []domain.FundingWithdrawal
	matched     decimal.Decimal
	creditUsed  map[int64]decimal.Decimal
}

// AllocateMatchFunds matches as much of the donation's unmatched amount as the campaign's
// pools allow, drawing pools in priority order. Every real-time reservation made here is
// released again if the ledger write does not commit.
func (s *Service) AllocateMatchFunds(ctx context.Context, donationID uuid.UUID) (AllocationResult, error) {
	var (
		reservations []reservation
		result       AllocationResult
	)

	err := s.uow.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
		donation, err := repos.Donations.GetForUpdate(ctx, donationID)
		if err != nil {
			return fmt.Errorf("lock donation %s: %w", donationID, err)
		}
		if !donation.Status.CanReserveMatch() {
			return fmt.Errorf("%w: donation %s is %s", domain.ErrConflict, donationID, donation.Status)
		}
		existing, err := repos.Withdrawals.ListByDonation(ctx, donationID)
		if err != nil {
			return fmt.Errorf("list withdrawals of donation %s: %w", donationID, err)
		}
		alreadyMatched := domain.SumActive(existing)
		result = AllocationResult{
			DonationID:    donationID,
			Currency:      donation.Currency,
			AmountMatched: decimal.Zero,
			TotalMatched:  domain.TruncateToMinorUnit(alreadyMatched),
		}

		remaining := donation.RemainingToMatch(existing)
		if !remaining.IsPositive() {
			return nil
		}

		now := s.nowFn()
		draw, err := s.drawMatchFunds(ctx, repos, donation, remaining, nil, now, &reservations)
		if err != nil {
			return err
		}
		if draw.matched.IsZero() {
			return nil
		}

		if donation.MatchingReservedAt == nil {
			donation.MatchingReservedAt = &now
		}
		donation.UpdatedAt = now
		if err := repos.Donations.Save(ctx, donation); err != nil {
			return fmt.Errorf("save donation %s: %w", donationID, err)
		}

		result.Withdrawals = draw.withdrawals
		result.AmountMatched = domain.TruncateToMinorUnit(draw.matched)
		result.TotalMatched = domain.TruncateToMinorUnit(alreadyMatched.Add(draw.matched))
		return enqueueFundsAllocated(ctx, repos.Outbox, donation, draw, alreadyMatched, now)
	})
	if err != nil {
		err = s.compensate(ctx, donationID, reservations, err)
		level := s.logger.ErrorContext
		if errors.Is(err, domain.ErrReservationRetriesExhausted) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
			level = s.logger.WarnContext
		}
		level(ctx, "match fund allocation failed",
			"module", "application.allocation",
			"layer", "application",
			"operation", "allocate_match_funds",
			"outcome", "failure",
			"donation_id", donationID.String(),
			"reservations_released", len(reservations),
			"error", err,
		)
		return AllocationResult{}, err
	}

	s.logger.InfoContext(ctx, "match funds allocated",
		"module", "application.allocation",
		"layer", "application",
		"operation", "allocate_match_funds",
		"outcome", "success",
		"donation_id", donationID.String(),
		"amount_matched", result.AmountMatched.StringFixed(domain.MinorUnitPlaces),
		"total_matched", result.TotalMatched.StringFixed(domain.MinorUnitPlaces),
		"withdrawals", len(result.Withdrawals),
	)
	return result, nil
}

func enqueueFundsAllocated(ctx context.Context, outbox ports.OutboxRepository, donation domain.Donation, draw matchDraw, alreadyMatched decimal.Decimal, now time.Time) error {
	return enqueue(ctx, outbox, domain.EventFundsAllocated, donation.ID, fundsAllocatedPayload{
		DonationID:    donation.ID,
		CampaignID:    donation.CampaignID,
		Currency:      donation.Currency,
		AmountMatched: draw.matched,
		TotalMatched:  alreadyMatched.Add(draw.matched),
		Withdrawals:   toWithdrawalPayloads(draw.withdrawals),
		OccurredAt:    now,
	}, now)
}

// drawMatchFunds takes up to remaining from the campaign's pools in priority order and
// appends one withdrawal per pool drawn. The donation row must already be locked.
//
// credits are amounts returned to the durable balances earlier in the same transaction
// whose real-time balances are only restored after commit. They are drawn first and
// never reserved a second time. Real-time reservations are appended to reservations as
// they are made so the caller can compensate them.
func (s *Service) drawMatchFunds(
	ctx context.Context,
	repos ports.TxRepositories,
	donation domain.Donation,
	remaining decimal.Decimal,
	credits map[int64]decimal.Decimal,
	now time.Time,
	reservations *[]reservation,
) (matchDraw, error) {
	draw := matchDraw{matched: decimal.Zero, creditUsed: map[int64]decimal.Decimal{}}

	candidates, err := repos.Fundings.ListAvailableForCampaign(ctx, donation.CampaignID)
	if err != nil {
		return draw, fmt.Errorf("list fundings of campaign %s: %w", donation.CampaignID, err)
	}
	for _, funding := range candidates {
		if funding.Currency != donation.Currency {
			return draw, fmt.Errorf("%w: donation %s is %s, funding %d is %s",
				domain.ErrCurrencyMismatch, donation.ID, donation.Currency, funding.ID, funding.Currency)
		}
	}

	for _, funding := range candidates {
		if !remaining.IsPositive() {
			break
		}
		credit := decimal.Min(credits[funding.ID], remaining)
		reserved := decimal.Zero
		if rest := remaining.Sub(credit); rest.IsPositive() {
			// A missing real-time balance is seeded from the committed durable balance.
			committed := funding
			committed.AmountAvailable = funding.AmountAvailable.Sub(credits[funding.ID])
			reserved, err = s.matching.Reserve(ctx, committed, rest)
			if err != nil {
				return draw, fmt.Errorf("reserve from funding %d: %w", funding.ID, err)
			}
			if reserved.IsPositive() {
				*reservations = append(*reservations, reservation{fundingID: funding.ID, amount: reserved})
			}
		}
		amount := credit.Add(reserved)
		if !amount.IsPositive() {
			continue
		}

		if err := repos.Fundings.DecrementAvailable(ctx, funding.ID, amount, now); err != nil {
			if !errors.Is(err, domain.ErrNegativeBalance) {
				return draw, fmt.Errorf("debit funding %d: %w", funding.ID, err)
			}
			s.skipOverstatedPool(ctx, donation.ID, funding.ID, reserved, reservations, err)
			continue
		}
		withdrawal, err := domain.NewWithdrawal(donation.ID, funding.ID, amount, now)
		if err != nil {
			return draw, err
		}
		withdrawal, err = repos.Withdrawals.Append(ctx, withdrawal)
		if err != nil {
			return draw, fmt.Errorf("append withdrawal: %w", err)
		}
		draw.withdrawals = append(draw.withdrawals, withdrawal)
		if credit.IsPositive() {
			draw.creditUsed[funding.ID] = credit
		}
		draw.matched = draw.matched.Add(amount)
		remaining = remaining.Sub(amount)
	}
	return draw, nil
}

// skipOverstatedPool gives back a reservation whose pool has less durable balance than
// the real-time store claimed. The donation matches from the remaining pools instead.
func (s *Service) skipOverstatedPool(ctx context.Context, donationID uuid.UUID, fundingID int64, reserved decimal.Decimal, reservations *[]reservation, cause error) {
	if reserved.IsPositive() {
		*reservations = (*reservations)[:len(*reservations)-1]
		s.returnToRealTime(ctx, donationID, []reservation{{fundingID: fundingID, amount: reserved}})
	}
	s.logger.ErrorContext(ctx, "durable balance below real-time balance, pool skipped",
		"module", "application.allocation",
		"layer", "application",
		"operation", "allocate_match_funds",
		"outcome", "pool_skipped",
		"donation_id", donationID.String(),
		"funding_id", fundingID,
		"amount", reserved.String(),
		"error", cause,
	)
}

// compensate gives back every reservation of a failed allocation, ignoring the caller's
// cancellation. The returned error wraps cause.
func (s *Service) compensate(ctx context.Context, donationID uuid.UUID, reservations []reservation, cause error) error {
	if len(reservations) == 0 {
		return cause
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()

	errs := []error{cause}
	for _, r := range reservations {
		if _, _, err := s.matching.Release(cctx, r.fundingID, r.amount); err != nil {
			s.logger.ErrorContext(ctx, "failed to release reservation of failed allocation",
				"module", "application.allocation",
				"layer", "application",
				"operation", "compensate",
				"outcome", "failure",
				"donation_id", donationID.String(),
				"funding_id", r.fundingID,
				"amount", r.amount.String(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("release %s to funding %d: %w", r.amount, r.fundingID, err))
		}
	}
	return errors.Join(errs...)
}
