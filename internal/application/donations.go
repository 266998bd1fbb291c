package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

// RecordDonation creates or updates the matching engine's copy of a donation. Campaign,
// amount and currency are fixed once recorded.
func (s *Service) RecordDonation(ctx context.Context, input RecordDonationInput) (domain.Donation, error) {
	currency, err := domain.NormalizeCurrency(input.Currency)
	if err != nil {
		return domain.Donation{}, err
	}
	status := input.Status
	if status == "" {
		status = domain.DonationStatusPending
	}
	if _, err := domain.ParseDonationStatus(string(status)); err != nil {
		return domain.Donation{}, err
	}
	now := s.nowFn()
	candidate := domain.Donation{
		ID:          input.DonationID,
		CampaignID:  strings.TrimSpace(input.CampaignID),
		Amount:      input.Amount,
		Currency:    currency,
		Status:      status,
		CreatedAt:   input.CreatedAt,
		CollectedAt: input.CollectedAt,
		UpdatedAt:   now,
	}
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = now
	}
	if status.IsSuccessful() && candidate.CollectedAt == nil {
		candidate.CollectedAt = &now
	}
	if err := candidate.Validate(); err != nil {
		return domain.Donation{}, err
	}

	var saved domain.Donation
	err = s.uow.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
		existing, err := repos.Donations.GetForUpdate(ctx, candidate.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			saved = candidate
		case err != nil:
			return fmt.Errorf("lock donation %s: %w", candidate.ID, err)
		default:
			if existing.CampaignID != candidate.CampaignID || !existing.Amount.Equal(candidate.Amount) || existing.Currency != candidate.Currency {
				return fmt.Errorf("%w: donation %s campaign, amount and currency cannot change", domain.ErrConflict, candidate.ID)
			}
			saved = existing
			saved.Status = candidate.Status
			if candidate.CollectedAt != nil {
				saved.CollectedAt = candidate.CollectedAt
			}
			saved.UpdatedAt = now
		}
		return repos.Donations.Save(ctx, saved)
	})
	if err != nil {
		return domain.Donation{}, err
	}
	return saved, nil
}

type donationEvent struct {
	DonationID  uuid.UUID       `json:"donation_id"`
	CampaignID  string          `json:"campaign_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CollectedAt *time.Time      `json:"collected_at"`
}

// HandleDonationEvent applies a donation lifecycle event. Cancelled and refunded donations
// give their match funds back.
func (s *Service) HandleDonationEvent(ctx context.Context, eventType string, payload []byte) error {
	var event donationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrInvalidInput, eventType, err)
	}
	status := domain.DonationStatus(event.Status)
	switch eventType {
	case domain.EventDonationCancelled:
		status = domain.DonationStatusCancelled
	case domain.EventDonationRefunded:
		status = domain.DonationStatusRefunded
	}

	input := RecordDonationInput{
		DonationID:  event.DonationID,
		CampaignID:  event.CampaignID,
		Amount:      event.Amount,
		Currency:    event.Currency,
		Status:      status,
		CreatedAt:   event.CreatedAt,
		CollectedAt: event.CollectedAt,
	}
	// Status-only events carry just the id.
	if input.CampaignID == "" {
		existing, err := s.donations.GetByID(ctx, event.DonationID)
		if err != nil {
			return fmt.Errorf("get donation %s: %w", event.DonationID, err)
		}
		input.CampaignID, input.Amount, input.Currency = existing.CampaignID, existing.Amount, existing.Currency
		input.CreatedAt = existing.CreatedAt
		if input.CollectedAt == nil {
			input.CollectedAt = existing.CollectedAt
		}
	}

	donation, err := s.RecordDonation(ctx, input)
	if err != nil {
		return err
	}
	if !donation.Status.IsReversed() {
		return nil
	}
	reason := domain.ReleaseReasonCancelled
	if donation.Status == domain.DonationStatusRefunded {
		reason = domain.ReleaseReasonRefunded
	}
	_, err = s.ReleaseDonation(ctx, donation.ID, reason)
	return err
}

type fundingSyncedEvent struct {
	CampaignFundingID int64 `json:"campaign_funding_id"`
}

// HandleFundingSynced seeds the real-time balance of a funding the CRM sync just wrote.
func (s *Service) HandleFundingSynced(ctx context.Context, payload []byte) error {
	var event fundingSyncedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrInvalidInput, domain.EventFundingSynced, err)
	}
	_, err := s.InitializeFunding(ctx, event.CampaignFundingID)
	return err
}

func (s *Service) InitializeFunding(ctx context.Context, fundingID int64) (bool, error) {
	funding, err := s.fundings.GetByID(ctx, fundingID)
	if err != nil {
		return false, fmt.Errorf("get funding %d: %w", fundingID, err)
	}
	return s.matching.Initialize(ctx, funding)
}

func (s *Service) GetDonation(ctx context.Context, donationID uuid.UUID) (domain.Donation, error) {
	return s.donations.GetByID(ctx, donationID)
}

// ListDonationWithdrawals returns the donation's full ledger, reversals included.
func (s *Service) ListDonationWithdrawals(ctx context.Context, donationID uuid.UUID) ([]domain.FundingWithdrawal, error) {
	if _, err := s.donations.GetByID(ctx, donationID); err != nil {
		return nil, err
	}
	return s.withdrawals.ListByDonation(ctx, donationID)
}

func (s *Service) ListCampaignFundings(ctx context.Context, campaignID string) ([]domain.CampaignFunding, error) {
	if s.campaigns != nil {
		if _, err := s.campaigns.GetByID(ctx, campaignID); err != nil {
			return nil, err
		}
	}
	return s.fundings.ListForCampaign(ctx, campaignID)
}
