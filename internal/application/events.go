package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

type withdrawalPayload struct {
	WithdrawalID      int64           `json:"withdrawal_id"`
	CampaignFundingID int64           `json:"campaign_funding_id"`
	Amount            decimal.Decimal `json:"amount"`
}

type fundsAllocatedPayload struct {
	DonationID    uuid.UUID           `json:"donation_id"`
	CampaignID    string              `json:"campaign_id"`
	Currency      string              `json:"currency"`
	AmountMatched decimal.Decimal     `json:"amount_matched"`
	TotalMatched  decimal.Decimal     `json:"total_matched"`
	Withdrawals   []withdrawalPayload `json:"withdrawals"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

type fundsReleasedPayload struct {
	DonationID     uuid.UUID           `json:"donation_id"`
	Reason         string              `json:"reason"`
	AmountReleased decimal.Decimal     `json:"amount_released"`
	Withdrawals    []withdrawalPayload `json:"withdrawals"`
	OccurredAt     time.Time           `json:"occurred_at"`
}

type donationReallocatedPayload struct {
	DonationID    uuid.UUID       `json:"donation_id"`
	MatchedBefore decimal.Decimal `json:"matched_before"`
	MatchedAfter  decimal.Decimal `json:"matched_after"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type overMatchedPayload struct {
	DonationID      uuid.UUID       `json:"donation_id"`
	CampaignID      string          `json:"campaign_id"`
	Currency        string          `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	WithdrawalTotal decimal.Decimal `json:"withdrawal_total"`
	DetectedAt      time.Time       `json:"detected_at"`
}

func toWithdrawalPayloads(rows []domain.FundingWithdrawal) []withdrawalPayload {
	out := make([]withdrawalPayload, 0, len(rows))
	for _, w := range rows {
		out = append(out, withdrawalPayload{WithdrawalID: w.ID, CampaignFundingID: w.CampaignFundingID, Amount: w.Amount})
	}
	return out
}

// enqueue writes an outbox event keyed by donation so consumers see one donation's events in order.
func enqueue(ctx context.Context, outbox ports.OutboxRepository, eventType string, donationID uuid.UUID, payload any, at time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if err := outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: donationID.String(),
		Payload:      raw,
		OccurredAt:   at,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}
