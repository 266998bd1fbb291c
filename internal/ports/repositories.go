package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
)

// CampaignFundingRepository reads pools and applies durable balance changes.
// Balance mutations are conditional so the stored row never leaves [0, amount].
type CampaignFundingRepository interface {
	GetByID(ctx context.Context, fundingID int64) (domain.CampaignFunding, error)
	// ListAvailableForCampaign returns pools with a positive balance in allocation order.
	ListAvailableForCampaign(ctx context.Context, campaignID string) ([]domain.CampaignFunding, error)
	ListForCampaign(ctx context.Context, campaignID string) ([]domain.CampaignFunding, error)
	ListAll(ctx context.Context, afterID int64, limit int) ([]domain.CampaignFunding, error)
	DecrementAvailable(ctx context.Context, fundingID int64, amount decimal.Decimal, at time.Time) error
	IncrementAvailable(ctx context.Context, fundingID int64, amount decimal.Decimal, at time.Time) error
}

// WithdrawalRepository is the append-only withdrawal ledger.
type WithdrawalRepository interface {
	Append(ctx context.Context, withdrawal domain.FundingWithdrawal) (domain.FundingWithdrawal, error)
	GetByID(ctx context.Context, withdrawalID int64) (domain.FundingWithdrawal, error)
	ListByDonation(ctx context.Context, donationID uuid.UUID) ([]domain.FundingWithdrawal, error)
	// MarkReversed links the original to its reversal marker. It reports false when
	// the original had already been reversed.
	MarkReversed(ctx context.Context, withdrawalID, reversalID int64) (bool, error)
	SumActiveByFunding(ctx context.Context, fundingID int64) (decimal.Decimal, error)
}

// OverMatchedDonation is a donation whose active withdrawals exceed its amount.
type OverMatchedDonation struct {
	DonationID      uuid.UUID
	CampaignID      string
	Currency        string
	Amount          decimal.Decimal
	WithdrawalTotal decimal.Decimal
}

type DonationRepository interface {
	GetByID(ctx context.Context, donationID uuid.UUID) (domain.Donation, error)
	// GetForUpdate locks the donation row for the rest of the transaction.
	GetForUpdate(ctx context.Context, donationID uuid.UUID) (domain.Donation, error)
	Save(ctx context.Context, donation domain.Donation) error
	FindWithExpiredMatching(ctx context.Context, cutoff time.Time, limit int) ([]domain.Donation, error)
	FindReplaceableByHigherPriority(ctx context.Context, campaignsClosedBefore, collectedAfter time.Time, limit int) ([]domain.Donation, error)
	FindOverMatched(ctx context.Context) ([]OverMatchedDonation, error)
}

type CampaignRepository interface {
	GetByID(ctx context.Context, campaignID string) (domain.Campaign, error)
}

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	FirstSeenAt    time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls the publish-retry workflow for matching events.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}

// TxRepositories are the repositories bound to one open transaction.
type TxRepositories struct {
	Fundings    CampaignFundingRepository
	Withdrawals WithdrawalRepository
	Donations   DonationRepository
	Outbox      OutboxRepository
}

// UnitOfWork runs fn in a single transaction, committing when fn returns nil.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}
