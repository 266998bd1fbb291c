package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fundModel struct {
	FundID       int64     `gorm:"column:fund_id;primaryKey;autoIncrement"`
	CurrencyCode string    `gorm:"column:currency_code"`
	Name         string    `gorm:"column:name"`
	SalesforceID *string   `gorm:"column:salesforce_id"`
	FundType     string    `gorm:"column:fund_type"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (fundModel) TableName() string { return "funds" }

type campaignModel struct {
	CampaignID   string     `gorm:"column:campaign_id;primaryKey"`
	Name         string     `gorm:"column:name"`
	CurrencyCode string     `gorm:"column:currency_code"`
	StartDate    *time.Time `gorm:"column:start_date"`
	EndDate      *time.Time `gorm:"column:end_date"`
	IsMatched    bool       `gorm:"column:is_matched"`
}

func (campaignModel) TableName() string { return "campaigns" }

type campaignFundingModel struct {
	CampaignFundingID int64           `gorm:"column:campaign_funding_id;primaryKey;autoIncrement"`
	FundID            int64           `gorm:"column:fund_id"`
	CurrencyCode      string          `gorm:"column:currency_code"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric"`
	AmountAvailable   decimal.Decimal `gorm:"column:amount_available;type:numeric"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
}

func (campaignFundingModel) TableName() string { return "campaign_fundings" }

// campaignFundingRow is a funding joined with its fund's type.
type campaignFundingRow struct {
	campaignFundingModel
	FundType string `gorm:"column:fund_type"`
}

type campaignFundingCampaignModel struct {
	CampaignFundingID int64  `gorm:"column:campaign_funding_id;primaryKey"`
	CampaignID        string `gorm:"column:campaign_id;primaryKey"`
}

func (campaignFundingCampaignModel) TableName() string { return "campaign_funding_campaigns" }

type donationModel struct {
	DonationID         uuid.UUID       `gorm:"column:donation_id;type:uuid;primaryKey"`
	CampaignID         string          `gorm:"column:campaign_id"`
	Amount             decimal.Decimal `gorm:"column:amount;type:numeric"`
	CurrencyCode       string          `gorm:"column:currency_code"`
	Status             string          `gorm:"column:status"`
	CreatedAt          time.Time       `gorm:"column:created_at"`
	CollectedAt        *time.Time      `gorm:"column:collected_at"`
	MatchingReservedAt *time.Time      `gorm:"column:matching_reserved_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at"`
}

func (donationModel) TableName() string { return "donations" }

type withdrawalModel struct {
	WithdrawalID      int64           `gorm:"column:withdrawal_id;primaryKey;autoIncrement"`
	DonationID        uuid.UUID       `gorm:"column:donation_id;type:uuid"`
	CampaignFundingID int64           `gorm:"column:campaign_funding_id"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric"`
	ReversedBy        *int64          `gorm:"column:reversed_by"`
	Reverses          *int64          `gorm:"column:reverses"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
}

func (withdrawalModel) TableName() string { return "funding_withdrawals" }

type overMatchedRow struct {
	DonationID      uuid.UUID       `gorm:"column:donation_id"`
	CampaignID      string          `gorm:"column:campaign_id"`
	CurrencyCode    string          `gorm:"column:currency_code"`
	Amount          decimal.Decimal `gorm:"column:amount"`
	WithdrawalTotal decimal.Decimal `gorm:"column:withdrawal_total"`
}

type matchingOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	FirstSeenAt    time.Time  `gorm:"column:first_seen_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (matchingOutboxModel) TableName() string { return "matching_outbox" }
