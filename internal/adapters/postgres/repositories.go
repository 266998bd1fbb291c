package postgres

import (
	"context"

	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Fundings    ports.CampaignFundingRepository
	Withdrawals ports.WithdrawalRepository
	Donations   ports.DonationRepository
	Campaigns   ports.CampaignRepository
	Outbox      ports.OutboxRepository
	UnitOfWork  ports.UnitOfWork
}

func NewRepositories(db *gorm.DB) Repositories {
	tx := txRepositories(db)
	return Repositories{
		Fundings:    tx.Fundings,
		Withdrawals: tx.Withdrawals,
		Donations:   tx.Donations,
		Campaigns:   &campaignRepository{db: db},
		Outbox:      tx.Outbox,
		UnitOfWork:  &unitOfWork{db: db},
	}
}

func txRepositories(db *gorm.DB) ports.TxRepositories {
	return ports.TxRepositories{
		Fundings:    &fundingRepository{db: db},
		Withdrawals: &withdrawalRepository{db: db},
		Donations:   &donationRepository{db: db},
		Outbox:      &outboxRepository{db: db},
	}
}

type unitOfWork struct {
	db *gorm.DB
}

func (u *unitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.TxRepositories) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, txRepositories(tx))
	})
}

type campaignRepository struct {
	db *gorm.DB
}

func (r *campaignRepository) GetByID(ctx context.Context, campaignID string) (domain.Campaign, error) {
	var row campaignModel
	if err := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Take(&row).Error; err != nil {
		return domain.Campaign{}, mapNotFound(err)
	}
	return toDomainCampaign(row), nil
}

var (
	_ ports.CampaignFundingRepository = (*fundingRepository)(nil)
	_ ports.WithdrawalRepository      = (*withdrawalRepository)(nil)
	_ ports.DonationRepository        = (*donationRepository)(nil)
	_ ports.CampaignRepository        = (*campaignRepository)(nil)
	_ ports.OutboxRepository          = (*outboxRepository)(nil)
	_ ports.UnitOfWork                = (*unitOfWork)(nil)
)
