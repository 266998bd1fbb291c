package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"gorm.io/gorm"
)

type withdrawalRepository struct {
	db *gorm.DB
}

func (r *withdrawalRepository) Append(ctx context.Context, withdrawal domain.FundingWithdrawal) (domain.FundingWithdrawal, error) {
	row := fromDomainWithdrawal(withdrawal)
	row.WithdrawalID = 0
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.FundingWithdrawal{}, fmt.Errorf("%w: withdrawal %d already has a reversal", domain.ErrAlreadyReversed, derefID(row.Reverses))
		}
		return domain.FundingWithdrawal{}, err
	}
	return toDomainWithdrawal(row), nil
}

func (r *withdrawalRepository) GetByID(ctx context.Context, withdrawalID int64) (domain.FundingWithdrawal, error) {
	var row withdrawalModel
	if err := r.db.WithContext(ctx).Where("withdrawal_id = ?", withdrawalID).Take(&row).Error; err != nil {
		return domain.FundingWithdrawal{}, mapNotFound(err)
	}
	return toDomainWithdrawal(row), nil
}

func (r *withdrawalRepository) ListByDonation(ctx context.Context, donationID uuid.UUID) ([]domain.FundingWithdrawal, error) {
	var rows []withdrawalModel
	if err := r.db.WithContext(ctx).
		Where("donation_id = ?", donationID).
		Order("withdrawal_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.FundingWithdrawal, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainWithdrawal(row))
	}
	return out, nil
}

func (r *withdrawalRepository) MarkReversed(ctx context.Context, withdrawalID, reversalID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&withdrawalModel{}).
		Where("withdrawal_id = ?", withdrawalID).
		Where("reversed_by IS NULL AND reverses IS NULL").
		Update("reversed_by", reversalID)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, withdrawalID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *withdrawalRepository) SumActiveByFunding(ctx context.Context, fundingID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).
		Raw(`SELECT COALESCE(SUM(amount), 0) FROM funding_withdrawals
			WHERE campaign_funding_id = ? AND reversed_by IS NULL AND reverses IS NULL`, fundingID).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
