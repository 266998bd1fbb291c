package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"gorm.io/gorm"
)

type fundingRepository struct {
	db *gorm.DB
}

func (r *fundingRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("campaign_fundings AS cf").
		Select("cf.*, f.fund_type").
		Joins("JOIN funds f ON f.fund_id = cf.fund_id")
}

func (r *fundingRepository) GetByID(ctx context.Context, fundingID int64) (domain.CampaignFunding, error) {
	var rows []campaignFundingRow
	if err := r.baseQuery(ctx).Where("cf.campaign_funding_id = ?", fundingID).Limit(1).Scan(&rows).Error; err != nil {
		return domain.CampaignFunding{}, err
	}
	if len(rows) == 0 {
		return domain.CampaignFunding{}, domain.ErrNotFound
	}
	out, err := r.withCampaigns(ctx, rows)
	if err != nil {
		return domain.CampaignFunding{}, err
	}
	return out[0], nil
}

func (r *fundingRepository) ListAvailableForCampaign(ctx context.Context, campaignID string) ([]domain.CampaignFunding, error) {
	return r.listForCampaign(ctx, campaignID, true)
}

func (r *fundingRepository) ListForCampaign(ctx context.Context, campaignID string) ([]domain.CampaignFunding, error) {
	return r.listForCampaign(ctx, campaignID, false)
}

func (r *fundingRepository) listForCampaign(ctx context.Context, campaignID string, availableOnly bool) ([]domain.CampaignFunding, error) {
	query := r.baseQuery(ctx).
		Joins("JOIN campaign_funding_campaigns cfc ON cfc.campaign_funding_id = cf.campaign_funding_id").
		Where("cfc.campaign_id = ?", campaignID)
	if availableOnly {
		query = query.Where("cf.amount_available > 0")
	}

	var rows []campaignFundingRow
	if err := query.
		Order(fundPriorityExpr("f.fund_type") + " ASC, cf.campaign_funding_id ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return r.withCampaigns(ctx, rows)
}

func (r *fundingRepository) ListAll(ctx context.Context, afterID int64, limit int) ([]domain.CampaignFunding, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []campaignFundingRow
	if err := r.baseQuery(ctx).
		Where("cf.campaign_funding_id > ?", afterID).
		Order("cf.campaign_funding_id ASC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return r.withCampaigns(ctx, rows)
}

func (r *fundingRepository) withCampaigns(ctx context.Context, rows []campaignFundingRow) ([]domain.CampaignFunding, error) {
	if len(rows) == 0 {
		return []domain.CampaignFunding{}, nil
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.CampaignFundingID)
	}
	var links []campaignFundingCampaignModel
	if err := r.db.WithContext(ctx).
		Where("campaign_funding_id IN ?", ids).
		Order("campaign_id ASC").
		Find(&links).Error; err != nil {
		return nil, err
	}
	byFunding := make(map[int64][]string, len(rows))
	for _, link := range links {
		byFunding[link.CampaignFundingID] = append(byFunding[link.CampaignFundingID], link.CampaignID)
	}

	out := make([]domain.CampaignFunding, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainFunding(row, byFunding[row.CampaignFundingID]))
	}
	return out, nil
}

// DecrementAvailable debits the stored balance only while it covers amount.
func (r *fundingRepository) DecrementAvailable(ctx context.Context, fundingID int64, amount decimal.Decimal, at time.Time) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: debit of %s", domain.ErrInvalidAmount, amount)
	}
	res := r.db.WithContext(ctx).
		Model(&campaignFundingModel{}).
		Where("campaign_funding_id = ?", fundingID).
		Where("amount_available >= ?", amount).
		Updates(map[string]any{
			"amount_available": gorm.Expr("amount_available - ?", amount),
			"updated_at":       at,
		})
	if res.Error != nil {
		if isCheckViolation(res.Error) {
			return fmt.Errorf("%w: funding %d", domain.ErrNegativeBalance, fundingID)
		}
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if err := r.exists(ctx, fundingID); err != nil {
		return err
	}
	return fmt.Errorf("%w: funding %d cannot cover %s", domain.ErrNegativeBalance, fundingID, amount)
}

// IncrementAvailable credits the stored balance only while it stays within the pool's amount.
func (r *fundingRepository) IncrementAvailable(ctx context.Context, fundingID int64, amount decimal.Decimal, at time.Time) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit of %s", domain.ErrInvalidAmount, amount)
	}
	res := r.db.WithContext(ctx).
		Model(&campaignFundingModel{}).
		Where("campaign_funding_id = ?", fundingID).
		Where("amount_available + ? <= amount", amount).
		Updates(map[string]any{
			"amount_available": gorm.Expr("amount_available + ?", amount),
			"updated_at":       at,
		})
	if res.Error != nil {
		if isCheckViolation(res.Error) {
			return fmt.Errorf("%w: funding %d", domain.ErrBalanceInvariant, fundingID)
		}
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if err := r.exists(ctx, fundingID); err != nil {
		return err
	}
	return fmt.Errorf("%w: crediting %s to funding %d exceeds its amount", domain.ErrBalanceInvariant, amount, fundingID)
}

func (r *fundingRepository) exists(ctx context.Context, fundingID int64) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&campaignFundingModel{}).
		Where("campaign_funding_id = ?", fundingID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: funding %d", domain.ErrNotFound, fundingID)
	}
	return nil
}
