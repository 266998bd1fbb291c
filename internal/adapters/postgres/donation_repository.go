package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const activeWithdrawal = "w.reversed_by IS NULL AND w.reverses IS NULL"

type donationRepository struct {
	db *gorm.DB
}

func (r *donationRepository) GetByID(ctx context.Context, donationID uuid.UUID) (domain.Donation, error) {
	var row donationModel
	if err := r.db.WithContext(ctx).Where("donation_id = ?", donationID).Take(&row).Error; err != nil {
		return domain.Donation{}, mapNotFound(err)
	}
	return toDomainDonation(row), nil
}

func (r *donationRepository) GetForUpdate(ctx context.Context, donationID uuid.UUID) (domain.Donation, error) {
	var row donationModel
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("donation_id = ?", donationID).
		Take(&row).Error; err != nil {
		return domain.Donation{}, mapNotFound(err)
	}
	return toDomainDonation(row), nil
}

func (r *donationRepository) Save(ctx context.Context, donation domain.Donation) error {
	row := fromDomainDonation(donation)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "donation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "collected_at", "matching_reserved_at", "updated_at",
			}),
		}).
		Create(&row).Error
}

func (r *donationRepository) FindWithExpiredMatching(ctx context.Context, cutoff time.Time, limit int) ([]domain.Donation, error) {
	var rows []donationModel
	query := r.db.WithContext(ctx).
		Table("donations AS d").
		Select("d.*").
		Where("d.status NOT IN ?", successfulStatuses()).
		Where("d.matching_reserved_at < ?", cutoff).
		Where("EXISTS (SELECT 1 FROM funding_withdrawals w WHERE w.donation_id = d.donation_id AND " + activeWithdrawal + ")").
		Order("d.matching_reserved_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainDonations(rows), nil
}

// FindReplaceableByHigherPriority finds collected donations of closed campaigns that hold
// a withdrawal from a pool outranked by another pool of the campaign with money left.
func (r *donationRepository) FindReplaceableByHigherPriority(ctx context.Context, campaignsClosedBefore, collectedAfter time.Time, limit int) ([]domain.Donation, error) {
	query := fmt.Sprintf(`
SELECT d.* FROM donations d
JOIN campaigns c ON c.campaign_id = d.campaign_id
WHERE d.status IN ?
  AND d.collected_at > ?
  AND c.end_date < ?
  AND EXISTS (
    SELECT 1 FROM funding_withdrawals w
    JOIN campaign_fundings used ON used.campaign_funding_id = w.campaign_funding_id
    JOIN funds uf ON uf.fund_id = used.fund_id
    WHERE w.donation_id = d.donation_id AND %s
      AND EXISTS (
        SELECT 1 FROM campaign_fundings better
        JOIN funds bf ON bf.fund_id = better.fund_id
        JOIN campaign_funding_campaigns bc ON bc.campaign_funding_id = better.campaign_funding_id
        WHERE bc.campaign_id = d.campaign_id
          AND better.currency_code = d.currency_code
          AND better.amount_available > 0
          AND %s < %s
      )
  )
ORDER BY d.collected_at ASC`,
		activeWithdrawal, fundPriorityExpr("bf.fund_type"), fundPriorityExpr("uf.fund_type"))
	args := []any{successfulStatuses(), collectedAfter, campaignsClosedBefore}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []donationModel
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainDonations(rows), nil
}

func (r *donationRepository) FindOverMatched(ctx context.Context) ([]ports.OverMatchedDonation, error) {
	var rows []overMatchedRow
	if err := r.db.WithContext(ctx).Raw(`
SELECT d.donation_id, d.campaign_id, d.currency_code, d.amount, SUM(w.amount) AS withdrawal_total
FROM donations d
JOIN funding_withdrawals w ON w.donation_id = d.donation_id
WHERE ` + activeWithdrawal + `
GROUP BY d.donation_id, d.campaign_id, d.currency_code, d.amount
HAVING SUM(w.amount) > d.amount
ORDER BY d.donation_id ASC`).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ports.OverMatchedDonation, 0, len(rows))
	for _, row := range rows {
		out = append(out, toOverMatched(row))
	}
	return out, nil
}

func successfulStatuses() []string {
	return []string{string(domain.DonationStatusCollected), string(domain.DonationStatusPaid)}
}
