package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
	"gorm.io/gorm"
)

func toDomainFunding(row campaignFundingRow, campaignIDs []string) domain.CampaignFunding {
	return domain.CampaignFunding{
		ID:              row.CampaignFundingID,
		FundID:          row.FundID,
		FundType:        domain.FundType(row.FundType),
		CampaignIDs:     campaignIDs,
		Amount:          row.Amount,
		AmountAvailable: row.AmountAvailable,
		Currency:        strings.TrimSpace(row.CurrencyCode),
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func toDomainWithdrawal(row withdrawalModel) domain.FundingWithdrawal {
	return domain.FundingWithdrawal{
		ID:                row.WithdrawalID,
		DonationID:        row.DonationID,
		CampaignFundingID: row.CampaignFundingID,
		Amount:            row.Amount,
		ReversedBy:        row.ReversedBy,
		Reverses:          row.Reverses,
		CreatedAt:         row.CreatedAt,
	}
}

func fromDomainWithdrawal(w domain.FundingWithdrawal) withdrawalModel {
	return withdrawalModel{
		WithdrawalID:      w.ID,
		DonationID:        w.DonationID,
		CampaignFundingID: w.CampaignFundingID,
		Amount:            w.Amount,
		ReversedBy:        w.ReversedBy,
		Reverses:          w.Reverses,
		CreatedAt:         w.CreatedAt,
	}
}

func toDomainDonation(row donationModel) domain.Donation {
	return domain.Donation{
		ID:                 row.DonationID,
		CampaignID:         row.CampaignID,
		Amount:             row.Amount,
		Currency:           strings.TrimSpace(row.CurrencyCode),
		Status:             domain.DonationStatus(row.Status),
		CreatedAt:          row.CreatedAt,
		CollectedAt:        row.CollectedAt,
		MatchingReservedAt: row.MatchingReservedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func fromDomainDonation(d domain.Donation) donationModel {
	return donationModel{
		DonationID:         d.ID,
		CampaignID:         d.CampaignID,
		Amount:             d.Amount,
		CurrencyCode:       d.Currency,
		Status:             string(d.Status),
		CreatedAt:          d.CreatedAt,
		CollectedAt:        d.CollectedAt,
		MatchingReservedAt: d.MatchingReservedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func toDomainDonations(rows []donationModel) []domain.Donation {
	out := make([]domain.Donation, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainDonation(row))
	}
	return out
}

func toDomainCampaign(row campaignModel) domain.Campaign {
	c := domain.Campaign{
		ID:        row.CampaignID,
		Name:      row.Name,
		Currency:  strings.TrimSpace(row.CurrencyCode),
		IsMatched: row.IsMatched,
	}
	if row.StartDate != nil {
		c.StartDate = *row.StartDate
	}
	if row.EndDate != nil {
		c.EndDate = *row.EndDate
	}
	return c
}

func toOverMatched(row overMatchedRow) ports.OverMatchedDonation {
	return ports.OverMatchedDonation{
		DonationID:      row.DonationID,
		CampaignID:      row.CampaignID,
		Currency:        strings.TrimSpace(row.CurrencyCode),
		Amount:          row.Amount,
		WithdrawalTotal: row.WithdrawalTotal,
	}
}

func toOutboxRecord(row matchingOutboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       row.OutboxID,
		EventType:      row.EventType,
		PartitionKey:   row.PartitionKey,
		Payload:        []byte(row.Payload),
		RetryCount:     row.RetryCount,
		LastError:      row.LastError,
		CreatedAt:      row.CreatedAt,
		PublishedAt:    row.PublishedAt,
		LastErrorAt:    row.LastErrorAt,
		FirstSeenAt:    row.FirstSeenAt,
		ClaimToken:     row.ClaimToken,
		ClaimUntil:     row.ClaimUntil,
		DeadLetteredAt: row.DeadLetteredAt,
	}
}

// fundPriorityExpr renders the allocation priority of a fund type column as SQL.
func fundPriorityExpr(column string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(column)
	for _, t := range domain.FundTypes() {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", t, t.Priority())
	}
	fmt.Fprintf(&b, " ELSE %d END", domain.FundType("").Priority())
	return b.String()
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func isCheckViolation(err error) bool {
	return errors.Is(err, gorm.ErrCheckConstraintViolated)
}
