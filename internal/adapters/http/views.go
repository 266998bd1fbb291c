package http

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/application"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MinorUnitPlaces)
}

type withdrawalView struct {
	WithdrawalID      int64     `json:"withdrawal_id"`
	DonationID        string    `json:"donation_id"`
	CampaignFundingID int64     `json:"campaign_funding_id"`
	Amount            string    `json:"amount"`
	State             string    `json:"state"`
	ReversedBy        *int64    `json:"reversed_by,omitempty"`
	Reverses          *int64    `json:"reverses,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func toWithdrawalViews(rows []domain.FundingWithdrawal) []withdrawalView {
	out := make([]withdrawalView, 0, len(rows))
	for _, w := range rows {
		out = append(out, withdrawalView{
			WithdrawalID:      w.ID,
			DonationID:        w.DonationID.String(),
			CampaignFundingID: w.CampaignFundingID,
			Amount:            money(w.Amount),
			State:             w.State().Status.String(),
			ReversedBy:        w.ReversedBy,
			Reverses:          w.Reverses,
			CreatedAt:         w.CreatedAt,
		})
	}
	return out
}

func allocationView(res application.AllocationResult) map[string]any {
	return map[string]any{
		"donation_id":    res.DonationID,
		"currency":       res.Currency,
		"amount_matched": money(res.AmountMatched),
		"total_matched":  money(res.TotalMatched),
		"withdrawals":    toWithdrawalViews(res.Withdrawals),
	}
}

func releaseView(res application.ReleaseResult) map[string]any {
	return map[string]any{
		"donation_id":     res.DonationID,
		"reason":          res.Reason,
		"amount_released": money(res.Amount),
		"withdrawals":     toWithdrawalViews(res.Released),
	}
}

func donationView(d domain.Donation) map[string]any {
	return map[string]any{
		"donation_id":          d.ID,
		"campaign_id":          d.CampaignID,
		"amount":               money(d.Amount),
		"currency":             d.Currency,
		"status":               d.Status,
		"created_at":           d.CreatedAt,
		"collected_at":         d.CollectedAt,
		"matching_reserved_at": d.MatchingReservedAt,
	}
}

type fundingView struct {
	CampaignFundingID int64    `json:"campaign_funding_id"`
	FundID            int64    `json:"fund_id"`
	FundType          string   `json:"fund_type"`
	Currency          string   `json:"currency"`
	Amount            string   `json:"amount"`
	AmountAvailable   string   `json:"amount_available"`
	CampaignIDs       []string `json:"campaign_ids"`
}

func toFundingViews(rows []domain.CampaignFunding) []fundingView {
	out := make([]fundingView, 0, len(rows))
	for _, f := range rows {
		out = append(out, fundingView{
			CampaignFundingID: f.ID,
			FundID:            f.FundID,
			FundType:          string(f.FundType),
			Currency:          f.Currency,
			Amount:            money(f.Amount),
			AmountAvailable:   money(f.AmountAvailable),
			CampaignIDs:       f.CampaignIDs,
		})
	}
	return out
}

type overMatchedView struct {
	DonationID      string `json:"donation_id"`
	CampaignID      string `json:"campaign_id"`
	Currency        string `json:"currency"`
	Amount          string `json:"amount"`
	WithdrawalTotal string `json:"withdrawal_total"`
	Excess          string `json:"excess"`
}

func toOverMatchedViews(rows []ports.OverMatchedDonation) []overMatchedView {
	out := make([]overMatchedView, 0, len(rows))
	for _, row := range rows {
		out = append(out, overMatchedView{
			DonationID:      row.DonationID.String(),
			CampaignID:      row.CampaignID,
			Currency:        row.Currency,
			Amount:          money(row.Amount),
			WithdrawalTotal: money(row.WithdrawalTotal),
			Excess:          money(row.WithdrawalTotal.Sub(row.Amount)),
		})
	}
	return out
}
