package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/application"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", name, err)
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", name+" unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

type recordDonationRequest struct {
	CampaignID  string          `json:"campaign_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	CreatedAt   *time.Time      `json:"created_at"`
	CollectedAt *time.Time      `json:"collected_at"`
}

func (h *Handler) recordDonation(w http.ResponseWriter, r *http.Request) {
	donationID, err := donationIDParam(r)
	if err != nil {
		writeValidationError(r.Context(), w, "record_donation", err)
		return
	}
	var req recordDonationRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "record_donation", err)
		return
	}
	input := application.RecordDonationInput{
		DonationID:  donationID,
		CampaignID:  req.CampaignID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      domain.DonationStatus(req.Status),
		CollectedAt: req.CollectedAt,
	}
	if req.CreatedAt != nil {
		input.CreatedAt = *req.CreatedAt
	}
	donation, err := h.service.RecordDonation(r.Context(), input)
	if err != nil {
		writeMappedError(r.Context(), w, "record_donation", err)
		return
	}
	writeSuccess(w, http.StatusOK, donationView(donation))
}

func (h *Handler) getDonation(w http.ResponseWriter, r *http.Request) {
	donationID, err := donationIDParam(r)
	if err != nil {
		writeValidationError(r.Context(), w, "get_donation", err)
		return
	}
	donation, err := h.service.GetDonation(r.Context(), donationID)
	if err != nil {
		writeMappedError(r.Context(), w, "get_donation", err)
		return
	}
	writeSuccess(w, http.StatusOK, donationView(donation))
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	donationID, err := donationIDParam(r)
	if err != nil {
		writeValidationError(r.Context(), w, "allocate_match_funds", err)
		return
	}
	res, err := h.service.AllocateMatchFunds(r.Context(), donationID)
	if err != nil {
		writeMappedError(r.Context(), w, "allocate_match_funds", err)
		return
	}
	writeSuccess(w, http.StatusOK, allocationView(res))
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

func (req releaseRequest) reason() (string, error) {
	if req.Reason == "" {
		return domain.ReleaseReasonManual, nil
	}
	if !domain.IsReleaseReason(req.Reason) {
		return "", errors.New("unknown release reason")
	}
	return req.Reason, nil
}

func (h *Handler) releaseDonation(w http.ResponseWriter, r *http.Request) {
	donationID, err := donationIDParam(r)
	if err != nil {
		writeValidationError(r.Context(), w, "release_donation", err)
		return
	}
	var req releaseRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "release_donation", err)
		return
	}
	reason, err := req.reason()
	if err != nil {
		writeValidationError(r.Context(), w, "release_donation", err)
		return
	}
	res, err := h.service.ReleaseDonation(r.Context(), donationID, reason)
	if err != nil {
		writeMappedError(r.Context(), w, "release_donation", err)
		return
	}
	writeSuccess(w, http.StatusOK, releaseView(res))
}

func (h *Handler) releaseWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawalID, err := int64Param(r, "withdrawal_id")
	if err != nil {
		writeValidationError(r.Context(), w, "release_withdrawal", err)
		return
	}
	var req releaseRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "release_withdrawal", err)
		return
	}
	reason, err := req.reason()
	if err != nil {
		writeValidationError(r.Context(), w, "release_withdrawal", err)
		return
	}
	res, err := h.service.ReleaseWithdrawal(r.Context(), withdrawalID, reason)
	if err != nil {
		writeMappedError(r.Context(), w, "release_withdrawal", err)
		return
	}
	writeSuccess(w, http.StatusOK, releaseView(res))
}

func (h *Handler) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	donationID, err := donationIDParam(r)
	if err != nil {
		writeValidationError(r.Context(), w, "list_withdrawals", err)
		return
	}
	rows, err := h.service.ListDonationWithdrawals(r.Context(), donationID)
	if err != nil {
		writeMappedError(r.Context(), w, "list_withdrawals", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"withdrawals":    toWithdrawalViews(rows),
		"active_matched": money(domain.SumActive(rows)),
	})
}

func (h *Handler) listCampaignFundings(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaign_id")
	rows, err := h.service.ListCampaignFundings(r.Context(), campaignID)
	if err != nil {
		writeMappedError(r.Context(), w, "list_campaign_fundings", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"fundings": toFundingViews(rows)})
}

func (h *Handler) initializeFunding(w http.ResponseWriter, r *http.Request) {
	fundingID, err := int64Param(r, "funding_id")
	if err != nil {
		writeValidationError(r.Context(), w, "initialize_funding", err)
		return
	}
	seeded, err := h.service.InitializeFunding(r.Context(), fundingID)
	if err != nil {
		writeMappedError(r.Context(), w, "initialize_funding", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"campaign_funding_id": fundingID, "seeded": seeded})
}

func (h *Handler) resetFundingBalance(w http.ResponseWriter, r *http.Request) {
	fundingID, err := int64Param(r, "funding_id")
	if err != nil {
		writeValidationError(r.Context(), w, "reset_funding_balance", err)
		return
	}
	balance, err := h.service.ResetCachedBalance(r.Context(), fundingID)
	if err != nil {
		writeMappedError(r.Context(), w, "reset_funding_balance", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"campaign_funding_id": fundingID, "amount_available": money(balance)})
}

func (h *Handler) overMatchedReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListOverMatched(r.Context())
	if err != nil {
		writeMappedError(r.Context(), w, "over_matched_report", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"over_matched": toOverMatchedViews(rows)})
}
