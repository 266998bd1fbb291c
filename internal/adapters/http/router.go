package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/thebiggive/matchbot-sub000/internal/application"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handler is the HTTP adapter entrypoint for matching use-cases.
type Handler struct {
	service *application.Service
	checks  map[string]ReadinessCheck
}

func NewHandler(service *application.Service, checks map[string]ReadinessCheck) *Handler {
	return &Handler{service: service, checks: checks}
}

// NewRouter registers the internal matching API. Callers are other donation-platform services.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/matching/v1", func(r chi.Router) {
		r.Route("/donations/{donation_id}", func(r chi.Router) {
			r.Get("/", handler.getDonation)
			r.Put("/", handler.recordDonation)
			r.Post("/allocate", handler.allocate)
			r.Post("/release", handler.releaseDonation)
			r.Get("/withdrawals", handler.listWithdrawals)
		})
		r.Post("/withdrawals/{withdrawal_id}/release", handler.releaseWithdrawal)
		r.Get("/campaigns/{campaign_id}/fundings", handler.listCampaignFundings)
		r.Post("/fundings/{funding_id}/initialize", handler.initializeFunding)
		r.Post("/fundings/{funding_id}/reset-balance", handler.resetFundingBalance)
		r.Get("/reports/over-matched", handler.overMatchedReport)
	})

	return r
}
