package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebiggive/matchbot-sub000/internal/adapters/cache"
)

func TestErrorEnvelopeEchoesRequestID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, cache.NewMemoryBalanceStore(), nil)

	req := httptest.NewRequest(http.MethodPost, "/matching/v1/donations/"+testCampaign+"/allocate", nil)
	req.Header.Set(requestIDHeader, "checkout-7f3a")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "checkout-7f3a", rec.Header().Get(requestIDHeader))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"status":"error","code":"VALIDATION_ERROR","message":"invalid donation_id","request_id":"checkout-7f3a"}`, rec.Body.String())
}

func TestSuccessEnvelopeOmitsErrorFields(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, cache.NewMemoryBalanceStore(), nil)

	rec, payload := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "success", "message": "ok"}, payload)
}

func TestRouteParamsAreReadableAfterRouting(t *testing.T) {
	t.Parallel()
	var route string
	var subjects []any
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			route = routePattern(req)
			subjects = matchingSubjects(req)
		})
	})
	r.Route("/matching/v1", func(r chi.Router) {
		r.Post("/fundings/{funding_id}/initialize", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/matching/v1/fundings/42/initialize", nil))

	assert.Equal(t, "/matching/v1/fundings/{funding_id}/initialize", route)
	assert.Equal(t, []any{"funding_id", "42"}, subjects)
}
