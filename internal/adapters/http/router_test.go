package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebiggive/matchbot-sub000/internal/adapters/cache"
	"github.com/thebiggive/matchbot-sub000/internal/adapters/memory"
	"github.com/thebiggive/matchbot-sub000/internal/application"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/matching"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

const testCampaign = "a05WS000004Kp5FYAS"

type testEnv struct {
	store  *memory.Store
	router http.Handler
}

func newTestEnv(t *testing.T, balances ports.BalanceStore, checks map[string]ReadinessCheck) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := memory.NewStore()
	store.AddCampaign(domain.Campaign{ID: testCampaign, Name: "Clean Rivers", Currency: "GBP", IsMatched: true})
	repos := store.Repositories()
	adapter := matching.NewAdapter(balances, logger, matching.Config{MaxAttempts: 3, BackoffBase: time.Millisecond})
	service := application.NewService(application.Dependencies{
		Logger:      logger,
		UnitOfWork:  store,
		Fundings:    repos.Fundings,
		Withdrawals: repos.Withdrawals,
		Donations:   repos.Donations,
		Campaigns:   store.Campaigns(),
		Outbox:      repos.Outbox,
		Matching:    adapter,
	})
	return &testEnv{store: store, router: NewRouter(NewHandler(service, checks))}
}

func (e *testEnv) addFunding(fundType domain.FundType, amount, currency string) domain.CampaignFunding {
	a := decimal.RequireFromString(amount)
	return e.store.AddFunding(domain.CampaignFunding{
		FundType:        fundType,
		CampaignIDs:     []string{testCampaign},
		Amount:          a,
		AmountAvailable: a,
		Currency:        currency,
	})
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return rec, payload
}

func (e *testEnv) recordDonation(t *testing.T, amount, currency string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	rec, _ := e.do(t, http.MethodPut, "/matching/v1/donations/"+id.String(),
		`{"campaign_id":"`+testCampaign+`","amount":"`+amount+`","currency":"`+currency+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

func data(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	d, ok := payload["data"].(map[string]any)
	require.True(t, ok, "missing data envelope in %v", payload)
	return d
}

func TestAllocateAndReleaseOverHTTP(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, cache.NewMemoryBalanceStore(), nil)
	env.addFunding(domain.FundTypePledge, "6", "GBP")
	env.addFunding(domain.FundTypeChampionFund, "100", "GBP")
	donationID := env.recordDonation(t, "10", "GBP")

	rec, payload := env.do(t, http.MethodPost, "/matching/v1/donations/"+donationID.String()+"/allocate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := data(t, payload)
	assert.Equal(t, "10.00", body["amount_matched"])
	assert.Len(t, body["withdrawals"], 2)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec, payload = env.do(t, http.MethodGet, "/matching/v1/donations/"+donationID.String()+"/withdrawals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.00", data(t, payload)["active_matched"])

	rec, payload = env.do(t, http.MethodPost, "/matching/v1/donations/"+donationID.String()+"/release", `{"reason":"cancelled"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "10.00", data(t, payload)["amount_released"])
	assert.Equal(t, "cancelled", data(t, payload)["reason"])

	rec, payload = env.do(t, http.MethodGet, "/matching/v1/campaigns/"+testCampaign+"/fundings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	fundings := data(t, payload)["fundings"].([]any)
	require.Len(t, fundings, 2)
	assert.Equal(t, "pledge", fundings[0].(map[string]any)["fund_type"])
	assert.Equal(t, "6.00", fundings[0].(map[string]any)["amount_available"])
}

func TestReleaseWithdrawalDefaultsToManual(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, cache.NewMemoryBalanceStore(), nil)
	env.addFunding(domain.FundTypePledge, "20", "GBP")
	donationID := env.recordDonation(t, "5", "GBP")
	rec, payload := env.do(t, http.MethodPost, "/matching/v1/donations/"+donationID.String()+"/allocate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	withdrawals := data(t, payload)["withdrawals"].([]any)
	id := int64(withdrawals[0].(map[string]any)["withdrawal_id"].(float64))

	path := "/matching/v1/withdrawals/" + strconv.FormatInt(id, 10) + "/release"
	rec, payload = env.do(t, http.MethodPost, path, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "manual", data(t, payload)["reason"])
	assert.Equal(t, "5.00", data(t, payload)["amount_released"])

	rec, payload = env.do(t, http.MethodPost, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.00", data(t, payload)["amount_released"])
}

type contendedStore struct {
	*cache.MemoryBalanceStore
}

func (s contendedStore) CompareAndSet(context.Context, int64, *decimal.Decimal, decimal.Decimal) (bool, error) {
	return false, nil
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		balances   ports.BalanceStore
		fundingCur string
		method     string
		path       func(donation uuid.UUID) string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "currency mismatch",
			fundingCur: "USD",
			method:     http.MethodPost,
			path:       func(id uuid.UUID) string { return "/matching/v1/donations/" + id.String() + "/allocate" },
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "CURRENCY_MISMATCH",
		},
		{
			name:       "retries exhausted",
			balances:   contendedStore{cache.NewMemoryBalanceStore()},
			method:     http.MethodPost,
			path:       func(id uuid.UUID) string { return "/matching/v1/donations/" + id.String() + "/allocate" },
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "RESERVATION_CONTENDED",
		},
		{
			name:       "unknown donation",
			method:     http.MethodPost,
			path:       func(uuid.UUID) string { return "/matching/v1/donations/" + uuid.NewString() + "/allocate" },
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "malformed donation id",
			method:     http.MethodPost,
			path:       func(uuid.UUID) string { return "/matching/v1/donations/not-a-uuid/allocate" },
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "unknown release reason",
			method:     http.MethodPost,
			path:       func(id uuid.UUID) string { return "/matching/v1/donations/" + id.String() + "/release" },
			body:       `{"reason":"because"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "immutable amount",
			method:     http.MethodPut,
			path:       func(id uuid.UUID) string { return "/matching/v1/donations/" + id.String() },
			body:       `{"campaign_id":"` + testCampaign + `","amount":"11","currency":"GBP"}`,
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			balances := tc.balances
			if balances == nil {
				balances = cache.NewMemoryBalanceStore()
			}
			currency := tc.fundingCur
			if currency == "" {
				currency = "GBP"
			}
			env := newTestEnv(t, balances, nil)
			env.addFunding(domain.FundTypePledge, "50", currency)
			donationID := env.recordDonation(t, "10", "GBP")

			rec, payload := env.do(t, tc.method, tc.path(donationID), tc.body)
			require.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tc.wantCode, payload["code"])
			if tc.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestOverMatchedReport(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, cache.NewMemoryBalanceStore(), nil)
	funding := env.addFunding(domain.FundTypePledge, "100", "GBP")
	donationID := env.recordDonation(t, "5", "GBP")
	env.store.AppendWithdrawal(domain.FundingWithdrawal{DonationID: donationID, CampaignFundingID: funding.ID, Amount: decimal.RequireFromString("4")})
	env.store.AppendWithdrawal(domain.FundingWithdrawal{DonationID: donationID, CampaignFundingID: funding.ID, Amount: decimal.RequireFromString("3")})

	rec, payload := env.do(t, http.MethodGet, "/matching/v1/reports/over-matched", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := data(t, payload)["over_matched"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "2.00", rows[0].(map[string]any)["excess"])
}

func TestReadiness(t *testing.T) {
	t.Parallel()
	healthy := newTestEnv(t, cache.NewMemoryBalanceStore(), map[string]ReadinessCheck{
		"redis": func(context.Context) error { return nil },
	})
	rec, _ := healthy.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	broken := newTestEnv(t, cache.NewMemoryBalanceStore(), map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	rec, payload := broken.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_READY", payload["code"])
}
