package events

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/adapters/cache"
	"github.com/thebiggive/matchbot-sub000/internal/adapters/memory"
	"github.com/thebiggive/matchbot-sub000/internal/application"
	"github.com/thebiggive/matchbot-sub000/internal/matching"
)

func decimalOf(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	if err != nil {
		t.Fatalf("decimal %q: %v", v, err)
	}
	return d
}

func newMemoryService(store *memory.Store) *application.Service {
	repos := store.Repositories()
	adapter := matching.NewAdapter(cache.NewMemoryBalanceStore(), discardLogger(), matching.Config{})
	return application.NewService(application.Dependencies{
		Logger:      discardLogger(),
		UnitOfWork:  store,
		Fundings:    repos.Fundings,
		Withdrawals: repos.Withdrawals,
		Donations:   repos.Donations,
		Campaigns:   store.Campaigns(),
		Outbox:      repos.Outbox,
		Matching:    adapter,
	})
}
