package postgres

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"gorm.io/gorm"
)

func TestFundPriorityExprOrdersPledgesFirst(t *testing.T) {
	got := fundPriorityExpr("f.fund_type")
	assert.Equal(t,
		"CASE f.fund_type WHEN 'pledge' THEN 0 WHEN 'championFund' THEN 1 WHEN 'topupPledge' THEN 2 ELSE 99 END",
		got)
}

func TestErrorTranslation(t *testing.T) {
	assert.ErrorIs(t, mapNotFound(fmt.Errorf("take: %w", gorm.ErrRecordNotFound)), domain.ErrNotFound)

	other := errors.New("connection reset")
	assert.Same(t, other, mapNotFound(other))

	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.False(t, isUniqueViolation(other))
	assert.True(t, isCheckViolation(gorm.ErrCheckConstraintViolated))
}

func TestToDomainCampaignKeepsMissingDatesZero(t *testing.T) {
	c := toDomainCampaign(campaignModel{CampaignID: "a05", CurrencyCode: "GBP ", IsMatched: true})
	assert.Equal(t, "GBP", c.Currency)
	assert.True(t, c.StartDate.IsZero())
	assert.True(t, c.EndDate.IsZero())
}

func TestMigrationNamesAreOrderedSQLFiles(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_matching_schema.sql", names[0])
	assert.True(t, sort.StringsAreSorted(names))
	for _, name := range names {
		assert.True(t, strings.HasSuffix(name, ".sql"), name)
	}
}
