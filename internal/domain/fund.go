package domain

import (
	"fmt"
	"strings"
	"time"
)

// FundType decides the order in which pools are drawn down.
type FundType string

const (
	FundTypePledge       FundType = "pledge"
	FundTypeChampionFund FundType = "championFund"
	FundTypeTopupPledge  FundType = "topupPledge"
)

// FundTypes lists every fund type in allocation order.
func FundTypes() []FundType {
	return []FundType{FundTypePledge, FundTypeChampionFund, FundTypeTopupPledge}
}

// Priority is the allocation rank of the type; lower values are drawn first.
// Unknown types sort after every known type.
func (t FundType) Priority() int {
	switch t {
	case FundTypePledge:
		return 0
	case FundTypeChampionFund:
		return 1
	case FundTypeTopupPledge:
		return 2
	default:
		return 99
	}
}

func (t FundType) Valid() bool {
	switch t {
	case FundTypePledge, FundTypeChampionFund, FundTypeTopupPledge:
		return true
	default:
		return false
	}
}

func ParseFundType(raw string) (FundType, error) {
	raw = strings.TrimSpace(raw)
	for _, t := range FundTypes() {
		if strings.EqualFold(raw, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: fund type %q", ErrInvalidInput, raw)
}

// Fund is a named pool of match money supplied by a third party.
type Fund struct {
	ID           int64
	Currency     string
	Name         string
	SalesforceID string
	Type         FundType
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (f Fund) Validate() error {
	if _, err := NormalizeCurrency(f.Currency); err != nil {
		return err
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: fund type %q", ErrInvalidInput, f.Type)
	}
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: fund name is required", ErrInvalidInput)
	}
	return nil
}
