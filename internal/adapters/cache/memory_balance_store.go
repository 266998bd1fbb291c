package cache

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

// MemoryBalanceStore is a process-local BalanceStore for tests and the memory storage driver.
type MemoryBalanceStore struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
}

func NewMemoryBalanceStore() *MemoryBalanceStore {
	return &MemoryBalanceStore{balances: make(map[int64]decimal.Decimal)}
}

var _ ports.BalanceStore = (*MemoryBalanceStore)(nil)

func (s *MemoryBalanceStore) Get(_ context.Context, fundingID int64) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.balances[fundingID]
	return v, ok, nil
}

func (s *MemoryBalanceStore) CompareAndSet(_ context.Context, fundingID int64, expected *decimal.Decimal, next decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.balances[fundingID]
	switch {
	case expected == nil && ok:
		return false, nil
	case expected != nil && (!ok || !current.Equal(*expected)):
		return false, nil
	}
	s.balances[fundingID] = next
	return true, nil
}

func (s *MemoryBalanceStore) SetIfAbsent(_ context.Context, fundingID int64, value decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[fundingID]; ok {
		return false, nil
	}
	s.balances[fundingID] = value
	return true, nil
}

func (s *MemoryBalanceStore) Set(_ context.Context, fundingID int64, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[fundingID] = value
	return nil
}

func (s *MemoryBalanceStore) Delete(_ context.Context, fundingID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.balances, fundingID)
	return nil
}
