// Package memory is an in-process implementation of the persistence ports. It backs
// the "memory" storage driver and the service tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

type state struct {
	fundings    map[int64]domain.CampaignFunding
	withdrawals []domain.FundingWithdrawal
	donations   map[uuid.UUID]domain.Donation
	campaigns   map[string]domain.Campaign
	outbox      map[uuid.UUID]ports.OutboxRecord
	outboxOrder []uuid.UUID
}

func (s state) clone() state {
	out := state{
		fundings:    make(map[int64]domain.CampaignFunding, len(s.fundings)),
		withdrawals: slices.Clone(s.withdrawals),
		donations:   make(map[uuid.UUID]domain.Donation, len(s.donations)),
		campaigns:   make(map[string]domain.Campaign, len(s.campaigns)),
		outbox:      make(map[uuid.UUID]ports.OutboxRecord, len(s.outbox)),
		outboxOrder: slices.Clone(s.outboxOrder),
	}
	for id, f := range s.fundings {
		f.CampaignIDs = slices.Clone(f.CampaignIDs)
		out.fundings[id] = f
	}
	for id, d := range s.donations {
		out.donations[id] = d
	}
	for id, c := range s.campaigns {
		out.campaigns[id] = c
	}
	for id, r := range s.outbox {
		out.outbox[id] = r
	}
	return out
}

// Store holds every table in memory. Transactions are serialized and roll back by
// restoring a snapshot taken when they began.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state

	nextFundingID    int64
	nextWithdrawalID int64
	failNextCommit   error
	now              func() time.Time
}

func NewStore() *Store {
	return &Store{
		st: state{
			fundings:  map[int64]domain.CampaignFunding{},
			donations: map[uuid.UUID]domain.Donation{},
			campaigns: map[string]domain.Campaign{},
			outbox:    map[uuid.UUID]ports.OutboxRecord{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Repositories returns non-transactional views over the store. Their writes wait for any
// open transaction, so a rollback never discards them.
func (s *Store) Repositories() ports.TxRepositories {
	return s.repositories(true)
}

func (s *Store) repositories(autonomous bool) ports.TxRepositories {
	return ports.TxRepositories{
		Fundings:    &FundingRepository{s: s, autonomous: autonomous},
		Withdrawals: &WithdrawalRepository{s: s, autonomous: autonomous},
		Donations:   &DonationRepository{s: s, autonomous: autonomous},
		Outbox:      &OutboxRepository{s: s, autonomous: autonomous},
	}
}

// beginWrite serializes a write made outside WithinTx with transactions. It must not be
// called from inside a transaction's fn.
func (s *Store) beginWrite(autonomous bool) func() {
	if !autonomous {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

func (s *Store) Campaigns() *CampaignRepository { return &CampaignRepository{s: s} }

// FailNextCommit makes the next transaction roll back with err after fn succeeds.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextCommit = err
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.TxRepositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx, s.repositories(false)); err != nil {
		s.restore(snapshot)
		return err
	}

	s.mu.Lock()
	failure := s.failNextCommit
	s.failNextCommit = nil
	s.mu.Unlock()
	if failure != nil {
		s.restore(snapshot)
		return failure
	}
	return nil
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = snapshot
}

// AddFunding stores a funding, assigning the next id when none is set.
func (s *Store) AddFunding(f domain.CampaignFunding) domain.CampaignFunding {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == 0 {
		s.nextFundingID++
		f.ID = s.nextFundingID
	} else if f.ID > s.nextFundingID {
		s.nextFundingID = f.ID
	}
	f.CampaignIDs = slices.Clone(f.CampaignIDs)
	s.st.fundings[f.ID] = f
	return f
}

func (s *Store) AddCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.campaigns[c.ID] = c
}

func (s *Store) PutDonation(d domain.Donation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.donations[d.ID] = d
}

// AppendWithdrawal writes a ledger row directly, bypassing allocation.
func (s *Store) AppendWithdrawal(w domain.FundingWithdrawal) domain.FundingWithdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendWithdrawalLocked(w)
}

func (s *Store) appendWithdrawalLocked(w domain.FundingWithdrawal) domain.FundingWithdrawal {
	s.nextWithdrawalID++
	w.ID = s.nextWithdrawalID
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now()
	}
	s.st.withdrawals = append(s.st.withdrawals, w)
	return w
}

// Withdrawals returns a copy of the whole ledger in append order.
func (s *Store) Withdrawals() []domain.FundingWithdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.withdrawals)
}

// OutboxEvents returns every enqueued outbox record, oldest first.
func (s *Store) OutboxEvents() []ports.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.OutboxRecord, 0, len(s.st.outboxOrder))
	for _, id := range s.st.outboxOrder {
		out = append(out, s.st.outbox[id])
	}
	return out
}
