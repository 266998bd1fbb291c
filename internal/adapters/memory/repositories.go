package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

type FundingRepository struct {
	s          *Store
	autonomous bool
}

func (r *FundingRepository) GetByID(_ context.Context, fundingID int64) (domain.CampaignFunding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.st.fundings[fundingID]
	if !ok {
		return domain.CampaignFunding{}, domain.ErrNotFound
	}
	f.CampaignIDs = slices.Clone(f.CampaignIDs)
	return f, nil
}

func (r *FundingRepository) ListAvailableForCampaign(ctx context.Context, campaignID string) ([]domain.CampaignFunding, error) {
	all, err := r.ListForCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, f := range all {
		if f.AmountAvailable.IsPositive() {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *FundingRepository) ListForCampaign(_ context.Context, campaignID string) ([]domain.CampaignFunding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.CampaignFunding, 0)
	for _, f := range r.s.st.fundings {
		if f.AppliesTo(campaignID) {
			f.CampaignIDs = slices.Clone(f.CampaignIDs)
			out = append(out, f)
		}
	}
	domain.SortByAllocationOrder(out)
	return out, nil
}

func (r *FundingRepository) ListAll(_ context.Context, afterID int64, limit int) ([]domain.CampaignFunding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	ids := make([]int64, 0, len(r.s.st.fundings))
	for id := range r.s.st.fundings {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.CampaignFunding, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.s.st.fundings[id])
	}
	return out, nil
}

func (r *FundingRepository) DecrementAvailable(_ context.Context, fundingID int64, amount decimal.Decimal, at time.Time) error {
	defer r.s.beginWrite(r.autonomous)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.st.fundings[fundingID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := f.Debit(amount); err != nil {
		return err
	}
	f.UpdatedAt = at
	r.s.st.fundings[fundingID] = f
	return nil
}

func (r *FundingRepository) IncrementAvailable(_ context.Context, fundingID int64, amount decimal.Decimal, at time.Time) error {
	defer r.s.beginWrite(r.autonomous)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.st.fundings[fundingID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := f.Credit(amount); err != nil {
		return err
	}
	f.UpdatedAt = at
	r.s.st.fundings[fundingID] = f
	return nil
}

type WithdrawalRepository struct {
	s          *Store
	autonomous bool
}

func (r *WithdrawalRepository) Append(_ context.Context, w domain.FundingWithdrawal) (domain.FundingWithdrawal, error) {
	defer r.s.beginWrite(r.autonomous)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.fundings[w.CampaignFundingID]; !ok {
		return domain.FundingWithdrawal{}, fmt.Errorf("%w: funding %d", domain.ErrNotFound, w.CampaignFundingID)
	}
	return r.s.appendWithdrawalLocked(w), nil
}

func (r *WithdrawalRepository) GetByID(_ context.Context, withdrawalID int64) (domain.FundingWithdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.st.withdrawals {
		if w.ID == withdrawalID {
			return w, nil
		}
	}
	return domain.FundingWithdrawal{}, domain.ErrNotFound
}

func (r *WithdrawalRepository) ListByDonation(_ context.Context, donationID uuid.UUID) ([]domain.FundingWithdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.FundingWithdrawal, 0)
	for _, w := range r.s.st.withdrawals {
		if w.DonationID == donationID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *WithdrawalRepository) MarkReversed(_ context.Context, withdrawalID, reversalID int64) (bool, error) {
	defer r.s.beginWrite(r.autonomous)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, w := range r.s.st.withdrawals {
		if w.ID != withdrawalID {
			continue
		}
		if w.ReversedBy != nil || w.Reverses != nil {
			return false, nil
		}
		id := reversalID
		w.ReversedBy = &id
		r.s.st.withdrawals[i] = w
		return true, nil
	}
	return false, domain.ErrNotFound
}

func (r *WithdrawalRepository) SumActiveByFunding(_ context.Context, fundingID int64) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := decimal.Zero
	for _, w := range r.s.st.withdrawals {
		if w.CampaignFundingID == fundingID && w.IsActive() {
			total = total.Add(w.Amount)
		}
	}
	return total, nil
}

type DonationRepository struct {
	s          *Store
	autonomous bool
}

func (r *DonationRepository) GetByID(_ context.Context, donationID uuid.UUID) (domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.st.donations[donationID]
	if !ok {
		return domain.Donation{}, domain.ErrNotFound
	}
	return d, nil
}

// GetForUpdate relies on transactions being serialized by the store.
func (r *DonationRepository) GetForUpdate(ctx context.Context, donationID uuid.UUID) (domain.Donation, error) {
	return r.GetByID(ctx, donationID)
}

func (r *DonationRepository) Save(_ context.Context, d domain.Donation) error {
	defer r.s.beginWrite(r.autonomous)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.donations[d.ID] = d
	return nil
}

func (r *DonationRepository) activeByDonationLocked() map[uuid.UUID][]domain.FundingWithdrawal {
	out := map[uuid.UUID][]domain.FundingWithdrawal{}
	for _, w := range r.s.st.withdrawals {
		if w.IsActive() {
			out[w.DonationID] = append(out[w.DonationID], w)
		}
	}
	return out
}

func (r *DonationRepository) FindWithExpiredMatching(_ context.Context, cutoff time.Time, limit int) ([]domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	active := r.activeByDonationLocked()
	out := make([]domain.Donation, 0)
	for _, d := range r.s.st.donations {
		if d.Status.IsSuccessful() || d.MatchingReservedAt == nil || !d.MatchingReservedAt.Before(cutoff) {
			continue
		}
		if len(active[d.ID]) == 0 {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchingReservedAt.Before(*out[j].MatchingReservedAt) })
	return limitDonations(out, limit), nil
}

func (r *DonationRepository) FindReplaceableByHigherPriority(_ context.Context, campaignsClosedBefore, collectedAfter time.Time, limit int) ([]domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	active := r.activeByDonationLocked()
	out := make([]domain.Donation, 0)
	for _, d := range r.s.st.donations {
		if !d.Status.IsSuccessful() || d.CollectedAt == nil || !d.CollectedAt.After(collectedAfter) {
			continue
		}
		campaign, ok := r.s.st.campaigns[d.CampaignID]
		if !ok || !campaign.IsClosedBefore(campaignsClosedBefore) {
			continue
		}
		if r.hasBetterFundingLocked(d, active[d.ID]) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollectedAt.Before(*out[j].CollectedAt) })
	return limitDonations(out, limit), nil
}

func (r *DonationRepository) hasBetterFundingLocked(d domain.Donation, withdrawals []domain.FundingWithdrawal) bool {
	for _, w := range withdrawals {
		used, ok := r.s.st.fundings[w.CampaignFundingID]
		if !ok {
			continue
		}
		for _, candidate := range r.s.st.fundings {
			if candidate.AppliesTo(d.CampaignID) &&
				candidate.Currency == d.Currency &&
				candidate.AmountAvailable.IsPositive() &&
				candidate.Priority() < used.Priority() {
				return true
			}
		}
	}
	return false
}

func (r *DonationRepository) FindOverMatched(_ context.Context) ([]ports.OverMatchedDonation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]ports.OverMatchedDonation, 0)
	for id, withdrawals := range r.activeByDonationLocked() {
		d, ok := r.s.st.donations[id]
		if !ok {
			continue
		}
		total := domain.SumActive(withdrawals)
		if total.GreaterThan(d.Amount) {
			out = append(out, ports.OverMatchedDonation{
				DonationID:      id,
				CampaignID:      d.CampaignID,
				Currency:        d.Currency,
				Amount:          d.Amount,
				WithdrawalTotal: total,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DonationID.String() < out[j].DonationID.String() })
	return out, nil
}

func limitDonations(in []domain.Donation, limit int) []domain.Donation {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

type CampaignRepository struct{ s *Store }

func (r *CampaignRepository) GetByID(_ context.Context, campaignID string) (domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.campaigns[campaignID]
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return c, nil
}

type OutboxRepository struct {
	s          *Store
	autonomous bool
}

func (r *OutboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	defer r.s.beginWrite(r.autonomous)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.outbox[event.EventID]; ok {
		return domain.ErrConflict
	}
	r.s.st.outbox[event.EventID] = ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      append([]byte(nil), event.Payload...),
		CreatedAt:    event.OccurredAt,
		FirstSeenAt:  event.OccurredAt,
	}
	r.s.st.outboxOrder = append(r.s.st.outboxOrder, event.EventID)
	return nil
}

func (r *OutboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	defer r.s.beginWrite(r.autonomous)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	now := r.s.now()
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range r.s.st.outboxOrder {
		row := r.s.st.outbox[id]
		if row.PublishedAt != nil || row.DeadLetteredAt != nil {
			continue
		}
		if row.ClaimUntil != nil && row.ClaimUntil.After(now) {
			continue
		}
		token, until := claimToken, claimUntil
		row.ClaimToken, row.ClaimUntil = &token, &until
		r.s.st.outbox[id] = row
		out = append(out, row)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) claimed(outboxID uuid.UUID, claimToken string) (ports.OutboxRecord, error) {
	row, ok := r.s.st.outbox[outboxID]
	if !ok || row.ClaimToken == nil || *row.ClaimToken != claimToken {
		return ports.OutboxRecord{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	defer r.s.beginWrite(r.autonomous)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, err := r.claimed(outboxID, claimToken)
	if err != nil {
		return err
	}
	row.PublishedAt = &at
	row.ClaimToken, row.ClaimUntil = nil, nil
	r.s.st.outbox[outboxID] = row
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	defer r.s.beginWrite(r.autonomous)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, err := r.claimed(outboxID, claimToken)
	if err != nil {
		return err
	}
	row.RetryCount++
	row.LastError = &errMsg
	row.LastErrorAt = &at
	row.ClaimToken, row.ClaimUntil = nil, nil
	r.s.st.outbox[outboxID] = row
	return nil
}

func (r *OutboxRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	defer r.s.beginWrite(r.autonomous)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, err := r.claimed(outboxID, claimToken)
	if err != nil {
		return err
	}
	row.LastError = &errMsg
	row.LastErrorAt = &at
	row.DeadLetteredAt = &at
	row.ClaimToken, row.ClaimUntil = nil, nil
	r.s.st.outbox[outboxID] = row
	return nil
}

var (
	_ ports.CampaignFundingRepository = (*FundingRepository)(nil)
	_ ports.WithdrawalRepository      = (*WithdrawalRepository)(nil)
	_ ports.DonationRepository        = (*DonationRepository)(nil)
	_ ports.CampaignRepository        = (*CampaignRepository)(nil)
	_ ports.OutboxRepository          = (*OutboxRepository)(nil)
	_ ports.UnitOfWork                = (*Store)(nil)
)
