package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"
)

type PayoutRepository struct {
	mu         sync.RWMutex
	payouts    map[string]*domain.Payout
	claimIndex map[string][]string
}

func NewPayoutRepository() *PayoutRepository {
	return &PayoutRepository{
		payouts:    make(map[string]*domain.Payout),
		claimIndex: make(map[string][]string),
	}
}

func (r *PayoutRepository) Create(ctx context.Context, payout *domain.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payouts[payout.ID]; exists {
		return fmt.Errorf("%w: payout %s", repository.ErrDuplicate, payout.ID)
	}
	for _, id := range r.claimIndex[payout.ClaimID] {
		if status := r.payouts[id].Status; status == domain.PayoutPending || status == domain.PayoutExecuted {
			return fmt.Errorf("%w: claim %s already has %s payout %s", repository.ErrDuplicate, payout.ClaimID, status, id)
		}
	}

	r.payouts[payout.ID] = payout.Clone()
	r.claimIndex[payout.ClaimID] = append(r.claimIndex[payout.ClaimID], payout.ID)

	return nil
}

func (r *PayoutRepository) GetByID(ctx context.Context, id string) (*domain.Payout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payout, exists := r.payouts[id]
	if !exists {
		return nil, fmt.Errorf("%w: payout %s", repository.ErrNotFound, id)
	}
	return payout.Clone(), nil
}

func (r *PayoutRepository) GetByClaim(ctx context.Context, claimID string) ([]*domain.Payout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Payout
	for _, id := range r.claimIndex[claimID] {
		result = append(result, r.payouts[id].Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (r *PayoutRepository) Update(ctx context.Context, id string, fn func(*domain.Payout) error) (*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.payouts[id]
	if !exists {
		return nil, fmt.Errorf("%w: payout %s", repository.ErrNotFound, id)
	}

	payout := existing.Clone()
	if err := fn(payout); err != nil {
		return nil, err
	}
	r.payouts[id] = payout

	return payout.Clone(), nil
}
