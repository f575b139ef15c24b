package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"

	"github.com/shopspring/decimal"
)

type ClaimRepository struct {
	mu            sync.RWMutex
	claims        map[string]*domain.Claim
	claimantIndex map[string][]string
}

func NewClaimRepository() *ClaimRepository {
	return &ClaimRepository{
		claims:        make(map[string]*domain.Claim),
		claimantIndex: make(map[string][]string),
	}
}

func (r *ClaimRepository) Save(ctx context.Context, claim *domain.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.claims[claim.ID]; exists {
		return fmt.Errorf("%w: claim %s", repository.ErrDuplicate, claim.ID)
	}

	r.claims[claim.ID] = claim.Clone()
	r.claimantIndex[claim.ClaimantID] = append(r.claimantIndex[claim.ClaimantID], claim.ID)

	return nil
}

func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*domain.Claim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	claim, exists := r.claims[id]
	if !exists {
		return nil, fmt.Errorf("%w: claim %s", repository.ErrNotFound, id)
	}
	return claim.Clone(), nil
}

func (r *ClaimRepository) Update(ctx context.Context, id string, fn func(*domain.Claim) error) (*domain.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.claims[id]
	if !exists {
		return nil, fmt.Errorf("%w: claim %s", repository.ErrNotFound, id)
	}
	if existing.IsTerminal() {
		return nil, fmt.Errorf("%w: claim %s is %s", repository.ErrDuplicate, id, existing.Status)
	}

	claim := existing.Clone()
	if err := fn(claim); err != nil {
		return nil, err
	}
	r.claims[id] = claim

	return claim.Clone(), nil
}

func (r *ClaimRepository) GetByClaimant(ctx context.Context, claimantID string) ([]*domain.Claim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Claim
	for _, id := range r.claimantIndex[claimantID] {
		if claim, exists := r.claims[id]; exists {
			result = append(result, claim.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})

	return result, nil
}

func (r *ClaimRepository) GetByStatus(ctx context.Context, status domain.ClaimStatus) ([]*domain.Claim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Claim
	for _, claim := range r.claims {
		if claim.Status == status {
			result = append(result, claim.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})

	return result, nil
}

// PendingAmount sums the claimed amount of every claim not yet paid or rejected.
func (r *ClaimRepository) PendingAmount(ctx context.Context) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := decimal.Zero
	for _, claim := range r.claims {
		if !claim.IsTerminal() {
			total = total.Add(claim.Amount)
		}
	}
	return total, nil
}

func (r *ClaimRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, claim := range r.claims {
		if !claim.SubmittedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
