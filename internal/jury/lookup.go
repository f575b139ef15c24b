package jury

import (
	"context"
	"time"

	"claims_adjudicator/internal/repository"
)

// RepositoryClaimLookup answers ClaimLookup from the claim store.
type RepositoryClaimLookup struct {
	claims repository.ClaimRepository
}

func NewRepositoryClaimLookup(claims repository.ClaimRepository) *RepositoryClaimLookup {
	return &RepositoryClaimLookup{claims: claims}
}

func (l *RepositoryClaimLookup) HasUnresolvedClaims(ctx context.Context, validatorID string, since time.Time) (bool, error) {
	claims, err := l.claims.GetByClaimant(ctx, validatorID)
	if err != nil {
		return false, err
	}
	for _, c := range claims {
		if !c.IsTerminal() && !c.SubmittedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// StaticRelationships is a fixed set of known party pairs.
type StaticRelationships map[string]map[string]bool

func (r StaticRelationships) Add(a, b string) {
	if r[a] == nil {
		r[a] = make(map[string]bool)
	}
	if r[b] == nil {
		r[b] = make(map[string]bool)
	}
	r[a][b] = true
	r[b][a] = true
}

func (r StaticRelationships) SharedHistory(_ context.Context, a, b string) (bool, error) {
	return r[a][b], nil
}
