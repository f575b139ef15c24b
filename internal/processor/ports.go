package processor

import (
	"context"

	"claims_adjudicator/internal/domain"
)

type EvidenceStore interface {
	Documents(ctx context.Context, claim *domain.Claim) ([]domain.DocumentMeta, error)
}

// ProfileService is the identity and policy collaborator.
type ProfileService interface {
	PolicyValid(ctx context.Context, policyID, claimantID string) (bool, error)
	History(ctx context.Context, claimantID string) (*domain.ClaimantHistory, error)
}

type ExternalVerifier interface {
	Verify(ctx context.Context, claim *domain.Claim) (*domain.ExternalEvidence, error)
}

// NetworkAnalyzer reports relationships between the claimant and other parties.
type NetworkAnalyzer interface {
	Analyze(ctx context.Context, claim *domain.Claim) (*domain.NetworkSignals, error)
}
