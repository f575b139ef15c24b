package repository

import (
	"context"
	"time"

	"claims_adjudicator/internal/domain"

	"github.com/shopspring/decimal"
)

// Update methods run fn against a private copy of the stored record while holding the
// record's write lock, and persist the copy only when fn returns nil.

type ClaimRepository interface {
	Save(ctx context.Context, claim *domain.Claim) error
	GetByID(ctx context.Context, id string) (*domain.Claim, error)
	Update(ctx context.Context, id string, fn func(*domain.Claim) error) (*domain.Claim, error)
	GetByClaimant(ctx context.Context, claimantID string) ([]*domain.Claim, error)
	GetByStatus(ctx context.Context, status domain.ClaimStatus) ([]*domain.Claim, error)
	PendingAmount(ctx context.Context) (decimal.Decimal, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// AssessmentRepository is an append-only audit trail of fraud assessments.
type AssessmentRepository interface {
	Append(ctx context.Context, assessment *domain.FraudAssessment) error
	Latest(ctx context.Context, claimID string) (*domain.FraudAssessment, error)
	History(ctx context.Context, claimID string) ([]*domain.FraudAssessment, error)
}

type ValidatorRepository interface {
	Create(ctx context.Context, validator *domain.Validator) error
	GetByID(ctx context.Context, id string) (*domain.Validator, error)
	Update(ctx context.Context, id string, fn func(*domain.Validator) error) (*domain.Validator, error)
	List(ctx context.Context) ([]*domain.Validator, error)
	GetActive(ctx context.Context) ([]*domain.Validator, error)
}

type SessionRepository interface {
	// Create fails with ErrDuplicate when the claim already has an open session.
	Create(ctx context.Context, session *domain.ReviewSession) error
	GetByID(ctx context.Context, id string) (*domain.ReviewSession, error)
	GetOpenByClaim(ctx context.Context, claimID string) (*domain.ReviewSession, error)
	Update(ctx context.Context, id string, fn func(*domain.ReviewSession) error) (*domain.ReviewSession, error)
	ListOpen(ctx context.Context) ([]*domain.ReviewSession, error)
}

type PayoutRepository interface {
	// Create fails with ErrDuplicate when the claim already has a pending or executed payout.
	Create(ctx context.Context, payout *domain.Payout) error
	GetByID(ctx context.Context, id string) (*domain.Payout, error)
	GetByClaim(ctx context.Context, claimID string) ([]*domain.Payout, error)
	Update(ctx context.Context, id string, fn func(*domain.Payout) error) (*domain.Payout, error)
}

// RuleRepository keeps every version of a rule. Reads return the latest version.
type RuleRepository interface {
	Save(ctx context.Context, rule *domain.Rule) error
	GetByID(ctx context.Context, id string) (*domain.Rule, error)
	GetAll(ctx context.Context) ([]*domain.Rule, error)
	// GetActiveRules orders by priority, highest first.
	GetActiveRules(ctx context.Context) ([]*domain.Rule, error)
	Update(ctx context.Context, id string, fn func(*domain.Rule) error) (*domain.Rule, error)
	History(ctx context.Context, id string) ([]*domain.Rule, error)
}

var (
	ErrNotFound  = domain.ErrNotFound
	ErrDuplicate = domain.ErrConflict
)
