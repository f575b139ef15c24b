package memory

import (
	"context"
	"fmt"
	"sync"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"
)

type AssessmentRepository struct {
	mu          sync.RWMutex
	assessments map[string]*domain.FraudAssessment
	claimIndex  map[string][]string
}

func NewAssessmentRepository() *AssessmentRepository {
	return &AssessmentRepository{
		assessments: make(map[string]*domain.FraudAssessment),
		claimIndex:  make(map[string][]string),
	}
}

func (r *AssessmentRepository) Append(ctx context.Context, assessment *domain.FraudAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assessments[assessment.ID]; exists {
		return fmt.Errorf("%w: assessment %s", repository.ErrDuplicate, assessment.ID)
	}

	r.assessments[assessment.ID] = assessment.Clone()
	r.claimIndex[assessment.ClaimID] = append(r.claimIndex[assessment.ClaimID], assessment.ID)

	return nil
}

func (r *AssessmentRepository) Latest(ctx context.Context, claimID string) (*domain.FraudAssessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.claimIndex[claimID]
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: assessment for claim %s", repository.ErrNotFound, claimID)
	}
	return r.assessments[ids[len(ids)-1]].Clone(), nil
}

// History returns assessments in the order they were appended.
func (r *AssessmentRepository) History(ctx context.Context, claimID string) ([]*domain.FraudAssessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.FraudAssessment, 0, len(r.claimIndex[claimID]))
	for _, id := range r.claimIndex[claimID] {
		result = append(result, r.assessments[id].Clone())
	}
	return result, nil
}
