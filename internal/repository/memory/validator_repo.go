package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"
)

type ValidatorRepository struct {
	mu         sync.RWMutex
	validators map[string]*domain.Validator
}

func NewValidatorRepository() *ValidatorRepository {
	return &ValidatorRepository{
		validators: make(map[string]*domain.Validator),
	}
}

func (r *ValidatorRepository) Create(ctx context.Context, validator *domain.Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[validator.ID]; exists {
		return fmt.Errorf("%w: validator %s", repository.ErrDuplicate, validator.ID)
	}

	r.validators[validator.ID] = validator.Clone()
	return nil
}

func (r *ValidatorRepository) GetByID(ctx context.Context, id string) (*domain.Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	validator, exists := r.validators[id]
	if !exists {
		return nil, fmt.Errorf("%w: validator %s", repository.ErrNotFound, id)
	}
	return validator.Clone(), nil
}

func (r *ValidatorRepository) Update(ctx context.Context, id string, fn func(*domain.Validator) error) (*domain.Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.validators[id]
	if !exists {
		return nil, fmt.Errorf("%w: validator %s", repository.ErrNotFound, id)
	}

	validator := existing.Clone()
	if err := fn(validator); err != nil {
		return nil, err
	}
	r.validators[id] = validator

	return validator.Clone(), nil
}

func (r *ValidatorRepository) List(ctx context.Context) ([]*domain.Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Validator, 0, len(r.validators))
	for _, validator := range r.validators {
		result = append(result, validator.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (r *ValidatorRepository) GetActive(ctx context.Context) ([]*domain.Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Validator
	for _, validator := range r.validators {
		if validator.Active {
			result = append(result, validator.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}
