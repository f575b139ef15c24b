package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"
)

// RuleRepository stores each rule as an append-only list of versions.
type RuleRepository struct {
	mu       sync.RWMutex
	versions map[string][]domain.Rule
}

func NewRuleRepository() *RuleRepository {
	return &RuleRepository{
		versions: make(map[string][]domain.Rule),
	}
}

func (r *RuleRepository) Save(ctx context.Context, rule *domain.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.versions[rule.ID]; exists {
		return fmt.Errorf("%w: rule %s", repository.ErrDuplicate, rule.ID)
	}

	rule.Version = 1
	r.versions[rule.ID] = []domain.Rule{*rule}
	return nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history, exists := r.versions[id]
	if !exists {
		return nil, fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
	}
	latest := history[len(history)-1]
	return &latest, nil
}

func (r *RuleRepository) GetAll(ctx context.Context) ([]*domain.Rule, error) {
	return r.latest(func(domain.Rule) bool { return true }), nil
}

func (r *RuleRepository) GetActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	return r.latest(func(rule domain.Rule) bool { return rule.IsActive }), nil
}

// latest returns the current version of every matching rule, highest priority first.
func (r *RuleRepository) latest(keep func(domain.Rule) bool) []*domain.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Rule
	for _, history := range r.versions {
		current := history[len(history)-1]
		if keep(current) {
			result = append(result, &current)
		}
	}

	slices.SortFunc(result, func(a, b *domain.Rule) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

// Update appends a new version built from the latest one.
func (r *RuleRepository) Update(ctx context.Context, id string, fn func(*domain.Rule) error) (*domain.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history, exists := r.versions[id]
	if !exists {
		return nil, fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
	}

	next := history[len(history)-1]
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = id
	next.Version = len(history) + 1
	r.versions[id] = append(history, next)

	return &next, nil
}

// History returns every version of the rule, oldest first.
func (r *RuleRepository) History(ctx context.Context, id string) ([]*domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history, exists := r.versions[id]
	if !exists {
		return nil, fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
	}
	result := make([]*domain.Rule, len(history))
	for i := range history {
		v := history[i]
		result[i] = &v
	}
	return result, nil
}
