// Package pebble keeps the fraud assessment audit trail in a Pebble key-value store.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"

	pebbledb "github.com/cockroachdb/pebble"
)

const assessmentPrefix = "assessment/"

// AssessmentRepository stores one record per key assessment/<claim>/<assessment id>.
// Assessment ids are ULIDs, so key order within a claim is append order.
type AssessmentRepository struct {
	db *pebbledb.DB
	mu sync.Mutex
}

func Open(path string, opts *pebbledb.Options) (*AssessmentRepository, error) {
	if opts == nil {
		opts = &pebbledb.Options{}
	}
	db, err := pebbledb.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble store %s: %w", path, err)
	}
	return &AssessmentRepository{db: db}, nil
}

func (r *AssessmentRepository) Close() error {
	return r.db.Close()
}

func (r *AssessmentRepository) Append(ctx context.Context, assessment *domain.FraudAssessment) error {
	value, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("encode assessment %s: %w", assessment.ID, err)
	}
	key := assessmentKey(assessment.ClaimID, assessment.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	_, closer, err := r.db.Get(key)
	if err == nil {
		closer.Close()
		return fmt.Errorf("%w: assessment %s", repository.ErrDuplicate, assessment.ID)
	}
	if !errors.Is(err, pebbledb.ErrNotFound) {
		return fmt.Errorf("read assessment %s: %w", assessment.ID, err)
	}

	if err := r.db.Set(key, value, pebbledb.Sync); err != nil {
		return fmt.Errorf("write assessment %s: %w", assessment.ID, err)
	}
	return nil
}

func (r *AssessmentRepository) Latest(ctx context.Context, claimID string) (*domain.FraudAssessment, error) {
	iter, err := r.claimIter(claimID)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, fmt.Errorf("%w: assessment for claim %s", repository.ErrNotFound, claimID)
	}
	return decodeAssessment(iter.Value())
}

func (r *AssessmentRepository) History(ctx context.Context, claimID string) ([]*domain.FraudAssessment, error) {
	iter, err := r.claimIter(claimID)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var result []*domain.FraudAssessment
	for iter.First(); iter.Valid(); iter.Next() {
		assessment, err := decodeAssessment(iter.Value())
		if err != nil {
			return nil, err
		}
		result = append(result, assessment)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate assessments for claim %s: %w", claimID, err)
	}
	return result, nil
}

func (r *AssessmentRepository) claimIter(claimID string) (*pebbledb.Iterator, error) {
	prefix := claimPrefix(claimID)
	iter, err := r.db.NewIter(&pebbledb.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate assessments for claim %s: %w", claimID, err)
	}
	return iter, nil
}

func decodeAssessment(value []byte) (*domain.FraudAssessment, error) {
	var assessment domain.FraudAssessment
	if err := json.Unmarshal(value, &assessment); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return &assessment, nil
}

func claimPrefix(claimID string) []byte {
	return []byte(assessmentPrefix + claimID + "/")
}

func assessmentKey(claimID, assessmentID string) []byte {
	return append(claimPrefix(claimID), assessmentID...)
}

// prefixUpperBound returns the smallest key greater than every key starting with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

var _ repository.AssessmentRepository = (*AssessmentRepository)(nil)
