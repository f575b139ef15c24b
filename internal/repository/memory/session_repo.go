package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"
)

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ReviewSession
	open     map[string]string
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*domain.ReviewSession),
		open:     make(map[string]string),
	}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.ReviewSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("%w: session %s", repository.ErrDuplicate, session.ID)
	}
	if openID, exists := r.open[session.ClaimID]; exists {
		return fmt.Errorf("%w: claim %s already has open session %s", repository.ErrDuplicate, session.ClaimID, openID)
	}

	r.sessions[session.ID] = session.Clone()
	if session.Status == domain.SessionOpen {
		r.open[session.ClaimID] = session.ID
	}

	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.ReviewSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: session %s", repository.ErrNotFound, id)
	}
	return session.Clone(), nil
}

func (r *SessionRepository) GetOpenByClaim(ctx context.Context, claimID string) (*domain.ReviewSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.open[claimID]
	if !exists {
		return nil, fmt.Errorf("%w: open session for claim %s", repository.ErrNotFound, claimID)
	}
	return r.sessions[id].Clone(), nil
}

func (r *SessionRepository) Update(ctx context.Context, id string, fn func(*domain.ReviewSession) error) (*domain.ReviewSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: session %s", repository.ErrNotFound, id)
	}

	session := existing.Clone()
	if err := fn(session); err != nil {
		return nil, err
	}
	r.sessions[id] = session
	if session.Status != domain.SessionOpen && r.open[session.ClaimID] == id {
		delete(r.open, session.ClaimID)
	}

	return session.Clone(), nil
}

func (r *SessionRepository) ListOpen(ctx context.Context) ([]*domain.ReviewSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.ReviewSession, 0, len(r.open))
	for _, id := range r.open {
		result = append(result, r.sessions[id].Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Deadline.Before(result[j].Deadline)
	})

	return result, nil
}
