// Package consensus runs deadline-bound jury review sessions.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/reputation"
	"claims_adjudicator/internal/repository"
)

type ReputationUpdater interface {
	ApplyVoteOutcomes(ctx context.Context, sessionID string, final domain.VoteDecision, votes []domain.Vote) ([]reputation.Adjustment, error)
}

// Listener observes sessions after they reach a terminal status.
type Listener func(ctx context.Context, session *domain.ReviewSession)

type Config struct {
	ReviewWindow time.Duration
	Threshold    float64
	MinPanelSize int
	MaxPanelSize int
}

func DefaultConfig() Config {
	return Config{
		ReviewWindow: 48 * time.Hour,
		Threshold:    0.66,
		MinPanelSize: 3,
		MaxPanelSize: 7,
	}
}

type VoteRequest struct {
	SessionID  string
	JurorID    string
	Decision   domain.VoteDecision
	Reasoning  string
	Confidence float64
}

var errNotOpen = errors.New("session not open")

type Tracker struct {
	sessions repository.SessionRepository
	ledger   ReputationUpdater
	guard    FinalizeGuard
	clock    clock.Clock
	cfg      Config
	events   domain.EventSink
	logger   *slog.Logger

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	timers    map[string]clock.Timer
	listeners []Listener
}

func NewTracker(
	sessions repository.SessionRepository,
	ledger ReputationUpdater,
	guard FinalizeGuard,
	clk clock.Clock,
	cfg Config,
	events domain.EventSink,
	logger *slog.Logger,
) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if guard == nil {
		guard = NewLocalGuard()
	}
	if events == nil {
		events = domain.DiscardEvents{}
	}
	return &Tracker{
		sessions: sessions,
		ledger:   ledger,
		guard:    guard,
		clock:    clk,
		cfg:      cfg,
		events:   events,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		timers:   make(map[string]clock.Timer),
	}
}

// OnFinalize registers l to run after every terminal transition.
func (t *Tracker) OnFinalize(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Open starts a review session for the claim and schedules its deadline.
func (t *Tracker) Open(ctx context.Context, claimID string, jurors []string) (*domain.ReviewSession, error) {
	if strings.TrimSpace(claimID) == "" {
		return nil, domain.NewValidationError("claim_id", "is required")
	}
	if len(jurors) < t.cfg.MinPanelSize || len(jurors) > t.cfg.MaxPanelSize {
		return nil, domain.NewValidationError("jurors",
			fmt.Sprintf("must contain between %d and %d jurors", t.cfg.MinPanelSize, t.cfg.MaxPanelSize))
	}
	seen := make(map[string]struct{}, len(jurors))
	for _, j := range jurors {
		if _, dup := seen[j]; dup || strings.TrimSpace(j) == "" {
			return nil, domain.NewValidationError("jurors", "must be distinct non-empty identities")
		}
		seen[j] = struct{}{}
	}

	now := t.clock.Now()
	session := &domain.ReviewSession{
		ID:        domain.NewID(),
		ClaimID:   claimID,
		Jurors:    append([]string(nil), jurors...),
		Deadline:  now.Add(t.cfg.ReviewWindow),
		Threshold: t.cfg.Threshold,
		Status:    domain.SessionOpen,
		CreatedAt: now,
	}
	if err := t.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	t.schedule(session.ID, session.Deadline.Sub(now))

	t.logger.InfoContext(ctx, "Review session opened",
		slog.String("session_id", session.ID),
		slog.String("claim_id", claimID),
		slog.Int("jurors", len(jurors)),
		slog.Time("deadline", session.Deadline))
	t.events.Emit(ctx, domain.NewEvent(domain.EventSessionOpened, claimID, map[string]any{
		"session_id": session.ID,
		"claim_id":   claimID,
		"jurors":     session.Jurors,
		"deadline":   session.Deadline,
	}))

	return session, nil
}

// SubmitVote records a juror's vote. The vote that completes the panel finalizes the session.
func (t *Tracker) SubmitVote(ctx context.Context, req VoteRequest) (*domain.ReviewSession, error) {
	if err := validateVote(req); err != nil {
		return nil, err
	}

	lock := t.lockFor(req.SessionID)
	lock.Lock()

	now := t.clock.Now()
	session, err := t.sessions.Update(ctx, req.SessionID, func(s *domain.ReviewSession) error {
		if !s.IsAssigned(req.JurorID) {
			return fmt.Errorf("%w: juror %s is not assigned to session %s", domain.ErrForbidden, req.JurorID, s.ID)
		}
		if _, voted := s.VoteOf(req.JurorID); voted {
			return fmt.Errorf("%w: juror %s already voted in session %s", domain.ErrConflict, req.JurorID, s.ID)
		}
		if now.After(s.Deadline) {
			return fmt.Errorf("%w: session %s closed at %s", domain.ErrExpired, s.ID, s.Deadline.Format(time.RFC3339))
		}
		if s.Status != domain.SessionOpen {
			return fmt.Errorf("%w: session %s is %s", domain.ErrConflict, s.ID, s.Status)
		}
		s.Votes = append(s.Votes, domain.Vote{
			SessionID:  s.ID,
			JurorID:    req.JurorID,
			Decision:   req.Decision,
			Reasoning:  strings.TrimSpace(req.Reasoning),
			Confidence: req.Confidence,
			CastAt:     now,
		})
		live := Evaluate(s)
		s.Consensus = &live
		return nil
	})
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	t.logger.InfoContext(ctx, "Vote recorded",
		slog.String("session_id", session.ID),
		slog.String("juror_id", req.JurorID),
		slog.String("decision", string(req.Decision)),
		slog.Int("votes", len(session.Votes)),
		slog.Int("jurors", len(session.Jurors)))

	finalized := false
	if len(session.Votes) == len(session.Jurors) {
		session, finalized, err = t.finalizeLocked(ctx, session.ID, domain.FinalizeLastVote)
	}
	lock.Unlock()

	if err != nil {
		return nil, err
	}
	if finalized {
		t.notify(ctx, session)
	}
	return session, nil
}

// Evaluate tallies the votes recorded so far against the session threshold.
func Evaluate(session *domain.ReviewSession) domain.Consensus {
	c := domain.Consensus{
		Tally:         make(map[domain.VoteDecision]int, len(domain.VoteDecisions)),
		VotesRecorded: len(session.Votes),
		Threshold:     session.Threshold,
	}
	for _, v := range session.Votes {
		c.Tally[v.Decision]++
	}
	for _, d := range domain.VoteDecisions {
		if c.Tally[d] > c.LeadingVotes {
			c.Leading = d
			c.LeadingVotes = c.Tally[d]
		}
	}
	if c.VotesRecorded > 0 {
		c.Percentage = float64(c.LeadingVotes) / float64(c.VotesRecorded)
		c.Reached = c.Percentage >= c.Threshold
	}
	return c
}

// Finalize closes a session whose panel has fully voted or whose deadline has passed.
// Finalizing an already-terminal session returns it unchanged.
func (t *Tracker) Finalize(ctx context.Context, sessionID string) (*domain.ReviewSession, error) {
	lock := t.lockFor(sessionID)
	lock.Lock()

	session, err := t.sessions.GetByID(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if session.Status.Terminal() {
		lock.Unlock()
		return session, nil
	}

	var trigger domain.FinalizeTrigger
	switch {
	case len(session.Votes) == len(session.Jurors):
		trigger = domain.FinalizeLastVote
	case !t.clock.Now().Before(session.Deadline):
		trigger = domain.FinalizeDeadline
	default:
		lock.Unlock()
		return nil, fmt.Errorf("%w: session %s is open until %s", domain.ErrConflict, sessionID, session.Deadline.Format(time.RFC3339))
	}

	session, finalized, err := t.finalizeLocked(ctx, sessionID, trigger)
	lock.Unlock()

	if err != nil {
		return nil, err
	}
	if finalized {
		t.notify(ctx, session)
	}
	return session, nil
}

func (t *Tracker) onDeadline(sessionID string) {
	ctx := context.Background()
	lock := t.lockFor(sessionID)
	lock.Lock()
	session, finalized, err := t.finalizeLocked(ctx, sessionID, domain.FinalizeDeadline)
	lock.Unlock()

	if err != nil {
		t.logger.ErrorContext(ctx, "Deadline finalize failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return
	}
	if finalized {
		t.notify(ctx, session)
	}
}

// finalizeLocked performs the single OPEN to terminal transition. The caller holds the session lock.
// It reports whether this call performed the transition.
func (t *Tracker) finalizeLocked(ctx context.Context, sessionID string, trigger domain.FinalizeTrigger) (*domain.ReviewSession, bool, error) {
	current, err := t.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if current.Status.Terminal() {
		return current, false, nil
	}

	acquired, err := t.guard.Acquire(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return current, false, nil
	}

	now := t.clock.Now()
	session, err := t.sessions.Update(ctx, sessionID, func(s *domain.ReviewSession) error {
		if s.Status != domain.SessionOpen {
			return errNotOpen
		}
		consensus := Evaluate(s)
		s.Consensus = &consensus
		s.FinalizedBy = trigger
		s.FinalizedAt = &now
		if consensus.Reached {
			decision := consensus.Leading
			s.Status = domain.SessionConsensusReached
			s.FinalDecision = &decision
		} else {
			s.Status = domain.SessionNoConsensus
		}
		return nil
	})
	if errors.Is(err, errNotOpen) {
		t.releaseGuard(ctx, sessionID)
		current, err = t.sessions.GetByID(ctx, sessionID)
		return current, false, err
	}
	if err != nil {
		t.releaseGuard(ctx, sessionID)
		return nil, false, err
	}

	t.cancelTimer(sessionID)
	t.releaseGuard(ctx, sessionID)
	if session.Status != domain.SessionNoConsensus {
		t.forget(sessionID)
	}

	if session.Status == domain.SessionConsensusReached && t.ledger != nil {
		if _, err := t.ledger.ApplyVoteOutcomes(ctx, session.ID, *session.FinalDecision, session.Votes); err != nil {
			t.logger.ErrorContext(ctx, "Reputation update incomplete",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()))
		}
	}

	attrs := []any{
		slog.String("session_id", session.ID),
		slog.String("claim_id", session.ClaimID),
		slog.String("status", string(session.Status)),
		slog.String("trigger", string(trigger)),
		slog.Int("votes", session.Consensus.VotesRecorded),
		slog.Float64("percentage", session.Consensus.Percentage),
	}
	if session.FinalDecision != nil {
		attrs = append(attrs, slog.String("decision", string(*session.FinalDecision)))
	}
	t.logger.InfoContext(ctx, "Review session finalized", attrs...)

	payload := map[string]any{
		"session_id": session.ID,
		"claim_id":   session.ClaimID,
		"status":     string(session.Status),
		"trigger":    string(trigger),
		"percentage": session.Consensus.Percentage,
	}
	if session.FinalDecision != nil {
		payload["decision"] = string(*session.FinalDecision)
	}
	t.events.Emit(ctx, domain.NewEvent(domain.EventSessionFinalized, session.ClaimID, payload))

	return session, true, nil
}

// Escalate hands a NO_CONSENSUS session to manual review.
func (t *Tracker) Escalate(ctx context.Context, sessionID, reason string) (*domain.ReviewSession, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}

	lock := t.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := t.sessions.Update(ctx, sessionID, func(s *domain.ReviewSession) error {
		if s.Status != domain.SessionNoConsensus {
			return fmt.Errorf("%w: session %s is %s, only %s can escalate",
				domain.ErrConflict, s.ID, s.Status, domain.SessionNoConsensus)
		}
		s.Status = domain.SessionEscalated
		s.EscalationReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.forget(sessionID)

	t.logger.InfoContext(ctx, "Review session escalated",
		slog.String("session_id", session.ID),
		slog.String("claim_id", session.ClaimID),
		slog.String("reason", reason))
	t.events.Emit(ctx, domain.NewEvent(domain.EventSessionEscalated, session.ClaimID, map[string]any{
		"session_id": session.ID,
		"reason":     reason,
	}))

	return session, nil
}

func (t *Tracker) Get(ctx context.Context, sessionID string) (*domain.ReviewSession, error) {
	return t.sessions.GetByID(ctx, sessionID)
}

// Resume reschedules deadlines for sessions left open by a previous process and
// finalizes those whose deadline already passed.
func (t *Tracker) Resume(ctx context.Context) error {
	open, err := t.sessions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open sessions: %w", err)
	}

	now := t.clock.Now()
	for _, s := range open {
		if now.Before(s.Deadline) {
			t.schedule(s.ID, s.Deadline.Sub(now))
			continue
		}
		t.onDeadline(s.ID)
	}

	t.logger.InfoContext(ctx, "Review sessions resumed", slog.Int("open", len(open)))
	return nil
}

// Close stops every pending deadline timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

func (t *Tracker) schedule(sessionID string, d time.Duration) {
	timer := t.clock.AfterFunc(d, func() { t.onDeadline(sessionID) })

	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[sessionID]; ok {
		old.Stop()
	}
	t.timers[sessionID] = timer
}

func (t *Tracker) cancelTimer(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[sessionID]; ok {
		timer.Stop()
		delete(t.timers, sessionID)
	}
}

func (t *Tracker) lockFor(sessionID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[sessionID] = lock
	}
	return lock
}

// forget drops the per-session lock once the session can no longer change. Later callers
// get a fresh lock and are refused by the store's status checks.
func (t *Tracker) forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, sessionID)
}

func (t *Tracker) releaseGuard(ctx context.Context, sessionID string) {
	if err := t.guard.Release(ctx, sessionID); err != nil {
		t.logger.WarnContext(ctx, "Finalize guard release failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

func (t *Tracker) notify(ctx context.Context, session *domain.ReviewSession) {
	t.mu.Lock()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	for _, l := range listeners {
		l(ctx, session.Clone())
	}
}

func validateVote(req VoteRequest) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return domain.NewValidationError("session_id", "is required")
	}
	if strings.TrimSpace(req.JurorID) == "" {
		return domain.NewValidationError("juror_id", "is required")
	}
	if !req.Decision.Valid() {
		return domain.NewValidationError("decision", fmt.Sprintf("must be one of %v", domain.VoteDecisions))
	}
	if strings.TrimSpace(req.Reasoning) == "" {
		return domain.NewValidationError("reasoning", "is required")
	}
	if req.Confidence < 0 || req.Confidence > 1 || math.IsNaN(req.Confidence) {
		return domain.NewValidationError("confidence", "must be in [0, 1]")
	}
	return nil
}
