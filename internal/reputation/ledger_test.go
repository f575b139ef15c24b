package reputation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository/memory"

	"github.com/shopspring/decimal"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Emit(_ context.Context, e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

var epoch = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func newTestLedger() (*Ledger, *memory.ValidatorRepository, *recordingSink) {
	repo := memory.NewValidatorRepository()
	sink := &recordingSink{}
	return NewLedger(repo, DefaultConfig(), clock.NewManual(epoch), sink, nil), repo, sink
}

func register(t *testing.T, l *Ledger, id string, stake int64) *domain.Validator {
	t.Helper()
	v, err := l.Register(context.Background(), Registration{ValidatorID: id, Stake: decimal.NewFromInt(stake), CompletedRides: 100})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return v
}

func TestRegister_BelowMinimumStake(t *testing.T) {
	l, repo, _ := newTestLedger()

	_, err := l.Register(context.Background(), Registration{ValidatorID: "v1", Stake: decimal.NewFromInt(500)})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "stake" {
		t.Fatalf("expected stake ValidationError, got %v", err)
	}
	if _, err := repo.GetByID(context.Background(), "v1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected no validator record, got err=%v", err)
	}
}

func TestRegister_Defaults(t *testing.T) {
	l, _, _ := newTestLedger()

	v := register(t, l, "v1", 1000)

	if v.Reputation != 500 || !v.Active || !v.RegisteredAt.Equal(epoch) {
		t.Errorf("unexpected validator %+v", v)
	}
	if _, err := l.Register(context.Background(), Registration{ValidatorID: "v1", Stake: decimal.NewFromInt(2000)}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate registration, got %v", err)
	}
}

func TestSlash_TenPercent(t *testing.T) {
	l, _, sink := newTestLedger()
	register(t, l, "v1", 2000)

	v, err := l.Slash(context.Background(), SlashRequest{
		ValidatorID:  "v1",
		Percent:      0.10,
		Reason:       "colluded with claimant",
		Evidence:     "chat-log-7",
		AuthorizedBy: "ops-lead",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !v.Stake.Equal(decimal.NewFromInt(1800)) {
		t.Errorf("expected stake 1800, got %s", v.Stake)
	}
	if v.Reputation != 450 {
		t.Errorf("expected reputation 450, got %d", v.Reputation)
	}
	if v.LastSlashAt == nil || !v.LastSlashAt.Equal(epoch) {
		t.Errorf("expected last slash at %v, got %v", epoch, v.LastSlashAt)
	}
	if len(v.Slashes) != 1 || v.Slashes[0].EvidenceDigest == "" || v.Slashes[0].AuthorizedBy != "ops-lead" {
		t.Errorf("expected one slash record with digest, got %+v", v.Slashes)
	}
	if !v.Active {
		t.Error("expected validator to stay active above minimum stake")
	}
	if len(sink.events) != 1 || sink.events[0].Type != domain.EventValidatorSlashed {
		t.Errorf("expected validator.slashed event, got %+v", sink.events)
	}
}

func TestSlash_FloorsAndValidation(t *testing.T) {
	l, repo, _ := newTestLedger()
	register(t, l, "v1", 1000)
	_, _ = repo.Update(context.Background(), "v1", func(v *domain.Validator) error {
		v.Reputation = 20
		return nil
	})

	v, err := l.Slash(context.Background(), SlashRequest{ValidatorID: "v1", Percent: 1, Reason: "fraud"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Reputation != 0 || !v.Stake.IsZero() || v.Active {
		t.Errorf("expected reputation 0, stake 0, inactive; got %+v", v)
	}

	for _, req := range []SlashRequest{
		{ValidatorID: "v1", Percent: 0, Reason: "x"},
		{ValidatorID: "v1", Percent: 1.5, Reason: "x"},
		{ValidatorID: "v1", Percent: 0.1, Reason: "  "},
	} {
		if _, err := l.Slash(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation for %+v, got %v", req, err)
		}
	}
	if _, err := l.Slash(context.Background(), SlashRequest{ValidatorID: "ghost", Percent: 0.1, Reason: "x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWithdrawStake(t *testing.T) {
	l, _, _ := newTestLedger()
	register(t, l, "v1", 1500)

	if _, err := l.WithdrawStake(context.Background(), "v1", decimal.NewFromInt(2000)); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	v, err := l.WithdrawStake(context.Background(), "v1", decimal.NewFromInt(600))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Stake.Equal(decimal.NewFromInt(900)) || v.Active {
		t.Errorf("expected stake 900 and inactive, got %+v", v)
	}

	if _, err := l.Reactivate(context.Background(), "v1"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation reactivating below minimum, got %v", err)
	}
	_, _ = l.AddStake(context.Background(), "v1", decimal.NewFromInt(100))
	if v, err := l.Reactivate(context.Background(), "v1"); err != nil || !v.Active {
		t.Errorf("expected reactivation at minimum stake, got %+v, %v", v, err)
	}
}

func TestApplyVoteOutcomes(t *testing.T) {
	l, repo, _ := newTestLedger()
	register(t, l, "right", 1000)
	register(t, l, "wrong", 1000)
	register(t, l, "top", 1000)
	_, _ = repo.Update(context.Background(), "top", func(v *domain.Validator) error {
		v.Reputation = 990
		return nil
	})

	votes := []domain.Vote{
		{JurorID: "right", Decision: domain.VoteApprove, CastAt: epoch},
		{JurorID: "wrong", Decision: domain.VoteDeny, CastAt: epoch},
		{JurorID: "top", Decision: domain.VoteApprove, CastAt: epoch},
	}
	adjustments, err := l.ApplyVoteOutcomes(context.Background(), "s1", domain.VoteApprove, votes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]int{"right": 525, "wrong": 450, "top": 1000}
	for _, adj := range adjustments {
		if adj.After != want[adj.ValidatorID] {
			t.Errorf("%s: expected reputation %d, got %d", adj.ValidatorID, want[adj.ValidatorID], adj.After)
		}
	}

	right, _ := l.Get(context.Background(), "right")
	if right.TotalVotes != 1 || right.CorrectVotes != 1 || right.Accuracy() != 1 || right.LastVoteAt == nil {
		t.Errorf("unexpected vote counters %+v", right)
	}
	wrong, _ := l.Get(context.Background(), "wrong")
	if wrong.TotalVotes != 1 || wrong.CorrectVotes != 0 {
		t.Errorf("unexpected vote counters %+v", wrong)
	}
}

func TestApplyVoteOutcomes_MissingJurorDoesNotStopOthers(t *testing.T) {
	l, _, _ := newTestLedger()
	register(t, l, "v1", 1000)

	adjustments, err := l.ApplyVoteOutcomes(context.Background(), "s1", domain.VoteDeny, []domain.Vote{
		{JurorID: "ghost", Decision: domain.VoteDeny},
		{JurorID: "v1", Decision: domain.VoteDeny},
	})

	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected joined ErrNotFound, got %v", err)
	}
	if len(adjustments) != 1 || adjustments[0].ValidatorID != "v1" {
		t.Errorf("expected v1 adjusted, got %+v", adjustments)
	}
}

func TestApplyVoteOutcomes_ConcurrentSessionsNoLostUpdates(t *testing.T) {
	l, _, _ := newTestLedger()
	register(t, l, "v1", 1000)

	const sessions = 50
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.ApplyVoteOutcomes(context.Background(), "s", domain.VoteApprove, []domain.Vote{
				{JurorID: "v1", Decision: domain.VoteApprove, CastAt: epoch},
			})
		}()
	}
	wg.Wait()

	v, _ := l.Get(context.Background(), "v1")
	if v.TotalVotes != sessions || v.CorrectVotes != sessions {
		t.Errorf("expected %d votes recorded, got total=%d correct=%d", sessions, v.TotalVotes, v.CorrectVotes)
	}
	if v.Reputation < 0 || v.Reputation > 1000 {
		t.Errorf("reputation out of bounds: %d", v.Reputation)
	}
}
