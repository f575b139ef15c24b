package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"

	"github.com/shopspring/decimal"
)

func TestClaimRepository_SaveAndGetByID(t *testing.T) {
	repo := NewClaimRepository()
	claim := domain.NewClaim("pol1", "rider1", domain.IncidentCollision, decimal.NewFromInt(500))

	err := repo.Save(context.Background(), claim)
	if err != nil {
		t.Fatalf("unexpected error on Save: %v", err)
	}
	got, err := repo.GetByID(context.Background(), claim.ID)

	if err != nil {
		t.Fatalf("unexpected error on GetByID: %v", err)
	}
	if got.ID != claim.ID || got.ClaimantID != "rider1" || !got.Amount.Equal(claim.Amount) {
		t.Errorf("expected claim %+v, got %+v", claim, got)
	}

	got.Flags = append(got.Flags, "mutated")
	again, _ := repo.GetByID(context.Background(), claim.ID)
	if len(again.Flags) != 0 {
		t.Errorf("expected stored claim to be isolated from caller mutation, got flags %v", again.Flags)
	}
}

func TestClaimRepository_SaveDuplicate(t *testing.T) {
	repo := NewClaimRepository()
	claim := domain.NewClaim("pol1", "rider1", domain.IncidentTheft, decimal.NewFromInt(100))
	_ = repo.Save(context.Background(), claim)

	err := repo.Save(context.Background(), claim)

	if !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestClaimRepository_UpdateRefusesTerminal(t *testing.T) {
	repo := NewClaimRepository()
	claim := domain.NewClaim("pol1", "rider1", domain.IncidentCollision, decimal.NewFromInt(100))
	_ = repo.Save(context.Background(), claim)

	_, err := repo.Update(context.Background(), claim.ID, func(c *domain.Claim) error {
		c.Status = domain.ClaimPaid
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error on Update: %v", err)
	}

	_, err = repo.Update(context.Background(), claim.ID, func(c *domain.Claim) error {
		c.Status = domain.ClaimRejected
		return nil
	})

	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict updating a paid claim, got %v", err)
	}
	got, _ := repo.GetByID(context.Background(), claim.ID)
	if got.Status != domain.ClaimPaid {
		t.Errorf("expected status PAID, got %s", got.Status)
	}
}

func TestClaimRepository_UpdateDiscardsOnError(t *testing.T) {
	repo := NewClaimRepository()
	claim := domain.NewClaim("pol1", "rider1", domain.IncidentCollision, decimal.NewFromInt(100))
	_ = repo.Save(context.Background(), claim)

	boom := errors.New("boom")
	_, err := repo.Update(context.Background(), claim.ID, func(c *domain.Claim) error {
		c.Status = domain.ClaimApproved
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	got, _ := repo.GetByID(context.Background(), claim.ID)
	if got.Status != domain.ClaimSubmitted {
		t.Errorf("expected status unchanged, got %s", got.Status)
	}
}

func TestClaimRepository_UpdateKeepsCallerTimestamp(t *testing.T) {
	repo := NewClaimRepository()
	claim := domain.NewClaim("pol1", "rider1", domain.IncidentCollision, decimal.NewFromInt(100))
	_ = repo.Save(context.Background(), claim)

	stamped := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	updated, err := repo.Update(context.Background(), claim.ID, func(c *domain.Claim) error {
		c.Status = domain.ClaimManualReview
		c.UpdatedAt = stamped
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.UpdatedAt.Equal(stamped) {
		t.Errorf("expected UpdatedAt %s, got %s", stamped, updated.UpdatedAt)
	}
}

func TestClaimRepository_PendingAmountAndCountSince(t *testing.T) {
	repo := NewClaimRepository()
	now := time.Now().UTC()

	open := domain.NewClaim("pol1", "rider1", domain.IncidentCollision, decimal.NewFromInt(300))
	open.SubmittedAt = now.Add(-2 * time.Hour)
	old := domain.NewClaim("pol2", "rider2", domain.IncidentTheft, decimal.NewFromInt(200))
	old.SubmittedAt = now.Add(-48 * time.Hour)
	paid := domain.NewClaim("pol3", "rider3", domain.IncidentTheft, decimal.NewFromInt(1000))
	paid.Status = domain.ClaimPaid
	paid.SubmittedAt = now.Add(-time.Hour)
	for _, c := range []*domain.Claim{open, old, paid} {
		_ = repo.Save(context.Background(), c)
	}

	pending, err := repo.PendingAmount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on PendingAmount: %v", err)
	}
	if !pending.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected pending 500, got %s", pending)
	}

	count, err := repo.CountSince(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error on CountSince: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 claims in the last day, got %d", count)
	}
}

func TestAssessmentRepository_AppendOnly(t *testing.T) {
	repo := NewAssessmentRepository()
	first := &domain.FraudAssessment{ID: domain.NewID(), ClaimID: "c1", FraudScore: 0.4, Subscores: map[string]float64{"a": 0.1}}
	second := &domain.FraudAssessment{ID: domain.NewID(), ClaimID: "c1", FraudScore: 0.2, Subscores: map[string]float64{"a": 0.2}}
	_ = repo.Append(context.Background(), first)
	_ = repo.Append(context.Background(), second)

	latest, err := repo.Latest(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error on Latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("expected latest %s, got %s", second.ID, latest.ID)
	}

	history, _ := repo.History(context.Background(), "c1")
	if len(history) != 2 || history[0].ID != first.ID {
		t.Errorf("expected history [first, second], got %+v", history)
	}

	if err := repo.Append(context.Background(), first); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate re-appending, got %v", err)
	}
	if _, err := repo.Latest(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestValidatorRepository_GetActive(t *testing.T) {
	repo := NewValidatorRepository()
	_ = repo.Create(context.Background(), &domain.Validator{ID: "v1", Active: true})
	_ = repo.Create(context.Background(), &domain.Validator{ID: "v2", Active: false})

	active, err := repo.GetActive(context.Background())

	if err != nil {
		t.Fatalf("unexpected error on GetActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != "v1" {
		t.Errorf("expected 1 active validator with ID 'v1', got %+v", active)
	}
}

func TestSessionRepository_OneOpenPerClaim(t *testing.T) {
	repo := NewSessionRepository()
	first := &domain.ReviewSession{ID: "s1", ClaimID: "c1", Status: domain.SessionOpen}
	second := &domain.ReviewSession{ID: "s2", ClaimID: "c1", Status: domain.SessionOpen}

	if err := repo.Create(context.Background(), first); err != nil {
		t.Fatalf("unexpected error on Create: %v", err)
	}
	if err := repo.Create(context.Background(), second); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second open session, got %v", err)
	}

	_, err := repo.Update(context.Background(), "s1", func(s *domain.ReviewSession) error {
		s.Status = domain.SessionNoConsensus
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error on Update: %v", err)
	}

	if err := repo.Create(context.Background(), second); err != nil {
		t.Errorf("expected new session after the first closed, got %v", err)
	}
	open, err := repo.GetOpenByClaim(context.Background(), "c1")
	if err != nil || open.ID != "s2" {
		t.Errorf("expected open session s2, got %+v, %v", open, err)
	}
}

func TestPayoutRepository_BlocksSecondPayout(t *testing.T) {
	repo := NewPayoutRepository()
	first := &domain.Payout{ID: "p1", ClaimID: "c1", Status: domain.PayoutPending}
	_ = repo.Create(context.Background(), first)

	err := repo.Create(context.Background(), &domain.Payout{ID: "p2", ClaimID: "c1", Status: domain.PayoutPending})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate while p1 pending, got %v", err)
	}

	_, err = repo.Update(context.Background(), "p1", func(p *domain.Payout) error {
		return p.MarkFailed("ledger unavailable", time.Now())
	})
	if err != nil {
		t.Fatalf("unexpected error on Update: %v", err)
	}

	if err := repo.Create(context.Background(), &domain.Payout{ID: "p2", ClaimID: "c1", Status: domain.PayoutPending}); err != nil {
		t.Errorf("expected resubmission after failure, got %v", err)
	}

	_, err = repo.Update(context.Background(), "p1", func(p *domain.Payout) error {
		return p.MarkExecuted("r1", time.Now())
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict executing a failed payout, got %v", err)
	}
}

func TestRuleRepository_ActiveByPriority(t *testing.T) {
	repo := NewRuleRepository()
	_ = repo.Save(context.Background(), &domain.Rule{ID: "r1", Priority: 1, IsActive: true})
	_ = repo.Save(context.Background(), &domain.Rule{ID: "r2", Priority: 5, IsActive: true})
	_ = repo.Save(context.Background(), &domain.Rule{ID: "r3", Priority: 9, IsActive: true})
	_, _ = repo.Update(context.Background(), "r3", func(r *domain.Rule) error {
		r.IsActive = false
		return nil
	})

	rules, err := repo.GetActiveRules(context.Background())

	if err != nil {
		t.Fatalf("unexpected error on GetActiveRules: %v", err)
	}
	if len(rules) != 2 || rules[0].ID != "r2" || rules[1].ID != "r1" {
		t.Errorf("expected [r2 r1], got %+v", rules)
	}
	r3, _ := repo.GetByID(context.Background(), "r3")
	if r3.IsActive || r3.Version != 2 {
		t.Errorf("expected r3 inactive at version 2, got %+v", r3)
	}
}

func TestRuleRepository_HistoryKeepsEveryVersion(t *testing.T) {
	repo := NewRuleRepository()
	_ = repo.Save(context.Background(), &domain.Rule{ID: "r1", Priority: 1, IsActive: true, Condition: "v1"})

	for _, cond := range []string{"v2", "v3"} {
		_, err := repo.Update(context.Background(), "r1", func(r *domain.Rule) error {
			r.Condition = cond
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error on Update: %v", err)
		}
	}
	boom := errors.New("boom")
	if _, err := repo.Update(context.Background(), "r1", func(*domain.Rule) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	history, err := repo.History(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error on History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(history))
	}
	for i, r := range history {
		if r.Version != i+1 || r.Condition != fmt.Sprintf("v%d", i+1) {
			t.Errorf("version %d: got %+v", i+1, r)
		}
	}

	history[0].Condition = "mutated"
	again, _ := repo.History(context.Background(), "r1")
	if again[0].Condition != "v1" {
		t.Errorf("expected stored history isolated from caller mutation, got %q", again[0].Condition)
	}
	if _, err := repo.History(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
