package jury

import (
	"context"
	"errors"
	"testing"
	"time"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository/memory"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func juror(id string, reputation int) *domain.Validator {
	return &domain.Validator{
		ID:             id,
		Stake:          decimal.NewFromInt(5000),
		Reputation:     reputation,
		CompletedRides: 200,
		Active:         true,
	}
}

func newSelector(t *testing.T, validators []*domain.Validator, claims *memory.ClaimRepository, rel RelationshipLookup) *Selector {
	t.Helper()
	repo := memory.NewValidatorRepository()
	for _, v := range validators {
		if err := repo.Create(context.Background(), v); err != nil {
			t.Fatalf("create %s: %v", v.ID, err)
		}
	}
	if claims == nil {
		claims = memory.NewClaimRepository()
	}
	return NewSelector(repo, NewRepositoryClaimLookup(claims), rel, DefaultConfig(), clock.NewManual(now), nil)
}

func testClaim() *domain.Claim {
	c := domain.NewClaim("pol-1", "claimant", domain.IncidentCollision, decimal.NewFromInt(5000))
	c.CounterpartyID = "driver"
	return c
}

func TestSelect_DiversitySkipsCrowdedBand(t *testing.T) {
	s := newSelector(t, []*domain.Validator{
		juror("a", 1000), juror("b", 990), juror("c", 980),
		juror("d", 970), juror("e", 800), juror("f", 790),
	}, nil, nil)

	panel, err := s.Select(context.Background(), Request{Claim: testClaim()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a", "b", "e", "f", "c"}
	if diff := cmp.Diff(want, panel.Jurors); diff != "" {
		t.Errorf("panel mismatch (-want +got):\n%s", diff)
	}
	if panel.Eligible != 6 {
		t.Errorf("expected 6 eligible, got %d", panel.Eligible)
	}
}

func TestSelect_EligibilityFilter(t *testing.T) {
	slashed := juror("slashed", 900)
	recent := now.Add(-10 * 24 * time.Hour)
	slashed.LastSlashAt = &recent

	cooled := juror("cooled", 900)
	old := now.Add(-31 * 24 * time.Hour)
	cooled.LastSlashAt = &old

	inactive := juror("inactive", 900)
	inactive.Active = false
	poor := juror("poor", 900)
	poor.Stake = decimal.NewFromInt(999)
	novice := juror("novice", 900)
	novice.CompletedRides = 10

	claims := memory.NewClaimRepository()
	pending := domain.NewClaim("pol-9", "busy", domain.IncidentTheft, decimal.NewFromInt(100))
	pending.SubmittedAt = now.Add(-5 * 24 * time.Hour)
	_ = claims.Save(context.Background(), pending)

	rel := StaticRelationships{}
	rel.Add("friend", "claimant")

	s := newSelector(t, []*domain.Validator{
		slashed, cooled, inactive, poor, novice,
		juror("low", 749), juror("claimant", 900), juror("driver", 900),
		juror("busy", 900), juror("friend", 900),
		juror("ok1", 760), juror("ok2", 1000),
	}, claims, rel)

	panel, err := s.Select(context.Background(), Request{Claim: testClaim(), PanelSize: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if panel.Eligible != 3 {
		t.Errorf("expected 3 eligible (cooled, ok1, ok2), got %d: %v", panel.Eligible, panel.Jurors)
	}
	for _, id := range panel.Jurors {
		switch id {
		case "cooled", "ok1", "ok2":
		default:
			t.Errorf("ineligible juror %s selected", id)
		}
	}
}

func TestSelect_InsufficientJurors(t *testing.T) {
	s := newSelector(t, []*domain.Validator{juror("a", 900), juror("b", 900)}, nil, nil)

	_, err := s.Select(context.Background(), Request{Claim: testClaim()})

	if !errors.Is(err, domain.ErrInsufficientJurors) {
		t.Errorf("expected ErrInsufficientJurors, got %v", err)
	}
}

func TestSelect_PanelSizeBounds(t *testing.T) {
	s := newSelector(t, nil, nil, nil)

	for _, size := range []int{2, 8, -1} {
		if _, err := s.Select(context.Background(), Request{Claim: testClaim(), PanelSize: size}); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("size %d: expected ErrValidation, got %v", size, err)
		}
	}
}

func TestSelect_SpecialistsFirstAndDeterministicTies(t *testing.T) {
	expert := juror("zeta", 760)
	expert.Specializations = []string{"injury"}
	s := newSelector(t, []*domain.Validator{
		juror("beta", 900), juror("alpha", 900), expert, juror("gamma", 500),
	}, nil, nil)

	panel, err := s.Select(context.Background(), Request{Claim: testClaim(), PanelSize: 3, Specialization: "injury"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"zeta", "alpha", "beta"}
	if diff := cmp.Diff(want, panel.Jurors); diff != "" {
		t.Errorf("panel mismatch (-want +got):\n%s", diff)
	}
}

func TestRank(t *testing.T) {
	s := newSelector(t, nil, nil, nil)
	v := juror("v", 800)
	v.Stake = decimal.NewFromInt(2500)
	v.TotalVotes = 10
	v.CorrectVotes = 5

	got := s.rank(v)
	want := 0.4*0.8 + 0.3*0.5 + 0.3*0.5
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected rank %f, got %f", want, got)
	}
}
