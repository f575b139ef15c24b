package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/emergency"
	"claims_adjudicator/internal/ledger"
	"claims_adjudicator/internal/repository/memory"
	"claims_adjudicator/pkg/crypto"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

var now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

type fixedStats struct {
	pending decimal.Decimal
	recent  int
}

func (s fixedStats) PendingAmount(context.Context) (decimal.Decimal, error) { return s.pending, nil }
func (s fixedStats) CountSince(context.Context, time.Time) (int, error)     { return s.recent, nil }

func claimOf(amount int64) *domain.Claim {
	return domain.NewClaim("pol-1", "rider-1", domain.IncidentCollision, decimal.NewFromInt(amount))
}

func assessment(score float64, rec domain.Recommendation) *domain.FraudAssessment {
	return &domain.FraudAssessment{ID: domain.NewID(), FraudScore: score, Confidence: 1, Recommendation: rec}
}

func consensusSession(approve, deny int) *domain.ReviewSession {
	s := &domain.ReviewSession{Threshold: 0.66, Status: domain.SessionConsensusReached}
	decision := domain.VoteApprove
	if deny > approve {
		decision = domain.VoteDeny
	}
	s.FinalDecision = &decision
	s.Consensus = &domain.Consensus{
		Tally:         map[domain.VoteDecision]int{domain.VoteApprove: approve, domain.VoteDeny: deny},
		VotesRecorded: approve + deny,
		Reached:       true,
	}
	return s
}

func newEngine(fund FundReserver) *Engine {
	return NewEngine(fund, DefaultConfig(), clock.NewManual(now), nil)
}

func TestEngine_Tiers(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		tier     domain.TriggerTier
		eligible bool
	}{
		{
			name:     "small low-risk claim is AI approved",
			req:      Request{Claim: claimOf(500), Assessment: assessment(0.15, domain.RecommendAutoApprove)},
			tier:     domain.TierAIApproved,
			eligible: true,
		},
		{
			name:     "community consensus approves mid-risk claim",
			req:      Request{Claim: claimOf(5000), Assessment: assessment(0.45, domain.RecommendCommunityReview), Session: consensusSession(4, 1)},
			tier:     domain.TierCommunityConsensus,
			eligible: true,
		},
		{
			name: "high-value claim needs manual review regardless of consensus",
			req:  Request{Claim: claimOf(60_000), Assessment: assessment(0.10, domain.RecommendCommunityReview), Session: consensusSession(5, 0)},
			tier: domain.TierManualReviewRequired,
		},
		{
			name: "high fraud score is detected",
			req:  Request{Claim: claimOf(2000), Assessment: assessment(0.82, domain.RecommendReject)},
			tier: domain.TierFraudDetected,
		},
		{
			name: "deny consensus is not a community approval",
			req:  Request{Claim: claimOf(5000), Assessment: assessment(0.45, domain.RecommendCommunityReview), Session: consensusSession(1, 4)},
			tier: domain.TierInsufficientValidation,
		},
		{
			name: "consensus with score at 0.50 is insufficient",
			req:  Request{Claim: claimOf(5000), Assessment: assessment(0.50, domain.RecommendManualReview), Session: consensusSession(4, 1)},
			tier: domain.TierInsufficientValidation,
		},
		{
			name: "auto-approve recommendation above small-claim ceiling",
			req:  Request{Claim: claimOf(1500), Assessment: assessment(0.10, domain.RecommendAutoApprove)},
			tier: domain.TierInsufficientValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := newEngine(nil).Decide(context.Background(), tt.req)

			if decision.Tier != tt.tier || decision.Eligible != tt.eligible {
				t.Fatalf("expected %s eligible=%v, got %s eligible=%v", tt.tier, tt.eligible, decision.Tier, decision.Eligible)
			}
			if tt.eligible && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.eligible {
				ie, ok := domain.AsIneligible(err)
				if !ok || ie.Tier != tt.tier {
					t.Errorf("expected IneligibleError for %s, got %v", tt.tier, err)
				}
			}
			if decision.ClaimID != tt.req.Claim.ID || decision.Beneficiary != "rider-1" || !decision.DecidedAt.Equal(now) {
				t.Errorf("unexpected decision metadata %+v", decision)
			}
		})
	}
}

func TestEngine_RequiresInputs(t *testing.T) {
	_, err := newEngine(nil).Decide(context.Background(), Request{Assessment: assessment(0.1, domain.RecommendAutoApprove)})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation without claim, got %v", err)
	}
	_, err = newEngine(nil).Decide(context.Background(), Request{Claim: claimOf(100)})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation without assessment, got %v", err)
	}
}

func TestEngine_ManualOverride(t *testing.T) {
	req := Request{
		Claim:      claimOf(60_000),
		Assessment: assessment(0.2, domain.RecommendManualReview),
		Override:   &Override{Kind: OverrideManual, Authorized: true, AuthorizedBy: "adjuster-7", Reason: "verified with hospital records"},
	}

	decision, err := newEngine(nil).Decide(context.Background(), req)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.PayoutDecision{
		ClaimID:      req.Claim.ID,
		Beneficiary:  "rider-1",
		Tier:         domain.TierManualOverride,
		Eligible:     true,
		Amount:       decimal.NewFromInt(60_000),
		Reason:       "verified with hospital records",
		AuthorizedBy: "adjuster-7",
		DecidedAt:    now,
	}
	if diff := cmp.Diff(want, decision, decimalEqual); diff != "" {
		t.Errorf("decision mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_OverrideRequiresAuthorizationAndReason(t *testing.T) {
	base := Request{Claim: claimOf(2000), Assessment: assessment(0.8, domain.RecommendReject)}

	base.Override = &Override{Kind: OverrideManual, Authorized: true, AuthorizedBy: "adjuster-7"}
	if _, err := newEngine(nil).Decide(context.Background(), base); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation without reason, got %v", err)
	}

	base.Override = &Override{Kind: OverrideManual, Authorized: false, AuthorizedBy: "intern", Reason: "looks fine"}
	decision, err := newEngine(nil).Decide(context.Background(), base)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden for unauthorized override, got %v", err)
	}
	if decision.Eligible || decision.Tier != domain.TierFraudDetected {
		t.Errorf("expected base decision preserved, got %+v", decision)
	}
}

func TestEngine_EmergencyOverride(t *testing.T) {
	override := &Override{Kind: OverrideEmergency, Authorized: true, AuthorizedBy: "ops-lead", Reason: "regional flood"}

	t.Run("refused without crisis", func(t *testing.T) {
		fund := emergency.NewMonitor(fixedStats{pending: decimal.NewFromInt(500_000)}, emergency.DefaultConfig(), clock.NewManual(now), nil, nil)
		req := Request{Claim: claimOf(3000), Assessment: assessment(0.4, domain.RecommendCommunityReview), Override: override}

		_, err := newEngine(fund).Decide(context.Background(), req)

		ie, ok := domain.AsIneligible(err)
		if !ok || ie.Reason != "emergency conditions not met" {
			t.Fatalf("expected emergency ineligibility, got %v", err)
		}
		if !fund.Snapshot().Available.Equal(decimal.NewFromInt(1_000_000)) {
			t.Errorf("expected fund untouched, got %s", fund.Snapshot().Available)
		}
	})

	t.Run("debits fund during crisis", func(t *testing.T) {
		fund := emergency.NewMonitor(fixedStats{pending: decimal.NewFromInt(900_000)}, emergency.DefaultConfig(), clock.NewManual(now), nil, nil)
		req := Request{Claim: claimOf(3000), Assessment: assessment(0.4, domain.RecommendCommunityReview), Override: override}

		decision, err := newEngine(fund).Decide(context.Background(), req)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if decision.Tier != domain.TierEmergencyOverride || !decision.Eligible || decision.AuthorizedBy != "ops-lead" {
			t.Errorf("unexpected decision %+v", decision)
		}
		if !fund.Snapshot().Available.Equal(decimal.NewFromInt(997_000)) {
			t.Errorf("expected 997000 available, got %s", fund.Snapshot().Available)
		}
	})

	t.Run("not consulted when tiers already pay", func(t *testing.T) {
		fund := emergency.NewMonitor(fixedStats{pending: decimal.NewFromInt(900_000)}, emergency.DefaultConfig(), clock.NewManual(now), nil, nil)
		req := Request{Claim: claimOf(500), Assessment: assessment(0.1, domain.RecommendAutoApprove), Override: override}

		decision, _ := newEngine(fund).Decide(context.Background(), req)

		if decision.Tier != domain.TierAIApproved {
			t.Errorf("expected AI_APPROVED, got %s", decision.Tier)
		}
		if !fund.Snapshot().Available.Equal(decimal.NewFromInt(1_000_000)) {
			t.Errorf("expected fund untouched, got %s", fund.Snapshot().Available)
		}
	})
}

type releaseRecorder struct {
	released []decimal.Decimal
}

func (r *releaseRecorder) Release(_ context.Context, _ string, amount decimal.Decimal) {
	r.released = append(r.released, amount)
}

func eligible(claimID string, tier domain.TriggerTier, amount int64) domain.PayoutDecision {
	return domain.PayoutDecision{
		ClaimID:     claimID,
		Beneficiary: "rider-1",
		Tier:        tier,
		Eligible:    true,
		Amount:      decimal.NewFromInt(amount),
		DecidedAt:   now,
	}
}

func TestExecutor_ExecutesSignedPayout(t *testing.T) {
	signer := crypto.NewSigner("secret", nil)
	settlement := ledger.NewMemory(signer)
	repo := memory.NewPayoutRepository()
	x := NewExecutor(repo, settlement, signer, nil, clock.NewManual(now), nil, nil)

	payout, err := x.Execute(context.Background(), eligible("c1", domain.TierAIApproved, 500))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payout.Status != domain.PayoutExecuted || payout.ReceiptID == "" {
		t.Errorf("expected EXECUTED with receipt, got %+v", payout)
	}
	if len(settlement.Executed()) != 1 {
		t.Errorf("expected one ledger settlement, got %d", len(settlement.Executed()))
	}

	if _, err := x.Execute(context.Background(), eligible("c1", domain.TierAIApproved, 500)); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict paying the claim twice, got %v", err)
	}
}

func TestExecutor_RejectsIneligible(t *testing.T) {
	x := NewExecutor(memory.NewPayoutRepository(), ledger.NewMemory(nil), nil, nil, clock.NewManual(now), nil, nil)

	_, err := x.Execute(context.Background(), domain.PayoutDecision{ClaimID: "c1", Tier: domain.TierFraudDetected, Reason: "fraud"})

	if !errors.Is(err, domain.ErrIneligible) {
		t.Errorf("expected ErrIneligible, got %v", err)
	}
}

func TestExecutor_LedgerFailureMarksFailedAndReleases(t *testing.T) {
	settlement := ledger.NewMemory(nil)
	settlement.FailWith(errors.New("settlement offline"))
	repo := memory.NewPayoutRepository()
	fund := &releaseRecorder{}
	x := NewExecutor(repo, settlement, nil, fund, clock.NewManual(now), nil, nil)

	payout, err := x.Execute(context.Background(), eligible("c2", domain.TierEmergencyOverride, 3000))

	if err == nil {
		t.Fatal("expected ledger failure")
	}
	if payout == nil || payout.Status != domain.PayoutFailed || payout.FailureReason != "settlement offline" {
		t.Fatalf("expected FAILED payout, got %+v", payout)
	}
	if len(fund.released) != 1 || !fund.released[0].Equal(decimal.NewFromInt(3000)) {
		t.Errorf("expected emergency reservation released, got %v", fund.released)
	}

	settlement.FailWith(nil)
	retried, err := x.Execute(context.Background(), eligible("c2", domain.TierEmergencyOverride, 3000))
	if err != nil {
		t.Fatalf("expected resubmission to succeed, got %v", err)
	}
	if retried.ID == payout.ID || retried.Status != domain.PayoutExecuted {
		t.Errorf("expected a new executed payout, got %+v", retried)
	}

	history, _ := repo.GetByClaim(context.Background(), "c2")
	if len(history) != 2 {
		t.Errorf("expected failed and executed payouts on record, got %d", len(history))
	}
}
