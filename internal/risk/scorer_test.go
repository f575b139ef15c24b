package risk

import (
	"context"
	"math"
	"testing"
	"time"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository/memory"

	"github.com/shopspring/decimal"
)

var tuesdayAfternoon = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

type fixedImages struct{ score float64 }

func (f fixedImages) Manipulation(*domain.Claim, []domain.DocumentMeta) Signal {
	return Signal{Score: f.score, Defined: true}
}

func newTestScorer(opts ...Option) *Scorer {
	return NewScorer(memory.NewAssessmentRepository(), clock.NewManual(tuesdayAfternoon), nil, opts...)
}

func cleanInput() Input {
	claim := domain.NewClaim("pol-1", "rider-1", domain.IncidentCollision, decimal.NewFromInt(480))
	claim.IncidentAt = tuesdayAfternoon
	claim.SubmittedAt = tuesdayAfternoon.Add(3 * time.Hour)
	claim.DocumentIDs = []string{"doc-1"}
	route := 0.95
	overlap := false

	return Input{
		Claim: claim,
		Documents: []domain.DocumentMeta{{
			ID:            "doc-1",
			DeclaredType:  "photo",
			CreatedAt:     tuesdayAfternoon.Add(time.Hour),
			ModifiedAt:    tuesdayAfternoon.Add(time.Hour),
			OCRConfidence: 0.95,
		}},
		History: &domain.ClaimantHistory{RideCount: 120, SafetyScore: 0.9},
		External: &domain.ExternalEvidence{
			WeatherAvailable:       true,
			WeatherConsistent:      true,
			WeatherConfidence:      0.9,
			PoliceReportAvailable:  true,
			PoliceReportConfidence: 0.9,
			RoutePlausibility:      &route,
		},
		Network: &domain.NetworkSignals{DeviceOverlap: &overlap},
	}
}

func suspiciousInput() Input {
	incident := time.Date(2027, 12, 25, 2, 0, 0, 0, time.UTC)
	claim := domain.NewClaim("pol-2", "rider-2", domain.IncidentCollision, decimal.NewFromInt(20000))
	claim.IncidentAt = incident
	claim.SubmittedAt = incident.Add(10 * 24 * time.Hour)
	route := 0.0
	overlap := true

	var prior []domain.PriorClaim
	for i := 1; i <= 3; i++ {
		prior = append(prior, domain.PriorClaim{
			ClaimID:     "old",
			SubmittedAt: claim.SubmittedAt.Add(-time.Duration(i) * 30 * 24 * time.Hour),
			Amount:      decimal.NewFromInt(1000),
		})
	}

	return Input{
		Claim: claim,
		Documents: []domain.DocumentMeta{{
			ID:            "doc-9",
			DeclaredType:  "photo",
			CreatedAt:     incident.Add(-24 * time.Hour),
			EditCount:     5,
			OCRConfidence: 0.3,
		}},
		History: &domain.ClaimantHistory{PriorClaims: prior},
		External: &domain.ExternalEvidence{
			WeatherAvailable:  true,
			WeatherConsistent: false,
			WeatherConfidence: 1,
			RoutePlausibility: &route,
		},
		Network: &domain.NetworkSignals{SharedTransactions: 6, RepeatedClaimPairs: 2, DeviceOverlap: &overlap},
	}
}

func TestFactorWeightsSumToOne(t *testing.T) {
	var total float64
	for _, f := range newTestScorer().Factors() {
		total += f.Weight
	}
	if math.Abs(total-1) > 1e-9 {
		t.Errorf("expected weights to sum to 1, got %f", total)
	}
}

func TestScore_CleanClaimAutoApproves(t *testing.T) {
	a, err := newTestScorer().Score(cleanInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.FraudScore >= 0.30 {
		t.Errorf("expected fraud score below 0.30, got %f", a.FraudScore)
	}
	if a.Confidence != 1 {
		t.Errorf("expected full confidence, got %f", a.Confidence)
	}
	if a.Recommendation != domain.RecommendAutoApprove {
		t.Errorf("expected AUTO_APPROVE, got %s", a.Recommendation)
	}
	if len(a.Subscores) != 11 {
		t.Errorf("expected 11 subscores, got %d", len(a.Subscores))
	}
}

func TestScore_SuspiciousClaimRejected(t *testing.T) {
	a, err := newTestScorer(WithImageDetector(fixedImages{score: 1})).Score(suspiciousInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.FraudScore < 0.80 {
		t.Errorf("expected fraud score at least 0.80, got %f", a.FraudScore)
	}
	if a.Recommendation != domain.RecommendReject {
		t.Errorf("expected REJECT, got %s", a.Recommendation)
	}

	found := map[string]domain.Severity{}
	for _, rf := range a.RiskFactors {
		found[rf.Name] = rf.Severity
	}
	if found[FactorDocumentIntegrity] != domain.SeverityHigh {
		t.Errorf("expected document_integrity high, got %q", found[FactorDocumentIntegrity])
	}
	if _, ok := found["image_manipulation"]; !ok {
		t.Errorf("expected image_manipulation signal, got %+v", a.RiskFactors)
	}
	if _, ok := found["late_report"]; !ok {
		t.Errorf("expected late_report signal, got %+v", a.RiskFactors)
	}
}

func TestScore_MissingInputsDegradeConfidence(t *testing.T) {
	in := cleanInput()
	in.Documents = nil
	in.Claim.DocumentIDs = nil
	in.History = nil
	in.External = nil
	in.Network = nil

	a, err := newTestScorer().Score(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// document_integrity, amount_pattern, incident_timing and reporting_delay stay defined
	if want := round4(4.0 / 11.0); a.Confidence != want {
		t.Errorf("expected confidence %f, got %f", want, a.Confidence)
	}
	if a.Subscores[FactorPoliceReport] != 0.5 || a.Subscores[FactorClaimFrequency] != 0.4 {
		t.Errorf("expected conservative defaults, got %+v", a.Subscores)
	}
	if a.Recommendation != domain.RecommendCommunityReview {
		t.Errorf("expected COMMUNITY_REVIEW, got %s (score %f)", a.Recommendation, a.FraudScore)
	}
}

func TestScore_BoundsHold(t *testing.T) {
	s := newTestScorer(WithImageDetector(fixedImages{score: 7}))
	inputs := []Input{cleanInput(), suspiciousInput()}
	broken := suspiciousInput()
	broken.External.PoliceReportAvailable = true
	broken.External.PoliceReportConfidence = -4
	nan := math.NaN()
	broken.External.RoutePlausibility = &nan
	inputs = append(inputs, broken)

	for i, in := range inputs {
		a, err := s.Score(in)
		if err != nil {
			t.Fatalf("input %d: unexpected error: %v", i, err)
		}
		if a.FraudScore < 0 || a.FraudScore > 1 || a.Confidence < 0 || a.Confidence > 1 {
			t.Errorf("input %d: out of bounds score=%f confidence=%f", i, a.FraudScore, a.Confidence)
		}
		for name, sub := range a.Subscores {
			if sub < 0 || sub > 1 {
				t.Errorf("input %d: subscore %s out of bounds: %f", i, name, sub)
			}
		}
	}
}

func TestClaimFrequency(t *testing.T) {
	tests := []struct {
		prior int
		want  float64
	}{
		{0, 0}, {1, 0.1}, {2, 0.4}, {3, 0.8}, {6, 0.8},
	}

	for _, tt := range tests {
		in := cleanInput()
		for i := 0; i < tt.prior; i++ {
			in.History.PriorClaims = append(in.History.PriorClaims, domain.PriorClaim{
				SubmittedAt: in.Claim.SubmittedAt.Add(-time.Duration(i+1) * 24 * time.Hour),
			})
		}
		in.History.PriorClaims = append(in.History.PriorClaims, domain.PriorClaim{
			SubmittedAt: in.Claim.SubmittedAt.Add(-400 * 24 * time.Hour),
		})

		if got := claimFrequency(in).score; got != tt.want {
			t.Errorf("%d prior claims: expected %v, got %v", tt.prior, tt.want, got)
		}
	}
}

func TestReportingDelay(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  float64
	}{
		{30 * time.Minute, 0.3},
		{2 * time.Hour, 0.1},
		{24 * time.Hour, 0.1},
		{3 * 24 * time.Hour, 0.4},
		{8 * 24 * time.Hour, 0.8},
	}

	for _, tt := range tests {
		in := cleanInput()
		in.Claim.SubmittedAt = in.Claim.IncidentAt.Add(tt.delay)
		if got := reportingDelay(in).score; got != tt.want {
			t.Errorf("delay %v: expected %v, got %v", tt.delay, tt.want, got)
		}
	}
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		score, confidence float64
		want              domain.Recommendation
	}{
		{0.15, 1, domain.RecommendAutoApprove},
		{0.30, 1, domain.RecommendCommunityReview},
		{0.59, 0.2, domain.RecommendCommunityReview},
		{0.60, 1, domain.RecommendManualReview},
		{0.85, 0.79, domain.RecommendManualReview},
		{0.80, 0.80, domain.RecommendReject},
	}

	for _, tt := range tests {
		if got := Recommend(tt.score, tt.confidence); got != tt.want {
			t.Errorf("Recommend(%v, %v) = %s, want %s", tt.score, tt.confidence, got, tt.want)
		}
	}
}

func TestAssess_AppendsWithoutMutatingHistory(t *testing.T) {
	repo := memory.NewAssessmentRepository()
	s := NewScorer(repo, clock.NewManual(tuesdayAfternoon), nil)
	in := cleanInput()

	first, err := s.Assess(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in.External = nil
	second, err := s.Assess(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history, _ := repo.History(context.Background(), in.Claim.ID)
	if len(history) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(history))
	}
	if history[0].ID != first.ID || history[0].FraudScore != first.FraudScore {
		t.Errorf("first assessment changed: %+v", history[0])
	}
	if history[1].ID != second.ID {
		t.Errorf("expected latest %s, got %s", second.ID, history[1].ID)
	}
}

func TestScore_RequiresClaim(t *testing.T) {
	if _, err := newTestScorer().Score(Input{}); err == nil {
		t.Error("expected validation error for missing claim")
	}
}
