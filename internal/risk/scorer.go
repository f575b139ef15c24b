// Package risk computes deterministic weighted-factor fraud assessments.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"
)

const (
	autoApproveBelow   = 0.30
	communityBelow     = 0.60
	manualBelow        = 0.80
	rejectConfidence   = 0.80
	mediumSeverityFrom = 0.4
	highSeverityFrom   = 0.7
)

type Scorer struct {
	factors   []Factor
	images    ImageDetector
	collusion CollusionDetector
	devices   DeviceDetector
	repo      repository.AssessmentRepository
	clock     clock.Clock
	logger    *slog.Logger
}

type Option func(*Scorer)

func WithImageDetector(d ImageDetector) Option {
	return func(s *Scorer) { s.images = d }
}

func WithCollusionDetector(d CollusionDetector) Option {
	return func(s *Scorer) { s.collusion = d }
}

func WithDeviceDetector(d DeviceDetector) Option {
	return func(s *Scorer) { s.devices = d }
}

func NewScorer(repo repository.AssessmentRepository, clk clock.Clock, logger *slog.Logger, opts ...Option) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}

	s := &Scorer{
		images:    Neutral{},
		collusion: Neutral{},
		devices:   Neutral{},
		repo:      repo,
		clock:     clk,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.factors = s.defaultFactors()
	return s
}

// Factors returns the factor table in evaluation order.
func (s *Scorer) Factors() []Factor {
	return append([]Factor(nil), s.factors...)
}

// Score evaluates every factor and returns a new assessment without persisting it.
func (s *Scorer) Score(in Input) (*domain.FraudAssessment, error) {
	if in.Claim == nil {
		return nil, domain.NewValidationError("claim", "is required")
	}

	assessment := &domain.FraudAssessment{
		ID:        domain.NewID(),
		ClaimID:   in.Claim.ID,
		Subscores: make(map[string]float64, len(s.factors)),
		CreatedAt: s.clock.Now(),
	}

	var total float64
	defined := 0
	for _, f := range s.factors {
		r := f.evaluate(in)
		sub := round4(domain.Clamp01(r.score))
		assessment.Subscores[f.Name] = sub
		total += f.Weight * sub
		if r.defined {
			defined++
		}

		severity := severityOf(sub)
		if sub >= mediumSeverityFrom {
			assessment.RiskFactors = append(assessment.RiskFactors, domain.RiskFactor{Name: f.Name, Severity: severity})
		}
		for _, signal := range r.signals {
			assessment.RiskFactors = append(assessment.RiskFactors, domain.RiskFactor{Name: signal, Severity: severity})
		}
	}

	assessment.FraudScore = round4(domain.Clamp01(total))
	if len(s.factors) > 0 {
		assessment.Confidence = round4(domain.Clamp01(float64(defined) / float64(len(s.factors))))
	}
	assessment.Recommendation = Recommend(assessment.FraudScore, assessment.Confidence)

	return assessment, nil
}

// Assess scores the claim and appends the result to the audit trail.
func (s *Scorer) Assess(ctx context.Context, in Input) (*domain.FraudAssessment, error) {
	assessment, err := s.Score(in)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Append(ctx, assessment); err != nil {
		return nil, fmt.Errorf("failed to store assessment for claim %s: %w", in.Claim.ID, err)
	}

	s.logger.InfoContext(ctx, "Claim assessed",
		slog.String("claim_id", in.Claim.ID),
		slog.String("assessment_id", assessment.ID),
		slog.Float64("fraud_score", assessment.FraudScore),
		slog.Float64("confidence", assessment.Confidence),
		slog.String("recommendation", string(assessment.Recommendation)))

	return assessment, nil
}

// Recommend maps a fraud score and confidence to a recommendation tier.
func Recommend(score, confidence float64) domain.Recommendation {
	switch {
	case score < autoApproveBelow:
		return domain.RecommendAutoApprove
	case score < communityBelow:
		return domain.RecommendCommunityReview
	case score < manualBelow:
		return domain.RecommendManualReview
	case confidence >= rejectConfidence:
		return domain.RecommendReject
	default:
		return domain.RecommendManualReview
	}
}

func severityOf(sub float64) domain.Severity {
	switch {
	case sub >= highSeverityFrom:
		return domain.SeverityHigh
	case sub >= mediumSeverityFrom:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
