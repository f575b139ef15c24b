// Package payout decides payout eligibility by trigger tier and executes approved payouts.
package payout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"

	"github.com/shopspring/decimal"
)

// FundReserver debits the emergency fund for a claim when crisis conditions hold.
type FundReserver interface {
	Reserve(ctx context.Context, claimID string, amount decimal.Decimal) (domain.CrisisStatus, error)
}

type OverrideKind string

const (
	OverrideManual    OverrideKind = "manual"
	OverrideEmergency OverrideKind = "emergency"
)

// Override is an administrative request to pay a claim the tiers would not pay.
// Authorized is the assertion made by the administrative authorization collaborator.
type Override struct {
	Kind         OverrideKind
	Authorized   bool
	AuthorizedBy string
	Reason       string
}

type Request struct {
	Claim      *domain.Claim
	Assessment *domain.FraudAssessment
	Session    *domain.ReviewSession
	Override   *Override
}

type Config struct {
	SmallClaimCeiling    decimal.Decimal
	HighValueCeiling     decimal.Decimal
	AutoApproveMaxScore  float64
	CommunityMaxScore    float64
	FraudScoreThreshold  float64
	CommunityApprovalMin float64
}

func DefaultConfig() Config {
	return Config{
		SmallClaimCeiling:    decimal.NewFromInt(1000),
		HighValueCeiling:     decimal.NewFromInt(50_000),
		AutoApproveMaxScore:  0.30,
		CommunityMaxScore:    0.50,
		FraudScoreThreshold:  0.70,
		CommunityApprovalMin: 0.66,
	}
}

type Engine struct {
	fund   FundReserver
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
}

func NewEngine(fund FundReserver, cfg Config, clk clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{
		fund:   fund,
		cfg:    cfg,
		clock:  clk,
		logger: logger,
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Decide evaluates the trigger tiers in order and returns the first match. An
// ineligible decision is returned together with an *IneligibleError carrying the tier.
// An override is only consulted when the tiers alone do not authorize a payout.
func (e *Engine) Decide(ctx context.Context, req Request) (domain.PayoutDecision, error) {
	if req.Claim == nil {
		return domain.PayoutDecision{}, domain.NewValidationError("claim", "is required")
	}
	if req.Assessment == nil {
		return domain.PayoutDecision{}, domain.NewValidationError("assessment", "is required")
	}

	decision := domain.PayoutDecision{
		ClaimID:     req.Claim.ID,
		Beneficiary: req.Claim.ClaimantID,
		Amount:      req.Claim.Amount,
		DecidedAt:   e.clock.Now(),
	}
	decision.Tier, decision.Reason = e.tier(req)
	decision.Eligible = decision.Tier.Eligible()

	if !decision.Eligible && req.Override != nil {
		return e.applyOverride(ctx, decision, *req.Override)
	}

	e.log(ctx, decision)
	if !decision.Eligible {
		return decision, &domain.IneligibleError{Tier: decision.Tier, Reason: decision.Reason}
	}
	return decision, nil
}

func (e *Engine) tier(req Request) (domain.TriggerTier, string) {
	amount := req.Claim.Amount
	score := req.Assessment.FraudScore

	if !amount.GreaterThan(e.cfg.SmallClaimCeiling) &&
		score < e.cfg.AutoApproveMaxScore &&
		req.Assessment.Recommendation == domain.RecommendAutoApprove {
		return domain.TierAIApproved, "low-risk small claim approved by risk scoring"
	}
	if amount.GreaterThan(e.cfg.HighValueCeiling) {
		return domain.TierManualReviewRequired,
			fmt.Sprintf("claim amount %s exceeds high-value ceiling %s", amount.StringFixed(2), e.cfg.HighValueCeiling.StringFixed(2))
	}
	if s := req.Session; s != nil && s.Status == domain.SessionConsensusReached && s.Consensus != nil &&
		s.FinalDecision != nil && *s.FinalDecision == domain.VoteApprove &&
		s.Consensus.Share(domain.VoteApprove) >= e.cfg.CommunityApprovalMin &&
		score < e.cfg.CommunityMaxScore {
		return domain.TierCommunityConsensus,
			fmt.Sprintf("community approved with %.2f share", s.Consensus.Share(domain.VoteApprove))
	}
	if score >= e.cfg.FraudScoreThreshold {
		return domain.TierFraudDetected, fmt.Sprintf("fraud score %.4f at or above %.2f", score, e.cfg.FraudScoreThreshold)
	}
	return domain.TierInsufficientValidation, "no payout tier satisfied"
}

func (e *Engine) applyOverride(ctx context.Context, base domain.PayoutDecision, o Override) (domain.PayoutDecision, error) {
	if strings.TrimSpace(o.AuthorizedBy) == "" {
		return base, domain.NewValidationError("authorized_by", "is required")
	}
	if strings.TrimSpace(o.Reason) == "" {
		return base, domain.NewValidationError("reason", "is required")
	}
	if !o.Authorized {
		return base, fmt.Errorf("%w: %s is not authorized to override claim %s", domain.ErrForbidden, o.AuthorizedBy, base.ClaimID)
	}

	decision := base
	decision.AuthorizedBy = o.AuthorizedBy
	decision.Reason = o.Reason

	switch o.Kind {
	case OverrideManual:
		decision.Tier = domain.TierManualOverride
	case OverrideEmergency:
		if e.fund == nil {
			return base, &domain.IneligibleError{Tier: domain.TierEmergencyOverride, Reason: "emergency fund unavailable"}
		}
		if _, err := e.fund.Reserve(ctx, base.ClaimID, base.Amount); err != nil {
			e.logger.WarnContext(ctx, "Emergency override refused",
				slog.String("claim_id", base.ClaimID),
				slog.String("authorized_by", o.AuthorizedBy),
				slog.String("error", err.Error()))
			return base, err
		}
		decision.Tier = domain.TierEmergencyOverride
	default:
		return base, domain.NewValidationError("override", fmt.Sprintf("unknown kind %q", o.Kind))
	}
	decision.Eligible = true

	e.logger.WarnContext(ctx, "Payout override applied",
		slog.String("claim_id", decision.ClaimID),
		slog.String("superseded_tier", string(base.Tier)),
		slog.String("tier", string(decision.Tier)),
		slog.String("authorized_by", decision.AuthorizedBy),
		slog.String("reason", decision.Reason),
		slog.String("amount", decision.Amount.StringFixed(2)))

	return decision, nil
}

func (e *Engine) log(ctx context.Context, d domain.PayoutDecision) {
	e.logger.InfoContext(ctx, "Payout decision",
		slog.String("claim_id", d.ClaimID),
		slog.String("tier", string(d.Tier)),
		slog.Bool("eligible", d.Eligible),
		slog.String("amount", d.Amount.StringFixed(2)),
		slog.String("reason", d.Reason))
}
