package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/consensus"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/jury"
	"claims_adjudicator/internal/payout"
	"claims_adjudicator/internal/repository"
	"claims_adjudicator/internal/risk"
	"claims_adjudicator/pkg/metrics"
	"claims_adjudicator/pkg/validator"
)

// ErrPayoutNotExecuted reports an approved payout the ledger did not settle. The claim stays
// APPROVED and can be resubmitted.
var ErrPayoutNotExecuted = errors.New("payout not executed")

type Dependencies struct {
	Claims      repository.ClaimRepository
	Assessments repository.AssessmentRepository
	Payouts     repository.PayoutRepository
	Scorer      *risk.Scorer
	Rules       *RuleEngine
	Selector    *jury.Selector
	Tracker     *consensus.Tracker
	Engine      *payout.Engine
	Executor    *payout.Executor
	Validator   *validator.ClaimValidator

	Evidence EvidenceStore
	Profiles ProfileService
	External ExternalVerifier
	Network  NetworkAnalyzer

	Metrics *metrics.MetricsCollector
	Events  domain.EventSink
	Clock   clock.Clock
}

type OverrideRequest struct {
	Kind         payout.OverrideKind
	Authorized   bool
	AuthorizedBy string
	Reason       string
}

type AssessmentResult struct {
	Claim      *domain.Claim           `json:"claim"`
	Assessment *domain.FraudAssessment `json:"assessment"`
	Rules      []string                `json:"rules,omitempty"`
	Panel      *jury.Panel             `json:"panel,omitempty"`
	Session    *domain.ReviewSession   `json:"session,omitempty"`
	Decision   *domain.PayoutDecision  `json:"decision,omitempty"`
	Payout     *domain.Payout          `json:"payout,omitempty"`
}

type ClaimProcessor struct {
	claims      repository.ClaimRepository
	assessments repository.AssessmentRepository
	payouts     repository.PayoutRepository
	scorer      *risk.Scorer
	rules       *RuleEngine
	selector    *jury.Selector
	tracker     *consensus.Tracker
	engine      *payout.Engine
	executor    *payout.Executor
	validator   *validator.ClaimValidator
	evidence    EvidenceStore
	profiles    ProfileService
	external    ExternalVerifier
	network     NetworkAnalyzer
	metrics     *metrics.MetricsCollector
	events      domain.EventSink
	clock       clock.Clock
	logger      *slog.Logger
}

func NewClaimProcessor(deps Dependencies, logger *slog.Logger) *ClaimProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Events == nil {
		deps.Events = domain.DiscardEvents{}
	}

	p := &ClaimProcessor{
		claims:      deps.Claims,
		assessments: deps.Assessments,
		payouts:     deps.Payouts,
		scorer:      deps.Scorer,
		rules:       deps.Rules,
		selector:    deps.Selector,
		tracker:     deps.Tracker,
		engine:      deps.Engine,
		executor:    deps.Executor,
		validator:   deps.Validator,
		evidence:    deps.Evidence,
		profiles:    deps.Profiles,
		external:    deps.External,
		network:     deps.Network,
		metrics:     deps.Metrics,
		events:      deps.Events,
		clock:       deps.Clock,
		logger:      logger,
	}

	p.tracker.OnFinalize(p.onSessionFinalized)

	return p
}

func (p *ClaimProcessor) SubmitClaim(ctx context.Context, claim *domain.Claim) (*domain.Claim, error) {
	if err := p.validator.ValidateClaim(claim); err != nil {
		return nil, err
	}

	if p.profiles != nil {
		valid, err := p.profiles.PolicyValid(ctx, claim.PolicyID, claim.ClaimantID)
		if err != nil {
			return nil, fmt.Errorf("failed to verify policy: %w", err)
		}
		if !valid {
			return nil, domain.NewValidationError("policy_id", "is not a valid policy for the claimant")
		}
	}

	now := p.clock.Now()
	if claim.ID == "" {
		claim.ID = domain.NewID()
	}
	claim.SubmittedAt = now
	claim.UpdatedAt = now
	claim.Status = domain.ClaimSubmitted

	results, err := p.rules.EvaluateRules(ctx, claim, nil)
	if err != nil {
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}
	p.rules.Apply(ctx, claim, results)

	if err := p.claims.Save(ctx, claim); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "Claim submitted",
		slog.String("claim_id", claim.ID),
		slog.String("claimant_id", claim.ClaimantID),
		slog.String("incident_type", string(claim.IncidentType)),
		slog.String("amount", claim.Amount.StringFixed(2)))
	p.events.Emit(ctx, domain.NewEvent(domain.EventClaimSubmitted, claim.ID, map[string]any{
		"claim_id":      claim.ID,
		"claimant_id":   claim.ClaimantID,
		"incident_type": string(claim.IncidentType),
		"amount":        claim.Amount.StringFixed(2),
	}))
	if p.metrics != nil {
		p.metrics.RecordClaimSubmitted()
	}

	return claim.Clone(), nil
}

func (p *ClaimProcessor) Rules() *RuleEngine {
	return p.rules
}

func (p *ClaimProcessor) GetClaim(ctx context.Context, claimID string) (*domain.Claim, error) {
	return p.claims.GetByID(ctx, claimID)
}

func (p *ClaimProcessor) Assessments(ctx context.Context, claimID string) ([]*domain.FraudAssessment, error) {
	if _, err := p.claims.GetByID(ctx, claimID); err != nil {
		return nil, err
	}
	return p.assessments.History(ctx, claimID)
}

func (p *ClaimProcessor) Payouts(ctx context.Context, claimID string) ([]*domain.Payout, error) {
	if _, err := p.claims.GetByID(ctx, claimID); err != nil {
		return nil, err
	}
	return p.payouts.GetByClaim(ctx, claimID)
}

// AssessClaim holds the claim in ASSESSED while it is scored, so concurrent calls get ErrConflict.
func (p *ClaimProcessor) AssessClaim(ctx context.Context, claimID string) (*AssessmentResult, error) {
	var prior domain.ClaimStatus
	claim, err := p.claims.Update(ctx, claimID, func(c *domain.Claim) error {
		if c.Status != domain.ClaimSubmitted && c.Status != domain.ClaimManualReview {
			return fmt.Errorf("%w: claim %s is %s", domain.ErrConflict, c.ID, c.Status)
		}
		prior = c.Status
		c.Status = domain.ClaimAssessed
		c.UpdatedAt = p.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	assessment, err := p.scorer.Assess(ctx, p.gatherInput(ctx, claim))
	if err != nil {
		p.restoreStatus(ctx, claim.ID, prior)
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordAssessment(assessment.FraudScore, string(assessment.Recommendation))
	}
	p.events.Emit(ctx, domain.NewEvent(domain.EventClaimAssessed, claim.ID, map[string]any{
		"claim_id":       claim.ID,
		"assessment_id":  assessment.ID,
		"fraud_score":    assessment.FraudScore,
		"confidence":     assessment.Confidence,
		"recommendation": string(assessment.Recommendation),
	}))

	result := &AssessmentResult{Assessment: assessment}

	triggered, err := p.rules.EvaluateRules(ctx, claim, assessment)
	if err != nil {
		p.restoreStatus(ctx, claim.ID, prior)
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}
	routing := p.rules.Apply(ctx, claim, triggered)
	for _, r := range triggered {
		result.Rules = append(result.Rules, r.RuleID)
	}

	status, outcome := p.route(ctx, claim, assessment, routing, result)

	updated, err := p.claims.Update(ctx, claim.ID, func(c *domain.Claim) error {
		c.AssessmentID = assessment.ID
		for _, f := range claim.Flags {
			c.AddFlag(f)
		}
		if c.Status == domain.ClaimPaid || c.Status == domain.ClaimRejected {
			return nil
		}
		c.Status = status
		c.Outcome = outcome
		if result.Session != nil {
			c.SessionID = result.Session.ID
		}
		if result.Decision != nil {
			c.TriggerTier = result.Decision.Tier
		}
		c.UpdatedAt = p.clock.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update claim %s: %w", claim.ID, err)
	}
	result.Claim = updated

	p.logger.InfoContext(ctx, "Claim routed",
		slog.String("claim_id", updated.ID),
		slog.String("status", string(updated.Status)),
		slog.String("recommendation", string(assessment.Recommendation)),
		slog.Bool("manual_review_rule", routing.ManualReview))

	return result, nil
}

func (p *ClaimProcessor) restoreStatus(ctx context.Context, claimID string, status domain.ClaimStatus) {
	_, err := p.claims.Update(ctx, claimID, func(c *domain.Claim) error {
		if c.Status == domain.ClaimAssessed {
			c.Status = status
			c.UpdatedAt = p.clock.Now()
		}
		return nil
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to release claim after aborted assessment",
			slog.String("claim_id", claimID),
			slog.String("error", err.Error()))
	}
}

func (p *ClaimProcessor) route(
	ctx context.Context,
	claim *domain.Claim,
	assessment *domain.FraudAssessment,
	routing Routing,
	result *AssessmentResult,
) (domain.ClaimStatus, string) {
	cfg := p.engine.Config()

	if assessment.Recommendation == domain.RecommendReject {
		decision, _ := p.engine.Decide(ctx, payout.Request{Claim: claim, Assessment: assessment})
		result.Decision = &decision
		return domain.ClaimRejected, decision.Reason
	}
	if routing.ManualReview {
		return domain.ClaimManualReview, "routing rule requires manual review"
	}
	if claim.Amount.GreaterThan(cfg.HighValueCeiling) {
		decision, _ := p.engine.Decide(ctx, payout.Request{Claim: claim, Assessment: assessment})
		result.Decision = &decision
		return domain.ClaimManualReview, decision.Reason
	}

	switch assessment.Recommendation {
	case domain.RecommendAutoApprove:
		decision, err := p.engine.Decide(ctx, payout.Request{Claim: claim, Assessment: assessment})
		if err == nil {
			result.Decision = &decision
			return p.pay(ctx, claim, decision, result)
		}
		return p.openReview(ctx, claim, result)
	case domain.RecommendCommunityReview:
		return p.openReview(ctx, claim, result)
	default:
		return domain.ClaimManualReview, fmt.Sprintf("risk scoring recommends %s", assessment.Recommendation)
	}
}

func (p *ClaimProcessor) openReview(ctx context.Context, claim *domain.Claim, result *AssessmentResult) (domain.ClaimStatus, string) {
	panel, err := p.selector.Select(ctx, jury.Request{Claim: claim, Specialization: string(claim.IncidentType)})
	if err != nil {
		p.logger.WarnContext(ctx, "Community review unavailable, routing to manual review",
			slog.String("claim_id", claim.ID),
			slog.String("error", err.Error()))
		return domain.ClaimManualReview, "no eligible jury panel"
	}
	result.Panel = panel

	session, err := p.tracker.Open(ctx, claim.ID, panel.Jurors)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to open review session",
			slog.String("claim_id", claim.ID),
			slog.String("error", err.Error()))
		return domain.ClaimManualReview, "review session could not be opened"
	}
	result.Session = session

	return domain.ClaimCommunityReview, fmt.Sprintf("jury of %d reviewing until %s", len(panel.Jurors), session.Deadline.Format(time.RFC3339))
}

func (p *ClaimProcessor) pay(ctx context.Context, claim *domain.Claim, decision domain.PayoutDecision, result *AssessmentResult) (domain.ClaimStatus, string) {
	executed, err := p.executor.Execute(ctx, decision)
	if executed != nil {
		result.Payout = executed
	}
	if p.metrics != nil && executed != nil {
		p.metrics.RecordPayout(string(executed.Tier), string(executed.Status))
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "Payout not executed",
			slog.String("claim_id", claim.ID),
			slog.String("tier", string(decision.Tier)),
			slog.String("error", err.Error()))
		return domain.ClaimApproved, fmt.Sprintf("approved via %s, payout pending resubmission", decision.Tier)
	}
	return domain.ClaimPaid, fmt.Sprintf("paid via %s, receipt %s", decision.Tier, executed.ReceiptID)
}

func (p *ClaimProcessor) gatherInput(ctx context.Context, claim *domain.Claim) risk.Input {
	in := risk.Input{Claim: claim}

	if p.evidence != nil && len(claim.DocumentIDs) > 0 {
		docs, err := p.evidence.Documents(ctx, claim)
		p.collaboratorFailed(ctx, "evidence", claim.ID, err)
		in.Documents = docs
	}
	if p.profiles != nil {
		history, err := p.profiles.History(ctx, claim.ClaimantID)
		p.collaboratorFailed(ctx, "profile", claim.ID, err)
		in.History = history
	}
	if p.external != nil {
		external, err := p.external.Verify(ctx, claim)
		p.collaboratorFailed(ctx, "external", claim.ID, err)
		in.External = external
	}
	if p.network != nil {
		network, err := p.network.Analyze(ctx, claim)
		p.collaboratorFailed(ctx, "network", claim.ID, err)
		in.Network = network
	}

	return in
}

func (p *ClaimProcessor) collaboratorFailed(ctx context.Context, name, claimID string, err error) {
	if err == nil {
		return
	}
	p.logger.WarnContext(ctx, "Collaborator unavailable, scoring without it",
		slog.String("collaborator", name),
		slog.String("claim_id", claimID),
		slog.String("error", err.Error()))
}

func (p *ClaimProcessor) SubmitVote(ctx context.Context, req consensus.VoteRequest) (*domain.ReviewSession, error) {
	session, err := p.tracker.SubmitVote(ctx, req)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordVote(string(req.Decision))
	}
	return session, nil
}

func (p *ClaimProcessor) GetSession(ctx context.Context, sessionID string) (*domain.ReviewSession, error) {
	return p.tracker.Get(ctx, sessionID)
}

func (p *ClaimProcessor) onSessionFinalized(ctx context.Context, session *domain.ReviewSession) {
	if p.metrics != nil {
		p.metrics.RecordSessionFinalized(string(session.Status), string(session.FinalizedBy))
	}

	claim, err := p.claims.GetByID(ctx, session.ClaimID)
	if err != nil {
		p.logger.ErrorContext(ctx, "Finalized session references unknown claim",
			slog.String("session_id", session.ID),
			slog.String("claim_id", session.ClaimID),
			slog.String("error", err.Error()))
		return
	}

	var (
		status  domain.ClaimStatus
		outcome string
		tier    domain.TriggerTier
		decided bool
		sink    AssessmentResult
	)

	switch {
	case session.Status == domain.SessionNoConsensus:
		if _, err := p.tracker.Escalate(ctx, session.ID, "jury did not reach consensus"); err != nil {
			p.logger.ErrorContext(ctx, "Failed to escalate session",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()))
		}
		status, outcome = domain.ClaimManualReview, "escalated: no jury consensus"
	case *session.FinalDecision == domain.VoteDeny:
		status, outcome = domain.ClaimRejected, "denied by jury consensus"
	case *session.FinalDecision == domain.VoteNeedInfo:
		status, outcome = domain.ClaimManualReview, "jury requested more information"
	default:
		assessment, err := p.assessments.Latest(ctx, claim.ID)
		if err != nil {
			p.logger.ErrorContext(ctx, "No assessment for finalized claim",
				slog.String("claim_id", claim.ID),
				slog.String("error", err.Error()))
			return
		}
		decision, err := p.engine.Decide(ctx, payout.Request{Claim: claim, Assessment: assessment, Session: session})
		tier, decided = decision.Tier, true
		if err != nil {
			status, outcome = domain.ClaimManualReview, decision.Reason
			break
		}
		status, outcome = p.pay(ctx, claim, decision, &sink)
	}

	_, err = p.claims.Update(ctx, claim.ID, func(c *domain.Claim) error {
		c.Status = status
		c.Outcome = outcome
		if decided {
			c.TriggerTier = tier
		}
		c.UpdatedAt = p.clock.Now()
		return nil
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to record jury outcome",
			slog.String("claim_id", claim.ID),
			slog.String("error", err.Error()))
		return
	}

	p.logger.InfoContext(ctx, "Jury outcome applied",
		slog.String("claim_id", claim.ID),
		slog.String("session_id", session.ID),
		slog.String("status", string(status)))
}

func (p *ClaimProcessor) RequestOverride(ctx context.Context, claimID string, req OverrideRequest) (*domain.Payout, error) {
	claim, err := p.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.IsTerminal() {
		return nil, fmt.Errorf("%w: claim %s is %s", domain.ErrConflict, claim.ID, claim.Status)
	}
	if claim.Status == domain.ClaimCommunityReview {
		return nil, fmt.Errorf("%w: claim %s is under jury review", domain.ErrConflict, claim.ID)
	}
	if claim.Status == domain.ClaimAssessed {
		return nil, fmt.Errorf("%w: claim %s is being assessed", domain.ErrConflict, claim.ID)
	}

	assessment, err := p.assessments.Latest(ctx, claim.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: claim %s has not been assessed", domain.ErrConflict, claim.ID)
	}
	if err != nil {
		return nil, err
	}

	var session *domain.ReviewSession
	if claim.SessionID != "" {
		if session, err = p.tracker.Get(ctx, claim.SessionID); err != nil {
			return nil, err
		}
	}

	decision, err := p.engine.Decide(ctx, payout.Request{
		Claim:      claim,
		Assessment: assessment,
		Session:    session,
		Override: &payout.Override{
			Kind:         req.Kind,
			Authorized:   req.Authorized,
			AuthorizedBy: req.AuthorizedBy,
			Reason:       req.Reason,
		},
	})
	if err != nil {
		return nil, err
	}

	var result AssessmentResult
	status, outcome := p.pay(ctx, claim, decision, &result)

	if _, err := p.claims.Update(ctx, claim.ID, func(c *domain.Claim) error {
		c.Status = status
		c.Outcome = outcome
		c.TriggerTier = decision.Tier
		c.UpdatedAt = p.clock.Now()
		return nil
	}); err != nil {
		return result.Payout, fmt.Errorf("failed to update claim %s: %w", claim.ID, err)
	}

	if result.Payout == nil || result.Payout.Status != domain.PayoutExecuted {
		return result.Payout, fmt.Errorf("%w: claim %s", ErrPayoutNotExecuted, claim.ID)
	}
	return result.Payout, nil
}

// ResubmitPayout retries a failed payout for an approved claim. Emergency payouts need a
// new override because their reservation was released on failure.
func (p *ClaimProcessor) ResubmitPayout(ctx context.Context, claimID string) (*domain.Payout, error) {
	claim, err := p.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != domain.ClaimApproved {
		return nil, fmt.Errorf("%w: claim %s is %s, only %s can be resubmitted", domain.ErrConflict, claim.ID, claim.Status, domain.ClaimApproved)
	}

	history, err := p.payouts.GetByClaim(ctx, claim.ID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: claim %s has no payout to resubmit", domain.ErrNotFound, claim.ID)
	}
	last := history[len(history)-1]
	if last.Status != domain.PayoutFailed {
		return nil, fmt.Errorf("%w: payout %s is %s", domain.ErrConflict, last.ID, last.Status)
	}
	if last.Tier == domain.TierEmergencyOverride {
		return nil, fmt.Errorf("%w: emergency payouts require a new override", domain.ErrConflict)
	}

	decision := domain.PayoutDecision{
		ClaimID:      last.ClaimID,
		Beneficiary:  last.Beneficiary,
		Tier:         last.Tier,
		Eligible:     true,
		Amount:       last.Amount,
		Reason:       last.Reason,
		AuthorizedBy: last.AuthorizedBy,
		DecidedAt:    p.clock.Now(),
	}

	var result AssessmentResult
	status, outcome := p.pay(ctx, claim, decision, &result)
	if _, err := p.claims.Update(ctx, claim.ID, func(c *domain.Claim) error {
		c.Status = status
		c.Outcome = outcome
		c.UpdatedAt = p.clock.Now()
		return nil
	}); err != nil {
		return result.Payout, err
	}
	if status != domain.ClaimPaid {
		return result.Payout, fmt.Errorf("%w: claim %s", ErrPayoutNotExecuted, claim.ID)
	}
	return result.Payout, nil
}
