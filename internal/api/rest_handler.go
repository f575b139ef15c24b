// Package api exposes claim intake, jury voting and administrative overrides over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"claims_adjudicator/internal/consensus"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/emergency"
	"claims_adjudicator/internal/payout"
	"claims_adjudicator/internal/processor"
	"claims_adjudicator/internal/reputation"
	"claims_adjudicator/pkg/crypto"
	"claims_adjudicator/pkg/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type APIHandler struct {
	processor      *processor.ClaimProcessor
	reputation     *reputation.Ledger
	fund           *emergency.Monitor
	tokens         *crypto.TokenIssuer
	metrics        *metrics.MetricsCollector
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewAPIHandler(
	processor *processor.ClaimProcessor,
	reputation *reputation.Ledger,
	fund *emergency.Monitor,
	tokens *crypto.TokenIssuer,
	metrics *metrics.MetricsCollector,
	logger *slog.Logger,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandler{
		processor:      processor,
		reputation:     reputation,
		fund:           fund,
		tokens:         tokens,
		metrics:        metrics,
		logger:         logger,
		requestTimeout: 30 * time.Second,
	}
}

type SubmitClaimRequest struct {
	PolicyID       string              `json:"policy_id"`
	ClaimantID     string              `json:"claimant_id"`
	CounterpartyID string              `json:"counterparty_id,omitempty"`
	RideID         string              `json:"ride_id,omitempty"`
	IncidentType   domain.IncidentType `json:"incident_type"`
	IncidentAt     time.Time           `json:"incident_at"`
	Amount         decimal.Decimal     `json:"amount"`
	Description    string              `json:"description"`
	DocumentIDs    []string            `json:"document_ids,omitempty"`
}

type OverrideRequest struct {
	Kind   payout.OverrideKind `json:"kind"`
	Reason string              `json:"reason"`
}

type RegisterValidatorRequest struct {
	ValidatorID     string          `json:"validator_id"`
	Stake           decimal.Decimal `json:"stake"`
	CompletedRides  int             `json:"completed_rides"`
	Specializations []string        `json:"specializations,omitempty"`
}

type StakeRequest struct {
	Operation string          `json:"operation"`
	Amount    decimal.Decimal `json:"amount"`
}

type SlashRequest struct {
	Percent  float64 `json:"percent"`
	Reason   string  `json:"reason"`
	Evidence string  `json:"evidence,omitempty"`
}

type VoteRequest struct {
	JurorID    string              `json:"juror_id"`
	Decision   domain.VoteDecision `json:"decision"`
	Reasoning  string              `json:"reasoning"`
	Confidence float64             `json:"confidence"`
}

type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type FundResponse struct {
	Fund   domain.EmergencyFund `json:"fund"`
	Crisis domain.CrisisStatus  `json:"crisis"`
}

func (h *APIHandler) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.requestTimeout)
}

func (h *APIHandler) SubmitClaimHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	var req SubmitClaimRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendDomainError(w, r, "submit_claim", err)
		return
	}

	claim := domain.NewClaim(req.PolicyID, req.ClaimantID, req.IncidentType, req.Amount)
	claim.CounterpartyID = req.CounterpartyID
	claim.RideID = req.RideID
	claim.IncidentAt = req.IncidentAt
	claim.Description = req.Description
	claim.DocumentIDs = req.DocumentIDs

	stored, err := h.processor.SubmitClaim(ctx, claim)
	if err != nil {
		h.sendDomainError(w, r, "submit_claim", err)
		return
	}

	h.sendJSON(w, stored, http.StatusCreated)
}

func (h *APIHandler) GetClaimHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	claim, err := h.processor.GetClaim(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.sendDomainError(w, r, "get_claim", err)
		return
	}

	h.sendJSON(w, claim, http.StatusOK)
}

func (h *APIHandler) AssessClaimHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	result, err := h.processor.AssessClaim(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.sendDomainError(w, r, "assess_claim", err)
		return
	}

	h.sendJSON(w, result, http.StatusOK)
}

func (h *APIHandler) ListAssessmentsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	history, err := h.processor.Assessments(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.sendDomainError(w, r, "list_assessments", err)
		return
	}

	h.sendJSON(w, history, http.StatusOK)
}

func (h *APIHandler) ListPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	payouts, err := h.processor.Payouts(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.sendDomainError(w, r, "list_payouts", err)
		return
	}

	h.sendJSON(w, payouts, http.StatusOK)
}

// OverrideHandler pays a claim under an override. The token scope decides authorization.
func (h *APIHandler) OverrideHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	var req OverrideRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendDomainError(w, r, "override", err)
		return
	}

	scope := crypto.ScopeOverride
	if req.Kind == payout.OverrideEmergency {
		scope = crypto.ScopeEmergencyOverride
	}
	authz := authorizerFromContext(r.Context())

	paid, err := h.processor.RequestOverride(ctx, chi.URLParam(r, "id"), processor.OverrideRequest{
		Kind:         req.Kind,
		Authorized:   authz.Can(scope),
		AuthorizedBy: authz.Subject,
		Reason:       req.Reason,
	})
	if err != nil {
		h.sendDomainError(w, r, "override", err)
		return
	}
	if h.metrics != nil {
		h.metrics.SetEmergencyFundAvailable(h.fund.Snapshot().Available.InexactFloat64())
	}

	h.sendJSON(w, paid, http.StatusOK)
}

func (h *APIHandler) ResubmitPayoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	paid, err := h.processor.ResubmitPayout(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.sendDomainError(w, r, "resubmit_payout", err)
		return
	}

	h.sendJSON(w, paid, http.StatusOK)
}

func (h *APIHandler) RegisterValidatorHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	var req RegisterValidatorRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendDomainError(w, r, "register_validator", err)
		return
	}

	validator, err := h.reputation.Register(ctx, reputation.Registration{
		ValidatorID:     req.ValidatorID,
		Stake:           req.Stake,
		CompletedRides:  req.CompletedRides,
		Specializations: req.Specializations,
	})
	if err != nil {
		h.sendDomainError(w, r, "register_validator", err)
		return
	}

	h.sendJSON(w, validator, http.StatusCreated)
}

func (h *APIHandler) GetValidatorHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	validator, err := h.reputation.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.sendDomainError(w, r, "get_validator", err)
		return
	}

	h.sendJSON(w, validator, http.StatusOK)
}

func (h *APIHandler) StakeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	var req StakeRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendDomainError(w, r, "stake", err)
		return
	}

	id := chi.URLParam(r, "id")
	var (
		validator *domain.Validator
		err       error
	)
	switch strings.ToLower(req.Operation) {
	case "add":
		validator, err = h.reputation.AddStake(ctx, id, req.Amount)
	case "withdraw":
		validator, err = h.reputation.WithdrawStake(ctx, id, req.Amount)
	default:
		err = domain.NewValidationError("operation", "must be add or withdraw")
	}
	if err != nil {
		h.sendDomainError(w, r, "stake", err)
		return
	}

	h.sendJSON(w, validator, http.StatusOK)
}

func (h *APIHandler) SlashHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	authz := authorizerFromContext(r.Context())
	if !authz.Can(crypto.ScopeSlash) {
		h.sendError(w, "token lacks "+crypto.ScopeSlash, http.StatusForbidden, "FORBIDDEN")
		return
	}

	var req SlashRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendDomainError(w, r, "slash", err)
		return
	}

	validator, err := h.reputation.Slash(ctx, reputation.SlashRequest{
		ValidatorID:  chi.URLParam(r, "id"),
		Percent:      req.Percent,
		Reason:       req.Reason,
		Evidence:     req.Evidence,
		AuthorizedBy: authz.Subject,
	})
	if err != nil {
		h.sendDomainError(w, r, "slash", err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordSlash()
	}

	h.sendJSON(w, validator, http.StatusOK)
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	session, err := h.processor.GetSession(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.sendDomainError(w, r, "get_session", err)
		return
	}

	h.sendJSON(w, session, http.StatusOK)
}

func (h *APIHandler) SubmitVoteHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	var req VoteRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendDomainError(w, r, "submit_vote", err)
		return
	}

	session, err := h.processor.SubmitVote(ctx, consensus.VoteRequest{
		SessionID:  chi.URLParam(r, "id"),
		JurorID:    req.JurorID,
		Decision:   req.Decision,
		Reasoning:  req.Reasoning,
		Confidence: req.Confidence,
	})
	if err != nil {
		h.sendDomainError(w, r, "submit_vote", err)
		return
	}

	h.sendJSON(w, session, http.StatusOK)
}

func (h *APIHandler) EmergencyFundHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	status, err := h.fund.Evaluate(ctx)
	if err != nil {
		h.sendDomainError(w, r, "emergency_fund", err)
		return
	}
	fund := h.fund.Snapshot()
	if h.metrics != nil {
		h.metrics.SetEmergencyFundAvailable(fund.Available.InexactFloat64())
	}

	h.sendJSON(w, FundResponse{Fund: fund, Crisis: status}, http.StatusOK)
}

func (h *APIHandler) TopUpHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	if !authorizerFromContext(r.Context()).Can(crypto.ScopeEmergencyOverride) {
		h.sendError(w, "token lacks "+crypto.ScopeEmergencyOverride, http.StatusForbidden, "FORBIDDEN")
		return
	}

	var req TopUpRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendDomainError(w, r, "top_up", err)
		return
	}

	fund, err := h.fund.TopUp(ctx, req.Amount)
	if err != nil {
		h.sendDomainError(w, r, "top_up", err)
		return
	}
	if h.metrics != nil {
		h.metrics.SetEmergencyFundAvailable(fund.Available.InexactFloat64())
	}

	h.sendJSON(w, fund, http.StatusOK)
}

type CreateRuleRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        domain.RuleType `json:"type"`
	Description string          `json:"description"`
	Condition   json.RawMessage `json:"condition"`
	Action      json.RawMessage `json:"action"`
	Priority    int             `json:"priority"`
}

func (h *APIHandler) CreateRuleHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	authz := authorizerFromContext(r.Context())
	if !authz.Can(crypto.ScopeRules) {
		h.sendError(w, "token lacks "+crypto.ScopeRules, http.StatusForbidden, "FORBIDDEN")
		return
	}

	var req CreateRuleRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendDomainError(w, r, "create_rule", err)
		return
	}

	rule, err := h.processor.Rules().CreateRule(ctx, &domain.Rule{
		ID:          req.ID,
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		Condition:   string(req.Condition),
		Action:      string(req.Action),
		Priority:    req.Priority,
	}, authz.Subject)
	if err != nil {
		h.sendDomainError(w, r, "create_rule", err)
		return
	}

	h.sendJSON(w, rule, http.StatusCreated)
}

func (h *APIHandler) ListRulesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	rules, err := h.processor.Rules().Rules(ctx)
	if err != nil {
		h.sendDomainError(w, r, "list_rules", err)
		return
	}

	h.sendJSON(w, rules, http.StatusOK)
}

func (h *APIHandler) RuleHistoryHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	history, err := h.processor.Rules().RuleHistory(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.sendDomainError(w, r, "rule_history", err)
		return
	}

	h.sendJSON(w, history, http.StatusOK)
}

func (h *APIHandler) DeactivateRuleHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	authz := authorizerFromContext(r.Context())
	if !authz.Can(crypto.ScopeRules) {
		h.sendError(w, "token lacks "+crypto.ScopeRules, http.StatusForbidden, "FORBIDDEN")
		return
	}

	rule, err := h.processor.Rules().DeactivateRule(ctx, chi.URLParam(r, "id"), authz.Subject)
	if err != nil {
		h.sendDomainError(w, r, "deactivate_rule", err)
		return
	}

	h.sendJSON(w, rule, http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}
	h.sendJSON(w, response, http.StatusOK)
}
