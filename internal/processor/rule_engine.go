package processor

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"
)

const (
	ActionFlagClaim           = "flag_claim"
	ActionRequireManualReview = "require_manual_review"
	ActionNotify              = "notify"
)

type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type RuleAction struct {
	Type    string         `json:"type"`
	Params  map[string]any `json:"params"`
	Message string         `json:"message"`
}

type RuleResult struct {
	RuleID      string
	RuleName    string
	Priority    int
	Triggered   bool
	Action      RuleAction
	Description string
}

type Routing struct {
	ManualReview bool
	Flags        []string
}

type subject struct {
	claim      *domain.Claim
	assessment *domain.FraudAssessment
}

type field struct {
	numeric bool
	read    func(subject) (num float64, str string, ok bool)
}

var ruleFields = map[string]field{
	"amount": {numeric: true, read: func(s subject) (float64, string, bool) {
		return s.claim.Amount.InexactFloat64(), "", true
	}},
	"document_count": {numeric: true, read: func(s subject) (float64, string, bool) {
		return float64(len(s.claim.DocumentIDs)), "", true
	}},
	"fraud_score": {numeric: true, read: func(s subject) (float64, string, bool) {
		if s.assessment == nil {
			return 0, "", false
		}
		return s.assessment.FraudScore, "", true
	}},
	"confidence": {numeric: true, read: func(s subject) (float64, string, bool) {
		if s.assessment == nil {
			return 0, "", false
		}
		return s.assessment.Confidence, "", true
	}},
	"incident_type": {read: func(s subject) (float64, string, bool) {
		return 0, string(s.claim.IncidentType), true
	}},
	"description": {read: func(s subject) (float64, string, bool) {
		return 0, s.claim.Description, true
	}},
	"claimant_id": {read: func(s subject) (float64, string, bool) {
		return 0, s.claim.ClaimantID, true
	}},
}

type compiledRule struct {
	rule    *domain.Rule
	field   field
	cond    Condition
	number  float64
	text    string
	set     []string
	pattern *regexp.Regexp
	action  RuleAction
}

func compileRule(rule *domain.Rule) (*compiledRule, error) {
	var cond Condition
	if err := json.Unmarshal([]byte(rule.Condition), &cond); err != nil {
		return nil, domain.NewValidationError("condition", fmt.Sprintf("invalid JSON: %v", err))
	}
	var action RuleAction
	if err := json.Unmarshal([]byte(rule.Action), &action); err != nil {
		return nil, domain.NewValidationError("action", fmt.Sprintf("invalid JSON: %v", err))
	}
	switch action.Type {
	case ActionFlagClaim, ActionRequireManualReview, ActionNotify:
	default:
		return nil, domain.NewValidationError("action", fmt.Sprintf("unknown action type %q", action.Type))
	}

	f, known := ruleFields[cond.Field]
	if !known {
		return nil, domain.NewValidationError("condition", fmt.Sprintf("unknown field %q", cond.Field))
	}
	c := &compiledRule{rule: rule, field: f, cond: cond, action: action}

	if f.numeric {
		n, ok := cond.Value.(float64)
		if !ok {
			return nil, domain.NewValidationError("condition", fmt.Sprintf("%s needs a numeric value, got %v", cond.Field, cond.Value))
		}
		switch cond.Operator {
		case ">", ">=", "<", "<=", "==", "!=":
		default:
			return nil, domain.NewValidationError("condition", fmt.Sprintf("operator %q is not numeric", cond.Operator))
		}
		c.number = n
		return c, nil
	}

	switch cond.Operator {
	case "in":
		values, ok := cond.Value.([]any)
		if !ok {
			return nil, domain.NewValidationError("condition", "in needs a list of strings")
		}
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				return nil, domain.NewValidationError("condition", fmt.Sprintf("in list holds non-string %v", v))
			}
			c.set = append(c.set, s)
		}
	case "==", "!=", "contains":
		s, ok := cond.Value.(string)
		if !ok {
			return nil, domain.NewValidationError("condition", fmt.Sprintf("%s needs a string value, got %v", cond.Field, cond.Value))
		}
		c.text = s
		if cond.Operator == "contains" {
			re, err := regexp.Compile(s)
			if err != nil {
				return nil, domain.NewValidationError("condition", fmt.Sprintf("invalid pattern %q: %v", s, err))
			}
			c.pattern = re
		}
	default:
		return nil, domain.NewValidationError("condition", fmt.Sprintf("operator %q is not supported on %s", cond.Operator, cond.Field))
	}
	return c, nil
}

func (c *compiledRule) matches(s subject) bool {
	num, str, ok := c.field.read(s)
	if !ok {
		return false
	}
	if c.field.numeric {
		return compare(c.cond.Operator, num, c.number)
	}
	switch c.cond.Operator {
	case "in":
		return slices.Contains(c.set, str)
	case "contains":
		return c.pattern.MatchString(str)
	default:
		return compare(c.cond.Operator, str, c.text)
	}
}

func compare[T cmp.Ordered](op string, got, want T) bool {
	switch op {
	case ">":
		return got > want
	case ">=":
		return got >= want
	case "<":
		return got < want
	case "<=":
		return got <= want
	case "==":
		return got == want
	case "!=":
		return got != want
	}
	return false
}

func ValidateRule(rule *domain.Rule) error {
	_, err := compileRule(rule)
	return err
}

type RuleEngine struct {
	ruleRepo repository.RuleRepository
	events   domain.EventSink
	logger   *slog.Logger

	mu    sync.RWMutex
	cache []*compiledRule
}

func NewRuleEngine(ruleRepo repository.RuleRepository, events domain.EventSink, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = domain.DiscardEvents{}
	}

	return &RuleEngine{
		ruleRepo: ruleRepo,
		events:   events,
		logger:   logger,
	}
}

// EvaluateRules returns the triggered rules, highest priority first. A nil assessment
// leaves fraud_score and confidence conditions untriggered.
func (e *RuleEngine) EvaluateRules(ctx context.Context, claim *domain.Claim, assessment *domain.FraudAssessment) ([]RuleResult, error) {
	rules, err := e.activeRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active rules: %w", err)
	}

	s := subject{claim: claim, assessment: assessment}
	var results []RuleResult
	for _, c := range rules {
		if !c.matches(s) {
			continue
		}
		results = append(results, RuleResult{
			RuleID:      c.rule.ID,
			RuleName:    c.rule.Name,
			Priority:    c.rule.Priority,
			Triggered:   true,
			Action:      c.action,
			Description: c.rule.Description,
		})
		e.logger.InfoContext(ctx, "Rule triggered",
			slog.String("rule_id", c.rule.ID),
			slog.String("rule_name", c.rule.Name),
			slog.String("claim_id", claim.ID))
	}

	slices.SortStableFunc(results, func(a, b RuleResult) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return results, nil
}

func (e *RuleEngine) activeRules(ctx context.Context) ([]*compiledRule, error) {
	e.mu.RLock()
	cached := e.cache
	e.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	rules, err := e.ruleRepo.GetActiveRules(ctx)
	if err != nil {
		return nil, err
	}

	compiled := make([]*compiledRule, 0, len(rules))
	for _, rule := range rules {
		c, err := compileRule(rule)
		if err != nil {
			e.logger.ErrorContext(ctx, "Skipping invalid rule",
				slog.String("rule_id", rule.ID),
				slog.String("error", err.Error()))
			continue
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.cache = compiled
	e.mu.Unlock()
	return compiled, nil
}

func (e *RuleEngine) InvalidateCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = nil
}

func (e *RuleEngine) CreateRule(ctx context.Context, rule *domain.Rule, changedBy string) (*domain.Rule, error) {
	if strings.TrimSpace(rule.Name) == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	if rule.Type == "" {
		rule.Type = domain.RuleTypeRouting
	}
	if !rule.Type.Valid() {
		return nil, domain.NewValidationError("type", fmt.Sprintf("unknown value %q", rule.Type))
	}
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if rule.ID == "" {
		rule.ID = domain.NewID()
	}
	rule.IsActive = true
	rule.ChangedBy = changedBy
	rule.UpdatedAt = time.Now().UTC()

	if err := e.ruleRepo.Save(ctx, rule); err != nil {
		return nil, err
	}
	e.InvalidateCache()
	e.logger.InfoContext(ctx, "Rule created",
		slog.String("rule_id", rule.ID),
		slog.String("changed_by", changedBy))
	return e.ruleRepo.GetByID(ctx, rule.ID)
}

// DeactivateRule stores an inactive version of the rule. Deactivating twice is a no-op.
func (e *RuleEngine) DeactivateRule(ctx context.Context, id, changedBy string) (*domain.Rule, error) {
	current, err := e.ruleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsActive {
		return current, nil
	}

	rule, err := e.ruleRepo.Update(ctx, id, func(r *domain.Rule) error {
		r.IsActive = false
		r.ChangedBy = changedBy
		r.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.InvalidateCache()
	e.logger.InfoContext(ctx, "Rule deactivated",
		slog.String("rule_id", id),
		slog.String("changed_by", changedBy),
		slog.Int("version", rule.Version))
	return rule, nil
}

func (e *RuleEngine) Rules(ctx context.Context) ([]*domain.Rule, error) {
	return e.ruleRepo.GetAll(ctx)
}

func (e *RuleEngine) RuleHistory(ctx context.Context, id string) ([]*domain.Rule, error) {
	return e.ruleRepo.History(ctx, id)
}

func (e *RuleEngine) Apply(ctx context.Context, claim *domain.Claim, results []RuleResult) Routing {
	var routing Routing
	for _, r := range results {
		if err := e.execute(ctx, r.Action, claim, &routing); err != nil {
			e.logger.ErrorContext(ctx, "Failed to execute rule action",
				slog.String("rule_id", r.RuleID),
				slog.String("claim_id", claim.ID),
				slog.String("error", err.Error()))
		}
	}
	return routing
}

func (e *RuleEngine) execute(ctx context.Context, action RuleAction, claim *domain.Claim, routing *Routing) error {
	switch action.Type {
	case ActionFlagClaim:
		reason := action.param("reason")
		if reason == "" {
			return fmt.Errorf("flag_claim requires a reason")
		}
		claim.AddFlag(reason)
		routing.Flags = append(routing.Flags, reason)
		e.logger.WarnContext(ctx, "Claim flagged",
			slog.String("claim_id", claim.ID),
			slog.String("reason", reason))
		e.events.Emit(ctx, domain.NewEvent(domain.EventClaimFlagged, claim.ID, map[string]any{
			"claim_id": claim.ID,
			"reason":   reason,
		}))

	case ActionRequireManualReview:
		routing.ManualReview = true
		e.logger.InfoContext(ctx, "Claim requires manual review",
			slog.String("claim_id", claim.ID),
			slog.String("message", action.Message))

	case ActionNotify:
		channel, _ := action.Params["channel"].(string)
		e.logger.InfoContext(ctx, "Rule notification",
			slog.String("channel", channel),
			slog.String("claim_id", claim.ID),
			slog.String("message", action.param("message")))

	default:
		return fmt.Errorf("unknown action type: %s", action.Type)
	}
	return nil
}

func (a RuleAction) param(key string) string {
	if v, _ := a.Params[key].(string); v != "" {
		return v
	}
	return a.Message
}
