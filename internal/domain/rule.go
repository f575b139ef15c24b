package domain

import "time"

// RuleType groups rules for operators. Evaluation treats every type alike.
type RuleType string

const (
	RuleTypeRouting    RuleType = "routing"
	RuleTypeFraud      RuleType = "fraud"
	RuleTypeCompliance RuleType = "compliance"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeRouting, RuleTypeFraud, RuleTypeCompliance:
		return true
	}
	return false
}

// Rule is an operator-defined intake rule. Condition and Action hold JSON
// documents; every stored change bumps Version and is kept in the rule's history.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        RuleType  `json:"type"`
	Description string    `json:"description,omitempty"`
	Condition   string    `json:"condition"`
	Action      string    `json:"action"`
	Priority    int       `json:"priority"`
	IsActive    bool      `json:"is_active"`
	Version     int       `json:"version"`
	ChangedBy   string    `json:"changed_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
