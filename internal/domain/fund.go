package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EmergencyFund is reserved capital released under crisis conditions.
type EmergencyFund struct {
	TotalCapacity    decimal.Decimal `json:"total_capacity"`
	Available        decimal.Decimal `json:"available"`
	LastActivationAt *time.Time      `json:"last_activation_at,omitempty"`
	CrisisActive     bool            `json:"crisis_active"`
	LastEvaluatedAt  time.Time       `json:"last_evaluated_at"`
}

// CrisisStatus is the result of evaluating crisis conditions.
type CrisisStatus struct {
	PoolUtilization    float64         `json:"pool_utilization"`
	RecentClaims       int             `json:"recent_claims"`
	LiquidityRatio     float64         `json:"liquidity_ratio"`
	UtilizationTripped bool            `json:"utilization_tripped"`
	MassEventTripped   bool            `json:"mass_event_tripped"`
	LiquidityTripped   bool            `json:"liquidity_tripped"`
	CrisisActive       bool            `json:"crisis_active"`
	Available          decimal.Decimal `json:"available"`
	EvaluatedAt        time.Time       `json:"evaluated_at"`
}
