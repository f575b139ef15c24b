package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TriggerTier string
type PayoutStatus string

const (
	TierAIApproved             TriggerTier = "AI_APPROVED"
	TierCommunityConsensus     TriggerTier = "COMMUNITY_CONSENSUS"
	TierManualReviewRequired   TriggerTier = "MANUAL_REVIEW_REQUIRED"
	TierFraudDetected          TriggerTier = "FRAUD_DETECTED"
	TierInsufficientValidation TriggerTier = "INSUFFICIENT_VALIDATION"
	TierManualOverride         TriggerTier = "MANUAL_OVERRIDE"
	TierEmergencyOverride      TriggerTier = "EMERGENCY_OVERRIDE"
)

const (
	PayoutPending  PayoutStatus = "PENDING"
	PayoutExecuted PayoutStatus = "EXECUTED"
	PayoutFailed   PayoutStatus = "FAILED"
)

// Eligible reports whether the tier authorizes a payout.
func (t TriggerTier) Eligible() bool {
	switch t {
	case TierAIApproved, TierCommunityConsensus, TierManualOverride, TierEmergencyOverride:
		return true
	}
	return false
}

// PayoutDecision is the outcome of tier evaluation for a claim.
type PayoutDecision struct {
	ClaimID      string          `json:"claim_id"`
	Beneficiary  string          `json:"beneficiary"`
	Tier         TriggerTier     `json:"tier"`
	Eligible     bool            `json:"eligible"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason,omitempty"`
	AuthorizedBy string          `json:"authorized_by,omitempty"`
	DecidedAt    time.Time       `json:"decided_at"`
}

type Payout struct {
	ID            string          `json:"id"`
	ClaimID       string          `json:"claim_id"`
	Beneficiary   string          `json:"beneficiary"`
	Amount        decimal.Decimal `json:"amount"`
	Tier          TriggerTier     `json:"tier"`
	Status        PayoutStatus    `json:"status"`
	AuthorizedBy  string          `json:"authorized_by,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	ReceiptID     string          `json:"receipt_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
}

func (p *Payout) MarkExecuted(receiptID string, at time.Time) error {
	if p.Status != PayoutPending {
		return fmt.Errorf("%w: payout %s is %s", ErrConflict, p.ID, p.Status)
	}
	p.Status = PayoutExecuted
	p.ReceiptID = receiptID
	p.ExecutedAt = &at
	p.UpdatedAt = at
	return nil
}

func (p *Payout) MarkFailed(reason string, at time.Time) error {
	if p.Status != PayoutPending {
		return fmt.Errorf("%w: payout %s is %s", ErrConflict, p.ID, p.Status)
	}
	p.Status = PayoutFailed
	p.FailureReason = reason
	p.FailedAt = &at
	p.UpdatedAt = at
	return nil
}

func (p *Payout) Clone() *Payout {
	cp := *p
	if p.ExecutedAt != nil {
		t := *p.ExecutedAt
		cp.ExecutedAt = &t
	}
	if p.FailedAt != nil {
		t := *p.FailedAt
		cp.FailedAt = &t
	}
	return &cp
}
