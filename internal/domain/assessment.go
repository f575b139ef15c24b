package domain

import (
	"math"
	"time"
)

type Recommendation string
type Severity string

const (
	RecommendAutoApprove     Recommendation = "AUTO_APPROVE"
	RecommendCommunityReview Recommendation = "COMMUNITY_REVIEW"
	RecommendManualReview    Recommendation = "MANUAL_REVIEW"
	RecommendReject          Recommendation = "REJECT"
)

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type RiskFactor struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
}

// FraudAssessment is an immutable scoring record. Re-assessment appends a new one.
type FraudAssessment struct {
	ID             string             `json:"id"`
	ClaimID        string             `json:"claim_id"`
	Subscores      map[string]float64 `json:"subscores"`
	FraudScore     float64            `json:"fraud_score"`
	Confidence     float64            `json:"confidence"`
	RiskFactors    []RiskFactor       `json:"risk_factors,omitempty"`
	Recommendation Recommendation     `json:"recommendation"`
	CreatedAt      time.Time          `json:"created_at"`
}

func (a *FraudAssessment) Clone() *FraudAssessment {
	cp := *a
	cp.Subscores = make(map[string]float64, len(a.Subscores))
	for k, v := range a.Subscores {
		cp.Subscores[k] = v
	}
	cp.RiskFactors = append([]RiskFactor(nil), a.RiskFactors...)
	return &cp
}

// Clamp01 bounds v to [0,1]. NaN is treated as 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
