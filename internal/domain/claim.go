package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type ClaimStatus string
type IncidentType string

const (
	ClaimSubmitted       ClaimStatus = "SUBMITTED"
	ClaimAssessed        ClaimStatus = "ASSESSED"
	ClaimCommunityReview ClaimStatus = "COMMUNITY_REVIEW"
	ClaimManualReview    ClaimStatus = "MANUAL_REVIEW"
	ClaimApproved        ClaimStatus = "APPROVED"
	ClaimPaid            ClaimStatus = "PAID"
	ClaimRejected        ClaimStatus = "REJECTED"
)

const (
	IncidentCollision      IncidentType = "collision"
	IncidentTheft          IncidentType = "theft"
	IncidentInjury         IncidentType = "injury"
	IncidentPropertyDamage IncidentType = "property_damage"
	IncidentWeatherDamage  IncidentType = "weather_damage"
	IncidentCancellation   IncidentType = "cancellation"
	IncidentOther          IncidentType = "other"
)

func (t IncidentType) Valid() bool {
	switch t {
	case IncidentCollision, IncidentTheft, IncidentInjury, IncidentPropertyDamage,
		IncidentWeatherDamage, IncidentCancellation, IncidentOther:
		return true
	}
	return false
}

// Claim is an insurance claim raised against a ride transaction.
type Claim struct {
	ID             string          `json:"id"`
	PolicyID       string          `json:"policy_id"`
	ClaimantID     string          `json:"claimant_id"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
	RideID         string          `json:"ride_id,omitempty"`
	IncidentType   IncidentType    `json:"incident_type"`
	IncidentAt     time.Time       `json:"incident_at"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	DocumentIDs    []string        `json:"document_ids,omitempty"`
	Status         ClaimStatus     `json:"status"`
	AssessmentID   string          `json:"assessment_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	TriggerTier    TriggerTier     `json:"trigger_tier,omitempty"`
	Outcome        string          `json:"outcome,omitempty"`
	Flags          []string        `json:"flags,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func NewClaim(policyID, claimantID string, incident IncidentType, amount decimal.Decimal) *Claim {
	now := time.Now().UTC()
	return &Claim{
		ID:           NewID(),
		PolicyID:     policyID,
		ClaimantID:   claimantID,
		IncidentType: incident,
		Amount:       amount,
		SubmittedAt:  now,
		Status:       ClaimSubmitted,
		UpdatedAt:    now,
	}
}

func (c *Claim) IsTerminal() bool {
	return c.Status == ClaimPaid || c.Status == ClaimRejected
}

func (c *Claim) AddFlag(flag string) {
	for _, f := range c.Flags {
		if f == flag {
			return
		}
	}
	c.Flags = append(c.Flags, flag)
}

func (c *Claim) Clone() *Claim {
	cp := *c
	cp.DocumentIDs = append([]string(nil), c.DocumentIDs...)
	cp.Flags = append([]string(nil), c.Flags...)
	return &cp
}

// DocumentMeta is the metadata the evidence store exposes for an attached document.
type DocumentMeta struct {
	ID            string    `json:"id"`
	DeclaredType  string    `json:"declared_type"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`
	EditCount     int       `json:"edit_count"`
	OCRConfidence float64   `json:"ocr_confidence"`
}

// PriorClaim is one entry of a claimant's claim history.
type PriorClaim struct {
	ClaimID     string          `json:"claim_id"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Amount      decimal.Decimal `json:"amount"`
}

// ClaimantHistory is the driver/rider profile supplied by the identity and policy service.
type ClaimantHistory struct {
	PriorClaims []PriorClaim `json:"prior_claims"`
	RideCount   int          `json:"ride_count"`
	SafetyScore float64      `json:"safety_score"`
}

// ExternalEvidence carries optional official corroboration for an incident.
type ExternalEvidence struct {
	WeatherAvailable       bool     `json:"weather_available"`
	WeatherConsistent      bool     `json:"weather_consistent"`
	WeatherConfidence      float64  `json:"weather_confidence"`
	PoliceReportAvailable  bool     `json:"police_report_available"`
	PoliceReportConfidence float64  `json:"police_report_confidence"`
	RoutePlausibility      *float64 `json:"route_plausibility,omitempty"`
}

// NetworkSignals carries relationship data between the claimant and counterparties.
type NetworkSignals struct {
	SharedTransactions int   `json:"shared_transactions"`
	RepeatedClaimPairs int   `json:"repeated_claim_pairs"`
	DeviceOverlap      *bool `json:"device_overlap,omitempty"`
}

func NewID() string {
	return ulid.Make().String()
}
