package risk

import (
	"sort"
	"time"

	"claims_adjudicator/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	FactorDocumentIntegrity    = "document_integrity"
	FactorClaimFrequency       = "claim_frequency"
	FactorAmountPattern        = "amount_pattern"
	FactorIncidentTiming       = "incident_timing"
	FactorReportingDelay       = "reporting_delay"
	FactorPoliceReport         = "police_report"
	FactorWeatherCorroboration = "weather_corroboration"
	FactorTransactionNetwork   = "transaction_network"
	FactorCollusionPairs       = "collusion_pairs"
	FactorDeviceFingerprint    = "device_fingerprint"
	FactorRoutePlausibility    = "route_plausibility"
)

// Input is everything the scorer knows about a claim. Optional sections are nil
// when the collaborator could not supply them.
type Input struct {
	Claim     *domain.Claim
	Documents []domain.DocumentMeta
	History   *domain.ClaimantHistory
	External  *domain.ExternalEvidence
	Network   *domain.NetworkSignals
}

type result struct {
	score   float64
	defined bool
	signals []string
}

func undefined(fallback float64) result {
	return result{score: fallback}
}

// Factor is one weighted component of the fraud score.
type Factor struct {
	Name        string
	Description string
	Weight      float64
	evaluate    func(Input) result
}

const frequencyWindow = 183 * 24 * time.Hour

// typicalMaxAmount bounds the usual claimed amount per incident type.
var typicalMaxAmount = map[domain.IncidentType]decimal.Decimal{
	domain.IncidentCollision:      decimal.NewFromInt(15000),
	domain.IncidentTheft:          decimal.NewFromInt(5000),
	domain.IncidentInjury:         decimal.NewFromInt(50000),
	domain.IncidentPropertyDamage: decimal.NewFromInt(10000),
	domain.IncidentWeatherDamage:  decimal.NewFromInt(20000),
	domain.IncidentCancellation:   decimal.NewFromInt(500),
	domain.IncidentOther:          decimal.NewFromInt(5000),
}

// reportExpected lists incident types where a missing police report is a strong gap.
var reportExpected = map[domain.IncidentType]bool{
	domain.IncidentCollision: true,
	domain.IncidentTheft:     true,
	domain.IncidentInjury:    true,
}

func (s *Scorer) defaultFactors() []Factor {
	return []Factor{
		{
			Name:        FactorDocumentIntegrity,
			Description: "Missing, freshly created or heavily edited documents",
			Weight:      0.20,
			evaluate:    s.documentIntegrity,
		},
		{
			Name:        FactorClaimFrequency,
			Description: "Claims by the claimant in the last six months",
			Weight:      0.10,
			evaluate:    claimFrequency,
		},
		{
			Name:        FactorAmountPattern,
			Description: "Round numbers, escalation and atypical amounts",
			Weight:      0.10,
			evaluate:    amountPattern,
		},
		{
			Name:        FactorIncidentTiming,
			Description: "Late night, weekend and holiday incidents",
			Weight:      0.07,
			evaluate:    incidentTiming,
		},
		{
			Name:        FactorReportingDelay,
			Description: "Time between incident and submission",
			Weight:      0.08,
			evaluate:    reportingDelay,
		},
		{
			Name:        FactorPoliceReport,
			Description: "Absent or low-confidence police report",
			Weight:      0.15,
			evaluate:    policeReport,
		},
		{
			Name:        FactorWeatherCorroboration,
			Description: "Weather data contradicting the incident",
			Weight:      0.10,
			evaluate:    weatherCorroboration,
		},
		{
			Name:        FactorTransactionNetwork,
			Description: "Shared transaction history with the counterparty",
			Weight:      0.08,
			evaluate:    transactionNetwork,
		},
		{
			Name:        FactorCollusionPairs,
			Description: "Repeated shared-claim pairs",
			Weight:      0.04,
			evaluate:    s.collusionPairs,
		},
		{
			Name:        FactorDeviceFingerprint,
			Description: "Device or social fingerprint overlap",
			Weight:      0.04,
			evaluate:    s.deviceFingerprint,
		},
		{
			Name:        FactorRoutePlausibility,
			Description: "Implausible route or location",
			Weight:      0.04,
			evaluate:    routePlausibility,
		},
	}
}

func (s *Scorer) documentIntegrity(in Input) result {
	if len(in.Documents) == 0 {
		if len(in.Claim.DocumentIDs) > 0 {
			// references exist but the evidence store returned no metadata
			return undefined(0.5)
		}
		return result{score: 0.8, defined: true, signals: []string{"missing_documents"}}
	}

	var worst float64
	var signals []string
	for _, doc := range in.Documents {
		var suspicion float64
		if !doc.CreatedAt.IsZero() && in.Claim.SubmittedAt.Sub(doc.CreatedAt) < time.Hour {
			suspicion += 0.3
			signals = appendOnce(signals, "recently_created_document")
		}
		if doc.DeclaredType == "photo" && !in.Claim.IncidentAt.IsZero() && !doc.CreatedAt.IsZero() && doc.CreatedAt.Before(in.Claim.IncidentAt) {
			suspicion += 0.4
			signals = appendOnce(signals, "photo_predates_incident")
		}
		switch {
		case doc.EditCount > 3:
			suspicion += 0.3
			signals = appendOnce(signals, "heavily_edited_document")
		case doc.EditCount > 0:
			suspicion += 0.1
		}
		if doc.OCRConfidence > 0 && doc.OCRConfidence < 0.6 {
			suspicion += 0.2
			signals = appendOnce(signals, "low_ocr_confidence")
		}
		worst = max(worst, suspicion)
	}

	if manip := s.images.Manipulation(in.Claim, in.Documents); manip.Defined && manip.Score > worst {
		worst = manip.Score
		signals = appendOnce(signals, "image_manipulation")
	}

	return result{score: worst, defined: true, signals: signals}
}

func claimFrequency(in Input) result {
	if in.History == nil {
		return undefined(0.4)
	}

	since := in.Claim.SubmittedAt.Add(-frequencyWindow)
	count := 0
	for _, prior := range in.History.PriorClaims {
		if prior.ClaimID == in.Claim.ID {
			continue
		}
		if !prior.SubmittedAt.Before(since) && !prior.SubmittedAt.After(in.Claim.SubmittedAt) {
			count++
		}
	}

	switch {
	case count == 0:
		return result{score: 0, defined: true}
	case count == 1:
		return result{score: 0.1, defined: true}
	case count == 2:
		return result{score: 0.4, defined: true, signals: []string{"frequent_claimant"}}
	default:
		return result{score: 0.8, defined: true, signals: []string{"frequent_claimant"}}
	}
}

func amountPattern(in Input) result {
	amount := in.Claim.Amount
	var score float64
	var signals []string

	if amount.IsPositive() {
		switch {
		case amount.Mod(decimal.NewFromInt(1000)).IsZero():
			score += 0.3
			signals = append(signals, "round_amount")
		case amount.Mod(decimal.NewFromInt(100)).IsZero():
			score += 0.2
			signals = append(signals, "round_amount")
		}
	}

	if typical, ok := typicalMaxAmount[in.Claim.IncidentType]; ok && amount.GreaterThan(typical) {
		score += 0.3
		signals = append(signals, "atypical_amount_for_incident")
	}

	if in.History != nil && len(in.History.PriorClaims) > 0 {
		if median := medianAmount(in.History.PriorClaims); median.IsPositive() {
			ratio := amount.Div(median).InexactFloat64()
			switch {
			case ratio > 3:
				score += 0.4
				signals = append(signals, "amount_escalation")
			case ratio > 2:
				score += 0.2
				signals = append(signals, "amount_escalation")
			}
		}
	}

	return result{score: score, defined: true, signals: signals}
}

func medianAmount(prior []domain.PriorClaim) decimal.Decimal {
	amounts := make([]decimal.Decimal, len(prior))
	for i, p := range prior {
		amounts[i] = p.Amount
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i].LessThan(amounts[j]) })

	mid := len(amounts) / 2
	if len(amounts)%2 == 1 {
		return amounts[mid]
	}
	return amounts[mid-1].Add(amounts[mid]).Div(decimal.NewFromInt(2))
}

func incidentTiming(in Input) result {
	at := in.Claim.IncidentAt
	if at.IsZero() {
		return undefined(0.3)
	}

	var score float64
	var signals []string
	if hour := at.Hour(); hour >= 23 || hour < 5 {
		score += 0.4
		signals = append(signals, "late_night_incident")
	}
	if day := at.Weekday(); day == time.Saturday || day == time.Sunday {
		score += 0.1
		signals = append(signals, "weekend_incident")
	}
	if isHoliday(at) {
		score += 0.2
		signals = append(signals, "holiday_incident")
	}
	return result{score: score, defined: true, signals: signals}
}

// isHoliday recognises fixed-date public holidays only.
func isHoliday(t time.Time) bool {
	switch t.Month() {
	case time.January:
		return t.Day() == 1
	case time.July:
		return t.Day() == 4
	case time.December:
		return t.Day() == 24 || t.Day() == 25 || t.Day() == 31
	}
	return false
}

func reportingDelay(in Input) result {
	if in.Claim.IncidentAt.IsZero() {
		return undefined(0.4)
	}

	delay := in.Claim.SubmittedAt.Sub(in.Claim.IncidentAt)
	switch {
	case delay < 0:
		return result{score: 0.8, defined: true, signals: []string{"incident_after_submission"}}
	case delay < time.Hour:
		return result{score: 0.3, defined: true, signals: []string{"immediate_report"}}
	case delay <= 24*time.Hour:
		return result{score: 0.1, defined: true}
	case delay <= 7*24*time.Hour:
		return result{score: 0.4, defined: true, signals: []string{"delayed_report"}}
	default:
		return result{score: 0.8, defined: true, signals: []string{"late_report"}}
	}
}

func policeReport(in Input) result {
	if in.External == nil {
		return undefined(0.5)
	}
	if !in.External.PoliceReportAvailable {
		if reportExpected[in.Claim.IncidentType] {
			return result{score: 0.6, defined: true, signals: []string{"no_police_report"}}
		}
		return result{score: 0.3, defined: true}
	}
	score := 0.5 * (1 - domain.Clamp01(in.External.PoliceReportConfidence))
	var signals []string
	if score >= 0.25 {
		signals = append(signals, "low_confidence_police_report")
	}
	return result{score: score, defined: true, signals: signals}
}

func weatherCorroboration(in Input) result {
	if in.External == nil {
		return undefined(0.5)
	}
	ext := in.External
	weatherClaim := in.Claim.IncidentType == domain.IncidentWeatherDamage

	if !ext.WeatherAvailable {
		if weatherClaim {
			return result{score: 0.6, defined: true, signals: []string{"no_weather_record"}}
		}
		return result{score: 0.2, defined: true}
	}

	conf := domain.Clamp01(ext.WeatherConfidence)
	if ext.WeatherConsistent {
		return result{score: 0.3 * (1 - conf), defined: true}
	}
	score := 0.5 + 0.5*conf
	if !weatherClaim {
		score /= 2
	}
	return result{score: score, defined: true, signals: []string{"weather_contradiction"}}
}

func transactionNetwork(in Input) result {
	if in.Network == nil {
		return undefined(0.3)
	}
	switch n := in.Network.SharedTransactions; {
	case n == 0:
		return result{score: 0, defined: true}
	case n <= 2:
		return result{score: 0.3, defined: true}
	case n <= 5:
		return result{score: 0.6, defined: true, signals: []string{"shared_transaction_history"}}
	default:
		return result{score: 0.9, defined: true, signals: []string{"shared_transaction_history"}}
	}
}

func (s *Scorer) collusionPairs(in Input) result {
	if in.Network == nil {
		sig := s.collusion.Collusion(in.Claim)
		return result{score: sig.Score, defined: sig.Defined}
	}
	switch n := in.Network.RepeatedClaimPairs; {
	case n == 0:
		return result{score: 0, defined: true}
	case n == 1:
		return result{score: 0.5, defined: true, signals: []string{"repeated_claim_pair"}}
	default:
		return result{score: 0.9, defined: true, signals: []string{"repeated_claim_pair"}}
	}
}

func (s *Scorer) deviceFingerprint(in Input) result {
	if in.Network == nil || in.Network.DeviceOverlap == nil {
		sig := s.devices.DeviceOverlap(in.Claim)
		return result{score: sig.Score, defined: sig.Defined}
	}
	if *in.Network.DeviceOverlap {
		return result{score: 0.9, defined: true, signals: []string{"device_overlap"}}
	}
	return result{score: 0, defined: true}
}

func routePlausibility(in Input) result {
	if in.External == nil || in.External.RoutePlausibility == nil {
		return undefined(0.3)
	}
	score := 1 - domain.Clamp01(*in.External.RoutePlausibility)
	var signals []string
	if score >= 0.5 {
		signals = append(signals, "implausible_route")
	}
	return result{score: score, defined: true, signals: signals}
}

func appendOnce(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
