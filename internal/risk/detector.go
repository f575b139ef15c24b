package risk

import (
	"claims_adjudicator/internal/domain"
)

// Signal is the result of a pluggable detector. Defined is false when the
// detector had nothing to go on, in which case Score is its fallback value.
type Signal struct {
	Score   float64
	Defined bool
}

// ImageDetector scores the likelihood that attached images were manipulated.
type ImageDetector interface {
	Manipulation(claim *domain.Claim, docs []domain.DocumentMeta) Signal
}

// CollusionDetector scores coordinated claiming between claimant and counterparties.
type CollusionDetector interface {
	Collusion(claim *domain.Claim) Signal
}

// DeviceDetector scores device or social fingerprint overlap between parties.
type DeviceDetector interface {
	DeviceOverlap(claim *domain.Claim) Signal
}

const neutralSuspicion = 0.1

// Neutral is the default detector for every pluggable signal. It reports low
// suspicion and leaves the factor undefined.
type Neutral struct{}

func (Neutral) Manipulation(*domain.Claim, []domain.DocumentMeta) Signal {
	return Signal{Score: neutralSuspicion}
}

func (Neutral) Collusion(*domain.Claim) Signal {
	return Signal{Score: neutralSuspicion}
}

func (Neutral) DeviceOverlap(*domain.Claim) Signal {
	return Signal{Score: neutralSuspicion}
}
