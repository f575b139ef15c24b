package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InitialReputation = 500
	MaxReputation     = 1000
	MinReputation     = 0
)

// SlashRecord is an append-only entry of a validator's slashing history.
type SlashRecord struct {
	At               time.Time       `json:"at"`
	Percent          float64         `json:"percent"`
	StakeBefore      decimal.Decimal `json:"stake_before"`
	StakeAfter       decimal.Decimal `json:"stake_after"`
	ReputationBefore int             `json:"reputation_before"`
	ReputationAfter  int             `json:"reputation_after"`
	Reason           string          `json:"reason"`
	Evidence         string          `json:"evidence,omitempty"`
	EvidenceDigest   string          `json:"evidence_digest"`
	AuthorizedBy     string          `json:"authorized_by,omitempty"`
}

// Validator is a staked juror. Validators are deactivated, never deleted.
type Validator struct {
	ID              string          `json:"id"`
	Stake           decimal.Decimal `json:"stake"`
	Reputation      int             `json:"reputation"`
	TotalVotes      int             `json:"total_votes"`
	CorrectVotes    int             `json:"correct_votes"`
	CompletedRides  int             `json:"completed_rides"`
	Specializations []string        `json:"specializations,omitempty"`
	Active          bool            `json:"active"`
	RegisteredAt    time.Time       `json:"registered_at"`
	LastVoteAt      *time.Time      `json:"last_vote_at,omitempty"`
	LastSlashAt     *time.Time      `json:"last_slash_at,omitempty"`
	Slashes         []SlashRecord   `json:"slashes,omitempty"`
}

func (v *Validator) Accuracy() float64 {
	if v.TotalVotes == 0 {
		return 0
	}
	return float64(v.CorrectVotes) / float64(v.TotalVotes)
}

func (v *Validator) HasSpecialization(tag string) bool {
	for _, s := range v.Specializations {
		if s == tag {
			return true
		}
	}
	return false
}

func (v *Validator) Clone() *Validator {
	cp := *v
	cp.Specializations = append([]string(nil), v.Specializations...)
	cp.Slashes = append([]SlashRecord(nil), v.Slashes...)
	if v.LastVoteAt != nil {
		t := *v.LastVoteAt
		cp.LastVoteAt = &t
	}
	if v.LastSlashAt != nil {
		t := *v.LastSlashAt
		cp.LastSlashAt = &t
	}
	return &cp
}

// ClampReputation bounds r to [0,1000].
func ClampReputation(r int) int {
	if r < MinReputation {
		return MinReputation
	}
	if r > MaxReputation {
		return MaxReputation
	}
	return r
}
