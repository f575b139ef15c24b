package domain

import (
	"time"
)

type SessionStatus string
type VoteDecision string

const (
	SessionOpen             SessionStatus = "OPEN"
	SessionConsensusReached SessionStatus = "CONSENSUS_REACHED"
	SessionNoConsensus      SessionStatus = "NO_CONSENSUS"
	SessionEscalated        SessionStatus = "ESCALATED"
)

const (
	VoteApprove  VoteDecision = "APPROVE"
	VoteDeny     VoteDecision = "DENY"
	VoteNeedInfo VoteDecision = "NEED_INFO"
)

// VoteDecisions lists decisions in tie-break order.
var VoteDecisions = []VoteDecision{VoteApprove, VoteDeny, VoteNeedInfo}

func (d VoteDecision) Valid() bool {
	switch d {
	case VoteApprove, VoteDeny, VoteNeedInfo:
		return true
	}
	return false
}

func (s SessionStatus) Terminal() bool {
	return s != SessionOpen
}

// Vote is immutable once recorded.
type Vote struct {
	SessionID  string       `json:"session_id"`
	JurorID    string       `json:"juror_id"`
	Decision   VoteDecision `json:"decision"`
	Reasoning  string       `json:"reasoning"`
	Confidence float64      `json:"confidence"`
	CastAt     time.Time    `json:"cast_at"`
}

// Consensus is a tally over the votes recorded so far.
type Consensus struct {
	Tally         map[VoteDecision]int `json:"tally"`
	Leading       VoteDecision         `json:"leading,omitempty"`
	LeadingVotes  int                  `json:"leading_votes"`
	VotesRecorded int                  `json:"votes_recorded"`
	Percentage    float64              `json:"percentage"`
	Threshold     float64              `json:"threshold"`
	Reached       bool                 `json:"reached"`
}

// Share returns the fraction of recorded votes cast for d.
func (c Consensus) Share(d VoteDecision) float64 {
	if c.VotesRecorded == 0 {
		return 0
	}
	return float64(c.Tally[d]) / float64(c.VotesRecorded)
}

type FinalizeTrigger string

const (
	FinalizeLastVote FinalizeTrigger = "last_vote"
	FinalizeDeadline FinalizeTrigger = "deadline"
)

// ReviewSession is the jury review of a single claim.
type ReviewSession struct {
	ID               string          `json:"id"`
	ClaimID          string          `json:"claim_id"`
	Jurors           []string        `json:"jurors"`
	Votes            []Vote          `json:"votes"`
	Deadline         time.Time       `json:"deadline"`
	Threshold        float64         `json:"threshold"`
	Status           SessionStatus   `json:"status"`
	FinalDecision    *VoteDecision   `json:"final_decision,omitempty"`
	Consensus        *Consensus      `json:"consensus,omitempty"`
	FinalizedBy      FinalizeTrigger `json:"finalized_by,omitempty"`
	EscalationReason string          `json:"escalation_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	FinalizedAt      *time.Time      `json:"finalized_at,omitempty"`
}

func (s *ReviewSession) IsAssigned(jurorID string) bool {
	for _, j := range s.Jurors {
		if j == jurorID {
			return true
		}
	}
	return false
}

func (s *ReviewSession) VoteOf(jurorID string) (Vote, bool) {
	for _, v := range s.Votes {
		if v.JurorID == jurorID {
			return v, true
		}
	}
	return Vote{}, false
}

func (s *ReviewSession) Clone() *ReviewSession {
	cp := *s
	cp.Jurors = append([]string(nil), s.Jurors...)
	cp.Votes = append([]Vote(nil), s.Votes...)
	if s.FinalDecision != nil {
		d := *s.FinalDecision
		cp.FinalDecision = &d
	}
	if s.Consensus != nil {
		c := *s.Consensus
		c.Tally = make(map[VoteDecision]int, len(s.Consensus.Tally))
		for k, v := range s.Consensus.Tally {
			c.Tally[k] = v
		}
		cp.Consensus = &c
	}
	if s.FinalizedAt != nil {
		t := *s.FinalizedAt
		cp.FinalizedAt = &t
	}
	return &cp
}
