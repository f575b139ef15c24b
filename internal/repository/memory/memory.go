package memory

import (
	"claims_adjudicator/internal/repository"
)

var (
	_ repository.ClaimRepository      = (*ClaimRepository)(nil)
	_ repository.AssessmentRepository = (*AssessmentRepository)(nil)
	_ repository.ValidatorRepository  = (*ValidatorRepository)(nil)
	_ repository.SessionRepository    = (*SessionRepository)(nil)
	_ repository.PayoutRepository     = (*PayoutRepository)(nil)
	_ repository.RuleRepository       = (*RuleRepository)(nil)
)
