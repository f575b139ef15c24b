// Package jury selects eligible, diverse juror panels for community review.
package jury

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"

	"github.com/shopspring/decimal"
)

// ClaimLookup reports whether a juror has claims of their own awaiting resolution.
type ClaimLookup interface {
	HasUnresolvedClaims(ctx context.Context, validatorID string, since time.Time) (bool, error)
}

// RelationshipLookup reports prior transaction history between two parties.
type RelationshipLookup interface {
	SharedHistory(ctx context.Context, a, b string) (bool, error)
}

type Config struct {
	ReputationFloor  int
	MinimumStake     decimal.Decimal
	RideFloor        int
	UnresolvedWindow time.Duration
	CoolingOff       time.Duration
	DefaultPanelSize int
	MinPanelSize     int
	MaxPanelSize     int
	DiversityBand    int
}

func DefaultConfig() Config {
	return Config{
		ReputationFloor:  750,
		MinimumStake:     decimal.NewFromInt(1000),
		RideFloor:        50,
		UnresolvedWindow: 90 * 24 * time.Hour,
		CoolingOff:       30 * 24 * time.Hour,
		DefaultPanelSize: 5,
		MinPanelSize:     3,
		MaxPanelSize:     7,
		DiversityBand:    100,
	}
}

type Request struct {
	Claim          *domain.Claim
	PanelSize      int
	Specialization string
}

type Candidate struct {
	ValidatorID string  `json:"validator_id"`
	Score       float64 `json:"score"`
	Reputation  int     `json:"reputation"`
	Specialist  bool    `json:"specialist"`
}

type Panel struct {
	ClaimID  string      `json:"claim_id"`
	Jurors   []string    `json:"jurors"`
	Selected []Candidate `json:"selected"`
	Eligible int         `json:"eligible"`
}

type Selector struct {
	validators    repository.ValidatorRepository
	claims        ClaimLookup
	relationships RelationshipLookup
	cfg           Config
	clock         clock.Clock
	logger        *slog.Logger
}

func NewSelector(
	validators repository.ValidatorRepository,
	claims ClaimLookup,
	relationships RelationshipLookup,
	cfg Config,
	clk clock.Clock,
	logger *slog.Logger,
) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Selector{
		validators:    validators,
		claims:        claims,
		relationships: relationships,
		cfg:           cfg,
		clock:         clk,
		logger:        logger,
	}
}

// Select returns a ranked panel. It fails with ErrInsufficientJurors when fewer than
// the minimum panel size are eligible.
func (s *Selector) Select(ctx context.Context, req Request) (*Panel, error) {
	if req.Claim == nil {
		return nil, domain.NewValidationError("claim", "is required")
	}
	size := req.PanelSize
	if size == 0 {
		size = s.cfg.DefaultPanelSize
	}
	if size < s.cfg.MinPanelSize || size > s.cfg.MaxPanelSize {
		return nil, domain.NewValidationError("panel_size",
			fmt.Sprintf("must be between %d and %d", s.cfg.MinPanelSize, s.cfg.MaxPanelSize))
	}

	active, err := s.validators.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list validators: %w", err)
	}

	var candidates []Candidate
	for _, v := range active {
		ok, err := s.eligible(ctx, v, req.Claim)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			ValidatorID: v.ID,
			Score:       s.rank(v),
			Reputation:  v.Reputation,
			Specialist:  req.Specialization != "" && v.HasSpecialization(req.Specialization),
		})
	}

	if len(candidates) < s.cfg.MinPanelSize {
		s.logger.WarnContext(ctx, "Juror selection failed",
			slog.String("claim_id", req.Claim.ID),
			slog.Int("eligible", len(candidates)),
			slog.Int("required", s.cfg.MinPanelSize))
		return nil, fmt.Errorf("%w: claim %s has %d eligible, need %d",
			domain.ErrInsufficientJurors, req.Claim.ID, len(candidates), s.cfg.MinPanelSize)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Specialist != b.Specialist {
			return a.Specialist
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ValidatorID < b.ValidatorID
	})

	selected := s.diversify(candidates, size)
	panel := &Panel{
		ClaimID:  req.Claim.ID,
		Selected: selected,
		Eligible: len(candidates),
	}
	for _, c := range selected {
		panel.Jurors = append(panel.Jurors, c.ValidatorID)
	}

	s.logger.InfoContext(ctx, "Jury panel selected",
		slog.String("claim_id", req.Claim.ID),
		slog.Int("panel_size", len(panel.Jurors)),
		slog.Int("eligible", panel.Eligible))

	return panel, nil
}

// diversify fills the panel in rank order, skipping a candidate when more than
// size/3 already-selected jurors sit within the reputation band around them.
// Skipped candidates backfill any remaining seats in rank order.
func (s *Selector) diversify(ranked []Candidate, size int) []Candidate {
	limit := size / 3
	selected := make([]Candidate, 0, size)
	var skipped []Candidate

	for _, c := range ranked {
		if len(selected) == size {
			break
		}
		near := 0
		for _, p := range selected {
			if abs(p.Reputation-c.Reputation) <= s.cfg.DiversityBand {
				near++
			}
		}
		if near > limit {
			skipped = append(skipped, c)
			continue
		}
		selected = append(selected, c)
	}

	for _, c := range skipped {
		if len(selected) == size {
			break
		}
		selected = append(selected, c)
	}
	return selected
}

func (s *Selector) eligible(ctx context.Context, v *domain.Validator, claim *domain.Claim) (bool, error) {
	if !v.Active ||
		v.Reputation < s.cfg.ReputationFloor ||
		v.Stake.LessThan(s.cfg.MinimumStake) ||
		v.CompletedRides < s.cfg.RideFloor {
		return false, nil
	}

	now := s.clock.Now()
	if v.LastSlashAt != nil && now.Sub(*v.LastSlashAt) < s.cfg.CoolingOff {
		return false, nil
	}

	if v.ID == claim.ClaimantID || (claim.CounterpartyID != "" && v.ID == claim.CounterpartyID) {
		return false, nil
	}

	if s.claims != nil {
		unresolved, err := s.claims.HasUnresolvedClaims(ctx, v.ID, now.Add(-s.cfg.UnresolvedWindow))
		if err != nil {
			return false, fmt.Errorf("failed to check claims of validator %s: %w", v.ID, err)
		}
		if unresolved {
			return false, nil
		}
	}

	if s.relationships != nil {
		for _, party := range []string{claim.ClaimantID, claim.CounterpartyID} {
			if party == "" {
				continue
			}
			shared, err := s.relationships.SharedHistory(ctx, v.ID, party)
			if err != nil {
				return false, fmt.Errorf("failed to check relationships of validator %s: %w", v.ID, err)
			}
			if shared {
				return false, nil
			}
		}
	}

	return true, nil
}

// rank is 0.4 reputation + 0.3 accuracy + 0.3 stake, each normalized to [0,1].
func (s *Selector) rank(v *domain.Validator) float64 {
	stakeRatio := 0.0
	if stakeCap := s.cfg.MinimumStake.Mul(decimal.NewFromInt(5)); stakeCap.IsPositive() {
		stakeRatio = math.Min(v.Stake.Div(stakeCap).InexactFloat64(), 1)
	}
	return 0.4*(float64(v.Reputation)/domain.MaxReputation) + 0.3*v.Accuracy() + 0.3*stakeRatio
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
