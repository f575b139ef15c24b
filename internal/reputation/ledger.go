// Package reputation maintains validator stake, reputation and slashing history.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"
	"claims_adjudicator/pkg/crypto"

	"github.com/shopspring/decimal"
)

type Config struct {
	MinimumStake           decimal.Decimal
	SlashReputationPenalty int
	RewardRate             float64
	PenaltyRate            float64
}

func DefaultConfig() Config {
	return Config{
		MinimumStake:           decimal.NewFromInt(1000),
		SlashReputationPenalty: 50,
		RewardRate:             0.05,
		PenaltyRate:            0.10,
	}
}

type Registration struct {
	ValidatorID     string
	Stake           decimal.Decimal
	CompletedRides  int
	Specializations []string
}

type SlashRequest struct {
	ValidatorID  string
	Percent      float64
	Reason       string
	Evidence     string
	AuthorizedBy string
}

// Adjustment records one reputation change applied after a session finalized.
type Adjustment struct {
	ValidatorID string `json:"validator_id"`
	Before      int    `json:"before"`
	After       int    `json:"after"`
	Matched     bool   `json:"matched"`
}

type Ledger struct {
	repo   repository.ValidatorRepository
	cfg    Config
	clock  clock.Clock
	events domain.EventSink
	logger *slog.Logger
}

func NewLedger(repo repository.ValidatorRepository, cfg Config, clk clock.Clock, events domain.EventSink, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if events == nil {
		events = domain.DiscardEvents{}
	}
	return &Ledger{repo: repo, cfg: cfg, clock: clk, events: events, logger: logger}
}

func (l *Ledger) MinimumStake() decimal.Decimal {
	return l.cfg.MinimumStake
}

// Register creates an active validator. No record is created when validation fails.
func (l *Ledger) Register(ctx context.Context, reg Registration) (*domain.Validator, error) {
	if strings.TrimSpace(reg.ValidatorID) == "" {
		return nil, domain.NewValidationError("validator_id", "is required")
	}
	if reg.Stake.LessThan(l.cfg.MinimumStake) {
		return nil, domain.NewValidationError("stake", fmt.Sprintf("must be at least %s", l.cfg.MinimumStake))
	}
	if reg.CompletedRides < 0 {
		return nil, domain.NewValidationError("completed_rides", "must not be negative")
	}

	validator := &domain.Validator{
		ID:              reg.ValidatorID,
		Stake:           reg.Stake,
		Reputation:      domain.InitialReputation,
		CompletedRides:  reg.CompletedRides,
		Specializations: reg.Specializations,
		Active:          true,
		RegisteredAt:    l.clock.Now(),
	}
	if err := l.repo.Create(ctx, validator); err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Validator registered",
		slog.String("validator_id", validator.ID),
		slog.String("stake", validator.Stake.String()))

	return validator, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*domain.Validator, error) {
	return l.repo.GetByID(ctx, id)
}

func (l *Ledger) List(ctx context.Context) ([]*domain.Validator, error) {
	return l.repo.List(ctx)
}

func (l *Ledger) AddStake(ctx context.Context, id string, amount decimal.Decimal) (*domain.Validator, error) {
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	return l.repo.Update(ctx, id, func(v *domain.Validator) error {
		v.Stake = v.Stake.Add(amount)
		return nil
	})
}

// WithdrawStake releases part of the bond. A validator left below the minimum stake is deactivated.
func (l *Ledger) WithdrawStake(ctx context.Context, id string, amount decimal.Decimal) (*domain.Validator, error) {
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be positive")
	}

	validator, err := l.repo.Update(ctx, id, func(v *domain.Validator) error {
		if amount.GreaterThan(v.Stake) {
			return fmt.Errorf("%w: validator %s has %s staked", domain.ErrInsufficientFunds, v.ID, v.Stake)
		}
		v.Stake = v.Stake.Sub(amount)
		if v.Stake.LessThan(l.cfg.MinimumStake) {
			v.Active = false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !validator.Active {
		l.logger.InfoContext(ctx, "Validator deactivated below minimum stake",
			slog.String("validator_id", id),
			slog.String("stake", validator.Stake.String()))
	}
	return validator, nil
}

func (l *Ledger) Deactivate(ctx context.Context, id, reason string) (*domain.Validator, error) {
	validator, err := l.repo.Update(ctx, id, func(v *domain.Validator) error {
		v.Active = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.InfoContext(ctx, "Validator deactivated",
		slog.String("validator_id", id),
		slog.String("reason", reason))
	return validator, nil
}

func (l *Ledger) Reactivate(ctx context.Context, id string) (*domain.Validator, error) {
	return l.repo.Update(ctx, id, func(v *domain.Validator) error {
		if v.Stake.LessThan(l.cfg.MinimumStake) {
			return domain.NewValidationError("stake", fmt.Sprintf("must be at least %s to reactivate", l.cfg.MinimumStake))
		}
		v.Active = true
		return nil
	})
}

// Slash burns a fraction of the validator's stake and a fixed reputation penalty.
// The slash starts the cooling-off period and is recorded in the append-only history.
func (l *Ledger) Slash(ctx context.Context, req SlashRequest) (*domain.Validator, error) {
	if req.Percent <= 0 || req.Percent > 1 || math.IsNaN(req.Percent) {
		return nil, domain.NewValidationError("percent", "must be in (0, 1]")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}

	now := l.clock.Now()
	var record domain.SlashRecord
	validator, err := l.repo.Update(ctx, req.ValidatorID, func(v *domain.Validator) error {
		burned := v.Stake.Mul(decimal.NewFromFloat(req.Percent)).Round(2)
		record = domain.SlashRecord{
			At:               now,
			Percent:          req.Percent,
			StakeBefore:      v.Stake,
			StakeAfter:       decimal.Max(v.Stake.Sub(burned), decimal.Zero),
			ReputationBefore: v.Reputation,
			ReputationAfter:  domain.ClampReputation(v.Reputation - l.cfg.SlashReputationPenalty),
			Reason:           req.Reason,
			Evidence:         req.Evidence,
			AuthorizedBy:     req.AuthorizedBy,
		}
		record.EvidenceDigest = crypto.EvidenceDigest(v.ID, req.Reason, req.Evidence, now.UTC().Format(time.RFC3339Nano))

		v.Stake = record.StakeAfter
		v.Reputation = record.ReputationAfter
		v.LastSlashAt = &now
		v.Slashes = append(v.Slashes, record)
		if v.Stake.LessThan(l.cfg.MinimumStake) {
			v.Active = false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.WarnContext(ctx, "Validator slashed",
		slog.String("validator_id", validator.ID),
		slog.String("reason", record.Reason),
		slog.String("evidence", record.Evidence),
		slog.String("evidence_digest", record.EvidenceDigest),
		slog.String("authorized_by", record.AuthorizedBy),
		slog.Float64("percent", record.Percent),
		slog.String("stake_before", record.StakeBefore.String()),
		slog.String("stake_after", record.StakeAfter.String()),
		slog.Int("reputation_before", record.ReputationBefore),
		slog.Int("reputation_after", record.ReputationAfter),
		slog.Bool("active", validator.Active))

	l.events.Emit(ctx, domain.NewEvent(domain.EventValidatorSlashed, validator.ID, map[string]any{
		"validator_id":    validator.ID,
		"percent":         record.Percent,
		"stake_after":     record.StakeAfter.String(),
		"reputation":      record.ReputationAfter,
		"evidence_digest": record.EvidenceDigest,
	}))

	return validator, nil
}

// ApplyVoteOutcomes rewards jurors whose vote matched the final decision and penalizes the rest.
// Each juror is updated atomically. Failures for one juror do not stop the others.
func (l *Ledger) ApplyVoteOutcomes(ctx context.Context, sessionID string, final domain.VoteDecision, votes []domain.Vote) ([]Adjustment, error) {
	adjustments := make([]Adjustment, 0, len(votes))
	var errs []error

	for _, vote := range votes {
		matched := vote.Decision == final
		castAt := vote.CastAt
		var adj Adjustment

		_, err := l.repo.Update(ctx, vote.JurorID, func(v *domain.Validator) error {
			adj = Adjustment{ValidatorID: v.ID, Before: v.Reputation, Matched: matched}
			if matched {
				v.Reputation = domain.ClampReputation(v.Reputation + delta(v.Reputation, l.cfg.RewardRate))
				v.CorrectVotes++
			} else {
				v.Reputation = domain.ClampReputation(v.Reputation - delta(v.Reputation, l.cfg.PenaltyRate))
			}
			v.TotalVotes++
			if v.LastVoteAt == nil || castAt.After(*v.LastVoteAt) {
				v.LastVoteAt = &castAt
			}
			adj.After = v.Reputation
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("juror %s: %w", vote.JurorID, err))
			continue
		}
		adjustments = append(adjustments, adj)

		if matched {
			l.logger.InfoContext(ctx, "Juror rewarded",
				slog.String("session_id", sessionID),
				slog.String("validator_id", adj.ValidatorID),
				slog.Int("reputation_before", adj.Before),
				slog.Int("reputation_after", adj.After))
		} else {
			l.logger.WarnContext(ctx, "Juror penalized",
				slog.String("session_id", sessionID),
				slog.String("validator_id", adj.ValidatorID),
				slog.String("vote", string(vote.Decision)),
				slog.String("final_decision", string(final)),
				slog.String("reasoning", vote.Reasoning),
				slog.Int("reputation_before", adj.Before),
				slog.Int("reputation_after", adj.After))
		}
	}

	return adjustments, errors.Join(errs...)
}

func delta(reputation int, rate float64) int {
	return int(math.Round(float64(reputation) * rate))
}
