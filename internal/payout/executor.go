package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/ledger"
	"claims_adjudicator/internal/repository"
	"claims_adjudicator/pkg/crypto"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FundReleaser returns an emergency reservation that was not paid out.
type FundReleaser interface {
	Release(ctx context.Context, claimID string, amount decimal.Decimal)
}

// Executor hands eligible decisions to the ledger and records the payout lifecycle.
type Executor struct {
	payouts repository.PayoutRepository
	ledger  ledger.Service
	signer  *crypto.Signer
	fund    FundReleaser
	clock   clock.Clock
	events  domain.EventSink
	logger  *slog.Logger
}

func NewExecutor(
	payouts repository.PayoutRepository,
	ledgerSvc ledger.Service,
	signer *crypto.Signer,
	fund FundReleaser,
	clk clock.Clock,
	events domain.EventSink,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if events == nil {
		events = domain.DiscardEvents{}
	}
	return &Executor{
		payouts: payouts,
		ledger:  ledgerSvc,
		signer:  signer,
		fund:    fund,
		clock:   clk,
		events:  events,
		logger:  logger,
	}
}

// Execute creates a PENDING payout for an eligible decision and settles it through the
// ledger. A ledger failure leaves the payout FAILED and is returned alongside it; a new
// Execute call for the same claim is the resubmission path.
func (x *Executor) Execute(ctx context.Context, decision domain.PayoutDecision) (*domain.Payout, error) {
	if !decision.Eligible {
		return nil, &domain.IneligibleError{Tier: decision.Tier, Reason: decision.Reason}
	}

	now := x.clock.Now()
	payout := &domain.Payout{
		ID:           uuid.NewString(),
		ClaimID:      decision.ClaimID,
		Beneficiary:  decision.Beneficiary,
		Amount:       decision.Amount,
		Tier:         decision.Tier,
		Status:       domain.PayoutPending,
		AuthorizedBy: decision.AuthorizedBy,
		Reason:       decision.Reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := x.payouts.Create(ctx, payout); err != nil {
		x.release(ctx, decision)
		return nil, fmt.Errorf("failed to create payout: %w", err)
	}

	instruction := ledger.Instruction{
		PayoutID:    payout.ID,
		ClaimID:     payout.ClaimID,
		Beneficiary: payout.Beneficiary,
		Amount:      payout.Amount,
		Timestamp:   now.Unix(),
	}
	if x.signer != nil {
		instruction.Signature = x.signer.SignInstruction(instruction.PayoutID, instruction.ClaimID,
			instruction.Beneficiary, instruction.Amount, instruction.Timestamp)
	}

	receipt, execErr := x.ledger.ExecutePayout(ctx, instruction)
	if execErr != nil {
		failed, err := x.payouts.Update(ctx, payout.ID, func(p *domain.Payout) error {
			return p.MarkFailed(execErr.Error(), x.clock.Now())
		})
		if err != nil {
			return nil, errors.Join(execErr, err)
		}
		x.release(ctx, decision)

		x.logger.ErrorContext(ctx, "Payout failed",
			slog.String("payout_id", failed.ID),
			slog.String("claim_id", failed.ClaimID),
			slog.String("tier", string(failed.Tier)),
			slog.String("error", execErr.Error()))
		x.events.Emit(ctx, domain.NewEvent(domain.EventPayoutFailed, failed.ClaimID, map[string]any{
			"payout_id": failed.ID,
			"claim_id":  failed.ClaimID,
			"reason":    execErr.Error(),
		}))
		return failed, fmt.Errorf("ledger execution failed: %w", execErr)
	}

	executed, err := x.payouts.Update(ctx, payout.ID, func(p *domain.Payout) error {
		return p.MarkExecuted(receipt.ID, receipt.ExecutedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record executed payout: %w", err)
	}

	x.logger.InfoContext(ctx, "Payout executed",
		slog.String("payout_id", executed.ID),
		slog.String("claim_id", executed.ClaimID),
		slog.String("tier", string(executed.Tier)),
		slog.String("amount", executed.Amount.StringFixed(2)),
		slog.String("receipt_id", executed.ReceiptID))
	x.events.Emit(ctx, domain.NewEvent(domain.EventPayoutExecuted, executed.ClaimID, map[string]any{
		"payout_id":  executed.ID,
		"claim_id":   executed.ClaimID,
		"tier":       string(executed.Tier),
		"amount":     executed.Amount.StringFixed(2),
		"receipt_id": executed.ReceiptID,
	}))

	return executed, nil
}

func (x *Executor) release(ctx context.Context, decision domain.PayoutDecision) {
	if decision.Tier == domain.TierEmergencyOverride && x.fund != nil {
		x.fund.Release(ctx, decision.ClaimID, decision.Amount)
	}
}
