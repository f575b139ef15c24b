// Package emergency tracks the emergency fund and evaluates crisis conditions.
package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/domain"

	"github.com/shopspring/decimal"
)

// ClaimStats supplies pool-wide claim statistics.
type ClaimStats interface {
	PendingAmount(ctx context.Context) (decimal.Decimal, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

type Config struct {
	TotalCapacity        decimal.Decimal
	UtilizationThreshold float64
	MassEventThreshold   int
	MassEventWindow      time.Duration
	LiquidityFloor       float64
}

func DefaultConfig() Config {
	return Config{
		TotalCapacity:        decimal.NewFromInt(1_000_000),
		UtilizationThreshold: 0.80,
		MassEventThreshold:   50,
		MassEventWindow:      24 * time.Hour,
		LiquidityFloor:       0.10,
	}
}

type Monitor struct {
	mu     sync.Mutex
	fund   domain.EmergencyFund
	stats  ClaimStats
	cfg    Config
	clock  clock.Clock
	events domain.EventSink
	logger *slog.Logger
}

func NewMonitor(stats ClaimStats, cfg Config, clk clock.Clock, events domain.EventSink, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if events == nil {
		events = domain.DiscardEvents{}
	}
	return &Monitor{
		fund: domain.EmergencyFund{
			TotalCapacity: cfg.TotalCapacity,
			Available:     cfg.TotalCapacity,
		},
		stats:  stats,
		cfg:    cfg,
		clock:  clk,
		events: events,
		logger: logger,
	}
}

// Evaluate recomputes crisis status from current claim statistics and fund liquidity.
func (m *Monitor) Evaluate(ctx context.Context) (domain.CrisisStatus, error) {
	pending, err := m.stats.PendingAmount(ctx)
	if err != nil {
		return domain.CrisisStatus{}, fmt.Errorf("failed to read pending claims: %w", err)
	}
	now := m.clock.Now()
	recent, err := m.stats.CountSince(ctx, now.Add(-m.cfg.MassEventWindow))
	if err != nil {
		return domain.CrisisStatus{}, fmt.Errorf("failed to count recent claims: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	status := m.evaluateLocked(pending, recent, now)
	if status.CrisisActive != m.fund.CrisisActive {
		m.logger.WarnContext(ctx, "Emergency crisis status changed",
			slog.Bool("crisis_active", status.CrisisActive),
			slog.Float64("pool_utilization", status.PoolUtilization),
			slog.Int("recent_claims", status.RecentClaims),
			slog.Float64("liquidity_ratio", status.LiquidityRatio))
	}
	m.fund.CrisisActive = status.CrisisActive
	m.fund.LastEvaluatedAt = now

	return status, nil
}

func (m *Monitor) evaluateLocked(pending decimal.Decimal, recent int, now time.Time) domain.CrisisStatus {
	status := domain.CrisisStatus{
		RecentClaims: recent,
		Available:    m.fund.Available,
		EvaluatedAt:  now,
	}
	if m.fund.TotalCapacity.IsPositive() {
		status.PoolUtilization = pending.Div(m.fund.TotalCapacity).InexactFloat64()
		status.LiquidityRatio = m.fund.Available.Div(m.fund.TotalCapacity).InexactFloat64()
	}

	status.UtilizationTripped = status.PoolUtilization > m.cfg.UtilizationThreshold
	status.MassEventTripped = recent > m.cfg.MassEventThreshold
	status.LiquidityTripped = status.LiquidityRatio < m.cfg.LiquidityFloor
	status.CrisisActive = status.UtilizationTripped || status.MassEventTripped || status.LiquidityTripped
	return status
}

// Reserve debits amount from the available fund. It requires an active crisis at the
// moment of the call and fails with ErrInsufficientFunds when the fund cannot cover it.
func (m *Monitor) Reserve(ctx context.Context, claimID string, amount decimal.Decimal) (domain.CrisisStatus, error) {
	if !amount.IsPositive() {
		return domain.CrisisStatus{}, domain.NewValidationError("amount", "must be positive")
	}

	status, err := m.Evaluate(ctx)
	if err != nil {
		return domain.CrisisStatus{}, err
	}
	if !status.CrisisActive {
		return status, &domain.IneligibleError{Tier: domain.TierEmergencyOverride, Reason: "emergency conditions not met"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if amount.GreaterThan(m.fund.Available) {
		return status, fmt.Errorf("%w: emergency fund has %s available, %s requested",
			domain.ErrInsufficientFunds, m.fund.Available.StringFixed(2), amount.StringFixed(2))
	}

	now := m.clock.Now()
	m.fund.Available = m.fund.Available.Sub(amount)
	m.fund.LastActivationAt = &now
	status.Available = m.fund.Available

	m.logger.WarnContext(ctx, "Emergency fund reserved",
		slog.String("claim_id", claimID),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("available", m.fund.Available.StringFixed(2)))
	m.events.Emit(ctx, domain.NewEvent(domain.EventEmergencyReserved, claimID, map[string]any{
		"claim_id":  claimID,
		"amount":    amount.StringFixed(2),
		"available": m.fund.Available.StringFixed(2),
	}))

	return status, nil
}

// Release returns a reservation that was not paid out. Available never exceeds capacity.
func (m *Monitor) Release(ctx context.Context, claimID string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fund.Available = decimal.Min(m.fund.Available.Add(amount), m.fund.TotalCapacity)

	m.logger.InfoContext(ctx, "Emergency reservation released",
		slog.String("claim_id", claimID),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("available", m.fund.Available.StringFixed(2)))
}

// TopUp adds external capital to the fund, raising both capacity and availability.
func (m *Monitor) TopUp(ctx context.Context, amount decimal.Decimal) (domain.EmergencyFund, error) {
	if !amount.IsPositive() {
		return domain.EmergencyFund{}, domain.NewValidationError("amount", "must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fund.TotalCapacity = m.fund.TotalCapacity.Add(amount)
	m.fund.Available = m.fund.Available.Add(amount)

	m.logger.InfoContext(ctx, "Emergency fund topped up",
		slog.String("amount", amount.StringFixed(2)),
		slog.String("total_capacity", m.fund.TotalCapacity.StringFixed(2)))

	return m.snapshotLocked(), nil
}

func (m *Monitor) Snapshot() domain.EmergencyFund {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() domain.EmergencyFund {
	fund := m.fund
	if m.fund.LastActivationAt != nil {
		t := *m.fund.LastActivationAt
		fund.LastActivationAt = &t
	}
	return fund
}
