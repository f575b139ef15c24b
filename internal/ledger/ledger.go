// Package ledger is the settlement collaborator that executes approved payouts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"claims_adjudicator/pkg/crypto"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrRejected = errors.New("ledger rejected payout")

// Instruction asks the ledger to transfer Amount to Beneficiary for the referenced claim.
type Instruction struct {
	PayoutID    string
	ClaimID     string
	Beneficiary string
	Amount      decimal.Decimal
	Timestamp   int64
	Signature   string
}

type Receipt struct {
	ID         string
	PayoutID   string
	ExecutedAt time.Time
}

type Service interface {
	ExecutePayout(ctx context.Context, in Instruction) (Receipt, error)
}

// Memory is an in-process ledger. When a verifier is set, instructions with a bad
// signature are rejected.
type Memory struct {
	mu       sync.Mutex
	verifier *crypto.Signer
	fail     error
	executed map[string]Receipt
	log      []Instruction
}

func NewMemory(verifier *crypto.Signer) *Memory {
	return &Memory{
		verifier: verifier,
		executed: make(map[string]Receipt),
	}
}

// FailWith makes subsequent executions return err. A nil err restores normal operation.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *Memory) ExecutePayout(ctx context.Context, in Instruction) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return Receipt{}, m.fail
	}
	if in.Beneficiary == "" || !in.Amount.IsPositive() {
		return Receipt{}, fmt.Errorf("%w: beneficiary and positive amount required", ErrRejected)
	}
	if m.verifier != nil {
		if err := m.verifier.VerifyInstruction(in.PayoutID, in.ClaimID, in.Beneficiary, in.Amount, in.Timestamp, in.Signature); err != nil {
			return Receipt{}, fmt.Errorf("%w: %v for payout %s", ErrRejected, err, in.PayoutID)
		}
	}
	if receipt, ok := m.executed[in.PayoutID]; ok {
		return receipt, nil
	}

	receipt := Receipt{
		ID:         uuid.NewString(),
		PayoutID:   in.PayoutID,
		ExecutedAt: time.Now().UTC(),
	}
	m.executed[in.PayoutID] = receipt
	m.log = append(m.log, in)
	return receipt, nil
}

// Executed returns the instructions settled so far, in order.
func (m *Memory) Executed() []Instruction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Instruction(nil), m.log...)
}
