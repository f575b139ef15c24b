// Package postgres persists payouts through GORM.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type payoutModel struct {
	PayoutID      string          `gorm:"column:payout_id;primaryKey"`
	ClaimID       string          `gorm:"column:claim_id"`
	Beneficiary   string          `gorm:"column:beneficiary"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(20,2)"`
	Tier          string          `gorm:"column:tier"`
	Status        string          `gorm:"column:status"`
	AuthorizedBy  string          `gorm:"column:authorized_by"`
	Reason        string          `gorm:"column:reason"`
	ReceiptID     string          `gorm:"column:receipt_id"`
	FailureReason string          `gorm:"column:failure_reason"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
	ExecutedAt    *time.Time      `gorm:"column:executed_at"`
	FailedAt      *time.Time      `gorm:"column:failed_at"`
}

func (payoutModel) TableName() string { return "payouts" }

type PayoutRepository struct {
	db *gorm.DB
}

func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// Create inserts the payout after checking for a live payout under a row lock.
// The partial unique index on (claim_id) backs the same rule across replicas.
func (r *PayoutRepository) Create(ctx context.Context, payout *domain.Payout) error {
	rec := toPayoutModel(payout)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var live []payoutModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("claim_id = ?", payout.ClaimID).
			Where("status IN ?", []string{string(domain.PayoutPending), string(domain.PayoutExecuted)}).
			Find(&live).Error; err != nil {
			return err
		}
		if len(live) > 0 {
			return fmt.Errorf("%w: claim %s already has %s payout %s",
				repository.ErrDuplicate, payout.ClaimID, live[0].Status, live[0].PayoutID)
		}
		return tx.Create(&rec).Error
	})
	return translate(err, "payout "+payout.ID)
}

func (r *PayoutRepository) GetByID(ctx context.Context, id string) (*domain.Payout, error) {
	var rec payoutModel
	if err := r.db.WithContext(ctx).Where("payout_id = ?", id).Take(&rec).Error; err != nil {
		return nil, translate(err, "payout "+id)
	}
	return rec.toDomain(), nil
}

func (r *PayoutRepository) GetByClaim(ctx context.Context, claimID string) ([]*domain.Payout, error) {
	var rows []payoutModel
	if err := r.db.WithContext(ctx).
		Where("claim_id = ?", claimID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, translate(err, "payouts for claim "+claimID)
	}

	result := make([]*domain.Payout, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (r *PayoutRepository) Update(ctx context.Context, id string, fn func(*domain.Payout) error) (*domain.Payout, error) {
	var updated *domain.Payout
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec payoutModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payout_id = ?", id).
			Take(&rec).Error; err != nil {
			return err
		}

		payout := rec.toDomain()
		if err := fn(payout); err != nil {
			return err
		}
		next := toPayoutModel(payout)
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		updated = payout
		return nil
	})
	if err != nil {
		return nil, translate(err, "payout "+id)
	}
	return updated, nil
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", repository.ErrNotFound, what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s", repository.ErrDuplicate, what)
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		return err
	default:
		return fmt.Errorf("postgres %s: %w", what, err)
	}
}

func toPayoutModel(p *domain.Payout) payoutModel {
	return payoutModel{
		PayoutID:      p.ID,
		ClaimID:       p.ClaimID,
		Beneficiary:   p.Beneficiary,
		Amount:        p.Amount,
		Tier:          string(p.Tier),
		Status:        string(p.Status),
		AuthorizedBy:  p.AuthorizedBy,
		Reason:        p.Reason,
		ReceiptID:     p.ReceiptID,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		ExecutedAt:    p.ExecutedAt,
		FailedAt:      p.FailedAt,
	}
}

func (m payoutModel) toDomain() *domain.Payout {
	return &domain.Payout{
		ID:            m.PayoutID,
		ClaimID:       m.ClaimID,
		Beneficiary:   m.Beneficiary,
		Amount:        m.Amount,
		Tier:          domain.TriggerTier(m.Tier),
		Status:        domain.PayoutStatus(m.Status),
		AuthorizedBy:  m.AuthorizedBy,
		Reason:        m.Reason,
		ReceiptID:     m.ReceiptID,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		ExecutedAt:    m.ExecutedAt,
		FailedAt:      m.FailedAt,
	}
}

var _ repository.PayoutRepository = (*PayoutRepository)(nil)
