package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPaymentTransactionRepository implements ledger.PaymentTransactionRepository using GORM
type GormPaymentTransactionRepository struct {
	db *gorm.DB
}

// NewGormPaymentTransactionRepository creates a new GormPaymentTransactionRepository
func NewGormPaymentTransactionRepository(db *gorm.DB) *GormPaymentTransactionRepository {
	return &GormPaymentTransactionRepository{db: db}
}

// ListByInvoice returns every transaction of an invoice ordered by payment number
func (r *GormPaymentTransactionRepository) ListByInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID, order ledger.SortOrder) ([]*ledger.PaymentTransaction, error) {
	direction := "ASC"
	if order == ledger.SortDescending {
		direction = "DESC"
	}

	var rows []models.PaymentTransactionModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND invoice_id = ?", tenantID, invoiceID).
		Order("payment_number " + direction).
		Order("created_at " + direction).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payment transactions: %w", err)
	}

	txs := make([]*ledger.PaymentTransaction, len(rows))
	for i := range rows {
		txs[i] = rows[i].ToDomain()
	}
	return txs, nil
}

// FindByIDForTenant finds a transaction by ID within a tenant
func (r *GormPaymentTransactionRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*ledger.PaymentTransaction, error) {
	var model models.PaymentTransactionModel
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load payment transaction: %w", err)
	}
	return model.ToDomain(), nil
}

// MaxPaymentNumber returns the highest payment number of an invoice, 0 if none
func (r *GormPaymentTransactionRepository) MaxPaymentNumber(ctx context.Context, tenantID, invoiceID uuid.UUID) (int, error) {
	var maxNumber int
	err := r.db.WithContext(ctx).
		Model(&models.PaymentTransactionModel{}).
		Where("tenant_id = ? AND invoice_id = ?", tenantID, invoiceID).
		Select("COALESCE(MAX(payment_number), 0)").
		Scan(&maxNumber).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read max payment number: %w", err)
	}
	return maxNumber, nil
}

// Insert persists a new transaction. A payment number already taken on the
// invoice surfaces as shared.ErrConcurrencyConflict.
func (r *GormPaymentTransactionRepository) Insert(ctx context.Context, tx *ledger.PaymentTransaction) error {
	model := models.PaymentTransactionModelFromDomain(tx)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrConcurrencyConflict
		}
		return fmt.Errorf("failed to insert payment transaction: %w", err)
	}
	return nil
}

// Update persists the mutable fields of an existing transaction
func (r *GormPaymentTransactionRepository) Update(ctx context.Context, tx *ledger.PaymentTransaction) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.PaymentTransactionModel{}).
		Where("tenant_id = ? AND id = ?", tx.TenantID, tx.ID).
		Updates(map[string]any{
			"type":              string(tx.Type),
			"amount":            tx.Amount,
			"date":              tx.Date,
			"method":            string(tx.Method),
			"memo":              tx.Memo,
			"remaining_balance": tx.RemainingBalance,
			"updated_at":        now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update payment transaction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ledger.ErrPaymentNotFound()
	}
	tx.UpdatedAt = now
	return nil
}

// UpdateRemainingBalances rewrites the remaining balance snapshot of each entry's transaction
func (r *GormPaymentTransactionRepository) UpdateRemainingBalances(ctx context.Context, entries []ledger.LedgerEntry) error {
	db := r.db.WithContext(ctx)
	for _, e := range entries {
		err := db.Model(&models.PaymentTransactionModel{}).
			Where("tenant_id = ? AND id = ?", e.Transaction.TenantID, e.Transaction.ID).
			UpdateColumn("remaining_balance", e.BalanceAfter).Error
		if err != nil {
			return fmt.Errorf("failed to update remaining balance of payment %d: %w", e.Transaction.PaymentNumber, err)
		}
		e.Transaction.RemainingBalance = e.BalanceAfter
	}
	return nil
}

// Delete hard-deletes a transaction
func (r *GormPaymentTransactionRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&models.PaymentTransactionModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete payment transaction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ledger.ErrPaymentNotFound()
	}
	return nil
}

var _ ledger.PaymentTransactionRepository = (*GormPaymentTransactionRepository)(nil)
