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
	"gorm.io/gorm/clause"
)

// GormInvoiceRepository implements ledger.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// FindByIDForTenant finds an invoice by ID within a tenant
func (r *GormInvoiceRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Invoice, error) {
	return r.find(r.db.WithContext(ctx), tenantID, id)
}

// FindByIDForUpdate finds an invoice and holds a row lock on it until the
// surrounding transaction ends. sqlite has no row locks; its single writer
// connection gives the same guarantee.
func (r *GormInvoiceRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Invoice, error) {
	q := r.db.WithContext(ctx)
	if q.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.find(q, tenantID, id)
}

func (r *GormInvoiceRepository) find(q *gorm.DB, tenantID, id uuid.UUID) (*ledger.Invoice, error) {
	var model models.InvoiceModel
	if err := q.Where("tenant_id = ? AND id = ?", tenantID, id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	return model.ToDomain(), nil
}

// Save creates or fully updates an invoice
func (r *GormInvoiceRepository) Save(ctx context.Context, invoice *ledger.Invoice) error {
	model := models.InvoiceModelFromDomain(invoice)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

// SaveWithLock writes the ledger-owned columns if the stored version still
// matches invoice.Version, then advances the in-memory version.
// Returns shared.ErrConcurrencyConflict if another writer got there first.
func (r *GormInvoiceRepository) SaveWithLock(ctx context.Context, invoice *ledger.Invoice) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("tenant_id = ? AND id = ? AND version = ?", invoice.TenantID, invoice.ID, invoice.Version).
		Updates(map[string]any{
			"status":              string(invoice.Status),
			"paid_at":             invoice.PaidAt,
			"paid_by":             invoice.PaidBy,
			"last_payment_number": invoice.LastPaymentNumber,
			"version":             invoice.Version + 1,
			"updated_at":          now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update invoice: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}

	invoice.IncrementVersion()
	invoice.UpdatedAt = now
	return nil
}

var _ ledger.InvoiceRepository = (*GormInvoiceRepository)(nil)
