package persistence

import (
	"context"

	appledger "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"gorm.io/gorm"
)

// GormTransactionScope runs ledger writes in one GORM transaction.
// If fn returns an error the transaction is rolled back.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs fn with repositories bound to a fresh transaction
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appledger.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

type gormTransactionalRepositories struct {
	tx *gorm.DB
}

func (r *gormTransactionalRepositories) InvoiceRepo() ledger.InvoiceRepository {
	return NewGormInvoiceRepository(r.tx)
}

func (r *gormTransactionalRepositories) TransactionRepo() ledger.PaymentTransactionRepository {
	return NewGormPaymentTransactionRepository(r.tx)
}

var (
	_ appledger.TransactionScope          = (*GormTransactionScope)(nil)
	_ appledger.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
)
