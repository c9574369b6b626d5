package ledger

import (
	"context"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/google/uuid"
)

// TransactionScope runs ledger writes atomically.
// Every repository handed to fn shares one database transaction, which is
// committed when fn returns nil and rolled back otherwise.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories gives access to the ledger repositories inside a transaction.
type TransactionalRepositories interface {
	InvoiceRepo() ledger.InvoiceRepository
	TransactionRepo() ledger.PaymentTransactionRepository
}

// InvoiceLocker serializes ledger writes per invoice.
// Lock blocks until the invoice is free or ctx is done; the returned
// function releases the lock and must always be called.
type InvoiceLocker interface {
	Lock(ctx context.Context, invoiceID uuid.UUID) (unlock func(), err error)
}

// NoOpTransactionScope runs fn directly against the given repositories.
// Used in tests and tools that do not need atomicity.
type NoOpTransactionScope struct {
	invoiceRepo ledger.InvoiceRepository
	txRepo      ledger.PaymentTransactionRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories.
func NewNoOpTransactionScope(invoiceRepo ledger.InvoiceRepository, txRepo ledger.PaymentTransactionRepository) *NoOpTransactionScope {
	return &NoOpTransactionScope{invoiceRepo: invoiceRepo, txRepo: txRepo}
}

// Execute runs the function without a real transaction.
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

func (s *NoOpTransactionScope) InvoiceRepo() ledger.InvoiceRepository                { return s.invoiceRepo }
func (s *NoOpTransactionScope) TransactionRepo() ledger.PaymentTransactionRepository { return s.txRepo }

var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
