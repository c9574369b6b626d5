package ledger

import (
	"context"

	"github.com/google/uuid"
)

// SortOrder selects the payment number ordering of a ledger listing
type SortOrder string

const (
	// SortAscending is replay order
	SortAscending SortOrder = "asc"
	// SortDescending lists the latest transaction first
	SortDescending SortOrder = "desc"
)

// InvoiceRepository reads and updates the ledger's view of invoices
type InvoiceRepository interface {
	// FindByIDForTenant finds an invoice by ID for a specific tenant.
	// Returns nil, nil when the invoice does not exist.
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)

	// FindByIDForUpdate is FindByIDForTenant holding a row lock until the
	// surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)

	// Save creates or fully updates an invoice
	Save(ctx context.Context, invoice *Invoice) error

	// SaveWithLock updates the ledger-owned fields with an optimistic version check
	SaveWithLock(ctx context.Context, invoice *Invoice) error
}

// PaymentTransactionRepository is the transaction store of invoice ledgers
type PaymentTransactionRepository interface {
	// ListByInvoice returns every transaction of an invoice ordered by payment number
	ListByInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID, order SortOrder) ([]*PaymentTransaction, error)

	// FindByIDForTenant finds a transaction by ID. Returns nil, nil when missing.
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*PaymentTransaction, error)

	// MaxPaymentNumber returns the highest payment number of an invoice, 0 if none
	MaxPaymentNumber(ctx context.Context, tenantID, invoiceID uuid.UUID) (int, error)

	// Insert persists a new transaction
	Insert(ctx context.Context, tx *PaymentTransaction) error

	// Update persists changes to an existing transaction
	Update(ctx context.Context, tx *PaymentTransaction) error

	// UpdateRemainingBalances rewrites the remaining balance snapshot of each transaction
	UpdateRemainingBalances(ctx context.Context, entries []LedgerEntry) error

	// Delete hard-deletes a transaction
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}
