package ledger

import (
	"time"

	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOverpaid      InvoiceStatus = "overpaid"
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"
	InvoiceStatusArchived      InvoiceStatus = "archived"
)

// IsValid checks if the status is valid
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPartiallyPaid,
		InvoiceStatusPaid, InvoiceStatusOverpaid, InvoiceStatusCancelled, InvoiceStatusArchived:
		return true
	}
	return false
}

// String returns the string representation
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsTerminal returns true for statuses the ledger never changes
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusCancelled || s == InvoiceStatusArchived
}

// IsSettled returns true if the balance has been fully covered
func (s InvoiceStatus) IsSettled() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusOverpaid
}

// CanAcceptTransactions returns true if new ledger rows may be recorded
func (s InvoiceStatus) CanAcceptTransactions() bool {
	return !s.IsTerminal()
}

// Invoice is the ledger's view of an invoice owned by the invoicing system.
// Only Status, PaidAt, PaidBy and LastPaymentNumber are written by the ledger.
type Invoice struct {
	shared.TenantAggregateRoot
	InvoiceNumber     string
	Currency          string
	Total             decimal.Decimal
	Status            InvoiceStatus
	PaidAt            *time.Time
	PaidBy            *uuid.UUID
	LastPaymentNumber int
}

// NewInvoice creates an invoice snapshot. Used by the invoicing sync path and tests.
func NewInvoice(tenantID uuid.UUID, number, currency string, total decimal.Decimal) (*Invoice, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if number == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot be empty")
	}
	if total.IsNegative() {
		return nil, shared.NewDomainError("INVALID_TOTAL", "Invoice total cannot be negative")
	}
	if currency == "" {
		currency = "USD"
	}

	return &Invoice{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		InvoiceNumber:       number,
		Currency:            currency,
		Total:               total,
		Status:              InvoiceStatusDraft,
	}, nil
}

// Reconcile replays txs against the invoice total.
func (i *Invoice) Reconcile(txs []*PaymentTransaction) Reconciliation {
	return Reconcile(i.Total, txs)
}

// EnsurePayable rejects cancelled and archived invoices.
func (i *Invoice) EnsurePayable() error {
	if !i.Status.CanAcceptTransactions() {
		return ErrInvoiceNotPayable(i.Status)
	}
	return nil
}

// ReservePaymentNumbers advances the payment number high-water mark to n.
func (i *Invoice) ReservePaymentNumbers(n int) {
	if n > i.LastPaymentNumber {
		i.LastPaymentNumber = n
	}
}

// DeriveStatus maps a reconciled ledger onto an invoice status.
// Cancelled and archived invoices keep their status.
func DeriveStatus(current InvoiceStatus, total decimal.Decimal, rec Reconciliation, txs []*PaymentTransaction) InvoiceStatus {
	if current.IsTerminal() {
		return current
	}
	if len(txs) == 0 {
		if current == InvoiceStatusDraft {
			return InvoiceStatusDraft
		}
		return InvoiceStatusSent
	}

	balance := rec.CurrentBalance
	switch {
	case !balance.IsPositive():
		if HasOverpaymentCredit(txs) {
			return InvoiceStatusOverpaid
		}
		return InvoiceStatusPaid
	case balance.LessThan(total):
		return InvoiceStatusPartiallyPaid
	default:
		return InvoiceStatusSent
	}
}

// ApplyLedger re-derives status and paid markers from the reconciled ledger.
// actor is recorded as PaidBy when the invoice becomes settled.
// Returns true when the status changed.
func (i *Invoice) ApplyLedger(rec Reconciliation, txs []*PaymentTransaction, actor *uuid.UUID) bool {
	if i.Status.IsTerminal() {
		return false
	}

	oldStatus := i.Status
	newStatus := DeriveStatus(oldStatus, i.Total, rec, txs)

	if newStatus.IsSettled() {
		if i.PaidAt == nil {
			now := time.Now()
			i.PaidAt = &now
		}
		if i.PaidBy == nil && actor != nil {
			paidBy := *actor
			i.PaidBy = &paidBy
		}
	} else {
		i.PaidAt = nil
		i.PaidBy = nil
	}

	i.Status = newStatus
	i.Touch()

	if oldStatus == newStatus {
		return false
	}
	i.AddDomainEvent(NewInvoiceStatusChangedEvent(i, oldStatus, newStatus, rec))
	return true
}

// AmountPaid is the net amount received: payments and deposits less refunds.
func AmountPaid(txs []*PaymentTransaction) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		switch tx.Type {
		case TransactionTypePayment, TransactionTypeDeposit:
			sum = sum.Add(tx.Amount)
		}
	}
	return sum.Sub(TotalRefunds(txs, nil))
}
