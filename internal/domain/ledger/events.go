package ledger

import (
	"time"

	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type names
const (
	EventTypePaymentRecorded      = "PaymentRecorded"
	EventTypePaymentUpdated       = "PaymentUpdated"
	EventTypePaymentDeleted       = "PaymentDeleted"
	EventTypeInvoiceStatusChanged = "InvoiceStatusChanged"

	AggregateTypeInvoice = "Invoice"
)

// PaymentRecordedEvent is raised when a transaction is added to an invoice ledger
type PaymentRecordedEvent struct {
	shared.BaseDomainEvent
	InvoiceID        uuid.UUID       `json:"invoice_id"`
	TransactionID    uuid.UUID       `json:"transaction_id"`
	TransactionType  TransactionType `json:"transaction_type"`
	PaymentNumber    int             `json:"payment_number"`
	Amount           decimal.Decimal `json:"amount"`
	Method           PaymentMethod   `json:"method"`
	CreditID         *uuid.UUID      `json:"credit_id,omitempty"`
	CreditAmount     decimal.Decimal `json:"credit_amount"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	AvailableCredits decimal.Decimal `json:"available_credits"`
}

// EventType returns the event type name
func (e *PaymentRecordedEvent) EventType() string {
	return EventTypePaymentRecorded
}

// IsOverpayment reports whether the payment produced an overpayment credit.
func (e *PaymentRecordedEvent) IsOverpayment() bool {
	return e.CreditID != nil
}

// NewPaymentRecordedEvent creates a new PaymentRecordedEvent
func NewPaymentRecordedEvent(inv *Invoice, tx, credit *PaymentTransaction, rec Reconciliation) *PaymentRecordedEvent {
	e := &PaymentRecordedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypePaymentRecorded, AggregateTypeInvoice, inv.ID, inv.TenantID),
		InvoiceID:        inv.ID,
		TransactionID:    tx.ID,
		TransactionType:  tx.Type,
		PaymentNumber:    tx.PaymentNumber,
		Amount:           tx.Amount,
		Method:           tx.Method,
		CreditAmount:     decimal.Zero,
		CurrentBalance:   rec.CurrentBalance,
		AvailableCredits: rec.AvailableCredits,
	}
	if credit != nil {
		creditID := credit.ID
		e.CreditID = &creditID
		e.CreditAmount = credit.Amount
	}
	return e
}

// PaymentUpdatedEvent is raised when a transaction is edited
type PaymentUpdatedEvent struct {
	shared.BaseDomainEvent
	InvoiceID       uuid.UUID       `json:"invoice_id"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
	TransactionType TransactionType `json:"transaction_type"`
	OldAmount       decimal.Decimal `json:"old_amount"`
	NewAmount       decimal.Decimal `json:"new_amount"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
}

// EventType returns the event type name
func (e *PaymentUpdatedEvent) EventType() string {
	return EventTypePaymentUpdated
}

// NewPaymentUpdatedEvent creates a new PaymentUpdatedEvent
func NewPaymentUpdatedEvent(inv *Invoice, tx *PaymentTransaction, oldAmount decimal.Decimal, rec Reconciliation) *PaymentUpdatedEvent {
	return &PaymentUpdatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentUpdated, AggregateTypeInvoice, inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		TransactionID:   tx.ID,
		TransactionType: tx.Type,
		OldAmount:       oldAmount,
		NewAmount:       tx.Amount,
		CurrentBalance:  rec.CurrentBalance,
	}
}

// PaymentDeletedEvent is raised when a transaction is removed from a ledger
type PaymentDeletedEvent struct {
	shared.BaseDomainEvent
	InvoiceID       uuid.UUID       `json:"invoice_id"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
	TransactionType TransactionType `json:"transaction_type"`
	PaymentNumber   int             `json:"payment_number"`
	Amount          decimal.Decimal `json:"amount"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
}

// EventType returns the event type name
func (e *PaymentDeletedEvent) EventType() string {
	return EventTypePaymentDeleted
}

// NewPaymentDeletedEvent creates a new PaymentDeletedEvent
func NewPaymentDeletedEvent(inv *Invoice, tx *PaymentTransaction, rec Reconciliation) *PaymentDeletedEvent {
	return &PaymentDeletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentDeleted, AggregateTypeInvoice, inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		TransactionID:   tx.ID,
		TransactionType: tx.Type,
		PaymentNumber:   tx.PaymentNumber,
		Amount:          tx.Amount,
		CurrentBalance:  rec.CurrentBalance,
	}
}

// InvoiceStatusChangedEvent is raised when the ledger moves an invoice to another status
type InvoiceStatusChangedEvent struct {
	shared.BaseDomainEvent
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	OldStatus      InvoiceStatus   `json:"old_status"`
	NewStatus      InvoiceStatus   `json:"new_status"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
}

// EventType returns the event type name
func (e *InvoiceStatusChangedEvent) EventType() string {
	return EventTypeInvoiceStatusChanged
}

// NewInvoiceStatusChangedEvent creates a new InvoiceStatusChangedEvent
func NewInvoiceStatusChangedEvent(inv *Invoice, oldStatus, newStatus InvoiceStatus, rec Reconciliation) *InvoiceStatusChangedEvent {
	return &InvoiceStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceStatusChanged, AggregateTypeInvoice, inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		OldStatus:       oldStatus,
		NewStatus:       newStatus,
		CurrentBalance:  rec.CurrentBalance,
		PaidAt:          inv.PaidAt,
	}
}
