package models

import (
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceModel is the persistence model for the invoices table.
// The invoicing system owns the row; the ledger writes the status columns
// and last_payment_number.
type InvoiceModel struct {
	TenantAggregateModel
	InvoiceNumber     string          `gorm:"type:varchar(50);not null"`
	Currency          string          `gorm:"type:varchar(3);not null;default:'USD'"`
	Total             decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Status            string          `gorm:"type:varchar(20);not null;default:'draft'"`
	PaidAt            *time.Time
	PaidBy            *uuid.UUID `gorm:"type:uuid"`
	LastPaymentNumber int        `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice
func (m *InvoiceModel) ToDomain() *ledger.Invoice {
	inv := &ledger.Invoice{
		InvoiceNumber:     m.InvoiceNumber,
		Currency:          m.Currency,
		Total:             m.Total,
		Status:            ledger.InvoiceStatus(m.Status),
		PaidAt:            m.PaidAt,
		PaidBy:            m.PaidBy,
		LastPaymentNumber: m.LastPaymentNumber,
	}
	m.PopulateTenantAggregateRoot(&inv.TenantAggregateRoot)
	return inv
}

// FromDomain populates the persistence model from a domain Invoice
func (m *InvoiceModel) FromDomain(inv *ledger.Invoice) {
	m.FromDomainTenantAggregateRoot(inv.TenantAggregateRoot)
	m.InvoiceNumber = inv.InvoiceNumber
	m.Currency = inv.Currency
	m.Total = inv.Total
	m.Status = string(inv.Status)
	m.PaidAt = inv.PaidAt
	m.PaidBy = inv.PaidBy
	m.LastPaymentNumber = inv.LastPaymentNumber
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice
func InvoiceModelFromDomain(inv *ledger.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}

// PaymentTransactionModel is the persistence model for payment_transactions.
// (invoice_id, payment_number) is unique so two writers can never claim the same number.
type PaymentTransactionModel struct {
	BaseModel
	TenantID          uuid.UUID       `gorm:"type:uuid;not null;index"`
	InvoiceID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_payment_tx_invoice_number,priority:1"`
	CreatedBy         *uuid.UUID      `gorm:"type:uuid"`
	Type              string          `gorm:"type:varchar(20);not null"`
	Amount            decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Date              time.Time       `gorm:"not null"`
	Method            string          `gorm:"type:varchar(30);not null;default:'other'"`
	Memo              string          `gorm:"type:text"`
	PaymentNumber     int             `gorm:"not null;uniqueIndex:idx_payment_tx_invoice_number,priority:2"`
	RemainingBalance  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	PreviousPaymentID *uuid.UUID      `gorm:"type:uuid"`
	Status            string          `gorm:"type:varchar(20);not null;default:'completed'"`
}

// TableName returns the table name for GORM
func (PaymentTransactionModel) TableName() string {
	return "payment_transactions"
}

// ToDomain converts the persistence model to a domain PaymentTransaction
func (m *PaymentTransactionModel) ToDomain() *ledger.PaymentTransaction {
	return &ledger.PaymentTransaction{
		BaseEntity:        m.BaseModel.ToDomain(),
		TenantID:          m.TenantID,
		InvoiceID:         m.InvoiceID,
		CreatedBy:         m.CreatedBy,
		Type:              ledger.TransactionType(m.Type),
		Amount:            m.Amount,
		Date:              m.Date,
		Method:            ledger.PaymentMethod(m.Method),
		Memo:              m.Memo,
		PaymentNumber:     m.PaymentNumber,
		RemainingBalance:  m.RemainingBalance,
		PreviousPaymentID: m.PreviousPaymentID,
		Status:            ledger.TransactionStatus(m.Status),
	}
}

// PaymentTransactionModelFromDomain creates a persistence model from a domain PaymentTransaction
func PaymentTransactionModelFromDomain(tx *ledger.PaymentTransaction) *PaymentTransactionModel {
	m := &PaymentTransactionModel{
		TenantID:          tx.TenantID,
		InvoiceID:         tx.InvoiceID,
		CreatedBy:         tx.CreatedBy,
		Type:              string(tx.Type),
		Amount:            tx.Amount,
		Date:              tx.Date,
		Method:            string(tx.Method),
		Memo:              tx.Memo,
		PaymentNumber:     tx.PaymentNumber,
		RemainingBalance:  tx.RemainingBalance,
		PreviousPaymentID: tx.PreviousPaymentID,
		Status:            string(tx.Status),
	}
	m.FromDomainBaseEntity(tx.BaseEntity)
	return m
}

// LedgerModels lists the models owned by this service, in creation order
func LedgerModels() []any {
	return []any{&InvoiceModel{}, &PaymentTransactionModel{}}
}
