package ledger

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the kind of financial event recorded against an invoice
type TransactionType string

const (
	TransactionTypePayment    TransactionType = "payment"
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeCredit     TransactionType = "credit"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// IsValid checks if the transaction type is one of the supported types
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypeDeposit, TransactionTypeRefund,
		TransactionTypeCredit, TransactionTypeAdjustment:
		return true
	}
	return false
}

// String returns the string representation
func (t TransactionType) String() string {
	return string(t)
}

// ReducesBalance reports whether the type pays down the outstanding balance.
func (t TransactionType) ReducesBalance() bool {
	return t == TransactionTypePayment || t == TransactionTypeDeposit
}

// AllowsSignedAmount reports whether negative amounts are accepted.
// Adjustments are signed deltas; every other type must be positive.
func (t TransactionType) AllowsSignedAmount() bool {
	return t == TransactionTypeAdjustment
}

// AllTransactionTypes returns all valid types
func AllTransactionTypes() []TransactionType {
	return []TransactionType{
		TransactionTypePayment,
		TransactionTypeDeposit,
		TransactionTypeRefund,
		TransactionTypeCredit,
		TransactionTypeAdjustment,
	}
}

// PaymentMethod is how the money moved. It is free-form; the constants are
// the names the API documents, and callers may send any other label.
type PaymentMethod string

// MaxPaymentMethodLength is the width of the stored method column.
const MaxPaymentMethodLength = 30

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCheck        PaymentMethod = "check"
	PaymentMethodOther        PaymentMethod = "other"
)

// IsValid reports whether m is non-empty and fits the method column
func (m PaymentMethod) IsValid() bool {
	n := utf8.RuneCountInString(string(m))
	return n > 0 && n <= MaxPaymentMethodLength
}

// String returns the string representation
func (m PaymentMethod) String() string {
	return string(m)
}

// ParsePaymentMethod trims and lower-cases user input. An empty value defaults
// to other; unknown labels such as "stripe" are kept as given.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PaymentMethodOther, nil
	}
	m := PaymentMethod(s)
	if !m.IsValid() {
		return "", ErrInvalidMethod(s)
	}
	return m, nil
}

// TransactionStatus is the transaction-level status. Only completed is modeled.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
)

// PaymentTransaction is one financial event against exactly one invoice.
// Rows are ordered for replay by PaymentNumber only.
type PaymentTransaction struct {
	shared.BaseEntity
	TenantID          uuid.UUID
	InvoiceID         uuid.UUID
	CreatedBy         *uuid.UUID
	Type              TransactionType
	Amount            decimal.Decimal
	Date              time.Time
	Method            PaymentMethod
	Memo              string
	PaymentNumber     int
	RemainingBalance  decimal.Decimal
	PreviousPaymentID *uuid.UUID
	Status            TransactionStatus
}

// NewTransactionInput carries the caller supplied fields for a new transaction.
type NewTransactionInput struct {
	TenantID  uuid.UUID
	InvoiceID uuid.UUID
	CreatedBy *uuid.UUID
	Type      TransactionType
	Amount    decimal.Decimal
	Date      time.Time
	Method    PaymentMethod
	Memo      string
}

// ValidateAmount applies the per type amount rule.
func ValidateAmount(txType TransactionType, amount decimal.Decimal) error {
	if txType.AllowsSignedAmount() {
		if amount.IsZero() {
			return ErrInvalidAmount("Adjustment amount must not be zero")
		}
		return nil
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount("Amount must be greater than zero")
	}
	return nil
}

// NewPaymentTransaction validates input and builds a transaction with the given number.
func NewPaymentTransaction(in NewTransactionInput, paymentNumber int) (*PaymentTransaction, error) {
	if in.TenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if in.InvoiceID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INVOICE", "Invoice ID cannot be empty")
	}
	if !in.Type.IsValid() {
		return nil, ErrInvalidType(string(in.Type))
	}
	if err := ValidateAmount(in.Type, in.Amount); err != nil {
		return nil, err
	}
	if in.Method == "" {
		in.Method = PaymentMethodOther
	}
	if !in.Method.IsValid() {
		return nil, ErrInvalidMethod(string(in.Method))
	}
	if paymentNumber <= 0 {
		return nil, shared.NewDomainError("INVALID_PAYMENT_NUMBER", "Payment number must be positive")
	}
	if in.Date.IsZero() {
		in.Date = time.Now()
	}

	return &PaymentTransaction{
		BaseEntity:    shared.NewBaseEntity(),
		TenantID:      in.TenantID,
		InvoiceID:     in.InvoiceID,
		CreatedBy:     in.CreatedBy,
		Type:          in.Type,
		Amount:        in.Amount,
		Date:          in.Date,
		Method:        in.Method,
		Memo:          in.Memo,
		PaymentNumber: paymentNumber,
		Status:        TransactionStatusCompleted,
	}, nil
}

// NewOverpaymentCredit builds the credit generated when payment exceeds the balance it was applied to.
func NewOverpaymentCredit(payment *PaymentTransaction, excess decimal.Decimal) (*PaymentTransaction, error) {
	credit, err := NewPaymentTransaction(NewTransactionInput{
		TenantID:  payment.TenantID,
		InvoiceID: payment.InvoiceID,
		CreatedBy: payment.CreatedBy,
		Type:      TransactionTypeCredit,
		Amount:    excess,
		Date:      payment.Date,
		Method:    payment.Method,
		Memo:      OverpaymentMemo(payment.Amount),
	}, payment.PaymentNumber+1)
	if err != nil {
		return nil, err
	}
	paymentID := payment.ID
	credit.PreviousPaymentID = &paymentID
	return credit, nil
}

// OverpaymentMemo is the memo stamped on generated overpayment credits.
func OverpaymentMemo(amount decimal.Decimal) string {
	return "Credit from overpayment of " + amount.StringFixed(2)
}

// TransactionPatch is a partial update. Nil fields are left untouched.
type TransactionPatch struct {
	Type   *TransactionType
	Amount *decimal.Decimal
	Date   *time.Time
	Method *PaymentMethod
	Memo   *string
}

// IsEmpty reports whether the patch changes nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p.Type == nil && p.Amount == nil && p.Date == nil && p.Method == nil && p.Memo == nil
}

// Apply validates and applies the patch.
func (t *PaymentTransaction) Apply(p TransactionPatch) error {
	newType := t.Type
	if p.Type != nil {
		newType = *p.Type
		if !newType.IsValid() {
			return ErrInvalidType(string(newType))
		}
	}
	newAmount := t.Amount
	if p.Amount != nil {
		newAmount = *p.Amount
	}
	if p.Amount != nil || p.Type != nil {
		if err := ValidateAmount(newType, newAmount); err != nil {
			return err
		}
	}
	if p.Method != nil && !p.Method.IsValid() {
		return ErrInvalidMethod(string(*p.Method))
	}

	t.Type = newType
	t.Amount = newAmount
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Method != nil {
		t.Method = *p.Method
	}
	if p.Memo != nil {
		t.Memo = *p.Memo
	}
	t.Touch()
	return nil
}

// IsOverpaymentCredit reports whether the row was generated from an overpayment.
func (t *PaymentTransaction) IsOverpaymentCredit() bool {
	return t.Type == TransactionTypeCredit && t.PreviousPaymentID != nil
}

// BelongsToInvoice reports whether the transaction is part of invoiceID's ledger.
func (t *PaymentTransaction) BelongsToInvoice(invoiceID uuid.UUID) bool {
	return t.InvoiceID == invoiceID
}
