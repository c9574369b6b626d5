package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Accepted layouts for transaction dates, most specific first.
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

// InvoicePathParams binds /invoices/:id
type InvoicePathParams struct {
	InvoiceID string `uri:"id" binding:"required,uuid"`
}

// PaymentPathParams binds /invoices/:id/payments/:payment_id
type PaymentPathParams struct {
	InvoiceID string `uri:"id" binding:"required,uuid"`
	PaymentID string `uri:"payment_id" binding:"required,uuid"`
}

// RecordPaymentRequest is the body of POST /invoices/:id/payments
type RecordPaymentRequest struct {
	Type   string          `json:"type" binding:"required,payment_type"`
	Amount decimal.Decimal `json:"amount" binding:"decimal_nonzero"`
	Date   string          `json:"date" binding:"omitempty,ledger_date"`
	Method string          `json:"method" binding:"omitempty,max=30"`
	Memo   string          `json:"memo" binding:"omitempty,max=500"`
}

// UpdatePaymentRequest is the body of PUT /invoices/:id/payments/:payment_id.
// Absent fields are left untouched.
type UpdatePaymentRequest struct {
	Type   *string          `json:"type" binding:"omitempty,payment_type"`
	Amount *decimal.Decimal `json:"amount" binding:"omitempty,decimal_nonzero"`
	Date   *string          `json:"date" binding:"omitempty,ledger_date"`
	Method *string          `json:"method" binding:"omitempty,max=30"`
	Memo   *string          `json:"memo" binding:"omitempty,max=500"`
}

// IsEmpty reports whether the update carries no field at all
func (r UpdatePaymentRequest) IsEmpty() bool {
	return r.Type == nil && r.Amount == nil && r.Date == nil && r.Method == nil && r.Memo == nil
}

// ParseDate parses a transaction date. An empty string yields nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", s)
}
