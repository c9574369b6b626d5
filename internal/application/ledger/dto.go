package ledger

import (
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// RecordPaymentRequest is the input of RecordPayment
type RecordPaymentRequest struct {
	TenantID       uuid.UUID
	InvoiceID      uuid.UUID
	UserID         *uuid.UUID
	Type           string
	Amount         decimal.Decimal
	Date           *time.Time
	Method         string
	Memo           string
	IdempotencyKey string
}

// UpdatePaymentRequest is a partial update; nil fields are left untouched
type UpdatePaymentRequest struct {
	TenantID  uuid.UUID
	InvoiceID uuid.UUID
	PaymentID uuid.UUID
	UserID    *uuid.UUID
	Type      *string
	Amount    *decimal.Decimal
	Date      *time.Time
	Method    *string
	Memo      *string
}

// DeletePaymentRequest identifies the transaction to remove
type DeletePaymentRequest struct {
	TenantID  uuid.UUID
	InvoiceID uuid.UUID
	PaymentID uuid.UUID
	UserID    *uuid.UUID
}

// TransactionResponse is a ledger row in API responses
type TransactionResponse struct {
	ID                uuid.UUID        `json:"id"`
	InvoiceID         uuid.UUID        `json:"invoice_id"`
	PaymentNumber     int              `json:"payment_number"`
	Type              string           `json:"type"`
	Amount            decimal.Decimal  `json:"amount"`
	Date              time.Time        `json:"date"`
	Method            string           `json:"method"`
	Memo              string           `json:"memo"`
	RemainingBalance  decimal.Decimal  `json:"remaining_balance"`
	PreviousPaymentID *uuid.UUID       `json:"previous_payment_id,omitempty"`
	Status            string           `json:"status"`
	CreatedBy         *uuid.UUID       `json:"created_by,omitempty"`
	BalanceBefore     *decimal.Decimal `json:"balance_before,omitempty"`
	BalanceAfter      *decimal.Decimal `json:"balance_after,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// InvoiceResponse is the invoice state after a ledger operation
type InvoiceResponse struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	Currency      string          `json:"currency"`
	Total         decimal.Decimal `json:"total"`
	Status        string          `json:"status"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	PaidBy        *uuid.UUID      `json:"paid_by,omitempty"`
	Version       int             `json:"version"`
}

// InvoiceSummary is the invoice header returned with a payment history
type InvoiceSummary struct {
	InvoiceResponse
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	TransactionCount int             `json:"transaction_count"`
}

// PaymentResult is returned by every mutating ledger operation.
// Transactions holds the complete recomputed ledger.
type PaymentResult struct {
	Transaction       *TransactionResponse  `json:"transaction,omitempty"`
	CreditTransaction *TransactionResponse  `json:"credit_transaction,omitempty"`
	Invoice           InvoiceResponse       `json:"invoice"`
	Transactions      []TransactionResponse `json:"transactions"`
	CurrentBalance    decimal.Decimal       `json:"current_balance"`
	AvailableCredits  decimal.Decimal       `json:"available_credits"`
}

// InvoicePaymentsResult is the read model of an invoice ledger
type InvoicePaymentsResult struct {
	Invoice          InvoiceSummary        `json:"invoice"`
	Transactions     []TransactionResponse `json:"transactions"`
	CurrentBalance   decimal.Decimal       `json:"current_balance"`
	AvailableCredits decimal.Decimal       `json:"available_credits"`
}

// ToTransactionResponse converts a domain transaction
func ToTransactionResponse(tx *ledger.PaymentTransaction) TransactionResponse {
	return TransactionResponse{
		ID:                tx.ID,
		InvoiceID:         tx.InvoiceID,
		PaymentNumber:     tx.PaymentNumber,
		Type:              string(tx.Type),
		Amount:            tx.Amount,
		Date:              tx.Date,
		Method:            string(tx.Method),
		Memo:              tx.Memo,
		RemainingBalance:  tx.RemainingBalance,
		PreviousPaymentID: tx.PreviousPaymentID,
		Status:            string(tx.Status),
		CreatedBy:         tx.CreatedBy,
		CreatedAt:         tx.CreatedAt,
		UpdatedAt:         tx.UpdatedAt,
	}
}

// ToTransactionResponses converts a ledger in replay order
func ToTransactionResponses(txs []*ledger.PaymentTransaction) []TransactionResponse {
	sorted := ledger.SortByPaymentNumber(txs)
	responses := make([]TransactionResponse, len(sorted))
	for i, tx := range sorted {
		responses[i] = ToTransactionResponse(tx)
	}
	return responses
}

// ToLedgerEntryResponses converts history entries, keeping the running balances
func ToLedgerEntryResponses(entries []ledger.LedgerEntry) []TransactionResponse {
	responses := make([]TransactionResponse, len(entries))
	for i, entry := range entries {
		r := ToTransactionResponse(entry.Transaction)
		before, after := entry.BalanceBefore, entry.BalanceAfter
		r.BalanceBefore = &before
		r.BalanceAfter = &after
		responses[i] = r
	}
	return responses
}

// ToInvoiceResponse converts a domain invoice
func ToInvoiceResponse(inv *ledger.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Currency:      normalizeCurrency(inv.Currency),
		Total:         inv.Total,
		Status:        string(inv.Status),
		PaidAt:        inv.PaidAt,
		PaidBy:        inv.PaidBy,
		Version:       inv.Version,
	}
}

// ToInvoiceSummary builds the summary header of a payment history
func ToInvoiceSummary(inv *ledger.Invoice, txs []*ledger.PaymentTransaction) InvoiceSummary {
	return InvoiceSummary{
		InvoiceResponse:  ToInvoiceResponse(inv),
		AmountPaid:       ledger.AmountPaid(txs),
		TransactionCount: len(txs),
	}
}

// normalizeCurrency returns the canonical ISO 4217 code, or the input when it is not one.
func normalizeCurrency(code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return code
	}
	return unit.String()
}
