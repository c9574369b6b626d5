package ledger

import (
	"fmt"

	"github.com/erp/ledger/internal/domain/shared"
)

// Error codes raised by the ledger.
const (
	CodeInvoiceNotFound   = "INVOICE_NOT_FOUND"
	CodePaymentNotFound   = "PAYMENT_NOT_FOUND"
	CodeInvalidAmount     = "INVALID_AMOUNT"
	CodeInvalidRefund     = "INVALID_REFUND"
	CodeInvalidType       = "INVALID_TYPE"
	CodeInvalidMethod     = "INVALID_METHOD"
	CodeMismatchedInvoice = "MISMATCHED_INVOICE"
	CodeInvoiceNotPayable = "INVOICE_NOT_PAYABLE"
)

func ErrInvoiceNotFound() *shared.DomainError {
	return shared.NewDomainError(CodeInvoiceNotFound, "Invoice not found")
}

func ErrPaymentNotFound() *shared.DomainError {
	return shared.NewDomainError(CodePaymentNotFound, "Payment transaction not found")
}

func ErrInvalidAmount(msg string) *shared.DomainError {
	return shared.NewDomainError(CodeInvalidAmount, msg)
}

func ErrInvalidType(t string) *shared.DomainError {
	return shared.NewDomainError(CodeInvalidType, fmt.Sprintf("Invalid transaction type: %q", t))
}

func ErrInvalidMethod(m string) *shared.DomainError {
	return shared.NewDomainError(CodeInvalidMethod, fmt.Sprintf("Invalid payment method: %q", m))
}

func ErrMismatchedInvoice() *shared.DomainError {
	return shared.NewDomainError(CodeMismatchedInvoice, "Payment transaction does not belong to this invoice")
}

// ErrInvalidRefund is returned when a refund is larger than the payments it could reverse.
func ErrInvalidRefund(refund, paid fmt.Stringer) *shared.DomainError {
	return shared.NewDomainError(CodeInvalidRefund,
		fmt.Sprintf("Refund amount %s exceeds total payments %s", refund, paid))
}

func ErrInvoiceNotPayable(status InvoiceStatus) *shared.DomainError {
	return shared.NewDomainError(CodeInvoiceNotPayable,
		fmt.Sprintf("Cannot record payments on a %s invoice", status))
}
