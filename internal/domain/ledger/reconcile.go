package ledger

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reconciliation is the derived state of an invoice ledger.
type Reconciliation struct {
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	AvailableCredits decimal.Decimal `json:"available_credits"`
}

// LedgerEntry is a transaction annotated with the running balance around it.
type LedgerEntry struct {
	Transaction   *PaymentTransaction
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// SortByPaymentNumber returns a copy of txs in replay order.
func SortByPaymentNumber(txs []*PaymentTransaction) []*PaymentTransaction {
	sorted := make([]*PaymentTransaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PaymentNumber < sorted[j].PaymentNumber
	})
	return sorted
}

// ApplyToBalance returns the balance after tx is applied to balance.
// Payments, deposits and adjustments never push the balance below zero;
// the excess of an overpayment is carried by its generated credit row.
func ApplyToBalance(balance decimal.Decimal, tx *PaymentTransaction) decimal.Decimal {
	switch tx.Type {
	case TransactionTypePayment, TransactionTypeDeposit, TransactionTypeAdjustment:
		return decimal.Max(decimal.Zero, balance.Sub(tx.Amount))
	case TransactionTypeRefund:
		return balance.Add(tx.Amount)
	default:
		return balance
	}
}

// Reconcile replays the ledger in payment number order starting from the invoice total.
func Reconcile(total decimal.Decimal, txs []*PaymentTransaction) Reconciliation {
	balance := total
	credits := decimal.Zero
	for _, tx := range SortByPaymentNumber(txs) {
		if tx.Type == TransactionTypeCredit {
			credits = credits.Add(tx.Amount)
			continue
		}
		balance = ApplyToBalance(balance, tx)
	}
	return Reconciliation{
		CurrentBalance:   balance,
		AvailableCredits: credits,
	}
}

// History replays the ledger and records the balance before and after every row.
func History(total decimal.Decimal, txs []*PaymentTransaction) []LedgerEntry {
	entries := make([]LedgerEntry, 0, len(txs))
	balance := total
	for _, tx := range SortByPaymentNumber(txs) {
		after := ApplyToBalance(balance, tx)
		before := balance
		if tx.Type.ReducesBalance() {
			before = after.Add(tx.Amount)
		}
		entries = append(entries, LedgerEntry{
			Transaction:   tx,
			BalanceBefore: before,
			BalanceAfter:  after,
		})
		balance = after
	}
	return entries
}

// TotalPayments sums payment-type amounts, skipping the transaction with id exclude
// when it is set. It bounds how much may be refunded.
func TotalPayments(txs []*PaymentTransaction, exclude *PaymentTransaction) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		if exclude != nil && tx.ID == exclude.ID {
			continue
		}
		if tx.Type == TransactionTypePayment {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum
}

// TotalRefunds sums refund amounts, skipping exclude.
func TotalRefunds(txs []*PaymentTransaction, exclude *PaymentTransaction) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		if exclude != nil && tx.ID == exclude.ID {
			continue
		}
		if tx.Type == TransactionTypeRefund {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum
}

// CheckRefundCeiling rejects a refund larger than the payments recorded in txs.
func CheckRefundCeiling(refund decimal.Decimal, txs []*PaymentTransaction, exclude *PaymentTransaction) error {
	paid := TotalPayments(txs, exclude)
	if refund.GreaterThan(paid) {
		return ErrInvalidRefund(refund, paid)
	}
	return nil
}

// NextPaymentNumber returns the number for the next row given the invoice
// high-water mark and the rows currently present.
func NextPaymentNumber(lastAssigned int, txs []*PaymentTransaction) int {
	highest := lastAssigned
	for _, tx := range txs {
		if tx.PaymentNumber > highest {
			highest = tx.PaymentNumber
		}
	}
	return highest + 1
}

// HasOverpaymentCredit reports whether the ledger holds a credit generated
// by one of its own payments.
func HasOverpaymentCredit(txs []*PaymentTransaction) bool {
	payments := make(map[uuid.UUID]struct{}, len(txs))
	for _, tx := range txs {
		if tx.Type == TransactionTypePayment {
			payments[tx.ID] = struct{}{}
		}
	}
	for _, tx := range txs {
		if !tx.IsOverpaymentCredit() {
			continue
		}
		if _, ok := payments[*tx.PreviousPaymentID]; ok {
			return true
		}
	}
	return false
}
