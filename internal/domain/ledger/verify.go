package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SnapshotDrift is a transaction whose stored remaining balance disagrees with the replay.
type SnapshotDrift struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	PaymentNumber int             `json:"payment_number"`
	Stored        decimal.Decimal `json:"stored"`
	Replayed      decimal.Decimal `json:"replayed"`
}

// VerificationReport compares stored ledger state with a fresh replay.
type VerificationReport struct {
	InvoiceID       uuid.UUID       `json:"invoice_id"`
	Reconciliation  Reconciliation  `json:"reconciliation"`
	StoredStatus    InvoiceStatus   `json:"stored_status"`
	ExpectedStatus  InvoiceStatus   `json:"expected_status"`
	SnapshotDrifts  []SnapshotDrift `json:"snapshot_drifts"`
	DuplicateNumber []int           `json:"duplicate_numbers,omitempty"`
}

// Consistent reports whether nothing drifted.
func (r VerificationReport) Consistent() bool {
	return r.StoredStatus == r.ExpectedStatus && len(r.SnapshotDrifts) == 0 && len(r.DuplicateNumber) == 0
}

// Verify replays txs and reports every difference with what is stored.
func Verify(inv *Invoice, txs []*PaymentTransaction) VerificationReport {
	rec := inv.Reconcile(txs)
	report := VerificationReport{
		InvoiceID:      inv.ID,
		Reconciliation: rec,
		StoredStatus:   inv.Status,
		ExpectedStatus: DeriveStatus(inv.Status, inv.Total, rec, txs),
		SnapshotDrifts: make([]SnapshotDrift, 0),
	}

	seen := make(map[int]bool, len(txs))
	for _, tx := range txs {
		if seen[tx.PaymentNumber] {
			report.DuplicateNumber = append(report.DuplicateNumber, tx.PaymentNumber)
		}
		seen[tx.PaymentNumber] = true
	}

	for _, entry := range History(inv.Total, txs) {
		if !entry.Transaction.RemainingBalance.Equal(entry.BalanceAfter) {
			report.SnapshotDrifts = append(report.SnapshotDrifts, SnapshotDrift{
				TransactionID: entry.Transaction.ID,
				PaymentNumber: entry.Transaction.PaymentNumber,
				Stored:        entry.Transaction.RemainingBalance,
				Replayed:      entry.BalanceAfter,
			})
		}
	}
	return report
}
