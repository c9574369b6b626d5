package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
)

// LedgerMetrics holds the business metrics of the payment ledger.
type LedgerMetrics struct {
	transactions    *Counter
	overpayments    *Counter
	amountCents     *Counter
	statusChanges   *Counter
	operationErrors *Counter
	duration        *Histogram
}

// NewLedgerMetrics registers the ledger instruments on meter.
func NewLedgerMetrics(meter metric.Meter) (*LedgerMetrics, error) {
	var err error
	m := &LedgerMetrics{}

	if m.transactions, err = NewCounter(meter, "ledger_transactions_total",
		"Ledger transactions recorded", "{transactions}"); err != nil {
		return nil, err
	}
	if m.overpayments, err = NewCounter(meter, "ledger_overpayments_total",
		"Payments that produced an overpayment credit", "{payments}"); err != nil {
		return nil, err
	}
	if m.amountCents, err = NewCounter(meter, "ledger_transaction_amount_cents_total",
		"Absolute transaction amount recorded, in cents", "{cents}"); err != nil {
		return nil, err
	}
	if m.statusChanges, err = NewCounter(meter, "ledger_invoice_status_changes_total",
		"Invoice status transitions driven by the ledger", "{changes}"); err != nil {
		return nil, err
	}
	if m.operationErrors, err = NewCounter(meter, "ledger_operation_errors_total",
		"Ledger operations that failed", "{errors}"); err != nil {
		return nil, err
	}
	if m.duration, err = NewHistogram(meter, "ledger_operation_duration_seconds",
		"Ledger operation latency", "s", OperationDurationBuckets); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordTransaction counts a recorded transaction and its amount.
func (m *LedgerMetrics) RecordTransaction(ctx context.Context, tenantID uuid.UUID, txType, method string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.transactions.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrTransactionType.String(txType),
		AttrPaymentMethod.String(method),
	)
	m.amountCents.Add(ctx, amount.Abs().Shift(2).IntPart(),
		AttrTenantID.String(tenantID.String()),
		AttrTransactionType.String(txType),
	)
}

// RecordOverpayment counts a payment that generated a credit.
func (m *LedgerMetrics) RecordOverpayment(ctx context.Context, tenantID uuid.UUID) {
	if m == nil {
		return
	}
	m.overpayments.Inc(ctx, AttrTenantID.String(tenantID.String()))
}

// RecordStatusChange counts an invoice entering status.
func (m *LedgerMetrics) RecordStatusChange(ctx context.Context, tenantID uuid.UUID, status string) {
	if m == nil {
		return
	}
	m.statusChanges.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrInvoiceStatus.String(status),
	)
}

// ObserveOperation records latency and, on failure, an error count.
func (m *LedgerMetrics) ObserveOperation(ctx context.Context, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.operationErrors.Inc(ctx, AttrOperation.String(operation))
	}
	m.duration.RecordDuration(ctx, time.Since(start),
		AttrOperation.String(operation),
		AttrOutcome.String(outcome),
	)
}
