package ledger

import (
	"context"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"go.uber.org/zap"
)

// AuditLogHandler writes every ledger event to the audit log
type AuditLogHandler struct {
	logger *zap.Logger
}

// NewAuditLogHandler creates a new AuditLogHandler
func NewAuditLogHandler(logger *zap.Logger) *AuditLogHandler {
	return &AuditLogHandler{logger: logger.Named("audit")}
}

// EventTypes returns the event types this handler is interested in
func (h *AuditLogHandler) EventTypes() []string {
	return []string{
		ledger.EventTypePaymentRecorded,
		ledger.EventTypePaymentUpdated,
		ledger.EventTypePaymentDeleted,
		ledger.EventTypeInvoiceStatusChanged,
	}
}

// Handle logs the event with the fields relevant to its type
func (h *AuditLogHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.String("tenant_id", event.TenantID().String()),
		zap.String("invoice_id", event.AggregateID().String()),
		zap.Time("occurred_at", event.OccurredAt()),
	}

	switch e := event.(type) {
	case *ledger.PaymentRecordedEvent:
		fields = append(fields,
			zap.String("transaction_id", e.TransactionID.String()),
			zap.String("transaction_type", string(e.TransactionType)),
			zap.Int("payment_number", e.PaymentNumber),
			zap.String("amount", e.Amount.String()),
			zap.String("current_balance", e.CurrentBalance.String()),
		)
		if e.IsOverpayment() {
			fields = append(fields,
				zap.String("credit_id", e.CreditID.String()),
				zap.String("credit_amount", e.CreditAmount.String()),
			)
		}
	case *ledger.PaymentUpdatedEvent:
		fields = append(fields,
			zap.String("transaction_id", e.TransactionID.String()),
			zap.String("old_amount", e.OldAmount.String()),
			zap.String("new_amount", e.NewAmount.String()),
			zap.String("current_balance", e.CurrentBalance.String()),
		)
	case *ledger.PaymentDeletedEvent:
		fields = append(fields,
			zap.String("transaction_id", e.TransactionID.String()),
			zap.Int("payment_number", e.PaymentNumber),
			zap.String("amount", e.Amount.String()),
			zap.String("current_balance", e.CurrentBalance.String()),
		)
	case *ledger.InvoiceStatusChangedEvent:
		fields = append(fields,
			zap.String("invoice_number", e.InvoiceNumber),
			zap.String("old_status", string(e.OldStatus)),
			zap.String("new_status", string(e.NewStatus)),
		)
	}

	h.logger.Info("ledger event", fields...)
	return nil
}

var _ shared.EventHandler = (*AuditLogHandler)(nil)
