package ledger

import (
	"context"
	"fmt"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VerifyLedger replays an invoice ledger and compares it with what is stored.
func (s *Service) VerifyLedger(ctx context.Context, tenantID, invoiceID uuid.UUID) (*ledger.VerificationReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "verify_ledger")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrTenantID, tenantID.String(),
		telemetry.SpanAttrInvoiceID, invoiceID.String(),
	)

	inv, err := s.invoiceRepo.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	if inv == nil {
		return nil, ledger.ErrInvoiceNotFound()
	}

	txs, err := s.txRepo.ListByInvoice(ctx, tenantID, invoiceID, ledger.SortAscending)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	report := ledger.Verify(inv, txs)
	telemetry.SetAttributes(span, "consistent", report.Consistent())
	return &report, nil
}

// RepairLedger rewrites balance snapshots and the invoice status from a replay.
// Duplicate payment numbers cannot be repaired automatically and are left in the report.
func (s *Service) RepairLedger(ctx context.Context, tenantID, invoiceID uuid.UUID) (*ledger.VerificationReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "repair_ledger")
	defer span.End()

	var report ledger.VerificationReport
	err := s.withInvoiceLock(ctx, invoiceID, func(c context.Context) error {
		return s.txScope.Execute(c, func(repos TransactionalRepositories) error {
			inv, err := loadInvoiceForUpdate(c, repos, tenantID, invoiceID)
			if err != nil {
				return err
			}
			txs, err := repos.TransactionRepo().ListByInvoice(c, tenantID, invoiceID, ledger.SortAscending)
			if err != nil {
				return fmt.Errorf("failed to load ledger: %w", err)
			}

			report = ledger.Verify(inv, txs)
			if report.Consistent() {
				return nil
			}

			if len(report.SnapshotDrifts) > 0 {
				if err := repos.TransactionRepo().UpdateRemainingBalances(c, ledger.History(inv.Total, txs)); err != nil {
					return fmt.Errorf("failed to refresh balances: %w", err)
				}
			}
			maxNumber, err := repos.TransactionRepo().MaxPaymentNumber(c, tenantID, invoiceID)
			if err != nil {
				return fmt.Errorf("failed to read payment numbers: %w", err)
			}
			inv.ReservePaymentNumbers(maxNumber)
			inv.ApplyLedger(report.Reconciliation, txs, nil)
			return repos.InvoiceRepo().SaveWithLock(c, inv)
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if !report.Consistent() {
		s.logger.Warn("ledger repaired",
			zap.String("tenant_id", tenantID.String()),
			zap.String("invoice_id", invoiceID.String()),
			zap.Int("snapshot_drifts", len(report.SnapshotDrifts)),
			zap.String("stored_status", string(report.StoredStatus)),
			zap.String("expected_status", string(report.ExpectedStatus)),
			zap.Ints("duplicate_numbers", report.DuplicateNumber),
		)
	}
	return &report, nil
}
