package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultIdempotencyTTL is how long an accepted Idempotency-Key is remembered
const DefaultIdempotencyTTL = 24 * time.Hour

// Service records, edits and removes the financial transactions of invoices
// and keeps invoice balances and statuses consistent with them.
type Service struct {
	invoiceRepo    ledger.InvoiceRepository
	txRepo         ledger.PaymentTransactionRepository
	txScope        TransactionScope
	locker         InvoiceLocker
	eventPublisher shared.EventPublisher
	idempotency    shared.IdempotencyStore
	idempotencyTTL time.Duration
	metrics        *telemetry.LedgerMetrics
	logger         *zap.Logger
}

// NewService creates a new ledger Service.
// A nil locker disables per-invoice serialization; the row lock taken inside
// the transaction scope still applies.
func NewService(
	invoiceRepo ledger.InvoiceRepository,
	txRepo ledger.PaymentTransactionRepository,
	txScope TransactionScope,
	locker InvoiceLocker,
	logger *zap.Logger,
) *Service {
	if txScope == nil {
		txScope = NewNoOpTransactionScope(invoiceRepo, txRepo)
	}
	if locker == nil {
		locker = nopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		invoiceRepo:    invoiceRepo,
		txRepo:         txRepo,
		txScope:        txScope,
		locker:         locker,
		idempotencyTTL: DefaultIdempotencyTTL,
		logger:         logger,
	}
}

// SetEventPublisher sets the publisher that receives ledger events after commit
func (s *Service) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetIdempotencyStore enables Idempotency-Key handling for RecordPayment
func (s *Service) SetIdempotencyStore(store shared.IdempotencyStore, ttl time.Duration) {
	s.idempotency = store
	if ttl > 0 {
		s.idempotencyTTL = ttl
	}
}

// SetMetrics sets the business metrics recorder
func (s *Service) SetMetrics(metrics *telemetry.LedgerMetrics) {
	s.metrics = metrics
}

// RecordPayment appends a transaction to an invoice ledger.
// A payment larger than the open balance also books an overpayment credit
// for the excess, numbered right after the payment.
func (s *Service) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "record_payment")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrTenantID, req.TenantID.String(),
		telemetry.SpanAttrInvoiceID, req.InvoiceID.String(),
		telemetry.SpanAttrTransactionType, req.Type,
		telemetry.SpanAttrAmount, req.Amount.String(),
	)

	var result *PaymentResult
	var operationErr error
	telemetry.WithProfilingLabels(ctx, "record_payment", func(c context.Context) {
		result, operationErr = s.recordPayment(c, req)
	})

	if operationErr != nil {
		telemetry.RecordError(span, operationErr)
	} else {
		telemetry.SetAttributes(span,
			telemetry.SpanAttrPaymentID, result.Transaction.ID.String(),
			telemetry.SpanAttrPaymentNumber, result.Transaction.PaymentNumber,
			telemetry.SpanAttrBalance, result.CurrentBalance.String(),
			telemetry.SpanAttrInvoiceStatus, result.Invoice.Status,
		)
	}
	s.metrics.ObserveOperation(ctx, "record_payment", start, operationErr)
	return result, operationErr
}

func (s *Service) recordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error) {
	txType := ledger.TransactionType(strings.ToLower(strings.TrimSpace(req.Type)))
	if !txType.IsValid() {
		return nil, ledger.ErrInvalidType(req.Type)
	}
	if err := ledger.ValidateAmount(txType, req.Amount); err != nil {
		return nil, err
	}
	method, err := ledger.ParsePaymentMethod(req.Method)
	if err != nil {
		return nil, err
	}

	idemKey, err := s.claimIdempotencyKey(ctx, req)
	if err != nil {
		return nil, err
	}

	input := ledger.NewTransactionInput{
		TenantID:  req.TenantID,
		InvoiceID: req.InvoiceID,
		CreatedBy: req.UserID,
		Type:      txType,
		Amount:    req.Amount,
		Method:    method,
		Memo:      req.Memo,
	}
	if req.Date != nil {
		input.Date = *req.Date
	}

	var (
		invoice *ledger.Invoice
		created *ledger.PaymentTransaction
		credit  *ledger.PaymentTransaction
		all     []*ledger.PaymentTransaction
		rec     ledger.Reconciliation
		changed bool
	)

	err = s.withInvoiceLock(ctx, req.InvoiceID, func(c context.Context) error {
		return s.txScope.Execute(c, func(repos TransactionalRepositories) error {
			inv, err := loadInvoiceForUpdate(c, repos, req.TenantID, req.InvoiceID)
			if err != nil {
				return err
			}
			if err := inv.EnsurePayable(); err != nil {
				return err
			}

			txs, err := repos.TransactionRepo().ListByInvoice(c, req.TenantID, req.InvoiceID, ledger.SortAscending)
			if err != nil {
				return fmt.Errorf("failed to load ledger: %w", err)
			}
			pre := inv.Reconcile(txs)

			if txType == ledger.TransactionTypeRefund {
				if err := ledger.CheckRefundCeiling(req.Amount, txs, nil); err != nil {
					return err
				}
			}

			tx, err := ledger.NewPaymentTransaction(input, ledger.NextPaymentNumber(inv.LastPaymentNumber, txs))
			if err != nil {
				return err
			}
			tx.RemainingBalance = ledger.ApplyToBalance(pre.CurrentBalance, tx)
			if err := repos.TransactionRepo().Insert(c, tx); err != nil {
				return fmt.Errorf("failed to save transaction: %w", err)
			}
			txs = append(txs, tx)
			inv.ReservePaymentNumbers(tx.PaymentNumber)

			var overpayment *ledger.PaymentTransaction
			if txType == ledger.TransactionTypePayment && req.Amount.GreaterThan(pre.CurrentBalance) {
				overpayment, err = ledger.NewOverpaymentCredit(tx, req.Amount.Sub(pre.CurrentBalance))
				if err != nil {
					return err
				}
				overpayment.RemainingBalance = tx.RemainingBalance
				if err := repos.TransactionRepo().Insert(c, overpayment); err != nil {
					return fmt.Errorf("failed to save overpayment credit: %w", err)
				}
				txs = append(txs, overpayment)
				inv.ReservePaymentNumbers(overpayment.PaymentNumber)
			}

			after := inv.Reconcile(txs)
			inv.AddDomainEvent(ledger.NewPaymentRecordedEvent(inv, tx, overpayment, after))
			statusChanged := inv.ApplyLedger(after, txs, req.UserID)

			if err := repos.InvoiceRepo().SaveWithLock(c, inv); err != nil {
				return err
			}

			invoice, created, credit, all, rec, changed = inv, tx, overpayment, txs, after, statusChanged
			return nil
		})
	})
	if err != nil {
		s.forgetIdempotencyKey(ctx, idemKey)
		return nil, err
	}

	s.logger.Info("payment recorded",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("transaction_id", created.ID.String()),
		zap.String("type", string(created.Type)),
		zap.Int("payment_number", created.PaymentNumber),
		zap.String("amount", created.Amount.String()),
		zap.String("current_balance", rec.CurrentBalance.String()),
		zap.String("status", string(invoice.Status)),
	)

	s.metrics.RecordTransaction(ctx, req.TenantID, string(created.Type), string(created.Method), created.Amount)
	if credit != nil {
		s.metrics.RecordOverpayment(ctx, req.TenantID)
	}
	if changed {
		s.metrics.RecordStatusChange(ctx, req.TenantID, string(invoice.Status))
	}
	s.publishEvents(ctx, invoice)

	return buildPaymentResult(invoice, created, credit, all, rec), nil
}

// UpdatePayment edits an existing transaction and replays the ledger.
// Payment numbers never change; snapshots of every row are refreshed.
func (s *Service) UpdatePayment(ctx context.Context, req UpdatePaymentRequest) (*PaymentResult, error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "update_payment")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrTenantID, req.TenantID.String(),
		telemetry.SpanAttrInvoiceID, req.InvoiceID.String(),
		telemetry.SpanAttrPaymentID, req.PaymentID.String(),
	)

	var result *PaymentResult
	var operationErr error
	telemetry.WithProfilingLabels(ctx, "update_payment", func(c context.Context) {
		result, operationErr = s.updatePayment(c, req)
	})

	if operationErr != nil {
		telemetry.RecordError(span, operationErr)
	} else {
		telemetry.SetAttributes(span,
			telemetry.SpanAttrBalance, result.CurrentBalance.String(),
			telemetry.SpanAttrInvoiceStatus, result.Invoice.Status,
		)
	}
	s.metrics.ObserveOperation(ctx, "update_payment", start, operationErr)
	return result, operationErr
}

func (s *Service) updatePayment(ctx context.Context, req UpdatePaymentRequest) (*PaymentResult, error) {
	patch, err := req.toPatch()
	if err != nil {
		return nil, err
	}

	var (
		invoice *ledger.Invoice
		updated *ledger.PaymentTransaction
		all     []*ledger.PaymentTransaction
		rec     ledger.Reconciliation
		changed bool
	)

	err = s.withInvoiceLock(ctx, req.InvoiceID, func(c context.Context) error {
		return s.txScope.Execute(c, func(repos TransactionalRepositories) error {
			inv, err := loadInvoiceForUpdate(c, repos, req.TenantID, req.InvoiceID)
			if err != nil {
				return err
			}
			tx, err := loadOwnedTransaction(c, repos, req.TenantID, req.InvoiceID, req.PaymentID)
			if err != nil {
				return err
			}

			txs, err := repos.TransactionRepo().ListByInvoice(c, req.TenantID, req.InvoiceID, ledger.SortAscending)
			if err != nil {
				return fmt.Errorf("failed to load ledger: %w", err)
			}

			oldType, oldAmount := tx.Type, tx.Amount
			if err := tx.Apply(patch); err != nil {
				return err
			}
			if tx.Type == ledger.TransactionTypeRefund && (tx.Type != oldType || !tx.Amount.Equal(oldAmount)) {
				if err := ledger.CheckRefundCeiling(tx.Amount, txs, tx); err != nil {
					return err
				}
			}

			txs = replaceTransaction(txs, tx)
			entries := ledger.History(inv.Total, txs)
			for _, entry := range entries {
				if entry.Transaction.ID == tx.ID {
					tx.RemainingBalance = entry.BalanceAfter
				}
			}
			if err := repos.TransactionRepo().Update(c, tx); err != nil {
				return fmt.Errorf("failed to update transaction: %w", err)
			}
			if err := repos.TransactionRepo().UpdateRemainingBalances(c, entries); err != nil {
				return fmt.Errorf("failed to refresh balances: %w", err)
			}

			after := inv.Reconcile(txs)
			inv.AddDomainEvent(ledger.NewPaymentUpdatedEvent(inv, tx, oldAmount, after))
			statusChanged := inv.ApplyLedger(after, txs, req.UserID)

			if err := repos.InvoiceRepo().SaveWithLock(c, inv); err != nil {
				return err
			}

			invoice, updated, all, rec, changed = inv, tx, txs, after, statusChanged
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment updated",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("transaction_id", updated.ID.String()),
		zap.String("amount", updated.Amount.String()),
		zap.String("current_balance", rec.CurrentBalance.String()),
		zap.String("status", string(invoice.Status)),
	)

	if changed {
		s.metrics.RecordStatusChange(ctx, req.TenantID, string(invoice.Status))
	}
	s.publishEvents(ctx, invoice)

	return buildPaymentResult(invoice, updated, nil, all, rec), nil
}

// DeletePayment hard-deletes a transaction. Remaining rows keep their numbers.
func (s *Service) DeletePayment(ctx context.Context, req DeletePaymentRequest) (*PaymentResult, error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "delete_payment")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrTenantID, req.TenantID.String(),
		telemetry.SpanAttrInvoiceID, req.InvoiceID.String(),
		telemetry.SpanAttrPaymentID, req.PaymentID.String(),
	)

	var result *PaymentResult
	var operationErr error
	telemetry.WithProfilingLabels(ctx, "delete_payment", func(c context.Context) {
		result, operationErr = s.deletePayment(c, req)
	})

	if operationErr != nil {
		telemetry.RecordError(span, operationErr)
	}
	s.metrics.ObserveOperation(ctx, "delete_payment", start, operationErr)
	return result, operationErr
}

func (s *Service) deletePayment(ctx context.Context, req DeletePaymentRequest) (*PaymentResult, error) {
	var (
		invoice *ledger.Invoice
		deleted *ledger.PaymentTransaction
		all     []*ledger.PaymentTransaction
		rec     ledger.Reconciliation
		changed bool
	)

	err := s.withInvoiceLock(ctx, req.InvoiceID, func(c context.Context) error {
		return s.txScope.Execute(c, func(repos TransactionalRepositories) error {
			inv, err := loadInvoiceForUpdate(c, repos, req.TenantID, req.InvoiceID)
			if err != nil {
				return err
			}
			tx, err := loadOwnedTransaction(c, repos, req.TenantID, req.InvoiceID, req.PaymentID)
			if err != nil {
				return err
			}

			if err := repos.TransactionRepo().Delete(c, req.TenantID, tx.ID); err != nil {
				return fmt.Errorf("failed to delete transaction: %w", err)
			}

			txs, err := repos.TransactionRepo().ListByInvoice(c, req.TenantID, req.InvoiceID, ledger.SortAscending)
			if err != nil {
				return fmt.Errorf("failed to load ledger: %w", err)
			}
			txs = removeTransaction(txs, tx.ID)

			if err := repos.TransactionRepo().UpdateRemainingBalances(c, ledger.History(inv.Total, txs)); err != nil {
				return fmt.Errorf("failed to refresh balances: %w", err)
			}

			after := inv.Reconcile(txs)
			inv.AddDomainEvent(ledger.NewPaymentDeletedEvent(inv, tx, after))
			statusChanged := inv.ApplyLedger(after, txs, req.UserID)

			if err := repos.InvoiceRepo().SaveWithLock(c, inv); err != nil {
				return err
			}

			invoice, deleted, all, rec, changed = inv, tx, txs, after, statusChanged
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment deleted",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("transaction_id", deleted.ID.String()),
		zap.Int("payment_number", deleted.PaymentNumber),
		zap.String("current_balance", rec.CurrentBalance.String()),
		zap.String("status", string(invoice.Status)),
	)

	if changed {
		s.metrics.RecordStatusChange(ctx, req.TenantID, string(invoice.Status))
	}
	s.publishEvents(ctx, invoice)

	result := buildPaymentResult(invoice, nil, nil, all, rec)
	deletedResponse := ToTransactionResponse(deleted)
	result.Transaction = &deletedResponse
	return result, nil
}

// GetInvoicePayments returns the ledger of an invoice in replay order,
// with the running balance around every transaction.
func (s *Service) GetInvoicePayments(ctx context.Context, tenantID, invoiceID uuid.UUID) (*InvoicePaymentsResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "get_invoice_payments")
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

	rec := inv.Reconcile(txs)
	return &InvoicePaymentsResult{
		Invoice:          ToInvoiceSummary(inv, txs),
		Transactions:     ToLedgerEntryResponses(ledger.History(inv.Total, txs)),
		CurrentBalance:   rec.CurrentBalance,
		AvailableCredits: rec.AvailableCredits,
	}, nil
}

// toPatch converts the request into a domain patch, normalizing type and method
func (r UpdatePaymentRequest) toPatch() (ledger.TransactionPatch, error) {
	patch := ledger.TransactionPatch{
		Amount: r.Amount,
		Date:   r.Date,
		Memo:   r.Memo,
	}
	if r.Type != nil {
		t := ledger.TransactionType(strings.ToLower(strings.TrimSpace(*r.Type)))
		if !t.IsValid() {
			return patch, ledger.ErrInvalidType(*r.Type)
		}
		patch.Type = &t
	}
	if r.Method != nil {
		m, err := ledger.ParsePaymentMethod(*r.Method)
		if err != nil {
			return patch, err
		}
		patch.Method = &m
	}
	return patch, nil
}

func (s *Service) withInvoiceLock(ctx context.Context, invoiceID uuid.UUID, fn func(context.Context) error) error {
	unlock, err := s.locker.Lock(ctx, invoiceID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// claimIdempotencyKey marks the request key as processed.
// Returns the store key so it can be released if the operation fails.
func (s *Service) claimIdempotencyKey(ctx context.Context, req RecordPaymentRequest) (string, error) {
	if s.idempotency == nil || req.IdempotencyKey == "" {
		return "", nil
	}
	key := idempotencyKey(req.TenantID, req.InvoiceID, req.IdempotencyKey)
	fresh, err := s.idempotency.MarkProcessed(ctx, key, s.idempotencyTTL)
	if err != nil {
		return "", fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if !fresh {
		return "", shared.ErrDuplicateRequest
	}
	return key, nil
}

func (s *Service) forgetIdempotencyKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.idempotency.Forget(ctx, key); err != nil {
		s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func idempotencyKey(tenantID, invoiceID uuid.UUID, key string) string {
	return "ledger:idempotency:" + tenantID.String() + ":" + invoiceID.String() + ":" + key
}

// publishEvents hands the invoice's pending events to the publisher.
// The ledger is already committed, so publish failures are only logged.
func (s *Service) publishEvents(ctx context.Context, inv *ledger.Invoice) {
	if s.eventPublisher != nil {
		events := inv.GetDomainEvents()
		if len(events) > 0 {
			if err := s.eventPublisher.Publish(ctx, events...); err != nil {
				s.logger.Error("failed to publish ledger events",
					zap.String("invoice_id", inv.ID.String()),
					zap.Error(err),
				)
			}
		}
	}
	inv.ClearDomainEvents()
}

func loadInvoiceForUpdate(ctx context.Context, repos TransactionalRepositories, tenantID, invoiceID uuid.UUID) (*ledger.Invoice, error) {
	inv, err := repos.InvoiceRepo().FindByIDForUpdate(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	if inv == nil {
		return nil, ledger.ErrInvoiceNotFound()
	}
	return inv, nil
}

func loadOwnedTransaction(ctx context.Context, repos TransactionalRepositories, tenantID, invoiceID, paymentID uuid.UUID) (*ledger.PaymentTransaction, error) {
	tx, err := repos.TransactionRepo().FindByIDForTenant(ctx, tenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if tx == nil {
		return nil, ledger.ErrPaymentNotFound()
	}
	if !tx.BelongsToInvoice(invoiceID) {
		return nil, ledger.ErrMismatchedInvoice()
	}
	return tx, nil
}

func replaceTransaction(txs []*ledger.PaymentTransaction, tx *ledger.PaymentTransaction) []*ledger.PaymentTransaction {
	out := make([]*ledger.PaymentTransaction, 0, len(txs))
	for _, existing := range txs {
		if existing.ID == tx.ID {
			out = append(out, tx)
			continue
		}
		out = append(out, existing)
	}
	return out
}

func removeTransaction(txs []*ledger.PaymentTransaction, id uuid.UUID) []*ledger.PaymentTransaction {
	out := make([]*ledger.PaymentTransaction, 0, len(txs))
	for _, existing := range txs {
		if existing.ID != id {
			out = append(out, existing)
		}
	}
	return out
}

func buildPaymentResult(
	inv *ledger.Invoice,
	tx, credit *ledger.PaymentTransaction,
	txs []*ledger.PaymentTransaction,
	rec ledger.Reconciliation,
) *PaymentResult {
	result := &PaymentResult{
		Invoice:          ToInvoiceResponse(inv),
		Transactions:     ToTransactionResponses(txs),
		CurrentBalance:   rec.CurrentBalance,
		AvailableCredits: rec.AvailableCredits,
	}
	if tx != nil {
		r := ToTransactionResponse(tx)
		result.Transaction = &r
	}
	if credit != nil {
		r := ToTransactionResponse(credit)
		result.CreditTransaction = &r
	}
	return result
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, uuid.UUID) (func(), error) {
	return func() {}, nil
}
