package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type serviceFixture struct {
	invoiceRepo *MockInvoiceRepository
	txRepo      *MockPaymentTransactionRepository
	publisher   *MockEventPublisher
	locker      *countingLocker
	service     *Service
	tenantID    uuid.UUID
	userID      uuid.UUID
	invoice     *ledger.Invoice
}

func newServiceFixture(t *testing.T, total string, status ledger.InvoiceStatus) *serviceFixture {
	t.Helper()
	tenantID := uuid.New()
	inv, err := ledger.NewInvoice(tenantID, "INV-2024-0042", "usd", dec(total))
	require.NoError(t, err)
	inv.Status = status

	f := &serviceFixture{
		invoiceRepo: new(MockInvoiceRepository),
		txRepo:      new(MockPaymentTransactionRepository),
		publisher:   new(MockEventPublisher),
		locker:      newCountingLocker(),
		tenantID:    tenantID,
		userID:      uuid.New(),
		invoice:     inv,
	}
	f.service = NewService(f.invoiceRepo, f.txRepo, nil, f.locker, nil)
	f.service.SetEventPublisher(f.publisher)
	return f
}

// existingTx builds a stored transaction of the fixture invoice
func (f *serviceFixture) existingTx(t *testing.T, txType ledger.TransactionType, amount string, number int, remaining string) *ledger.PaymentTransaction {
	t.Helper()
	tx, err := ledger.NewPaymentTransaction(ledger.NewTransactionInput{
		TenantID:  f.tenantID,
		InvoiceID: f.invoice.ID,
		Type:      txType,
		Amount:    dec(amount),
		Date:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Method:    ledger.PaymentMethodBankTransfer,
	}, number)
	require.NoError(t, err)
	tx.RemainingBalance = dec(remaining)
	if number > f.invoice.LastPaymentNumber {
		f.invoice.LastPaymentNumber = number
	}
	return tx
}

func (f *serviceFixture) expectInvoice() {
	f.invoiceRepo.On("FindByIDForUpdate", mock.Anything, f.tenantID, f.invoice.ID).Return(f.invoice, nil)
}

func (f *serviceFixture) expectLedger(txs ...*ledger.PaymentTransaction) {
	f.txRepo.On("ListByInvoice", mock.Anything, f.tenantID, f.invoice.ID, ledger.SortAscending).
		Return(txs, nil)
}

func (f *serviceFixture) captureInserts() *[]*ledger.PaymentTransaction {
	inserted := &[]*ledger.PaymentTransaction{}
	f.txRepo.On("Insert", mock.Anything, mock.AnythingOfType("*ledger.PaymentTransaction")).
		Run(func(args mock.Arguments) {
			*inserted = append(*inserted, args.Get(1).(*ledger.PaymentTransaction))
		}).
		Return(nil)
	return inserted
}

func (f *serviceFixture) expectSave() {
	f.invoiceRepo.On("SaveWithLock", mock.Anything, f.invoice).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
}

func (f *serviceFixture) publishedEventTypes(t *testing.T) []string {
	t.Helper()
	var types []string
	for _, call := range f.publisher.Calls {
		for _, event := range call.Arguments.Get(1).([]shared.DomainEvent) {
			types = append(types, event.EventType())
		}
	}
	return types
}

func (f *serviceFixture) recordRequest(txType, amount string) RecordPaymentRequest {
	return RecordPaymentRequest{
		TenantID:  f.tenantID,
		InvoiceID: f.invoice.ID,
		UserID:    &f.userID,
		Type:      txType,
		Amount:    dec(amount),
		Method:    "bank_transfer",
		Memo:      "wire",
	}
}

func requireDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	domainErr, ok := shared.AsDomainError(err)
	require.True(t, ok, "expected domain error, got %v", err)
	assert.Equal(t, code, domainErr.Code)
}

// ============================================
// RecordPayment Tests
// ============================================

func TestService_RecordPayment_OverpaymentCreatesCredit(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	f.expectInvoice()
	f.expectLedger()
	inserted := f.captureInserts()
	f.expectSave()

	result, err := f.service.RecordPayment(context.Background(), f.recordRequest("payment", "1200"))
	require.NoError(t, err)

	require.Len(t, *inserted, 2)
	payment, credit := (*inserted)[0], (*inserted)[1]

	assert.Equal(t, ledger.TransactionTypePayment, payment.Type)
	assert.Equal(t, 1, payment.PaymentNumber)
	assert.True(t, payment.RemainingBalance.IsZero())

	assert.Equal(t, ledger.TransactionTypeCredit, credit.Type)
	assert.Equal(t, 2, credit.PaymentNumber)
	assert.True(t, credit.Amount.Equal(dec("200")))
	require.NotNil(t, credit.PreviousPaymentID)
	assert.Equal(t, payment.ID, *credit.PreviousPaymentID)
	assert.Equal(t, "Credit from overpayment of 1200.00", credit.Memo)

	assert.Equal(t, "overpaid", result.Invoice.Status)
	assert.Equal(t, "USD", result.Invoice.Currency)
	assert.True(t, result.CurrentBalance.IsZero())
	assert.True(t, result.AvailableCredits.Equal(dec("200")))
	require.NotNil(t, result.CreditTransaction)
	assert.Equal(t, credit.ID, result.CreditTransaction.ID)
	require.Len(t, result.Transactions, 2)

	assert.Equal(t, 2, f.invoice.LastPaymentNumber)
	require.NotNil(t, f.invoice.PaidAt)
	require.NotNil(t, f.invoice.PaidBy)
	assert.Equal(t, f.userID, *f.invoice.PaidBy)

	assert.Equal(t, []string{ledger.EventTypePaymentRecorded, ledger.EventTypeInvoiceStatusChanged}, f.publishedEventTypes(t))
	assert.Empty(t, f.invoice.GetDomainEvents())
	assert.Equal(t, 1, f.locker.locked[f.invoice.ID])
	assert.Equal(t, 1, f.locker.unlocked[f.invoice.ID])
}

func TestService_RecordPayment_PartialThenExact(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPartiallyPaid)
	first := f.existingTx(t, ledger.TransactionTypePayment, "400", 1, "600")
	f.expectInvoice()
	f.expectLedger(first)
	inserted := f.captureInserts()
	f.expectSave()

	result, err := f.service.RecordPayment(context.Background(), f.recordRequest("payment", "600"))
	require.NoError(t, err)

	require.Len(t, *inserted, 1)
	assert.Equal(t, 2, (*inserted)[0].PaymentNumber)
	assert.True(t, (*inserted)[0].RemainingBalance.IsZero())
	assert.Nil(t, result.CreditTransaction)
	assert.Equal(t, "paid", result.Invoice.Status)
	assert.True(t, result.AvailableCredits.IsZero())
}

func TestService_RecordPayment_DepositNeverCreatesCredit(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	f.expectInvoice()
	f.expectLedger()
	inserted := f.captureInserts()
	f.expectSave()

	result, err := f.service.RecordPayment(context.Background(), f.recordRequest("deposit", "1500"))
	require.NoError(t, err)

	require.Len(t, *inserted, 1)
	assert.True(t, result.CurrentBalance.IsZero())
	assert.Equal(t, "paid", result.Invoice.Status)
}

func TestService_RecordPayment_NumberNeverReused(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPartiallyPaid)
	remaining := f.existingTx(t, ledger.TransactionTypePayment, "100", 2, "900")
	f.invoice.LastPaymentNumber = 5
	f.expectInvoice()
	f.expectLedger(remaining)
	inserted := f.captureInserts()
	f.expectSave()

	_, err := f.service.RecordPayment(context.Background(), f.recordRequest("payment", "50"))
	require.NoError(t, err)

	require.Len(t, *inserted, 1)
	assert.Equal(t, 6, (*inserted)[0].PaymentNumber)
	assert.Equal(t, 6, f.invoice.LastPaymentNumber)
}

func TestService_RecordPayment_RefundCeiling(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPartiallyPaid)
	payment := f.existingTx(t, ledger.TransactionTypePayment, "300", 1, "700")
	deposit := f.existingTx(t, ledger.TransactionTypeDeposit, "400", 2, "300")
	f.expectInvoice()
	f.expectLedger(payment, deposit)

	_, err := f.service.RecordPayment(context.Background(), f.recordRequest("refund", "500"))

	requireDomainCode(t, err, ledger.CodeInvalidRefund)
	f.txRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	f.invoiceRepo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestService_RecordPayment_RefundRaisesBalance(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPaid)
	payment := f.existingTx(t, ledger.TransactionTypePayment, "1000", 1, "0")
	paidAt := time.Now().Add(-time.Hour)
	f.invoice.PaidAt = &paidAt
	f.invoice.PaidBy = &f.userID
	f.expectInvoice()
	f.expectLedger(payment)
	inserted := f.captureInserts()
	f.expectSave()

	result, err := f.service.RecordPayment(context.Background(), f.recordRequest("refund", "250"))
	require.NoError(t, err)

	require.Len(t, *inserted, 1)
	assert.True(t, (*inserted)[0].RemainingBalance.Equal(dec("250")))
	assert.Equal(t, "partially_paid", result.Invoice.Status)
	assert.Nil(t, f.invoice.PaidAt)
	assert.Nil(t, f.invoice.PaidBy)
}

func TestService_RecordPayment_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RecordPaymentRequest)
		code   string
	}{
		{"unknown type", func(r *RecordPaymentRequest) { r.Type = "chargeback" }, ledger.CodeInvalidType},
		{"zero amount", func(r *RecordPaymentRequest) { r.Amount = decimal.Zero }, ledger.CodeInvalidAmount},
		{"negative payment", func(r *RecordPaymentRequest) { r.Amount = dec("-10") }, ledger.CodeInvalidAmount},
		{"zero adjustment", func(r *RecordPaymentRequest) { r.Type = "adjustment"; r.Amount = decimal.Zero }, ledger.CodeInvalidAmount},
		{"oversized method", func(r *RecordPaymentRequest) { r.Method = strings.Repeat("m", 31) }, ledger.CodeInvalidMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
			req := f.recordRequest("payment", "10")
			tt.mutate(&req)

			_, err := f.service.RecordPayment(context.Background(), req)

			requireDomainCode(t, err, tt.code)
			f.invoiceRepo.AssertNotCalled(t, "FindByIDForUpdate", mock.Anything, mock.Anything, mock.Anything)
			assert.Zero(t, f.locker.locked[f.invoice.ID])
		})
	}
}

func TestService_RecordPayment_InvoiceNotFound(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	f.invoiceRepo.On("FindByIDForUpdate", mock.Anything, f.tenantID, f.invoice.ID).Return(nil, nil)

	_, err := f.service.RecordPayment(context.Background(), f.recordRequest("payment", "10"))

	requireDomainCode(t, err, ledger.CodeInvoiceNotFound)
	assert.Equal(t, 1, f.locker.unlocked[f.invoice.ID])
}

func TestService_RecordPayment_TerminalInvoice(t *testing.T) {
	for _, status := range []ledger.InvoiceStatus{ledger.InvoiceStatusCancelled, ledger.InvoiceStatusArchived} {
		t.Run(string(status), func(t *testing.T) {
			f := newServiceFixture(t, "1000", status)
			f.expectInvoice()

			_, err := f.service.RecordPayment(context.Background(), f.recordRequest("payment", "10"))

			requireDomainCode(t, err, ledger.CodeInvoiceNotPayable)
			f.txRepo.AssertNotCalled(t, "ListByInvoice", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestService_RecordPayment_ConcurrentModification(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	f.expectInvoice()
	f.expectLedger()
	f.captureInserts()
	f.invoiceRepo.On("SaveWithLock", mock.Anything, f.invoice).Return(shared.ErrConcurrencyConflict)

	_, err := f.service.RecordPayment(context.Background(), f.recordRequest("payment", "10"))

	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestService_RecordPayment_LockTimeout(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	f.locker.err = shared.ErrLockTimeout

	_, err := f.service.RecordPayment(context.Background(), f.recordRequest("payment", "10"))

	assert.ErrorIs(t, err, shared.ErrLockTimeout)
	f.invoiceRepo.AssertNotCalled(t, "FindByIDForUpdate", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RecordPayment_StoreErrorIsWrapped(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	f.expectInvoice()
	f.expectLedger()
	dbErr := errors.New("connection reset")
	f.txRepo.On("Insert", mock.Anything, mock.Anything).Return(dbErr)

	_, err := f.service.RecordPayment(context.Background(), f.recordRequest("payment", "10"))

	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "failed to save transaction")
}

// ============================================
// Idempotency Tests
// ============================================

func TestService_RecordPayment_DuplicateIdempotencyKey(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	store := new(MockIdempotencyStore)
	f.service.SetIdempotencyStore(store, time.Hour)
	store.On("MarkProcessed", mock.Anything, mock.AnythingOfType("string"), time.Hour).Return(false, nil)

	req := f.recordRequest("payment", "10")
	req.IdempotencyKey = "retry-1"
	_, err := f.service.RecordPayment(context.Background(), req)

	assert.ErrorIs(t, err, shared.ErrDuplicateRequest)
	f.invoiceRepo.AssertNotCalled(t, "FindByIDForUpdate", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Forget", mock.Anything, mock.Anything)
}

func TestService_RecordPayment_FailedRequestReleasesKey(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	store := new(MockIdempotencyStore)
	f.service.SetIdempotencyStore(store, 0)

	expectedKey := idempotencyKey(f.tenantID, f.invoice.ID, "retry-2")
	store.On("MarkProcessed", mock.Anything, expectedKey, DefaultIdempotencyTTL).Return(true, nil)
	store.On("Forget", mock.Anything, expectedKey).Return(nil)
	f.invoiceRepo.On("FindByIDForUpdate", mock.Anything, f.tenantID, f.invoice.ID).Return(nil, nil)

	req := f.recordRequest("payment", "10")
	req.IdempotencyKey = "retry-2"
	_, err := f.service.RecordPayment(context.Background(), req)

	requireDomainCode(t, err, ledger.CodeInvoiceNotFound)
	store.AssertCalled(t, "Forget", mock.Anything, expectedKey)
}

// ============================================
// UpdatePayment Tests
// ============================================

func TestService_UpdatePayment_RollsBackPaidStatus(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPaid)
	payment := f.existingTx(t, ledger.TransactionTypePayment, "1000", 1, "0")
	paidAt := time.Now().Add(-24 * time.Hour)
	f.invoice.PaidAt = &paidAt
	f.invoice.PaidBy = &f.userID

	f.expectInvoice()
	f.txRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, payment.ID).Return(payment, nil)
	f.expectLedger(payment)
	f.txRepo.On("Update", mock.Anything, payment).Return(nil)
	var refreshed []ledger.LedgerEntry
	f.txRepo.On("UpdateRemainingBalances", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { refreshed = args.Get(1).([]ledger.LedgerEntry) }).
		Return(nil)
	f.expectSave()

	result, err := f.service.UpdatePayment(context.Background(), UpdatePaymentRequest{
		TenantID:  f.tenantID,
		InvoiceID: f.invoice.ID,
		PaymentID: payment.ID,
		UserID:    &f.userID,
		Amount:    decPtr("600"),
	})
	require.NoError(t, err)

	assert.Equal(t, "partially_paid", result.Invoice.Status)
	assert.True(t, result.CurrentBalance.Equal(dec("400")))
	assert.Nil(t, f.invoice.PaidAt)
	assert.Nil(t, f.invoice.PaidBy)
	assert.True(t, payment.RemainingBalance.Equal(dec("400")))
	assert.Equal(t, 1, payment.PaymentNumber)
	require.Len(t, refreshed, 1)
	assert.True(t, refreshed[0].BalanceAfter.Equal(dec("400")))
	assert.Equal(t, []string{ledger.EventTypePaymentUpdated, ledger.EventTypeInvoiceStatusChanged}, f.publishedEventTypes(t))
}

func TestService_UpdatePayment_NotFound(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	missing := uuid.New()
	f.expectInvoice()
	f.txRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, missing).Return(nil, nil)

	_, err := f.service.UpdatePayment(context.Background(), UpdatePaymentRequest{
		TenantID:  f.tenantID,
		InvoiceID: f.invoice.ID,
		PaymentID: missing,
		Amount:    decPtr("10"),
	})

	requireDomainCode(t, err, ledger.CodePaymentNotFound)
}

func TestService_UpdatePayment_MismatchedInvoice(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	foreign, err := ledger.NewPaymentTransaction(ledger.NewTransactionInput{
		TenantID:  f.tenantID,
		InvoiceID: uuid.New(),
		Type:      ledger.TransactionTypePayment,
		Amount:    dec("10"),
	}, 1)
	require.NoError(t, err)
	f.expectInvoice()
	f.txRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, foreign.ID).Return(foreign, nil)

	_, err = f.service.UpdatePayment(context.Background(), UpdatePaymentRequest{
		TenantID:  f.tenantID,
		InvoiceID: f.invoice.ID,
		PaymentID: foreign.ID,
		Amount:    decPtr("20"),
	})

	requireDomainCode(t, err, ledger.CodeMismatchedInvoice)
	assert.True(t, foreign.Amount.Equal(dec("10")))
}

func TestService_UpdatePayment_RefundCeilingExcludesEditedRow(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPartiallyPaid)
	payment := f.existingTx(t, ledger.TransactionTypePayment, "300", 1, "700")
	refund := f.existingTx(t, ledger.TransactionTypeRefund, "100", 2, "800")
	f.expectInvoice()
	f.txRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, refund.ID).Return(refund, nil)
	f.expectLedger(payment, refund)

	_, err := f.service.UpdatePayment(context.Background(), UpdatePaymentRequest{
		TenantID:  f.tenantID,
		InvoiceID: f.invoice.ID,
		PaymentID: refund.ID,
		Amount:    decPtr("400"),
	})

	requireDomainCode(t, err, ledger.CodeInvalidRefund)
	f.txRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestService_UpdatePayment_InvalidAmount(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPartiallyPaid)
	payment := f.existingTx(t, ledger.TransactionTypePayment, "300", 1, "700")
	f.expectInvoice()
	f.txRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, payment.ID).Return(payment, nil)
	f.expectLedger(payment)

	_, err := f.service.UpdatePayment(context.Background(), UpdatePaymentRequest{
		TenantID:  f.tenantID,
		InvoiceID: f.invoice.ID,
		PaymentID: payment.ID,
		Amount:    decPtr("0"),
	})

	requireDomainCode(t, err, ledger.CodeInvalidAmount)
	assert.True(t, payment.Amount.Equal(dec("300")))
}

// ============================================
// DeletePayment Tests
// ============================================

func TestService_DeletePayment_KeepsNumbersAndReplays(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPartiallyPaid)
	first := f.existingTx(t, ledger.TransactionTypePayment, "200", 1, "800")
	second := f.existingTx(t, ledger.TransactionTypePayment, "300", 2, "500")
	third := f.existingTx(t, ledger.TransactionTypeRefund, "100", 3, "600")

	f.expectInvoice()
	f.txRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, second.ID).Return(second, nil)
	f.txRepo.On("Delete", mock.Anything, f.tenantID, second.ID).Return(nil)
	f.expectLedger(first, third)
	var refreshed []ledger.LedgerEntry
	f.txRepo.On("UpdateRemainingBalances", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { refreshed = args.Get(1).([]ledger.LedgerEntry) }).
		Return(nil)
	f.expectSave()

	result, err := f.service.DeletePayment(context.Background(), DeletePaymentRequest{
		TenantID:  f.tenantID,
		InvoiceID: f.invoice.ID,
		PaymentID: second.ID,
		UserID:    &f.userID,
	})
	require.NoError(t, err)

	require.Len(t, result.Transactions, 2)
	assert.Equal(t, 1, result.Transactions[0].PaymentNumber)
	assert.Equal(t, 3, result.Transactions[1].PaymentNumber)
	assert.True(t, result.CurrentBalance.Equal(dec("900")))
	assert.Equal(t, second.ID, result.Transaction.ID)

	require.Len(t, refreshed, 2)
	assert.True(t, refreshed[0].BalanceAfter.Equal(dec("800")))
	assert.True(t, refreshed[1].BalanceAfter.Equal(dec("900")))
	assert.Equal(t, 3, f.invoice.LastPaymentNumber)
}

func TestService_DeletePayment_LastPaymentReturnsToSent(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPaid)
	payment := f.existingTx(t, ledger.TransactionTypePayment, "1000", 1, "0")
	paidAt := time.Now()
	f.invoice.PaidAt = &paidAt

	f.expectInvoice()
	f.txRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, payment.ID).Return(payment, nil)
	f.txRepo.On("Delete", mock.Anything, f.tenantID, payment.ID).Return(nil)
	f.expectLedger()
	f.txRepo.On("UpdateRemainingBalances", mock.Anything, mock.Anything).Return(nil)
	f.expectSave()

	result, err := f.service.DeletePayment(context.Background(), DeletePaymentRequest{
		TenantID:  f.tenantID,
		InvoiceID: f.invoice.ID,
		PaymentID: payment.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, "sent", result.Invoice.Status)
	assert.Empty(t, result.Transactions)
	assert.True(t, result.CurrentBalance.Equal(dec("1000")))
	assert.Nil(t, f.invoice.PaidAt)
	assert.Equal(t, []string{ledger.EventTypePaymentDeleted, ledger.EventTypeInvoiceStatusChanged}, f.publishedEventTypes(t))
}

func TestService_DeletePayment_NotFound(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	missing := uuid.New()
	f.expectInvoice()
	f.txRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, missing).Return(nil, nil)

	_, err := f.service.DeletePayment(context.Background(), DeletePaymentRequest{
		TenantID:  f.tenantID,
		InvoiceID: f.invoice.ID,
		PaymentID: missing,
	})

	requireDomainCode(t, err, ledger.CodePaymentNotFound)
	f.txRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

// ============================================
// GetInvoicePayments Tests
// ============================================

func TestService_GetInvoicePayments(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusOverpaid)
	payment := f.existingTx(t, ledger.TransactionTypePayment, "1200", 1, "0")
	credit, err := ledger.NewOverpaymentCredit(payment, dec("200"))
	require.NoError(t, err)

	f.invoiceRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, f.invoice.ID).Return(f.invoice, nil)
	f.txRepo.On("ListByInvoice", mock.Anything, f.tenantID, f.invoice.ID, ledger.SortAscending).
		Return([]*ledger.PaymentTransaction{credit, payment}, nil)

	result, err := f.service.GetInvoicePayments(context.Background(), f.tenantID, f.invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, "USD", result.Invoice.Currency)
	assert.Equal(t, 2, result.Invoice.TransactionCount)
	assert.True(t, result.Invoice.AmountPaid.Equal(dec("1200")))
	assert.True(t, result.CurrentBalance.IsZero())
	assert.True(t, result.AvailableCredits.Equal(dec("200")))

	require.Len(t, result.Transactions, 2)
	assert.Equal(t, 1, result.Transactions[0].PaymentNumber)
	require.NotNil(t, result.Transactions[0].BalanceBefore)
	assert.True(t, result.Transactions[0].BalanceBefore.Equal(dec("1200")))
	assert.True(t, result.Transactions[0].BalanceAfter.IsZero())
	assert.Equal(t, 2, result.Transactions[1].PaymentNumber)
	f.locker.mu.Lock()
	assert.Empty(t, f.locker.locked)
	f.locker.mu.Unlock()
}

func TestService_GetInvoicePayments_NotFound(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusSent)
	f.invoiceRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, f.invoice.ID).Return(nil, nil)

	_, err := f.service.GetInvoicePayments(context.Background(), f.tenantID, f.invoice.ID)

	requireDomainCode(t, err, ledger.CodeInvoiceNotFound)
}

// ============================================
// Verification Tests
// ============================================

func TestService_VerifyLedger_ReportsDrift(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPaid)
	payment := f.existingTx(t, ledger.TransactionTypePayment, "400", 1, "0")
	f.invoiceRepo.On("FindByIDForTenant", mock.Anything, f.tenantID, f.invoice.ID).Return(f.invoice, nil)
	f.expectLedger(payment)

	report, err := f.service.VerifyLedger(context.Background(), f.tenantID, f.invoice.ID)
	require.NoError(t, err)

	assert.False(t, report.Consistent())
	assert.Equal(t, ledger.InvoiceStatusPartiallyPaid, report.ExpectedStatus)
	require.Len(t, report.SnapshotDrifts, 1)
	assert.True(t, report.SnapshotDrifts[0].Replayed.Equal(dec("600")))
}

func TestService_RepairLedger(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPaid)
	payment := f.existingTx(t, ledger.TransactionTypePayment, "400", 1, "0")
	f.expectInvoice()
	f.expectLedger(payment)
	f.txRepo.On("UpdateRemainingBalances", mock.Anything, mock.Anything).Return(nil)
	f.txRepo.On("MaxPaymentNumber", mock.Anything, f.tenantID, f.invoice.ID).Return(1, nil)
	f.invoiceRepo.On("SaveWithLock", mock.Anything, f.invoice).Return(nil)

	report, err := f.service.RepairLedger(context.Background(), f.tenantID, f.invoice.ID)
	require.NoError(t, err)

	assert.False(t, report.Consistent())
	assert.Equal(t, ledger.InvoiceStatusPartiallyPaid, f.invoice.Status)
	f.txRepo.AssertCalled(t, "UpdateRemainingBalances", mock.Anything, mock.Anything)
	f.invoiceRepo.AssertCalled(t, "SaveWithLock", mock.Anything, f.invoice)
}

func TestService_RepairLedger_ConsistentIsNoop(t *testing.T) {
	f := newServiceFixture(t, "1000", ledger.InvoiceStatusPartiallyPaid)
	payment := f.existingTx(t, ledger.TransactionTypePayment, "400", 1, "600")
	f.expectInvoice()
	f.expectLedger(payment)

	report, err := f.service.RepairLedger(context.Background(), f.tenantID, f.invoice.ID)
	require.NoError(t, err)

	assert.True(t, report.Consistent())
	f.invoiceRepo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything)
}
