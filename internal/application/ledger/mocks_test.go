package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockInvoiceRepository is a mock implementation of ledger.InvoiceRepository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Invoice, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Invoice, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) Save(ctx context.Context, invoice *ledger.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) SaveWithLock(ctx context.Context, invoice *ledger.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

// MockPaymentTransactionRepository is a mock implementation of ledger.PaymentTransactionRepository
type MockPaymentTransactionRepository struct {
	mock.Mock
}

func (m *MockPaymentTransactionRepository) ListByInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID, order ledger.SortOrder) ([]*ledger.PaymentTransaction, error) {
	args := m.Called(ctx, tenantID, invoiceID, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledger.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentTransactionRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*ledger.PaymentTransaction, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentTransactionRepository) MaxPaymentNumber(ctx context.Context, tenantID, invoiceID uuid.UUID) (int, error) {
	args := m.Called(ctx, tenantID, invoiceID)
	return args.Int(0), args.Error(1)
}

func (m *MockPaymentTransactionRepository) Insert(ctx context.Context, tx *ledger.PaymentTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockPaymentTransactionRepository) Update(ctx context.Context, tx *ledger.PaymentTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockPaymentTransactionRepository) UpdateRemainingBalances(ctx context.Context, entries []ledger.LedgerEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockPaymentTransactionRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

// MockEventPublisher captures published events
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// MockIdempotencyStore is a mock implementation of shared.IdempotencyStore
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Forget(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Close() error {
	return m.Called().Error(0)
}

// countingLocker records lock usage per invoice
type countingLocker struct {
	mu       sync.Mutex
	locked   map[uuid.UUID]int
	unlocked map[uuid.UUID]int
	err      error
}

func newCountingLocker() *countingLocker {
	return &countingLocker{locked: map[uuid.UUID]int{}, unlocked: map[uuid.UUID]int{}}
}

func (l *countingLocker) Lock(_ context.Context, invoiceID uuid.UUID) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	l.locked[invoiceID]++
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.unlocked[invoiceID]++
		l.mu.Unlock()
	}, nil
}
