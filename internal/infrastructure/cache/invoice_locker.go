package cache

import (
	"context"
	"sync"
	"time"

	appledger "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
)

// InMemoryInvoiceLocker is a keyed mutex over invoice ids.
// Writers on different invoices never wait for each other.
type InMemoryInvoiceLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*invoiceLock
	wait  time.Duration
}

type invoiceLock struct {
	sem  chan struct{}
	refs int
}

// NewInMemoryInvoiceLocker creates a locker. Lock gives up with
// shared.ErrLockTimeout after wait; a non-positive wait blocks until ctx is done.
func NewInMemoryInvoiceLocker(wait time.Duration) *InMemoryInvoiceLocker {
	return &InMemoryInvoiceLocker{
		locks: make(map[uuid.UUID]*invoiceLock),
		wait:  wait,
	}
}

// Lock acquires the lock of invoiceID
func (l *InMemoryInvoiceLocker) Lock(ctx context.Context, invoiceID uuid.UUID) (func(), error) {
	lock := l.acquireRef(invoiceID)

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case lock.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lock.sem
				l.releaseRef(invoiceID, lock)
			})
		}, nil
	case <-timeout:
		l.releaseRef(invoiceID, lock)
		return nil, shared.ErrLockTimeout
	case <-ctx.Done():
		l.releaseRef(invoiceID, lock)
		return nil, ctx.Err()
	}
}

// Held returns the number of invoices with a holder or waiter
func (l *InMemoryInvoiceLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *InMemoryInvoiceLocker) acquireRef(id uuid.UUID) *invoiceLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &invoiceLock{sem: make(chan struct{}, 1)}
		l.locks[id] = lock
	}
	lock.refs++
	return lock
}

func (l *InMemoryInvoiceLocker) releaseRef(id uuid.UUID, lock *invoiceLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}

var _ appledger.InvoiceLocker = (*InMemoryInvoiceLocker)(nil)
