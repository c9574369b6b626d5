package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	appledger "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultLockPrefix    = "ledger:lock:invoice:"
	defaultRetryInterval = 25 * time.Millisecond
)

// releaseScript deletes the lock only if it still carries our token,
// so an expired lease can never release somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisInvoiceLocker serializes invoice writers across processes.
// The lock is a SET NX PX lease holding a random token.
type RedisInvoiceLocker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	wait          time.Duration
	retryInterval time.Duration
	prefix        string
	logger        *zap.Logger
}

// NewRedisInvoiceLocker creates a locker whose leases last ttl and whose
// writers wait at most wait for a busy invoice
func NewRedisInvoiceLocker(client redis.UniversalClient, ttl, wait time.Duration, logger *zap.Logger) *RedisInvoiceLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisInvoiceLocker{
		client:        client,
		ttl:           ttl,
		wait:          wait,
		retryInterval: defaultRetryInterval,
		prefix:        defaultLockPrefix,
		logger:        logger,
	}
}

// Lock polls SET NX until the lease is won, wait elapses or ctx is done
func (l *RedisInvoiceLocker) Lock(ctx context.Context, invoiceID uuid.UUID) (func(), error) {
	key := l.prefix + invoiceID.String()
	token := uuid.NewString()

	var deadline time.Time
	if l.wait > 0 {
		deadline = time.Now().Add(l.wait)
	}

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to acquire invoice lock: %w", err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, shared.ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}

func (l *RedisInvoiceLocker) release(key, token string) {
	// the caller's context may already be cancelled; the release must still happen
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	switch {
	case err != nil && !errors.Is(err, redis.Nil):
		l.logger.Warn("Failed to release invoice lock", zap.String("key", key), zap.Error(err))
	case n == 0:
		l.logger.Warn("Invoice lock lease expired before release", zap.String("key", key))
	}
}

var _ appledger.InvoiceLocker = (*RedisInvoiceLocker)(nil)
