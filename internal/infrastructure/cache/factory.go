package cache

import (
	"context"
	"fmt"
	"time"

	appledger "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const idempotencySweepInterval = 5 * time.Minute

// Coordination is the cross-request state of the ledger: the per-invoice
// writer lock and the idempotency key store
type Coordination struct {
	Locker      appledger.InvoiceLocker
	Idempotency shared.IdempotencyStore
	Backend     string
	client      *redis.Client
}

// Close releases the idempotency store and the Redis client, if any
func (c *Coordination) Close() error {
	var firstErr error
	if c.Idempotency != nil {
		firstErr = c.Idempotency.Close()
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FactoryOption configures NewCoordination
type FactoryOption func(*factory)

type factory struct {
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *factory) { f.logger = logger }
}

// WithInMemoryFallback lets the redis backend degrade to in-memory when Redis
// is unreachable. Off by default: a silent fallback breaks cross-process locking.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *factory) { f.allowInMemoryFallback = allow }
}

// NewCoordination builds the locker and idempotency store for ledgerCfg.LockBackend
func NewCoordination(ctx context.Context, ledgerCfg config.LedgerConfig, redisCfg config.RedisConfig, opts ...FactoryOption) (*Coordination, error) {
	f := &factory{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}

	if ledgerCfg.LockBackend != config.LockBackendRedis {
		return inMemoryCoordination(ledgerCfg), nil
	}

	client, err := NewRedisClient(ctx, redisCfg)
	if err != nil {
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("redis lock backend unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory invoice locks. "+
			"Writers in other processes are not serialized.", zap.Error(err))
		return inMemoryCoordination(ledgerCfg), nil
	}

	f.logger.Info("Using Redis invoice locks", zap.String("addr", redisCfg.Addr()))
	return &Coordination{
		Locker:      NewRedisInvoiceLocker(client, ledgerCfg.LockTTL, ledgerCfg.LockWait, f.logger.Named("invoice_lock")),
		Idempotency: NewRedisIdempotencyStore(client, ""),
		Backend:     config.LockBackendRedis,
		client:      client,
	}, nil
}

func inMemoryCoordination(cfg config.LedgerConfig) *Coordination {
	return &Coordination{
		Locker:      NewInMemoryInvoiceLocker(cfg.LockWait),
		Idempotency: NewInMemoryIdempotencyStore(idempotencySweepInterval),
		Backend:     config.LockBackendMemory,
	}
}
