package event

import (
	"context"
	"time"

	"github.com/erp/ledger/internal/domain/shared"
	"go.uber.org/zap"
)

const defaultHandlerIdempotencyTTL = 24 * time.Hour

// IdempotentHandler makes a handler see each event id at most once.
// A failed delivery releases the id so a redelivery is processed.
type IdempotentHandler struct {
	handler shared.EventHandler
	store   shared.IdempotencyStore
	name    string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewIdempotentHandler wraps handler. name scopes the keys so two handlers
// can both process the same event.
func NewIdempotentHandler(name string, handler shared.EventHandler, store shared.IdempotencyStore, logger *zap.Logger) *IdempotentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotentHandler{
		handler: handler,
		store:   store,
		name:    name,
		ttl:     defaultHandlerIdempotencyTTL,
		logger:  logger,
	}
}

// EventTypes returns the wrapped handler's event types
func (h *IdempotentHandler) EventTypes() []string {
	return h.handler.EventTypes()
}

// Handle processes event unless its id was already handled
func (h *IdempotentHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	key := "event:" + h.name + ":" + event.EventID().String()

	isNew, err := h.store.MarkProcessed(ctx, key, h.ttl)
	if err != nil {
		// a store outage must not drop events; process and accept a possible duplicate
		h.logger.Warn("Idempotency check failed, processing anyway",
			zap.String("event_id", event.EventID().String()),
			zap.Error(err))
	} else if !isNew {
		h.logger.Debug("Duplicate event skipped",
			zap.String("event_id", event.EventID().String()),
			zap.String("event_type", event.EventType()))
		return nil
	}

	if err := h.handler.Handle(ctx, event); err != nil {
		if ferr := h.store.Forget(ctx, key); ferr != nil {
			h.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(ferr))
		}
		return err
	}
	return nil
}

var _ shared.EventHandler = (*IdempotentHandler)(nil)
