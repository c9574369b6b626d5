package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool
	DBSystem        string
	WithVariables   bool          // include bound query variables in spans
	SlowQueryThresh time.Duration // queries slower than this get a slow_query event
}

type queryStartKey struct{}

// RegisterDBTracing installs the otelgorm plugin plus timing callbacks that
// flag slow queries on the current span.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.WithVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	before := func(tx *gorm.DB) {
		if tx.Statement.Context != nil {
			tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey{}, time.Now())
		}
	}
	after := func(tx *gorm.DB) {
		markSlowQuery(tx, cfg.SlowQueryThresh)
	}

	cb := db.Callback()
	registrations := []struct {
		name   string
		before func() error
		after  func() error
	}{
		{"create",
			func() error { return cb.Create().Before("gorm:create").Register("ledger_timing:before_create", before) },
			func() error { return cb.Create().After("gorm:create").Register("ledger_timing:after_create", after) }},
		{"query",
			func() error { return cb.Query().Before("gorm:query").Register("ledger_timing:before_query", before) },
			func() error { return cb.Query().After("gorm:query").Register("ledger_timing:after_query", after) }},
		{"update",
			func() error { return cb.Update().Before("gorm:update").Register("ledger_timing:before_update", before) },
			func() error { return cb.Update().After("gorm:update").Register("ledger_timing:after_update", after) }},
		{"delete",
			func() error { return cb.Delete().Before("gorm:delete").Register("ledger_timing:before_delete", before) },
			func() error { return cb.Delete().After("gorm:delete").Register("ledger_timing:after_delete", after) }},
	}
	for _, r := range registrations {
		if err := r.before(); err != nil {
			return err
		}
		if err := r.after(); err != nil {
			return err
		}
	}

	logger.Info("Database tracing enabled",
		zap.String("db_system", cfg.DBSystem),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
	)
	return nil
}

func markSlowQuery(tx *gorm.DB, threshold time.Duration) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if tx.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
	}
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		RecordError(span, tx.Error)
	}
	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(start); elapsed > threshold {
		span.SetAttributes(attribute.Bool("db.slow_query", true))
		AddEvent(span, "slow_query_warning",
			"duration_ms", elapsed.Milliseconds(),
			"threshold_ms", threshold.Milliseconds(),
		)
	}
}
