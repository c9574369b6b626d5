package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func sqlFn(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestGormLogger_Trace(t *testing.T) {
	t.Run("errors are logged", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		l := NewGormLogger(zap.New(core), gormlogger.Warn, 200*time.Millisecond)

		l.Trace(context.Background(), time.Now(), sqlFn("INSERT INTO payment_transactions", 0), errors.New("duplicate key"))

		entries := recorded.FilterMessage("SQL Error").All()
		assert.Len(t, entries, 1)
		assert.Equal(t, "gorm", entries[0].LoggerName)
	})

	t.Run("record not found is ignored", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		l := NewGormLogger(zap.New(core), gormlogger.Warn, 0)

		l.Trace(context.Background(), time.Now(), sqlFn("SELECT 1", 0), gorm.ErrRecordNotFound)

		assert.Zero(t, recorded.Len())
	})

	t.Run("slow queries warn", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		l := NewGormLogger(zap.New(core), gormlogger.Warn, time.Millisecond)

		l.Trace(context.Background(), time.Now().Add(-time.Second), sqlFn("SELECT * FROM invoices FOR UPDATE", 1), nil)

		assert.Equal(t, 1, recorded.FilterMessage("Slow SQL").Len())
	})

	t.Run("silent logs nothing", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		l := NewGormLogger(zap.New(core), gormlogger.Info, 0).LogMode(gormlogger.Silent)

		l.Trace(context.Background(), time.Now(), sqlFn("SELECT 1", 1), errors.New("x"))

		assert.Zero(t, recorded.Len())
	})

	t.Run("request id is attached", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		l := NewGormLogger(zap.New(core), gormlogger.Info, 0)
		ctx := WithRequestID(context.Background(), "req-9")

		l.Trace(ctx, time.Now(), sqlFn("SELECT 1", 1), nil)

		entries := recorded.FilterMessage("SQL Query").All()
		assert.Len(t, entries, 1)
		assert.Equal(t, "req-9", entries[0].ContextMap()["request_id"])
	})
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, GormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, GormLogLevel("error"))
	assert.Equal(t, gormlogger.Info, GormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, GormLogLevel("info"))
}
