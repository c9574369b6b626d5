package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// newSQLiteDB opens an in-memory database with the ledger tables
func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.LedgerModels()...))
	return db
}

// newMockDB returns a postgres-dialect GORM handle backed by sqlmock
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gormDB, mock, mockDB
}

// seedInvoice stores a sent invoice of the given total
func seedInvoice(t *testing.T, db *gorm.DB, total string) *ledger.Invoice {
	t.Helper()
	inv, err := ledger.NewInvoice(uuid.New(), "INV-"+uuid.NewString()[:8], "USD", dec(total))
	require.NoError(t, err)
	inv.Status = ledger.InvoiceStatusSent
	require.NoError(t, NewGormInvoiceRepository(db).Save(context.Background(), inv))
	return inv
}

func newTx(t *testing.T, inv *ledger.Invoice, txType ledger.TransactionType, amount string, number int) *ledger.PaymentTransaction {
	t.Helper()
	tx, err := ledger.NewPaymentTransaction(ledger.NewTransactionInput{
		TenantID:  inv.TenantID,
		InvoiceID: inv.ID,
		Type:      txType,
		Amount:    dec(amount),
		Date:      time.Date(2024, 3, number, 0, 0, 0, 0, time.UTC),
		Method:    ledger.PaymentMethodBankTransfer,
	}, number)
	require.NoError(t, err)
	return tx
}
