package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	appledger "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/infrastructure/cache"
	"github.com/erp/ledger/internal/infrastructure/config"
	"github.com/erp/ledger/internal/infrastructure/logger"
	"github.com/erp/ledger/internal/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "1.0.0"

// ledgerOps is the part of the ledger service the CLI drives
type ledgerOps interface {
	VerifyLedger(ctx context.Context, tenantID, invoiceID uuid.UUID) (*ledger.VerificationReport, error)
	RepairLedger(ctx context.Context, tenantID, invoiceID uuid.UUID) (*ledger.VerificationReport, error)
}

// envFactory opens the service and returns a cleanup func
type envFactory func(ctx context.Context, logLevel string) (ledgerOps, func(), error)

type targetFlags struct {
	tenant  string
	invoice string
	json    bool
}

func (f targetFlags) ids() (uuid.UUID, uuid.UUID, error) {
	tenantID, err := uuid.Parse(f.tenant)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid --tenant %q: %w", f.tenant, err)
	}
	invoiceID, err := uuid.Parse(f.invoice)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid --invoice %q: %w", f.invoice, err)
	}
	return tenantID, invoiceID, nil
}

func newRootCmd(open envFactory) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operator tools for invoice payment ledgers",
		Long: `ledgerctl checks and repairs the stored state of invoice payment ledgers.

It uses the same configuration as the server (config.toml and LEDGER_*
environment variables) and takes the per-invoice lock before repairing.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newLedgerCmd("verify", "Replay an invoice ledger and report drift", false, open, &logLevel),
		newLedgerCmd("repair", "Rewrite balance snapshots and status from a replay", true, open, &logLevel),
	)
	return root
}

func newLedgerCmd(use, short string, repair bool, open envFactory, logLevel *string) *cobra.Command {
	var flags targetFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Example: fmt.Sprintf(`  ledgerctl %s --tenant 7c3e... --invoice 9a1f...
  ledgerctl %s --tenant 7c3e... --invoice 9a1f... --json`, use, use),
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, invoiceID, err := flags.ids()
			if err != nil {
				return err
			}

			ops, cleanup, err := open(cmd.Context(), *logLevel)
			if err != nil {
				return err
			}
			defer cleanup()

			var report *ledger.VerificationReport
			if repair {
				report, err = ops.RepairLedger(cmd.Context(), tenantID, invoiceID)
			} else {
				report, err = ops.VerifyLedger(cmd.Context(), tenantID, invoiceID)
			}
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, flags.json, repair)
		},
	}
	cmd.Flags().StringVar(&flags.tenant, "tenant", "", "Tenant ID")
	cmd.Flags().StringVar(&flags.invoice, "invoice", "", "Invoice ID")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("invoice")
	return cmd
}

func printReport(w io.Writer, report *ledger.VerificationReport, asJSON, repaired bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	rec := report.Reconciliation
	fmt.Fprintf(w, "invoice:          %s\n", report.InvoiceID)
	fmt.Fprintf(w, "balance:          %s\n", rec.CurrentBalance.StringFixed(2))
	fmt.Fprintf(w, "credits:          %s\n", rec.AvailableCredits.StringFixed(2))
	fmt.Fprintf(w, "status:           %s (replay: %s)\n", report.StoredStatus, report.ExpectedStatus)
	for _, d := range report.SnapshotDrifts {
		fmt.Fprintf(w, "drift:            #%d stored %s, replayed %s\n",
			d.PaymentNumber, d.Stored.StringFixed(2), d.Replayed.StringFixed(2))
	}
	for _, n := range report.DuplicateNumber {
		fmt.Fprintf(w, "duplicate number: #%d\n", n)
	}

	switch {
	case report.Consistent():
		fmt.Fprintln(w, "result:           consistent")
	case repaired && len(report.DuplicateNumber) > 0:
		fmt.Fprintln(w, "result:           repaired; duplicate numbers need manual review")
	case repaired:
		fmt.Fprintln(w, "result:           repaired")
	default:
		fmt.Fprintln(w, "result:           inconsistent")
	}
	return nil
}

func newServiceEnv(ctx context.Context, logLevel string) (ledgerOps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database,
		logger.NewGormLogger(log, logger.GormLogLevel(logLevel), cfg.Telemetry.DBSlowQueryThresh))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// repair must serialize with running servers, so no silent in-memory fallback
	coordination, err := cache.NewCoordination(ctx, cfg.Ledger, cfg.Redis, cache.WithLogger(log))
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to initialize invoice locks: %w", err)
	}

	svc := appledger.NewService(
		persistence.NewGormInvoiceRepository(db.DB),
		persistence.NewGormPaymentTransactionRepository(db.DB),
		persistence.NewGormTransactionScope(db.DB),
		coordination.Locker,
		log,
	)

	cleanup := func() {
		if err := coordination.Close(); err != nil {
			log.Warn("Error closing invoice locks", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			log.Warn("Error closing database", zap.Error(err))
		}
		_ = log.Sync()
	}
	return svc, cleanup, nil
}
