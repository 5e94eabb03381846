// Command reconcile verifies persisted curtailment data against the market
// data source and repairs drift.
//
// Exit codes: 0 clean or repaired, 1 execution error, 2 verification failed
// in verify-only mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"curtailmine/internal/app"
	"curtailmine/internal/config"
	"curtailmine/internal/domain"
	"curtailmine/internal/observability"
	"curtailmine/internal/repair"
	"curtailmine/internal/verification"
)

const (
	exitOK         = 0
	exitError      = 1
	exitDriftFound = 2
)

const timeRound = 10 * time.Millisecond

// exitCodeError carries a process exit code through cobra's error path.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("exit code %d", e.code)
}

type rootOptions struct {
	Verbose     bool
	MetricsAddr string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "reconcile",
		Short: "Verify and repair persisted curtailment data",
		Long: `Compare persisted curtailment records for a settlement date against the
market data source, and optionally replace drifted data and recompute the
day, month, and year aggregates that depend on it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Prometheus metrics HTTP address (empty disables)")

	root.AddCommand(newModeCommand(opts, repair.ModeVerifyOnly, "verify",
		"Verify a date without changing anything"))
	root.AddCommand(newModeCommand(opts, repair.ModeVerifyThenFix, "fix",
		"Verify a date and repair it if verification fails"))
	root.AddCommand(newModeCommand(opts, repair.ModeForceFix, "force-fix",
		"Repair a date unconditionally, skipping verification"))

	if err := root.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			if exitErr.msg != "" {
				fmt.Fprintln(os.Stderr, exitErr.msg)
			}
			return exitErr.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitError
	}
	return exitOK
}

func newModeCommand(opts *rootOptions, mode repair.Mode, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <settlement-date> [strategy]",
		Short: short,
		Long: short + `.

The settlement date is YYYY-MM-DD. The optional strategy is one of
fixed, random[:n], full, progressive[:n] (default fixed).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), opts, mode, args)
		},
	}
}

func runReconcile(ctx context.Context, opts *rootOptions, mode repair.Mode, args []string) error {
	date, err := domain.ParseSettlementDate(args[0])
	if err != nil {
		return err
	}

	strategy := verification.Fixed()
	if len(args) > 1 {
		strategy, err = verification.ParseStrategy(args[1])
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := app.NewLogger(opts.Verbose)
	metrics := observability.NewMetrics("")
	if opts.MetricsAddr != "" {
		go func() {
			if err := observability.Serve(opts.MetricsAddr); err != nil {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, cleanup, err := app.NewStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := app.NewEngine(cfg, stores, logger, metrics)
	if err != nil {
		return err
	}

	result, err := engine.Coordinator.VerifyAndRepair(ctx, date, mode, strategy)
	if err != nil {
		return err
	}

	printResult(result)

	if result.Repaired && !result.RepairSuccess {
		return &exitCodeError{code: exitError, msg: fmt.Sprintf("repair failed: %v", result.RepairError)}
	}
	if !result.Passed() {
		return &exitCodeError{code: exitDriftFound}
	}
	return nil
}

func printResult(r *repair.Result) {
	if r.Verdict != nil {
		fmt.Printf("%s: strategy=%s sampled=%d match=%d mismatch=%d missing=%d errors=%d\n",
			r.SettlementDate,
			r.Verdict.Strategy,
			len(r.Verdict.Checks),
			r.Verdict.CountByStatus(verification.StatusMatch),
			r.Verdict.CountByStatus(verification.StatusMismatch),
			r.Verdict.CountByStatus(verification.StatusMissing),
			r.Verdict.CountByStatus(verification.StatusError),
		)
	}

	switch {
	case r.Repaired && r.RepairSuccess:
		fmt.Printf("%s: repaired in %s\n", r.SettlementDate, r.Duration.Round(timeRound))
		if r.SummaryAfter != nil {
			fmt.Printf("%s: now %d records, %.3f MWh, %.2f GBP\n",
				r.SettlementDate,
				r.SummaryAfter.RecordCount,
				r.SummaryAfter.TotalVolumeMWh,
				r.SummaryAfter.TotalPaymentGBP,
			)
		}
	case r.Repaired:
		fmt.Printf("%s: repair FAILED: %v\n", r.SettlementDate, r.RepairError)
	case r.Passed():
		fmt.Printf("%s: OK\n", r.SettlementDate)
	default:
		fmt.Printf("%s: DRIFT DETECTED (not repaired)\n", r.SettlementDate)
	}
}
