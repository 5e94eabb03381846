// Command ingestday fetches, normalizes, and stores one or more settlement
// days, then recomputes the aggregates that depend on them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"curtailmine/internal/app"
	"curtailmine/internal/config"
	"curtailmine/internal/domain"
	"curtailmine/internal/observability"
)

func main() {
	date := flag.String("date", "", "Settlement date to ingest (YYYY-MM-DD)")
	month := flag.String("month", "", "Calendar month to ingest in full (YYYY-MM)")
	from := flag.String("from", "", "Range start date (YYYY-MM-DD), inclusive")
	to := flag.String("to", "", "Range end date (YYYY-MM-DD), inclusive")
	skipCascade := flag.Bool("skip-cascade", false, "Skip aggregate recomputation after ingest")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (empty disables)")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	logger := app.NewLogger(*verbose)

	dates, err := resolveDates(*date, *month, *from, *to)
	if err != nil {
		logger.Fatal(err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err)
	}

	metrics := observability.NewMetrics("")
	if *metricsAddr != "" {
		go func() {
			if err := observability.Serve(*metricsAddr); err != nil {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, cleanup, err := app.NewStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	engine, err := app.NewEngine(cfg, stores, logger, metrics)
	if err != nil {
		logger.Fatalf("Failed to wire engine: %v", err)
	}

	for _, d := range dates {
		result, err := engine.Ingestor.IngestDay(ctx, d)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Warn("interrupted, stopping")
				os.Exit(1)
			}
			logger.Fatalf("Ingest %s: %v", d, err)
		}

		if !*skipCascade {
			if _, err := engine.Aggregator.RecomputeCascade(ctx, d, engine.Profiles); err != nil {
				logger.Fatalf("Recompute cascade for %s: %v", d, err)
			}
			if err := engine.Aggregator.CheckConservation(ctx, d, engine.Profiles); err != nil {
				logger.Fatalf("Conservation check for %s: %v", d, err)
			}
		}

		fmt.Printf("%s: %d records, %d/%d periods, %.3f MWh, %.2f GBP in %s\n",
			d, result.TotalRecords,
			result.PeriodsProcessed, domain.PeriodsPerDay,
			result.TotalVolumeMWh, result.TotalPaymentGBP,
			result.Duration.Round(10*time.Millisecond),
		)
	}
}

// resolveDates expands the date flags into an ordered list of settlement
// days. Exactly one of -date, -month, or -from/-to must be used.
func resolveDates(date, month, from, to string) ([]domain.SettlementDate, error) {
	if date != "" {
		if month != "" || from != "" || to != "" {
			return nil, fmt.Errorf("use only one of -date, -month, or -from/-to")
		}
		d, err := domain.ParseSettlementDate(date)
		if err != nil {
			return nil, err
		}
		return []domain.SettlementDate{d}, nil
	}

	if month != "" {
		if from != "" || to != "" {
			return nil, fmt.Errorf("use only one of -date, -month, or -from/-to")
		}
		first, err := domain.ParseSettlementDate(month + "-01")
		if err != nil {
			return nil, fmt.Errorf("invalid -month %q, want YYYY-MM", month)
		}
		return first.DaysInMonth(), nil
	}

	if from == "" || to == "" {
		return nil, fmt.Errorf("one of -date, -month, or both -from and -to is required")
	}
	start, err := domain.ParseSettlementDate(from)
	if err != nil {
		return nil, err
	}
	end, err := domain.ParseSettlementDate(to)
	if err != nil {
		return nil, err
	}
	if start.Time().After(end.Time()) {
		return nil, fmt.Errorf("-from %s is after -to %s", start, end)
	}

	var dates []domain.SettlementDate
	for t := start.Time(); !t.After(end.Time()); t = t.AddDate(0, 0, 1) {
		dates = append(dates, domain.NewSettlementDate(t))
	}
	return dates, nil
}
