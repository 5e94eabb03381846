// Command follow tails the publication notification stream and re-ingests
// each announced settlement period as it arrives, recomputing aggregates
// when the stream moves to a new settlement date.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"curtailmine/internal/app"
	"curtailmine/internal/config"
	"curtailmine/internal/domain"
	"curtailmine/internal/marketdata"
	"curtailmine/internal/observability"
)

func main() {
	streamURL := flag.String("stream-url", "", "Publication stream WebSocket endpoint (overrides MARKET_STREAM_URL)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	logger := app.NewLogger(*verbose)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err)
	}
	endpoint := cfg.StreamURL
	if *streamURL != "" {
		endpoint = *streamURL
	}
	if endpoint == "" {
		logger.Fatal("-stream-url or MARKET_STREAM_URL is required")
	}

	metrics := observability.NewMetrics("")
	go func() {
		if err := observability.Serve(*metricsAddr); err != nil {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()

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

	stream := marketdata.NewStream(endpoint, nil, logger)
	defer stream.Close()

	streamErr := make(chan error, 1)
	go func() { streamErr <- stream.Run(ctx) }()

	logger.WithField("endpoint", endpoint).Info("following publication stream")
	if err := follow(ctx, engine, stream.Notices(), logger); err != nil && err != context.Canceled {
		logger.Fatalf("Follow loop: %v", err)
	}

	cancel()
	if err := <-streamErr; err != nil && err != context.Canceled {
		logger.WithError(err).Warn("stream exited with error")
	}
	logger.Info("shutdown complete")
}

// follow processes notices serially. Processing order matches publication
// order, and a cascade recompute runs whenever the date changes so the
// previous day's aggregates settle once its notices stop.
func follow(ctx context.Context, engine *app.Engine, notices <-chan marketdata.PublicationNotice, logger logrus.FieldLogger) error {
	var current domain.SettlementDate

	for {
		select {
		case <-ctx.Done():
			if current != "" {
				recompute(context.Background(), engine, current, logger)
			}
			return ctx.Err()
		case notice, ok := <-notices:
			if !ok {
				if current != "" {
					recompute(context.Background(), engine, current, logger)
				}
				return nil
			}

			if current != "" && notice.SettlementDate != current {
				recompute(ctx, engine, current, logger)
			}
			current = notice.SettlementDate

			result, err := engine.Processor.ProcessPeriod(ctx, notice.SettlementDate, notice.Period)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"settlement_date": notice.SettlementDate.String(),
				"period":          notice.Period,
				"records":         result.RecordCount,
				"failed":          result.Failed,
			}).Info("slice refreshed from notice")
		}
	}
}

func recompute(ctx context.Context, engine *app.Engine, date domain.SettlementDate, logger logrus.FieldLogger) {
	if _, err := engine.Aggregator.RecomputeCascade(ctx, date, engine.Profiles); err != nil {
		logger.WithError(err).WithField("settlement_date", date.String()).
			Warn("cascade recompute failed")
	}
}
