// Package app wires configuration, storage, and the engine components for
// the commands. Commands parse their own flags and hand the rest to app.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"curtailmine/internal/cascade"
	"curtailmine/internal/config"
	"curtailmine/internal/domain"
	"curtailmine/internal/ingest"
	"curtailmine/internal/marketdata"
	"curtailmine/internal/mining"
	"curtailmine/internal/observability"
	"curtailmine/internal/refdata"
	"curtailmine/internal/repair"
	"curtailmine/internal/storage"
	chstore "curtailmine/internal/storage/clickhouse"
	"curtailmine/internal/storage/memory"
	"curtailmine/internal/storage/migrations"
	pgstore "curtailmine/internal/storage/postgres"
	"curtailmine/internal/verification"
)

// Stores bundles every storage interface the engine uses.
type Stores struct {
	Curtailment storage.CurtailmentStore
	Summaries   storage.DaySummaryStore
	Potentials  storage.PotentialStore
	Aggregates  storage.AggregateStore
	Archive     storage.ArchiveStore // nil when no ClickHouse DSN is set
}

// NewStores creates stores from config: PostgreSQL plus an optional
// ClickHouse archive, or all in-memory when no Postgres DSN is configured.
// The returned cleanup closes all connections.
func NewStores(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*Stores, func(), error) {
	if cfg.UseMemory() {
		stores := &Stores{
			Curtailment: memory.NewCurtailmentStore(),
			Summaries:   memory.NewDaySummaryStore(),
			Potentials:  memory.NewPotentialStore(),
			Aggregates:  memory.NewAggregateStore(),
			Archive:     memory.NewArchiveStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &Stores{
		Curtailment: pgstore.NewCurtailmentStore(pool),
		Summaries:   pgstore.NewDaySummaryStore(pool),
		Potentials:  pgstore.NewPotentialStore(pool),
		Aggregates:  pgstore.NewAggregateStore(pool),
	}
	cleanup := func() { pool.Close() }

	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		stores.Archive = chstore.NewArchiveStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	} else {
		logger.Warn("no ClickHouse DSN configured, analytics archive disabled")
	}

	return stores, cleanup, nil
}

// Engine bundles the wired components a command drives.
type Engine struct {
	Fetcher     marketdata.Fetcher
	Processor   *ingest.SliceProcessor
	Ingestor    *ingest.DayIngestor
	Aggregator  *cascade.Aggregator
	Verifier    *verification.Verifier
	Coordinator *repair.Coordinator
	Profiles    []domain.HardwareProfile
}

// NewEngine wires the full pipeline against the given stores.
func NewEngine(cfg *config.Config, stores *Stores, logger logrus.FieldLogger, metrics *observability.Metrics) (*Engine, error) {
	units, err := refdata.LoadCached(cfg.UnitsPath)
	if err != nil {
		return nil, fmt.Errorf("load reference units: %w", err)
	}

	var table map[domain.SettlementDate]float64
	if cfg.DifficultyPath != "" {
		table, err = mining.LoadTable(cfg.DifficultyPath)
		if err != nil {
			return nil, fmt.Errorf("load difficulty table: %w", err)
		}
	}
	difficulty := mining.NewStaticSource(table, logger)

	fetcher := marketdata.NewClient(cfg.APIBaseURL, units,
		marketdata.WithRequestsPerMinute(cfg.RequestsPerMinute),
		marketdata.WithLogger(logger),
		marketdata.WithMetrics(metrics),
	)

	processor := ingest.NewSliceProcessor(ingest.SliceProcessorOptions{
		Fetcher: fetcher,
		Store:   stores.Curtailment,
		Logger:  logger,
		Metrics: metrics,
	})

	ingestor := ingest.NewDayIngestor(ingest.DayIngestorOptions{
		Processor:    processor,
		RecordStore:  stores.Curtailment,
		SummaryStore: stores.Summaries,
		Archive:      stores.Archive,
		BatchSize:    cfg.BatchSize,
		BatchDelay:   cfg.BatchDelay,
		Logger:       logger,
		Metrics:      metrics,
	})

	aggregator := cascade.NewAggregator(cascade.AggregatorOptions{
		RecordStore:    stores.Curtailment,
		PotentialStore: stores.Potentials,
		AggregateStore: stores.Aggregates,
		Difficulty:     difficulty,
		Logger:         logger,
		Metrics:        metrics,
	})

	verifier := verification.NewVerifier(verification.VerifierOptions{
		Fetcher:   fetcher,
		Store:     stores.Curtailment,
		Tolerance: cfg.Tolerance,
		Logger:    logger,
		Metrics:   metrics,
	})

	coordinator := repair.NewCoordinator(repair.CoordinatorOptions{
		Verifier:     verifier,
		Ingestor:     ingestor,
		Aggregator:   aggregator,
		SummaryStore: stores.Summaries,
		AggStore:     stores.Aggregates,
		Profiles:     domain.DefaultProfiles,
		Logger:       logger,
		Metrics:      metrics,
	})

	return &Engine{
		Fetcher:     fetcher,
		Processor:   processor,
		Ingestor:    ingestor,
		Aggregator:  aggregator,
		Verifier:    verifier,
		Coordinator: coordinator,
		Profiles:    domain.DefaultProfiles,
	}, nil
}

// NewLogger builds the process logger.
func NewLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
