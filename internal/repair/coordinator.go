// Package repair coordinates verification and full-day repair: detect drift,
// decide scope, replace the day's data, recompute every dependent aggregate,
// and report before/after state.
package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"curtailmine/internal/cascade"
	"curtailmine/internal/domain"
	"curtailmine/internal/ingest"
	"curtailmine/internal/observability"
	"curtailmine/internal/storage"
	"curtailmine/internal/verification"
)

// Mode selects how the coordinator behaves.
type Mode string

const (
	// ModeVerifyOnly runs verification and stops.
	ModeVerifyOnly Mode = "verify-only"
	// ModeVerifyThenFix runs verification and repairs only on failure.
	ModeVerifyThenFix Mode = "verify-then-fix"
	// ModeForceFix skips verification and always repairs.
	ModeForceFix Mode = "force-fix"
)

// ParseMode maps a command name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeVerifyOnly, ModeVerifyThenFix, ModeForceFix:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown repair mode %q", s)
}

// Result is the outcome of one verify-and-repair run.
type Result struct {
	SettlementDate domain.SettlementDate
	Mode           Mode
	Verdict        *verification.Verdict // nil in force-fix mode
	Repaired       bool
	RepairSuccess  bool
	RepairError    error

	// Before/After snapshots for audit. Nil when no summary existed.
	SummaryBefore *domain.DaySummary
	SummaryAfter  *domain.DaySummary
	// Day-level potential per profile, before and after.
	PotentialBefore map[string]float64
	PotentialAfter  map[string]float64

	Duration time.Duration
}

// Passed reports whether the run ended in a good state: verification passed,
// or the repair that was run succeeded.
func (r *Result) Passed() bool {
	if r.Repaired {
		return r.RepairSuccess
	}
	return r.Verdict == nil || r.Verdict.IsPassing()
}

// Coordinator wires the verifier, day ingestor, and cascade aggregator.
type Coordinator struct {
	verifier     *verification.Verifier
	ingestor     *ingest.DayIngestor
	aggregator   *cascade.Aggregator
	summaryStore storage.DaySummaryStore
	aggStore     storage.AggregateStore
	profiles     []domain.HardwareProfile

	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Verifier     *verification.Verifier
	Ingestor     *ingest.DayIngestor
	Aggregator   *cascade.Aggregator
	SummaryStore storage.DaySummaryStore
	AggStore     storage.AggregateStore
	Profiles     []domain.HardwareProfile
	Logger       logrus.FieldLogger
	Metrics      *observability.Metrics
	Now          func() time.Time
}

// NewCoordinator creates a repair coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	profiles := opts.Profiles
	if len(profiles) == 0 {
		profiles = domain.DefaultProfiles
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		verifier:     opts.Verifier,
		ingestor:     opts.Ingestor,
		aggregator:   opts.Aggregator,
		summaryStore: opts.SummaryStore,
		aggStore:     opts.AggStore,
		profiles:     profiles,
		logger:       logger,
		metrics:      opts.Metrics,
		now:          now,
	}
}

// VerifyAndRepair runs one date through the selected mode. Repair is
// idempotent: re-running against an unchanged source produces identical
// persisted state. Integrity violations mark the repair failed rather than
// partially committing.
func (c *Coordinator) VerifyAndRepair(ctx context.Context, date domain.SettlementDate, mode Mode, strategy verification.Strategy) (*Result, error) {
	start := c.now()
	result := &Result{SettlementDate: date, Mode: mode}

	if mode != ModeForceFix {
		verdict, err := c.verifier.Verify(ctx, date, strategy)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", date, err)
		}
		result.Verdict = verdict

		c.logger.WithFields(logrus.Fields{
			"settlement_date": date.String(),
			"strategy":        verdict.Strategy,
			"sampled":         len(verdict.Checks),
			"mismatch":        verdict.CountByStatus(verification.StatusMismatch),
			"missing":         verdict.CountByStatus(verification.StatusMissing),
			"errors":          verdict.CountByStatus(verification.StatusError),
			"passing":         verdict.IsPassing(),
		}).Info("verification complete")

		if mode == ModeVerifyOnly || verdict.IsPassing() {
			result.Duration = c.now().Sub(start)
			c.observeOutcome(result)
			return result, nil
		}
	}

	result.SummaryBefore = c.snapshotSummary(ctx, date)
	result.PotentialBefore = c.snapshotPotential(ctx, date)

	result.Repaired = true
	if err := c.repair(ctx, date); err != nil {
		result.RepairError = err
		result.RepairSuccess = false
		result.Duration = c.now().Sub(start)
		c.observeOutcome(result)
		c.logger.WithField("settlement_date", date.String()).
			WithError(err).Error("repair failed")
		return result, nil
	}
	result.RepairSuccess = true

	result.SummaryAfter = c.snapshotSummary(ctx, date)
	result.PotentialAfter = c.snapshotPotential(ctx, date)
	result.Duration = c.now().Sub(start)

	c.observeOutcome(result)
	c.logSummary(result)
	return result, nil
}

// repair replaces the day and recomputes the cascade. A day with no records
// still recomputes aggregates so stale derived rows cannot linger.
func (c *Coordinator) repair(ctx context.Context, date domain.SettlementDate) error {
	dayResult, err := c.ingestor.IngestDay(ctx, date)
	if err != nil {
		return fmt.Errorf("ingest day: %w", err)
	}

	if _, err := c.aggregator.RecomputeCascade(ctx, date, c.profiles); err != nil {
		return fmt.Errorf("recompute cascade: %w", err)
	}
	if err := c.aggregator.CheckConservation(ctx, date, c.profiles); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"settlement_date":   date.String(),
		"records":           dayResult.TotalRecords,
		"periods_processed": dayResult.PeriodsProcessed,
		"completeness":      fmt.Sprintf("%d/%d", domain.PeriodsPerDay-dayResult.PeriodsFailed, domain.PeriodsPerDay),
	}).Info("repair replaced day data")
	return nil
}

func (c *Coordinator) snapshotSummary(ctx context.Context, date domain.SettlementDate) *domain.DaySummary {
	s, err := c.summaryStore.GetByDate(ctx, date)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.WithError(err).Warn("summary snapshot failed")
		}
		return nil
	}
	return s
}

func (c *Coordinator) snapshotPotential(ctx context.Context, date domain.SettlementDate) map[string]float64 {
	out := make(map[string]float64, len(c.profiles))
	for _, p := range c.profiles {
		agg, err := c.aggStore.GetByKey(ctx, domain.LevelDay, date.String(), p.ID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				c.logger.WithError(err).Warn("potential snapshot failed")
			}
			continue
		}
		out[p.ID] = agg.PotentialBTC
	}
	return out
}

func (c *Coordinator) observeOutcome(r *Result) {
	if c.metrics == nil {
		return
	}
	switch {
	case r.Repaired && r.RepairSuccess:
		c.metrics.RepairRuns.WithLabelValues("repaired").Inc()
	case r.Repaired:
		c.metrics.RepairRuns.WithLabelValues("failed").Inc()
	case r.Passed():
		c.metrics.RepairRuns.WithLabelValues("clean").Inc()
	default:
		c.metrics.RepairRuns.WithLabelValues("drift-detected").Inc()
	}
}

// logSummary emits the structured end-of-run audit line with the numeric
// before/after diff.
func (c *Coordinator) logSummary(r *Result) {
	fields := logrus.Fields{
		"settlement_date": r.SettlementDate.String(),
		"mode":            string(r.Mode),
		"repaired":        r.Repaired,
		"repair_success":  r.RepairSuccess,
		"duration":        r.Duration.String(),
	}
	if r.SummaryBefore != nil {
		fields["records_before"] = r.SummaryBefore.RecordCount
		fields["volume_before"] = r.SummaryBefore.TotalVolumeMWh
		fields["payment_before"] = r.SummaryBefore.TotalPaymentGBP
	}
	if r.SummaryAfter != nil {
		fields["records_after"] = r.SummaryAfter.RecordCount
		fields["volume_after"] = r.SummaryAfter.TotalVolumeMWh
		fields["payment_after"] = r.SummaryAfter.TotalPaymentGBP
	}
	c.logger.WithFields(fields).Info("repair run summary")
}
