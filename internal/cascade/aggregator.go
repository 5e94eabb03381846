// Package cascade recomputes the day -> month -> year mining-potential
// aggregates, strictly bottom-up and always by full replace.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"curtailmine/internal/domain"
	"curtailmine/internal/mining"
	"curtailmine/internal/observability"
	"curtailmine/internal/storage"
)

// ErrConservation is returned when an aggregate level does not equal the sum
// of its children. This is a data-integrity violation: the date's repair is
// aborted, never silently coerced.
var ErrConservation = errors.New("aggregate conservation violated")

// conservationTolerance bounds acceptable float summation noise when
// checking level sums.
const conservationTolerance = 1e-9

// Totals is the per-profile output of a cascade recompute.
type Totals struct {
	EnergyMWh    float64
	PotentialBTC float64
}

// Aggregator owns the cascade recompute.
type Aggregator struct {
	recordStore    storage.CurtailmentStore
	potentialStore storage.PotentialStore
	aggStore       storage.AggregateStore
	difficulty     mining.DifficultySource
	calc           *mining.Calculator

	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// AggregatorOptions configures an Aggregator.
type AggregatorOptions struct {
	RecordStore    storage.CurtailmentStore
	PotentialStore storage.PotentialStore
	AggregateStore storage.AggregateStore
	Difficulty     mining.DifficultySource
	Calculator     *mining.Calculator
	Logger         logrus.FieldLogger
	Metrics        *observability.Metrics
	Now            func() time.Time
}

// NewAggregator creates a cascade aggregator.
func NewAggregator(opts AggregatorOptions) *Aggregator {
	calc := opts.Calculator
	if calc == nil {
		calc = mining.NewCalculator()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Aggregator{
		recordStore:    opts.RecordStore,
		potentialStore: opts.PotentialStore,
		aggStore:       opts.AggregateStore,
		difficulty:     opts.Difficulty,
		calc:           calc,
		logger:         logger,
		metrics:        opts.Metrics,
		now:            now,
	}
}

// RecomputeCascade rebuilds every aggregate level that depends on the date,
// bottom-up, replacing each level wholesale:
//
//  1. potential records for the date (one per record x profile),
//  2. the date's day aggregate per profile,
//  3. the enclosing month as the sum of its day aggregates,
//  4. the enclosing year as the sum of its month aggregates.
//
// Network difficulty is resolved exactly once per call.
func (a *Aggregator) RecomputeCascade(ctx context.Context, date domain.SettlementDate, profiles []domain.HardwareProfile) (map[string]Totals, error) {
	start := a.now()

	difficulty, err := a.difficulty.DifficultyFor(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("resolve difficulty for %s: %w", date, err)
	}

	records, err := a.recordStore.GetByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load records for %s: %w", date, err)
	}

	if err := a.storePotentials(ctx, date, records, profiles, difficulty); err != nil {
		return nil, err
	}
	dayTotals := a.computeDayTotals(date, records, profiles, difficulty)

	for _, p := range profiles {
		t := dayTotals[p.ID]
		if err := a.replaceLevel(ctx, domain.LevelDay, date.String(), p.ID, t); err != nil {
			return nil, err
		}
		if err := a.rollUp(ctx, domain.LevelDay, date.MonthKey(), domain.LevelMonth, p.ID); err != nil {
			return nil, err
		}
		if err := a.rollUp(ctx, domain.LevelMonth, date.YearKey(), domain.LevelYear, p.ID); err != nil {
			return nil, err
		}
	}

	if a.metrics != nil {
		a.metrics.CascadeDuration.Observe(a.now().Sub(start).Seconds())
	}
	return dayTotals, nil
}

// computeDayTotals sums the date's energy and potential per profile using
// the same calculator inputs the stored records were built from.
func (a *Aggregator) computeDayTotals(date domain.SettlementDate, records []*domain.CurtailmentRecord, profiles []domain.HardwareProfile, difficulty float64) map[string]Totals {
	totals := make(map[string]Totals, len(profiles))
	asOf := date.Time()

	for _, p := range profiles {
		t := Totals{}
		for _, r := range records {
			t.EnergyMWh += r.VolumeMWh
			t.PotentialBTC += a.calc.PotentialBTC(r.VolumeMWh, p, difficulty, asOf)
		}
		totals[p.ID] = t
	}
	return totals
}

// storePotentials replaces the date's potential records in one batched step.
func (a *Aggregator) storePotentials(ctx context.Context, date domain.SettlementDate, records []*domain.CurtailmentRecord, profiles []domain.HardwareProfile, difficulty float64) error {
	asOf := date.Time()
	nowMs := a.now().UnixMilli()

	out := make([]*domain.PotentialRecord, 0, len(records)*len(profiles))
	for _, r := range records {
		for _, p := range profiles {
			out = append(out, &domain.PotentialRecord{
				SettlementDate: date,
				Period:         r.Period,
				UnitID:         r.UnitID,
				ProfileID:      p.ID,
				EnergyMWh:      r.VolumeMWh,
				Difficulty:     difficulty,
				PotentialBTC:   a.calc.PotentialBTC(r.VolumeMWh, p, difficulty, asOf),
				CreatedAt:      nowMs,
			})
		}
	}

	if err := a.potentialStore.ReplaceDate(ctx, date, out); err != nil {
		return fmt.Errorf("replace potential records for %s: %w", date, err)
	}
	return nil
}

// replaceLevel writes one aggregate row by full replace.
func (a *Aggregator) replaceLevel(ctx context.Context, level domain.AggregateLevel, timeKey, profileID string, t Totals) error {
	agg := &domain.PotentialAggregate{
		Level:        level,
		TimeKey:      timeKey,
		ProfileID:    profileID,
		EnergyMWh:    t.EnergyMWh,
		PotentialBTC: t.PotentialBTC,
		UpdatedAt:    a.now().UnixMilli(),
	}
	if err := a.aggStore.Replace(ctx, agg); err != nil {
		return fmt.Errorf("replace %s aggregate %s/%s: %w", level, timeKey, profileID, err)
	}
	return nil
}

// rollUp replaces the parent aggregate with the sum of its children.
func (a *Aggregator) rollUp(ctx context.Context, childLevel domain.AggregateLevel, parentKey string, parentLevel domain.AggregateLevel, profileID string) error {
	children, err := a.aggStore.GetByPrefix(ctx, childLevel, parentKey, profileID)
	if err != nil {
		return fmt.Errorf("load %s aggregates under %s: %w", childLevel, parentKey, err)
	}

	t := Totals{}
	for _, c := range children {
		t.EnergyMWh += c.EnergyMWh
		t.PotentialBTC += c.PotentialBTC
	}
	return a.replaceLevel(ctx, parentLevel, parentKey, profileID, t)
}

// CheckConservation verifies that, for the date's month and year, each level
// equals the sum of its children for every profile. Returns ErrConservation
// on the first violation.
func (a *Aggregator) CheckConservation(ctx context.Context, date domain.SettlementDate, profiles []domain.HardwareProfile) error {
	for _, p := range profiles {
		if err := a.checkLevel(ctx, domain.LevelDay, date.MonthKey(), domain.LevelMonth, p.ID); err != nil {
			return err
		}
		if err := a.checkLevel(ctx, domain.LevelMonth, date.YearKey(), domain.LevelYear, p.ID); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) checkLevel(ctx context.Context, childLevel domain.AggregateLevel, parentKey string, parentLevel domain.AggregateLevel, profileID string) error {
	parent, err := a.aggStore.GetByKey(ctx, parentLevel, parentKey, profileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	children, err := a.aggStore.GetByPrefix(ctx, childLevel, parentKey, profileID)
	if err != nil {
		return err
	}

	var sumBTC, sumMWh float64
	for _, c := range children {
		sumBTC += c.PotentialBTC
		sumMWh += c.EnergyMWh
	}

	if !closeEnough(parent.PotentialBTC, sumBTC) || !closeEnough(parent.EnergyMWh, sumMWh) {
		return fmt.Errorf("%w: %s %s/%s has %.12f BTC, children sum %.12f",
			ErrConservation, parentLevel, parentKey, profileID, parent.PotentialBTC, sumBTC)
	}
	return nil
}

func closeEnough(a, b float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b) <= conservationTolerance*scale
}
