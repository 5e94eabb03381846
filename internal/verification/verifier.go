// Package verification samples settlement periods, re-fetches them from the
// external API, and compares persisted state against the source within a
// relative tolerance.
package verification

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"

	"curtailmine/internal/domain"
	"curtailmine/internal/marketdata"
	"curtailmine/internal/observability"
	"curtailmine/internal/storage"
)

// DefaultTolerance is the relative tolerance for summed volume and payment
// comparisons. Independent float summation order legitimately differs by
// rounding, so exact equality is the wrong test.
const DefaultTolerance = 0.02

// DefaultEscalation is the number of extra random periods the progressive
// strategy samples after a first mismatch.
const DefaultEscalation = 8

// fixedPeriods is the constant sample spread across the day.
var fixedPeriods = []int{1, 8, 16, 24, 32, 40, 48}

// Status classifies one sampled period.
type Status string

const (
	// StatusMatch: both sides empty, or counts equal and sums within tolerance.
	StatusMatch Status = "match"
	// StatusMissing: external has data, persisted does not.
	StatusMissing Status = "missing"
	// StatusMismatch: both have data but outside tolerance, or persisted has
	// data the external source no longer has.
	StatusMismatch Status = "mismatch"
	// StatusError: transport failure; excluded from the pass/fail verdict.
	StatusError Status = "error"
)

// SideTotals are the raw numbers one side of a comparison produced.
type SideTotals struct {
	RecordCount int
	VolumeMWh   float64
	PaymentGBP  float64
}

// PeriodCheck is one sampled period's comparison result.
type PeriodCheck struct {
	Period    int
	Status    Status
	External  SideTotals
	Persisted SideTotals
	Err       error // set only for StatusError
}

// Verdict is the outcome of one verification run. Ephemeral, never persisted.
type Verdict struct {
	SettlementDate domain.SettlementDate
	Strategy       string
	Checks         []PeriodCheck
}

// IsPassing reports whether every classified (non-error) period matched.
func (v *Verdict) IsPassing() bool {
	for _, c := range v.Checks {
		switch c.Status {
		case StatusMismatch, StatusMissing:
			return false
		}
	}
	return true
}

// CountByStatus returns how many sampled periods carry the status.
func (v *Verdict) CountByStatus(s Status) int {
	n := 0
	for _, c := range v.Checks {
		if c.Status == s {
			n++
		}
	}
	return n
}

// Verifier compares persisted curtailment records against re-fetched source
// data for sampled periods.
type Verifier struct {
	fetcher   marketdata.Fetcher
	store     storage.CurtailmentStore
	tolerance float64

	logger  logrus.FieldLogger
	metrics *observability.Metrics
	// randIntn is swappable for deterministic tests.
	randIntn func(n int) int
}

// VerifierOptions configures a Verifier.
type VerifierOptions struct {
	Fetcher   marketdata.Fetcher
	Store     storage.CurtailmentStore
	Tolerance float64
	Logger    logrus.FieldLogger
	Metrics   *observability.Metrics
	RandIntn  func(n int) int
}

// NewVerifier creates a verifier.
func NewVerifier(opts VerifierOptions) *Verifier {
	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	randIntn := opts.RandIntn
	if randIntn == nil {
		randIntn = rand.Intn
	}

	return &Verifier{
		fetcher:   opts.Fetcher,
		store:     opts.Store,
		tolerance: tolerance,
		logger:    logger,
		metrics:   opts.Metrics,
		randIntn:  randIntn,
	}
}

// Verify samples periods per the strategy and classifies each.
func (v *Verifier) Verify(ctx context.Context, date domain.SettlementDate, strategy Strategy) (*Verdict, error) {
	if strategy == nil {
		strategy = Fixed()
	}

	verdict := &Verdict{SettlementDate: date, Strategy: strategy.Name()}
	sampled := make(map[int]bool)

	periods := strategy.InitialPeriods(v.randIntn)
	for len(periods) > 0 {
		for _, p := range periods {
			if sampled[p] {
				continue
			}
			sampled[p] = true

			check := v.checkPeriod(ctx, date, p)
			verdict.Checks = append(verdict.Checks, check)
			if v.metrics != nil {
				v.metrics.VerificationChecks.WithLabelValues(string(check.Status)).Inc()
			}
		}
		periods = strategy.Escalate(verdict, sampled, v.randIntn)
	}

	sort.Slice(verdict.Checks, func(i, j int) bool {
		return verdict.Checks[i].Period < verdict.Checks[j].Period
	})

	if v.metrics != nil {
		outcome := "pass"
		if !verdict.IsPassing() {
			outcome = "fail"
		}
		v.metrics.VerificationRuns.WithLabelValues(outcome).Inc()
	}
	return verdict, nil
}

// checkPeriod re-fetches one period and compares it to persisted state.
func (v *Verifier) checkPeriod(ctx context.Context, date domain.SettlementDate, period int) PeriodCheck {
	check := PeriodCheck{Period: period}

	external, err := v.fetcher.FetchPeriod(ctx, date, period)
	if err != nil {
		check.Status = StatusError
		check.Err = err
		v.logger.WithFields(logrus.Fields{
			"settlement_date": date.String(),
			"period":          period,
		}).WithError(err).Warn("verification fetch failed")
		return check
	}
	check.External = externalTotals(external)

	persisted, err := v.store.GetByDatePeriod(ctx, date, period)
	if err != nil {
		check.Status = StatusError
		check.Err = fmt.Errorf("load persisted records: %w", err)
		return check
	}
	check.Persisted = persistedTotals(persisted)

	check.Status = v.classify(check.External, check.Persisted)
	return check
}

// classify applies the comparison rules: counts compare exactly, sums within
// the relative tolerance.
func (v *Verifier) classify(external, persisted SideTotals) Status {
	switch {
	case external.RecordCount == 0 && persisted.RecordCount == 0:
		return StatusMatch
	case external.RecordCount > 0 && persisted.RecordCount == 0:
		return StatusMissing
	case external.RecordCount == 0 && persisted.RecordCount > 0:
		return StatusMismatch
	}

	if external.RecordCount != persisted.RecordCount {
		return StatusMismatch
	}
	if !v.withinTolerance(external.VolumeMWh, persisted.VolumeMWh) {
		return StatusMismatch
	}
	if !v.withinTolerance(external.PaymentGBP, persisted.PaymentGBP) {
		return StatusMismatch
	}
	return StatusMatch
}

func (v *Verifier) withinTolerance(a, b float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b) <= v.tolerance*scale
}

// externalTotals normalizes fetched acceptances the same way the slice
// processor does, so both sides compare magnitudes. Ingest collapses a
// unit's bid and offer acceptances into one record per period, so the
// count here is distinct units, not raw acceptances.
func externalTotals(acceptances []marketdata.Acceptance) SideTotals {
	var t SideTotals
	units := make(map[string]struct{}, len(acceptances))
	for _, a := range acceptances {
		volume := math.Abs(a.VolumeMWh)
		payment := math.Abs(a.PaymentGBP)
		if payment == 0 {
			payment = volume * math.Abs(a.PriceGBPPerMWh)
		}
		t.VolumeMWh += volume
		t.PaymentGBP += payment
		units[a.UnitID] = struct{}{}
	}
	t.RecordCount = len(units)
	return t
}

func persistedTotals(records []*domain.CurtailmentRecord) SideTotals {
	t := SideTotals{RecordCount: len(records)}
	for _, r := range records {
		t.VolumeMWh += r.VolumeMWh
		t.PaymentGBP += r.PaymentGBP
	}
	return t
}
