// Package ingest pulls a day's curtailment data through the fetch layer and
// persists it with full-replace semantics.
package ingest

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"curtailmine/internal/domain"
	"curtailmine/internal/marketdata"
	"curtailmine/internal/observability"
	"curtailmine/internal/retry"
	"curtailmine/internal/storage"
)

// Default slice processing values.
const (
	DefaultFetchAttempts = 3
	DefaultFetchDelay    = 2 * time.Second
)

// SliceResult summarizes processing of one settlement period.
type SliceResult struct {
	Period      int
	RecordCount int
	VolumeMWh   float64
	PaymentGBP  float64
	// Failed is set when the fetch retry budget was exhausted. The period's
	// data is then absent from the day's totals (a completeness gap), not an
	// error for the day.
	Failed bool
}

// SliceProcessor converts one settlement period's external acceptances into
// curtailment records and replaces the period's persisted set.
type SliceProcessor struct {
	fetcher marketdata.Fetcher
	store   storage.CurtailmentStore

	attempts   int
	retryDelay time.Duration

	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// SliceProcessorOptions configures a SliceProcessor.
type SliceProcessorOptions struct {
	Fetcher       marketdata.Fetcher
	Store         storage.CurtailmentStore
	FetchAttempts int
	FetchDelay    time.Duration
	Logger        logrus.FieldLogger
	Metrics       *observability.Metrics
	Now           func() time.Time
}

// NewSliceProcessor creates a slice processor.
func NewSliceProcessor(opts SliceProcessorOptions) *SliceProcessor {
	attempts := opts.FetchAttempts
	if attempts == 0 {
		attempts = DefaultFetchAttempts
	}
	delay := opts.FetchDelay
	if delay == 0 {
		delay = DefaultFetchDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &SliceProcessor{
		fetcher:    opts.Fetcher,
		store:      opts.Store,
		attempts:   attempts,
		retryDelay: delay,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        now,
	}
}

// ProcessPeriod fetches one settlement period, normalizes the acceptances,
// and replaces the period's records (delete-then-insert in one step, so a
// shrunk source set leaves no stale rows).
//
// A fetch failure after all retries returns a zero result flagged Failed and
// a nil error; only context cancellation and storage failures return errors.
func (p *SliceProcessor) ProcessPeriod(ctx context.Context, date domain.SettlementDate, period int) (SliceResult, error) {
	result := SliceResult{Period: period}

	var acceptances []marketdata.Acceptance
	err := retry.DoIf(ctx, p.attempts, p.retryDelay,
		func(err error) bool { return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) },
		func() error {
			var fetchErr error
			acceptances, fetchErr = p.fetcher.FetchPeriod(ctx, date, period)
			return fetchErr
		})
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		p.logger.WithFields(logrus.Fields{
			"settlement_date": date.String(),
			"period":          period,
		}).WithError(err).Error("period fetch failed, recording completeness gap")
		if p.metrics != nil {
			p.metrics.PeriodsFailed.Inc()
		}
		result.Failed = true
		return result, nil
	}

	records := p.normalize(date, period, acceptances)
	if err := p.store.ReplacePeriod(ctx, date, period, records); err != nil {
		return result, err
	}

	for _, r := range records {
		result.RecordCount++
		result.VolumeMWh += r.VolumeMWh
		result.PaymentGBP += r.PaymentGBP
	}
	if p.metrics != nil {
		p.metrics.PeriodsProcessed.Inc()
		p.metrics.RecordsIngested.Add(float64(result.RecordCount))
	}
	return result, nil
}

// normalize converts signed acceptances into magnitude-only curtailment
// records, one per unit. A unit accepted more than once in a period (bid
// and offer streams arrive merged) is collapsed into a single record:
// volumes and payments sum, flags OR. Payment is |volume| x price when
// the feed did not supply it.
func (p *SliceProcessor) normalize(date domain.SettlementDate, period int, acceptances []marketdata.Acceptance) []*domain.CurtailmentRecord {
	nowMs := p.now().UnixMilli()

	byUnit := make(map[string]*domain.CurtailmentRecord, len(acceptances))
	records := make([]*domain.CurtailmentRecord, 0, len(acceptances))
	for _, a := range acceptances {
		volume := math.Abs(a.VolumeMWh)
		payment := math.Abs(a.PaymentGBP)
		if payment == 0 {
			payment = volume * math.Abs(a.PriceGBPPerMWh)
		}

		if r, ok := byUnit[a.UnitID]; ok {
			r.VolumeMWh += volume
			r.PaymentGBP += payment
			r.SOFlag = r.SOFlag || a.SOFlag
			r.CadlFlag = r.CadlFlag || a.CadlFlag
			continue
		}

		r := &domain.CurtailmentRecord{
			SettlementDate: date,
			Period:         period,
			UnitID:         a.UnitID,
			VolumeMWh:      volume,
			PaymentGBP:     payment,
			SOFlag:         a.SOFlag,
			CadlFlag:       a.CadlFlag,
			CreatedAt:      nowMs,
		}
		byUnit[a.UnitID] = r
		records = append(records, r)
	}
	return records
}
