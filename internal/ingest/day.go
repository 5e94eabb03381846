package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"curtailmine/internal/domain"
	"curtailmine/internal/observability"
	"curtailmine/internal/storage"
)

// Default day ingest values.
const (
	DefaultBatchSize  = 4
	DefaultBatchDelay = 1 * time.Second
)

// DayResult summarizes a full-day ingest.
type DayResult struct {
	SettlementDate   domain.SettlementDate
	TotalRecords     int
	PeriodsProcessed int // periods that returned data and were stored
	PeriodsFailed    int // periods that exhausted fetch retries
	TotalVolumeMWh   float64
	TotalPaymentGBP  float64
	Duration         time.Duration
}

// CompletenessRatio is periods with a definite answer (processed or empty)
// over the 48 periods of the day.
func (r *DayResult) CompletenessRatio() float64 {
	return float64(domain.PeriodsPerDay-r.PeriodsFailed) / float64(domain.PeriodsPerDay)
}

// DayIngestor replaces one day's curtailment data: it deletes the date's
// records up front, processes all 48 periods in bounded concurrent batches,
// and replaces the day summary. Re-running it against an unchanged source
// converges to identical state.
type DayIngestor struct {
	processor    *SliceProcessor
	recordStore  storage.CurtailmentStore
	summaryStore storage.DaySummaryStore
	archive      storage.ArchiveStore // optional analytics mirror

	batchSize  int
	batchDelay time.Duration

	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// DayIngestorOptions configures a DayIngestor.
type DayIngestorOptions struct {
	Processor    *SliceProcessor
	RecordStore  storage.CurtailmentStore
	SummaryStore storage.DaySummaryStore
	Archive      storage.ArchiveStore
	BatchSize    int
	BatchDelay   time.Duration
	Logger       logrus.FieldLogger
	Metrics      *observability.Metrics
	Now          func() time.Time
}

// NewDayIngestor creates a day ingestor.
func NewDayIngestor(opts DayIngestorOptions) *DayIngestor {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchDelay := opts.BatchDelay
	if batchDelay == 0 {
		batchDelay = DefaultBatchDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &DayIngestor{
		processor:    opts.Processor,
		recordStore:  opts.RecordStore,
		summaryStore: opts.SummaryStore,
		archive:      opts.Archive,
		batchSize:    batchSize,
		batchDelay:   batchDelay,
		logger:       logger,
		metrics:      opts.Metrics,
		now:          now,
	}
}

// IngestDay replaces all data for one settlement date. A day where no period
// returned data is a valid terminal state, not an error.
func (d *DayIngestor) IngestDay(ctx context.Context, date domain.SettlementDate) (*DayResult, error) {
	start := d.now()
	result := &DayResult{SettlementDate: date}

	removed, err := d.recordStore.DeleteByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("delete records for %s: %w", date, err)
	}
	d.logger.WithFields(logrus.Fields{
		"settlement_date": date.String(),
		"removed":         removed,
	}).Info("starting full-day ingest")

	// Bounded fan-out: the batch size caps concurrent load on the
	// rate-limited API, and the inter-batch delay smooths bursts the
	// limiter window alone would still allow.
	for first := 1; first <= domain.PeriodsPerDay; first += d.batchSize {
		last := first + d.batchSize - 1
		if last > domain.PeriodsPerDay {
			last = domain.PeriodsPerDay
		}

		batch, err := d.processBatch(ctx, date, first, last)
		if err != nil {
			return nil, err
		}
		for _, sr := range batch {
			if sr.Failed {
				result.PeriodsFailed++
				continue
			}
			if sr.RecordCount > 0 {
				result.PeriodsProcessed++
				result.TotalRecords += sr.RecordCount
				result.TotalVolumeMWh += sr.VolumeMWh
				result.TotalPaymentGBP += sr.PaymentGBP
			}
		}

		if last < domain.PeriodsPerDay {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.batchDelay):
			}
		}
	}

	summary := &domain.DaySummary{
		SettlementDate:   date,
		RecordCount:      result.TotalRecords,
		PeriodsProcessed: result.PeriodsProcessed,
		PeriodsFailed:    result.PeriodsFailed,
		TotalVolumeMWh:   result.TotalVolumeMWh,
		TotalPaymentGBP:  result.TotalPaymentGBP,
		UpdatedAt:        d.now().UnixMilli(),
	}
	if err := d.summaryStore.Replace(ctx, summary); err != nil {
		return nil, fmt.Errorf("replace day summary for %s: %w", date, err)
	}

	d.mirrorToArchive(ctx, date)

	result.Duration = d.now().Sub(start)
	if d.metrics != nil {
		d.metrics.DaysIngested.Inc()
	}
	d.logger.WithFields(logrus.Fields{
		"settlement_date":   date.String(),
		"records":           result.TotalRecords,
		"periods_processed": result.PeriodsProcessed,
		"periods_failed":    result.PeriodsFailed,
		"volume_mwh":        result.TotalVolumeMWh,
		"payment_gbp":       result.TotalPaymentGBP,
		"duration":          result.Duration.String(),
	}).Info("full-day ingest complete")

	return result, nil
}

// processBatch runs periods [first, last] concurrently.
func (d *DayIngestor) processBatch(ctx context.Context, date domain.SettlementDate, first, last int) ([]SliceResult, error) {
	n := last - first + 1
	results := make([]SliceResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx, period int) {
			defer wg.Done()
			results[idx], errs[idx] = d.processor.ProcessPeriod(ctx, date, period)
		}(i, first+i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("process period %d: %w", first+i, err)
		}
	}
	return results, nil
}

// mirrorToArchive pushes the day's records into the analytics archive.
// Best-effort: archive failures are logged, never fatal.
func (d *DayIngestor) mirrorToArchive(ctx context.Context, date domain.SettlementDate) {
	if d.archive == nil {
		return
	}

	records, err := d.recordStore.GetByDate(ctx, date)
	if err != nil {
		d.logger.WithError(err).Warn("archive mirror: read-back failed")
		return
	}
	if err := d.archive.ReplaceDate(ctx, date, records); err != nil {
		d.logger.WithError(err).Warn("archive mirror: replace failed")
	}
}
