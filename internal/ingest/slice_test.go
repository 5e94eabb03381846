package ingest

import (
	"context"
	"errors"
	"math"
	"testing"

	"curtailmine/internal/marketdata"
	"curtailmine/internal/marketdata/stub"
	"curtailmine/internal/storage/memory"
)

func acceptance(unit string, volume, price float64) marketdata.Acceptance {
	return marketdata.Acceptance{
		UnitID:         unit,
		SettlementDate: "2024-03-15",
		Period:         16,
		VolumeMWh:      volume,
		PriceGBPPerMWh: price,
		SOFlag:         true,
	}
}

func TestProcessPeriod_NormalizesAndTotals(t *testing.T) {
	fetcher := stub.NewFetcher()
	store := memory.NewCurtailmentStore()
	fetcher.Script("2024-03-15", 16, []marketdata.Acceptance{
		acceptance("T_UNIT1", -10.0, -50.0),
		acceptance("T_UNIT2", -5.5, -20.0),
	})

	p := NewSliceProcessor(SliceProcessorOptions{Fetcher: fetcher, Store: store})
	result, err := p.ProcessPeriod(context.Background(), "2024-03-15", 16)
	if err != nil {
		t.Fatalf("ProcessPeriod failed: %v", err)
	}

	if result.RecordCount != 2 {
		t.Errorf("RecordCount: got %d, want 2", result.RecordCount)
	}
	if math.Abs(result.VolumeMWh-15.5) > 1e-9 {
		t.Errorf("VolumeMWh: got %v, want 15.5", result.VolumeMWh)
	}
	if math.Abs(result.PaymentGBP-610.0) > 1e-9 {
		t.Errorf("PaymentGBP: got %v, want 610.0", result.PaymentGBP)
	}
	if result.Failed {
		t.Error("Expected Failed=false")
	}

	stored, _ := store.GetByDatePeriod(context.Background(), "2024-03-15", 16)
	if len(stored) != 2 {
		t.Fatalf("Expected 2 stored records, got %d", len(stored))
	}
	for _, r := range stored {
		if r.VolumeMWh < 0 || r.PaymentGBP < 0 {
			t.Errorf("Stored magnitudes must be non-negative: %+v", r)
		}
	}
}

func TestProcessPeriod_MergesUnitAcceptedOnBothSides(t *testing.T) {
	fetcher := stub.NewFetcher()
	store := memory.NewCurtailmentStore()

	// Bid and offer streams arrive merged, so one unit can show up twice
	// in a single period. Ingest must collapse them, not trip the
	// (date, period, unit) uniqueness of the store.
	bid := acceptance("T_UNIT1", -10.0, -50.0)
	offer := acceptance("T_UNIT1", -5.0, -20.0)
	offer.SOFlag = false
	offer.CadlFlag = true
	fetcher.Script("2024-03-15", 16, []marketdata.Acceptance{bid, offer})

	p := NewSliceProcessor(SliceProcessorOptions{Fetcher: fetcher, Store: store})
	result, err := p.ProcessPeriod(context.Background(), "2024-03-15", 16)
	if err != nil {
		t.Fatalf("ProcessPeriod failed: %v", err)
	}
	if result.Failed {
		t.Error("Expected Failed=false")
	}
	if result.RecordCount != 1 {
		t.Errorf("RecordCount: got %d, want 1", result.RecordCount)
	}
	if math.Abs(result.VolumeMWh-15.0) > 1e-9 {
		t.Errorf("VolumeMWh: got %v, want 15.0", result.VolumeMWh)
	}
	if math.Abs(result.PaymentGBP-600.0) > 1e-9 {
		t.Errorf("PaymentGBP: got %v, want 600.0", result.PaymentGBP)
	}

	stored, _ := store.GetByDatePeriod(context.Background(), "2024-03-15", 16)
	if len(stored) != 1 {
		t.Fatalf("Expected 1 merged record, got %d", len(stored))
	}
	merged := stored[0]
	if merged.UnitID != "T_UNIT1" {
		t.Errorf("UnitID: got %q, want T_UNIT1", merged.UnitID)
	}
	if !merged.SOFlag || !merged.CadlFlag {
		t.Errorf("Flags must OR across acceptances: SOFlag=%v CadlFlag=%v", merged.SOFlag, merged.CadlFlag)
	}
}

func TestProcessPeriod_SuppliedPaymentWins(t *testing.T) {
	fetcher := stub.NewFetcher()
	store := memory.NewCurtailmentStore()

	a := acceptance("T_UNIT1", -10.0, -50.0)
	a.PaymentGBP = -450.0 // feed supplied a payment, price must be ignored
	fetcher.Script("2024-03-15", 16, []marketdata.Acceptance{a})

	p := NewSliceProcessor(SliceProcessorOptions{Fetcher: fetcher, Store: store})
	result, err := p.ProcessPeriod(context.Background(), "2024-03-15", 16)
	if err != nil {
		t.Fatalf("ProcessPeriod failed: %v", err)
	}
	if math.Abs(result.PaymentGBP-450.0) > 1e-9 {
		t.Errorf("PaymentGBP: got %v, want 450.0", result.PaymentGBP)
	}
}

func TestProcessPeriod_TransientFailureRetries(t *testing.T) {
	fetcher := stub.NewFetcher()
	store := memory.NewCurtailmentStore()
	fetcher.Script("2024-03-15", 16, []marketdata.Acceptance{
		acceptance("T_UNIT1", -10.0, -50.0),
	})
	fetcher.FailTimes("2024-03-15", 16, marketdata.ErrTransient, 2)

	p := NewSliceProcessor(SliceProcessorOptions{
		Fetcher:       fetcher,
		Store:         store,
		FetchAttempts: 3,
		FetchDelay:    1, // nanosecond, keep the test fast
	})
	result, err := p.ProcessPeriod(context.Background(), "2024-03-15", 16)
	if err != nil {
		t.Fatalf("ProcessPeriod failed: %v", err)
	}
	if result.Failed {
		t.Error("Expected success after transient failures")
	}
	if result.RecordCount != 1 {
		t.Errorf("RecordCount: got %d, want 1", result.RecordCount)
	}
	if calls := fetcher.Calls[stub.Key("2024-03-15", 16)]; calls != 3 {
		t.Errorf("Expected 3 fetch calls, got %d", calls)
	}
}

func TestProcessPeriod_ExhaustedRetriesFlagsFailed(t *testing.T) {
	fetcher := stub.NewFetcher()
	store := memory.NewCurtailmentStore()
	fetcher.Fail("2024-03-15", 16, marketdata.ErrTransient)

	p := NewSliceProcessor(SliceProcessorOptions{
		Fetcher:       fetcher,
		Store:         store,
		FetchAttempts: 3,
		FetchDelay:    1,
	})
	result, err := p.ProcessPeriod(context.Background(), "2024-03-15", 16)
	if err != nil {
		t.Fatalf("Exhausted retries must not surface an error, got %v", err)
	}
	if !result.Failed {
		t.Error("Expected Failed=true")
	}
	if result.RecordCount != 0 {
		t.Errorf("Expected zero result, got %d records", result.RecordCount)
	}
}

func TestProcessPeriod_ContextCancelPropagates(t *testing.T) {
	fetcher := stub.NewFetcher()
	store := memory.NewCurtailmentStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher.Fail("2024-03-15", 16, ctx.Err())

	p := NewSliceProcessor(SliceProcessorOptions{Fetcher: fetcher, Store: store, FetchDelay: 1})
	_, err := p.ProcessPeriod(ctx, "2024-03-15", 16)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestProcessPeriod_EmptySetStillReplaces(t *testing.T) {
	fetcher := stub.NewFetcher()
	store := memory.NewCurtailmentStore()

	// Seed a stale record the empty fetch must clear.
	fetcher.Script("2024-03-15", 16, []marketdata.Acceptance{
		acceptance("T_UNIT1", -10.0, -50.0),
	})
	p := NewSliceProcessor(SliceProcessorOptions{Fetcher: fetcher, Store: store})
	if _, err := p.ProcessPeriod(context.Background(), "2024-03-15", 16); err != nil {
		t.Fatal(err)
	}

	fetcher.Script("2024-03-15", 16, nil)
	result, err := p.ProcessPeriod(context.Background(), "2024-03-15", 16)
	if err != nil {
		t.Fatalf("ProcessPeriod failed: %v", err)
	}
	if result.RecordCount != 0 {
		t.Errorf("Expected 0 records, got %d", result.RecordCount)
	}

	stored, _ := store.GetByDatePeriod(context.Background(), "2024-03-15", 16)
	if len(stored) != 0 {
		t.Errorf("Stale records must be cleared, got %d", len(stored))
	}
}
