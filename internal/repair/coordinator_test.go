package repair

import (
	"context"
	"errors"
	"testing"
	"time"

	"curtailmine/internal/cascade"
	"curtailmine/internal/domain"
	"curtailmine/internal/ingest"
	"curtailmine/internal/marketdata"
	"curtailmine/internal/marketdata/stub"
	"curtailmine/internal/mining"
	"curtailmine/internal/storage/memory"
	"curtailmine/internal/verification"
)

const testDate = domain.SettlementDate("2024-03-15")

type testHarness struct {
	coordinator *Coordinator
	fetcher     *stub.Fetcher
	records     *memory.CurtailmentStore
	summaries   *memory.DaySummaryStore
	aggs        *memory.AggregateStore
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	fetcher := stub.NewFetcher()
	records := memory.NewCurtailmentStore()
	summaries := memory.NewDaySummaryStore()
	potentials := memory.NewPotentialStore()
	aggs := memory.NewAggregateStore()

	processor := ingest.NewSliceProcessor(ingest.SliceProcessorOptions{
		Fetcher:       fetcher,
		Store:         records,
		FetchAttempts: 1,
		FetchDelay:    time.Millisecond,
	})
	ingestor := ingest.NewDayIngestor(ingest.DayIngestorOptions{
		Processor:    processor,
		RecordStore:  records,
		SummaryStore: summaries,
		BatchSize:    16,
		BatchDelay:   time.Millisecond,
	})
	aggregator := cascade.NewAggregator(cascade.AggregatorOptions{
		RecordStore:    records,
		PotentialStore: potentials,
		AggregateStore: aggs,
		Difficulty:     mining.NewStaticSource(nil, nil),
	})
	verifier := verification.NewVerifier(verification.VerifierOptions{
		Fetcher: fetcher,
		Store:   records,
	})

	coordinator := NewCoordinator(CoordinatorOptions{
		Verifier:     verifier,
		Ingestor:     ingestor,
		Aggregator:   aggregator,
		SummaryStore: summaries,
		AggStore:     aggs,
	})

	return &testHarness{
		coordinator: coordinator,
		fetcher:     fetcher,
		records:     records,
		summaries:   summaries,
		aggs:        aggs,
	}
}

func scriptPeriod(h *testHarness, period int, volume float64) {
	h.fetcher.Script(testDate, period, []marketdata.Acceptance{{
		SettlementDate: testDate,
		Period:         period,
		UnitID:         "T_UNITA",
		VolumeMWh:      -volume,
		PaymentGBP:     -volume * 50,
	}})
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"verify-only", "verify-then-fix", "force-fix"} {
		mode, err := ParseMode(s)
		if err != nil {
			t.Errorf("ParseMode(%q) failed: %v", s, err)
		}
		if string(mode) != s {
			t.Errorf("ParseMode(%q): got %q", s, mode)
		}
	}
	if _, err := ParseMode("fix-maybe"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func TestVerifyOnly_NeverWrites(t *testing.T) {
	h := newHarness(t)
	scriptPeriod(h, 16, 10.0)

	result, err := h.coordinator.VerifyAndRepair(context.Background(), testDate, ModeVerifyOnly, verification.Fixed())
	if err != nil {
		t.Fatalf("VerifyAndRepair failed: %v", err)
	}

	if result.Repaired {
		t.Error("verify-only must never repair")
	}
	if result.Verdict == nil {
		t.Fatal("Expected a verdict")
	}
	if result.Verdict.IsPassing() {
		t.Error("Expected drift: external period 16 is not persisted")
	}
	if result.Passed() {
		t.Error("Drifted verify-only run must not pass")
	}

	persisted, _ := h.records.GetByDate(context.Background(), testDate)
	if len(persisted) != 0 {
		t.Errorf("verify-only wrote %d records", len(persisted))
	}
}

func TestVerifyThenFix_RepairsOnDrift(t *testing.T) {
	h := newHarness(t)
	scriptPeriod(h, 16, 10.0)
	scriptPeriod(h, 24, 5.5)

	result, err := h.coordinator.VerifyAndRepair(context.Background(), testDate, ModeVerifyThenFix, verification.Fixed())
	if err != nil {
		t.Fatal(err)
	}

	if !result.Repaired || !result.RepairSuccess {
		t.Fatalf("Expected a successful repair, got %+v", result)
	}
	if !result.Passed() {
		t.Error("Successful repair should pass")
	}
	if result.SummaryAfter == nil {
		t.Fatal("Expected after snapshot")
	}
	if result.SummaryAfter.TotalVolumeMWh != 15.5 {
		t.Errorf("Expected repaired volume 15.5, got %v", result.SummaryAfter.TotalVolumeMWh)
	}
	if result.SummaryBefore != nil {
		t.Errorf("No summary existed before repair, got %+v", result.SummaryBefore)
	}

	// The cascade was recomputed as part of the repair.
	if _, err := h.aggs.GetByKey(context.Background(), domain.LevelDay, testDate.String(), "s19-pro"); err != nil {
		t.Errorf("Day aggregate missing after repair: %v", err)
	}
}

func TestVerifyThenFix_CleanDaySkipsRepair(t *testing.T) {
	h := newHarness(t)

	result, err := h.coordinator.VerifyAndRepair(context.Background(), testDate, ModeVerifyThenFix, verification.Fixed())
	if err != nil {
		t.Fatal(err)
	}
	if result.Repaired {
		t.Error("Clean verification must not trigger a repair")
	}
	if !result.Passed() {
		t.Error("Clean run should pass")
	}
	if _, err := h.summaries.GetByDate(context.Background(), testDate); err == nil {
		t.Error("Clean run must not write a summary")
	}
}

func TestForceFix_SkipsVerification(t *testing.T) {
	h := newHarness(t)
	scriptPeriod(h, 16, 10.0)

	result, err := h.coordinator.VerifyAndRepair(context.Background(), testDate, ModeForceFix, nil)
	if err != nil {
		t.Fatal(err)
	}

	if result.Verdict != nil {
		t.Error("force-fix must not verify")
	}
	if !result.Repaired || !result.RepairSuccess {
		t.Fatalf("Expected a successful repair, got %+v", result)
	}
	// Fetch counts: only ingestion touched the source.
	if calls := h.fetcher.Calls[stub.Key(testDate, 16)]; calls != 1 {
		t.Errorf("Expected 1 fetch of period 16, got %d", calls)
	}
}

func TestForceFix_Idempotent(t *testing.T) {
	h := newHarness(t)
	scriptPeriod(h, 16, 10.0)
	ctx := context.Background()

	first, err := h.coordinator.VerifyAndRepair(ctx, testDate, ModeForceFix, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.coordinator.VerifyAndRepair(ctx, testDate, ModeForceFix, nil)
	if err != nil {
		t.Fatal(err)
	}

	// UpdatedAt is wall-clock; everything else must be byte-for-byte stable.
	normalize := func(s *domain.DaySummary) domain.DaySummary {
		c := *s
		c.UpdatedAt = 0
		return c
	}
	if normalize(first.SummaryAfter) != normalize(second.SummaryAfter) {
		t.Errorf("Re-run diverged: %+v vs %+v", first.SummaryAfter, second.SummaryAfter)
	}
	if second.SummaryBefore == nil {
		t.Fatal("Second run should snapshot the existing summary")
	}
	if normalize(second.SummaryBefore) != normalize(second.SummaryAfter) {
		t.Errorf("Unchanged source must leave state identical: %+v vs %+v",
			second.SummaryBefore, second.SummaryAfter)
	}
	for id, before := range second.PotentialBefore {
		if after := second.PotentialAfter[id]; after != before {
			t.Errorf("%s potential changed on idempotent re-run: %v vs %v", id, before, after)
		}
	}
}

func TestRepairFailure_ReportedNotFatal(t *testing.T) {
	h := newHarness(t)
	h.fetcher.Fail(testDate, 1, errors.New("upstream down"))
	scriptPeriod(h, 16, 10.0)

	result, err := h.coordinator.VerifyAndRepair(context.Background(), testDate, ModeForceFix, nil)
	if err != nil {
		t.Fatalf("Repair failures must be reported in the result, got error: %v", err)
	}
	if !result.Repaired {
		t.Error("Expected a repair attempt")
	}
	// The day still ingests with one failed period; only hard errors fail the
	// repair. Force a hard failure via cancelled context instead.
	if !result.RepairSuccess {
		t.Fatalf("Retry-exhausted periods are non-fatal, got %v", result.RepairError)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	result, err = h.coordinator.VerifyAndRepair(cancelled, testDate, ModeForceFix, nil)
	if err != nil {
		t.Fatalf("Expected failure in result, got error: %v", err)
	}
	if result.RepairSuccess {
		t.Error("Cancelled repair must not report success")
	}
	if result.RepairError == nil {
		t.Error("Expected RepairError to be set")
	}
	if result.Passed() {
		t.Error("Failed repair must not pass")
	}
}
