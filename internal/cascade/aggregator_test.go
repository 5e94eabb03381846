package cascade

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"curtailmine/internal/domain"
	"curtailmine/internal/mining"
	"curtailmine/internal/storage/memory"
)

var testProfiles = []domain.HardwareProfile{
	{ID: "s19-pro", HashrateTHs: 110, PowerKW: 3.25},
	{ID: "s9", HashrateTHs: 13.5, PowerKW: 1.323},
}

func newTestAggregator() (*Aggregator, *memory.CurtailmentStore, *memory.PotentialStore, *memory.AggregateStore) {
	records := memory.NewCurtailmentStore()
	potentials := memory.NewPotentialStore()
	aggs := memory.NewAggregateStore()
	difficulty := mining.NewStaticSource(map[domain.SettlementDate]float64{
		"2024-03-15": 88.1e12,
		"2024-03-16": 88.1e12,
	}, nil)

	agg := NewAggregator(AggregatorOptions{
		RecordStore:    records,
		PotentialStore: potentials,
		AggregateStore: aggs,
		Difficulty:     difficulty,
	})
	return agg, records, potentials, aggs
}

func seedRecords(t *testing.T, store *memory.CurtailmentStore, date domain.SettlementDate, volumes map[int]float64) {
	t.Helper()
	for period, v := range volumes {
		err := store.ReplacePeriod(context.Background(), date, period, []*domain.CurtailmentRecord{{
			SettlementDate: date,
			Period:         period,
			UnitID:         "T_UNIT1",
			VolumeMWh:      v,
			PaymentGBP:     v * 50,
		}})
		if err != nil {
			t.Fatalf("seed records: %v", err)
		}
	}
}

func TestRecomputeCascade_DayTotals(t *testing.T) {
	agg, records, potentials, aggs := newTestAggregator()
	ctx := context.Background()
	seedRecords(t, records, "2024-03-15", map[int]float64{1: 3.0, 2: 7.0})

	totals, err := agg.RecomputeCascade(ctx, "2024-03-15", testProfiles)
	if err != nil {
		t.Fatalf("RecomputeCascade failed: %v", err)
	}

	calc := mining.NewCalculator()
	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	for _, p := range testProfiles {
		want := calc.PotentialBTC(3.0, p, 88.1e12, asOf) + calc.PotentialBTC(7.0, p, 88.1e12, asOf)

		got := totals[p.ID]
		if math.Abs(got.EnergyMWh-10.0) > 1e-9 {
			t.Errorf("%s energy: got %v, want 10.0", p.ID, got.EnergyMWh)
		}
		if math.Abs(got.PotentialBTC-want) > 1e-12 {
			t.Errorf("%s potential: got %v, want %v", p.ID, got.PotentialBTC, want)
		}

		day, err := aggs.GetByKey(ctx, domain.LevelDay, "2024-03-15", p.ID)
		if err != nil {
			t.Fatalf("Day aggregate missing for %s: %v", p.ID, err)
		}
		if math.Abs(day.PotentialBTC-want) > 1e-12 {
			t.Errorf("%s day aggregate: got %v, want %v", p.ID, day.PotentialBTC, want)
		}
	}

	// One potential record per record x profile.
	prs, _ := potentials.GetByDate(ctx, "2024-03-15")
	if len(prs) != 2*len(testProfiles) {
		t.Errorf("Expected %d potential records, got %d", 2*len(testProfiles), len(prs))
	}
}

func TestRecomputeCascade_MonthAndYearRollUp(t *testing.T) {
	agg, records, _, aggs := newTestAggregator()
	ctx := context.Background()

	seedRecords(t, records, "2024-03-15", map[int]float64{1: 3.0, 2: 7.0})
	seedRecords(t, records, "2024-03-16", map[int]float64{1: 5.0})

	if _, err := agg.RecomputeCascade(ctx, "2024-03-15", testProfiles); err != nil {
		t.Fatal(err)
	}
	if _, err := agg.RecomputeCascade(ctx, "2024-03-16", testProfiles); err != nil {
		t.Fatal(err)
	}

	for _, p := range testProfiles {
		d15, _ := aggs.GetByKey(ctx, domain.LevelDay, "2024-03-15", p.ID)
		d16, _ := aggs.GetByKey(ctx, domain.LevelDay, "2024-03-16", p.ID)
		month, err := aggs.GetByKey(ctx, domain.LevelMonth, "2024-03", p.ID)
		if err != nil {
			t.Fatalf("Month aggregate missing: %v", err)
		}
		if math.Abs(month.PotentialBTC-(d15.PotentialBTC+d16.PotentialBTC)) > 1e-12 {
			t.Errorf("%s month != sum of days: %v vs %v",
				p.ID, month.PotentialBTC, d15.PotentialBTC+d16.PotentialBTC)
		}
		if math.Abs(month.EnergyMWh-15.0) > 1e-9 {
			t.Errorf("%s month energy: got %v, want 15.0", p.ID, month.EnergyMWh)
		}

		year, err := aggs.GetByKey(ctx, domain.LevelYear, "2024", p.ID)
		if err != nil {
			t.Fatalf("Year aggregate missing: %v", err)
		}
		if math.Abs(year.PotentialBTC-month.PotentialBTC) > 1e-12 {
			t.Errorf("%s year != sum of months: %v vs %v", p.ID, year.PotentialBTC, month.PotentialBTC)
		}
	}
}

func TestRecomputeCascade_Idempotent(t *testing.T) {
	agg, records, _, aggs := newTestAggregator()
	ctx := context.Background()
	seedRecords(t, records, "2024-03-15", map[int]float64{1: 3.0, 2: 7.0})

	first, err := agg.RecomputeCascade(ctx, "2024-03-15", testProfiles)
	if err != nil {
		t.Fatal(err)
	}
	second, err := agg.RecomputeCascade(ctx, "2024-03-15", testProfiles)
	if err != nil {
		t.Fatal(err)
	}

	for id := range first {
		if first[id] != second[id] {
			t.Errorf("Re-run diverged for %s: %+v vs %+v", id, first[id], second[id])
		}
	}

	month, _ := aggs.GetByKey(ctx, domain.LevelMonth, "2024-03", "s19-pro")
	day, _ := aggs.GetByKey(ctx, domain.LevelDay, "2024-03-15", "s19-pro")
	if math.Abs(month.PotentialBTC-day.PotentialBTC) > 1e-12 {
		t.Errorf("Month drifted from its single day after re-run: %v vs %v",
			month.PotentialBTC, day.PotentialBTC)
	}
}

func TestRecomputeCascade_EmptyDayClearsDerived(t *testing.T) {
	agg, records, potentials, aggs := newTestAggregator()
	ctx := context.Background()
	seedRecords(t, records, "2024-03-15", map[int]float64{1: 3.0})

	if _, err := agg.RecomputeCascade(ctx, "2024-03-15", testProfiles); err != nil {
		t.Fatal(err)
	}

	// Day was deleted at the source; recompute must zero everything out.
	if _, err := records.DeleteByDate(ctx, "2024-03-15"); err != nil {
		t.Fatal(err)
	}
	if _, err := agg.RecomputeCascade(ctx, "2024-03-15", testProfiles); err != nil {
		t.Fatal(err)
	}

	prs, _ := potentials.GetByDate(ctx, "2024-03-15")
	if len(prs) != 0 {
		t.Errorf("Expected 0 potential records, got %d", len(prs))
	}
	day, err := aggs.GetByKey(ctx, domain.LevelDay, "2024-03-15", "s19-pro")
	if err != nil {
		t.Fatalf("Day aggregate should exist with zero totals: %v", err)
	}
	if day.PotentialBTC != 0 || day.EnergyMWh != 0 {
		t.Errorf("Expected zeroed day aggregate, got %+v", day)
	}
}

func TestCheckConservation_Clean(t *testing.T) {
	agg, records, _, _ := newTestAggregator()
	ctx := context.Background()
	seedRecords(t, records, "2024-03-15", map[int]float64{1: 3.0, 2: 7.0})

	if _, err := agg.RecomputeCascade(ctx, "2024-03-15", testProfiles); err != nil {
		t.Fatal(err)
	}
	if err := agg.CheckConservation(ctx, "2024-03-15", testProfiles); err != nil {
		t.Errorf("Expected clean conservation check, got %v", err)
	}
}

func TestCheckConservation_Violation(t *testing.T) {
	agg, records, _, aggs := newTestAggregator()
	ctx := context.Background()
	seedRecords(t, records, "2024-03-15", map[int]float64{1: 3.0})

	if _, err := agg.RecomputeCascade(ctx, "2024-03-15", testProfiles); err != nil {
		t.Fatal(err)
	}

	// Corrupt the month row behind the aggregator's back.
	month, _ := aggs.GetByKey(ctx, domain.LevelMonth, "2024-03", "s19-pro")
	month.PotentialBTC *= 2
	if err := aggs.Replace(ctx, month); err != nil {
		t.Fatal(err)
	}

	err := agg.CheckConservation(ctx, "2024-03-15", testProfiles)
	if !errors.Is(err, ErrConservation) {
		t.Errorf("Expected ErrConservation, got %v", err)
	}
}
