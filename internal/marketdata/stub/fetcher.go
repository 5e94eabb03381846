package stub

import (
	"context"
	"fmt"
	"sync"

	"curtailmine/internal/domain"
	"curtailmine/internal/marketdata"
)

// Fetcher implements marketdata.Fetcher for testing. Responses are scripted
// per (date, period); unscripted periods return an empty set.
type Fetcher struct {
	mu sync.Mutex

	// Responses holds the acceptance set per period key.
	Responses map[string][]marketdata.Acceptance
	// Failures maps period keys to an error returned instead of data.
	Failures map[string]error
	// FailuresLeft makes a Failures entry transient: the error is returned
	// that many times, then the scripted response is served.
	FailuresLeft map[string]int

	// Calls counts FetchPeriod invocations per period key.
	Calls map[string]int
}

// NewFetcher creates a stub fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		Responses:    make(map[string][]marketdata.Acceptance),
		Failures:     make(map[string]error),
		FailuresLeft: make(map[string]int),
		Calls:        make(map[string]int),
	}
}

// Compile-time interface check.
var _ marketdata.Fetcher = (*Fetcher)(nil)

// Key builds a period key for scripting responses.
func Key(date domain.SettlementDate, period int) string {
	return fmt.Sprintf("%s/%d", date, period)
}

// Script sets the response for one period.
func (f *Fetcher) Script(date domain.SettlementDate, period int, records []marketdata.Acceptance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[Key(date, period)] = records
}

// Fail makes one period always return err.
func (f *Fetcher) Fail(date domain.SettlementDate, period int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Failures[Key(date, period)] = err
}

// FailTimes makes one period return err n times before succeeding.
func (f *Fetcher) FailTimes(date domain.SettlementDate, period int, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Failures[Key(date, period)] = err
	f.FailuresLeft[Key(date, period)] = n
}

// FetchPeriod returns the scripted acceptance set for the period.
func (f *Fetcher) FetchPeriod(_ context.Context, date domain.SettlementDate, period int) ([]marketdata.Acceptance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := Key(date, period)
	f.Calls[key]++

	if err, ok := f.Failures[key]; ok {
		if left, transient := f.FailuresLeft[key]; transient {
			if left > 0 {
				f.FailuresLeft[key] = left - 1
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	records := f.Responses[key]
	out := make([]marketdata.Acceptance, len(records))
	copy(out, records)
	return out, nil
}
