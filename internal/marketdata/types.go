// Package marketdata implements the rate-limited client for the external
// balancing-market API and the publication stream follower.
package marketdata

import (
	"context"
	"errors"

	"curtailmine/internal/domain"
)

// Side identifies which of the two acceptance streams a record came from.
type Side string

const (
	SideBid   Side = "bid"
	SideOffer Side = "offer"
)

// Acceptance is one accepted balancing action for a unit in a settlement
// period, as returned by the external API after filtering. Volume is kept
// signed here; a curtailment is a negative volume.
type Acceptance struct {
	UnitID         string
	SettlementDate domain.SettlementDate
	Period         int
	VolumeMWh      float64 // signed; negative = reduction
	PriceGBPPerMWh float64
	PaymentGBP     float64 // 0 when the feed does not supply it directly
	SOFlag         bool
	CadlFlag       bool
	Side           Side
}

// Fetcher retrieves the filtered acceptance set for one settlement period.
// Callers must treat the result as an unordered set.
type Fetcher interface {
	FetchPeriod(ctx context.Context, date domain.SettlementDate, period int) ([]Acceptance, error)
}

// ErrTransient marks network, timeout, and throttling failures. The ingest
// layer retries these and never surfaces them as hard failures unless its
// own retry budget is exhausted.
var ErrTransient = errors.New("transient fetch error")

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// acceptanceResponse is the raw JSON envelope of both acceptance endpoints.
type acceptanceResponse struct {
	Data []rawAcceptance `json:"data"`
}

// rawAcceptance is one record as shipped by the external API.
type rawAcceptance struct {
	BMUnit           string  `json:"bmUnit"`
	SettlementDate   string  `json:"settlementDate"`
	SettlementPeriod int     `json:"settlementPeriod"`
	Volume           float64 `json:"volume"`
	Price            float64 `json:"price"`
	Payment          float64 `json:"payment"`
	SOFlag           bool    `json:"soFlag"`
	CadlFlag         bool    `json:"cadlFlag"`
}
