package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"curtailmine/internal/domain"
	"curtailmine/internal/observability"
	"curtailmine/internal/refdata"
)

// Default configuration values.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 1 * time.Second
	DefaultThrottleCooldown = 60 * time.Second
	DefaultRequestsPerMin   = 4500
)

// Client fetches acceptance volumes through a shared request budget. The
// budget is owned by the client and internally synchronized; callers never
// see or mutate the underlying limiter state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	units      *refdata.UnitSet

	maxRetries       int
	retryDelay       time.Duration
	throttleCooldown time.Duration

	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestsPerMinute sets the sliding request budget ceiling.
func WithRequestsPerMinute(n int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), n/60+1)
	}
}

// WithMaxRetries sets the transport-error retry bound per call.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the delay between transport-error retries.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// WithThrottleCooldown sets the fixed sleep after a 429 response.
func WithThrottleCooldown(d time.Duration) ClientOption {
	return func(c *Client) { c.throttleCooldown = d }
}

// WithLogger sets the client logger.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a fetch client for the acceptance endpoints, filtering
// responses to the given reference unit set.
func NewClient(baseURL string, units *refdata.UnitSet, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:          baseURL,
		httpClient:       &http.Client{Timeout: DefaultTimeout},
		limiter:          rate.NewLimiter(rate.Limit(float64(DefaultRequestsPerMin)/60.0), DefaultRequestsPerMin/60+1),
		units:            units,
		maxRetries:       DefaultMaxRetries,
		retryDelay:       DefaultRetryDelay,
		throttleCooldown: DefaultThrottleCooldown,
		logger:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Fetcher = (*Client)(nil)

// FetchPeriod issues the paired bid and offer queries for one settlement
// period, merges the results, and filters to curtailments of tracked units.
// Output ordering is not defined.
func (c *Client) FetchPeriod(ctx context.Context, date domain.SettlementDate, period int) ([]Acceptance, error) {
	if !domain.ValidPeriod(period) {
		return nil, fmt.Errorf("settlement period %d out of range", period)
	}

	var merged []Acceptance
	for _, side := range []Side{SideBid, SideOffer} {
		records, err := c.fetchSide(ctx, date, period, side)
		if err != nil {
			return nil, fmt.Errorf("fetch %s acceptances %s/%d: %w", side, date, period, err)
		}
		merged = append(merged, records...)
	}

	return c.filter(merged), nil
}

// fetchSide fetches one acceptance stream with throttle handling and bounded
// transport retries.
func (c *Client) fetchSide(ctx context.Context, date domain.SettlementDate, period int, side Side) ([]Acceptance, error) {
	endpoint := fmt.Sprintf("%s/balancing/acceptances/%s", c.baseURL, side)
	query := url.Values{
		"settlementDate":   []string{date.String()},
		"settlementPeriod": []string{fmt.Sprintf("%d", period)},
	}
	reqURL := endpoint + "?" + query.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		body, err := c.doRequest(ctx, reqURL, side)
		if err != nil {
			lastErr = err
			continue
		}

		var resp acceptanceResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			// Malformed payloads are not retried.
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}

		out := make([]Acceptance, 0, len(resp.Data))
		for _, raw := range resp.Data {
			out = append(out, Acceptance{
				UnitID:         raw.BMUnit,
				SettlementDate: domain.SettlementDate(raw.SettlementDate),
				Period:         raw.SettlementPeriod,
				VolumeMWh:      raw.Volume,
				PriceGBPPerMWh: raw.Price,
				PaymentGBP:     raw.Payment,
				SOFlag:         raw.SOFlag,
				CadlFlag:       raw.CadlFlag,
				Side:           side,
			})
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrTransient, lastErr)
}

// doRequest performs one rate-limited HTTP GET. A throttling response sleeps
// the fixed cooldown and retries the same call until the context dies.
func (c *Client) doRequest(ctx context.Context, reqURL string, side Side) ([]byte, error) {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if c.metrics != nil {
			c.metrics.APIRequestsTotal.WithLabelValues(string(side)).Inc()
			c.metrics.FetchLatency.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrTransient, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if c.metrics != nil {
				c.metrics.APIThrottleSleeps.Inc()
			}
			c.logger.WithField("cooldown", c.throttleCooldown.String()).
				Warn("throttled by API, sleeping")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.throttleCooldown):
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrTransient, resp.StatusCode, string(body))
		}

		return body, nil
	}
}

// filter keeps acceptances that are directed reductions of tracked units:
// unit in the reference set, negative volume, SO-flagged.
func (c *Client) filter(records []Acceptance) []Acceptance {
	var out []Acceptance
	for _, r := range records {
		if !c.units.Contains(r.UnitID) {
			continue
		}
		if r.VolumeMWh >= 0 {
			continue
		}
		if !r.SOFlag {
			continue
		}
		out = append(out, r)
	}
	return out
}
