package marketdata

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"curtailmine/internal/domain"
)

// PublicationNotice announces that acceptance data for a settlement period
// has been published or revised upstream.
type PublicationNotice struct {
	SettlementDate domain.SettlementDate
	Period         int
}

// StreamConfig configures the publication stream follower.
type StreamConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the reconnect backoff.
	MaxReconnectDelay time.Duration
	// ReadTimeout bounds a single read; the server pings within this window.
	ReadTimeout time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
	}
}

// Stream follows the publication notification WebSocket feed and delivers
// notices on a channel. It reconnects with backoff until closed.
type Stream struct {
	endpoint string
	config   StreamConfig
	logger   logrus.FieldLogger

	notices chan PublicationNotice
	done    chan struct{}
	closed  atomic.Bool
}

// NewStream creates a stream follower for the given ws:// endpoint.
func NewStream(endpoint string, config *StreamConfig, logger logrus.FieldLogger) *Stream {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Stream{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		notices:  make(chan PublicationNotice, 64),
		done:     make(chan struct{}),
	}
}

// Notices returns the channel notices are delivered on. The channel is
// closed when the stream shuts down.
func (s *Stream) Notices() <-chan PublicationNotice {
	return s.notices
}

// Run connects and reads notices until ctx is cancelled or Close is called.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.notices)

	delay := s.config.ReconnectDelay
	for {
		if s.closed.Load() {
			return nil
		}

		conn, err := s.connect(ctx)
		if err != nil {
			s.logger.WithError(err).WithField("retry_in", delay.String()).
				Warn("stream connect failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return nil
			case <-time.After(delay):
			}
			delay *= 2
			if delay > s.config.MaxReconnectDelay {
				delay = s.config.MaxReconnectDelay
			}
			continue
		}

		delay = s.config.ReconnectDelay
		err = s.readLoop(ctx, conn)
		conn.Close()
		if err == nil || s.closed.Load() || ctx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		s.logger.WithError(err).Warn("stream read failed, reconnecting")
	}
}

// Close stops the stream. Safe to call more than once.
func (s *Stream) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	return conn, err
}

// streamMessage is the raw notice wire shape.
type streamMessage struct {
	SettlementDate   string `json:"settlementDate"`
	SettlementPeriod int    `json:"settlementPeriod"`
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if s.closed.Load() || ctx.Err() != nil {
			return nil
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.WithError(err).Warn("dropping malformed stream message")
			continue
		}

		date, err := domain.ParseSettlementDate(msg.SettlementDate)
		if err != nil || !domain.ValidPeriod(msg.SettlementPeriod) {
			s.logger.WithField("raw", string(raw)).Warn("dropping invalid notice")
			continue
		}

		notice := PublicationNotice{SettlementDate: date, Period: msg.SettlementPeriod}
		select {
		case s.notices <- notice:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		}
	}
}
