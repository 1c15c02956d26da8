package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/payload"
)

// DefaultReconnectDelay is the fixed backoff between mailbox stream
// reconnects.
const DefaultReconnectDelay = 5 * time.Second

// Stream receives mailbox pushes as binary Message frames.
type Stream struct {
	url    func() string
	dialer *websocket.Dialer
	delay  time.Duration
}

// NewStream creates a stream. url is evaluated on every connect so a token
// refreshed by a settled payment is picked up; HTTPClient.StreamURL fits.
func NewStream(url func() string, reconnectDelay time.Duration) *Stream {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Stream{url: url, dialer: websocket.DefaultDialer, delay: reconnectDelay}
}

// Run delivers each decoded frame to handle until ctx is done, reconnecting
// after a fixed delay. Duplicate deliveries are expected across reconnects;
// Client.Receive ignores digests it has already stored.
func (s *Stream) Run(ctx context.Context, handle func(*payload.Message)) error {
	for {
		err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Relay.Warn().Err(err).Dur("retry_in", s.delay).Msg("mailbox stream dropped")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
}

func (s *Stream) session(ctx context.Context, handle func(*payload.Message)) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url(), nil)
	if err != nil {
		return fmt.Errorf("relay: dial stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	log.Relay.Debug().Msg("mailbox stream connected")

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		msg, err := payload.UnmarshalMessage(data)
		if err != nil {
			log.Relay.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		handle(msg)
	}
}
