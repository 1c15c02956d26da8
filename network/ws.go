package network

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitfsorg/libstamp-go/log"
)

// DefaultReconnectDelay is the fixed backoff between websocket reconnects.
const DefaultReconnectDelay = 5 * time.Second

// subscribeFrame is sent once per watched pubkey hash on every connection.
type subscribeFrame struct {
	Op  string `json:"op"`
	PKH string `json:"pkh"`
}

// WSSubscriber receives address activity over a websocket. Watched hashes
// are re-sent after every reconnect and activity events are deduplicated by
// txid, so a reconnect never delivers the same transaction twice.
type WSSubscriber struct {
	url    string
	dialer *websocket.Dialer
	delay  time.Duration
	events chan Event

	mu      sync.Mutex
	watched map[string]struct{}
	seen    map[string]struct{}
	conn    *websocket.Conn
	writeMu sync.Mutex
}

var _ Subscriber = (*WSSubscriber)(nil)

// NewWSSubscriber creates a subscriber for the indexer endpoint url.
// Call Run to connect.
func NewWSSubscriber(url string, reconnectDelay time.Duration) *WSSubscriber {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &WSSubscriber{
		url:     url,
		dialer:  websocket.DefaultDialer,
		delay:   reconnectDelay,
		events:  make(chan Event, 64),
		watched: make(map[string]struct{}),
		seen:    make(map[string]struct{}),
	}
}

func (s *WSSubscriber) Events() <-chan Event { return s.events }

// Subscribe watches pkh. If a connection is up the subscription is sent
// immediately; otherwise it goes out on the next connect.
func (s *WSSubscriber) Subscribe(_ context.Context, pkh []byte) error {
	if len(pkh) != 20 {
		return fmt.Errorf("%w: pubkey hash must be 20 bytes, got %d", ErrInvalidParams, len(pkh))
	}
	key := hex.EncodeToString(pkh)

	s.mu.Lock()
	_, dup := s.watched[key]
	s.watched[key] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if dup || conn == nil {
		return nil
	}
	if err := s.send(conn, key); err != nil {
		// The read loop sees the broken connection and resubscribes.
		log.Network.Debug().Err(err).Str("pkh", key).Msg("subscribe deferred to reconnect")
	}
	return nil
}

// Run connects and delivers events until ctx is done, reconnecting after a
// fixed delay whenever the connection drops. Events is closed on return.
func (s *WSSubscriber) Run(ctx context.Context) error {
	defer close(s.events)
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Network.Warn().Err(err).Dur("retry_in", s.delay).Msg("indexer stream dropped")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
}

// session runs one connection until it fails or ctx is done.
func (s *WSSubscriber) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.mu.Lock()
	s.conn = conn
	keys := make([]string, 0, len(s.watched))
	for k := range s.watched {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	for _, k := range keys {
		if err := s.send(conn, k); err != nil {
			return err
		}
	}
	log.Network.Debug().Int("watched", len(keys)).Msg("indexer stream connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Network.Warn().Err(err).Msg("dropping malformed indexer event")
			continue
		}
		if !s.first(ev) {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *WSSubscriber) send(conn *websocket.Conn, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(subscribeFrame{Op: "subscribe", PKH: key})
}

// first records ev and reports whether it should be delivered. Error events
// are always delivered.
func (s *WSSubscriber) first(ev Event) bool {
	switch ev.Type {
	case EventError:
		return true
	case EventAddedToMempool, EventConfirmed:
	default:
		return false
	}
	if ev.TxID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[ev.TxID]; ok {
		return false
	}
	s.seen[ev.TxID] = struct{}{}
	return true
}
