package relay

import (
	"sync"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/payload"
)

// SendingEvent fires once per constructed message, before anything is
// broadcast. PreviousDigest names the attempt it supersedes. Retries that
// only re-push an already funded envelope do not fire it again.
type SendingEvent struct {
	Digest         []byte
	PreviousDigest []byte
	Destination    *ec.PublicKey
	Items          []payload.Item
	Outputs        []payload.Output
	Attempt        int
}

// SentEvent fires when every transaction is broadcast and the relay has
// accepted the envelope.
type SentEvent struct {
	Digest []byte
	TxIDs  []string
}

// SendErrorEvent fires once when a send is abandoned.
type SendErrorEvent struct {
	Digest   []byte
	Attempts int
	Err      error
}

// ReceivedEvent fires for each newly stored message. Items skips entries
// that failed to decode.
type ReceivedEvent struct {
	Message *payload.StoredMessage
	Items   []payload.Item
}

// observers is a typed observer list. Handlers run synchronously on the
// emitting goroutine, in subscription order.
type observers[E any] struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(E)
	ids  []int
}

func (o *observers[E]) add(fn func(E)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(E))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	o.ids = append(o.ids, id)
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.fns, id)
		for i, v := range o.ids {
			if v == id {
				o.ids = append(o.ids[:i], o.ids[i+1:]...)
				break
			}
		}
	}
}

func (o *observers[E]) emit(e E) {
	o.mu.RLock()
	fns := make([]func(E), 0, len(o.ids))
	for _, id := range o.ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

type events struct {
	sending   observers[SendingEvent]
	sent      observers[SentEvent]
	sendError observers[SendErrorEvent]
	received  observers[ReceivedEvent]
}

// OnSending subscribes fn and returns a function that unsubscribes it.
func (c *Client) OnSending(fn func(SendingEvent)) func() { return c.events.sending.add(fn) }

// OnSent subscribes fn and returns a function that unsubscribes it.
func (c *Client) OnSent(fn func(SentEvent)) func() { return c.events.sent.add(fn) }

// OnSendError subscribes fn and returns a function that unsubscribes it.
func (c *Client) OnSendError(fn func(SendErrorEvent)) func() { return c.events.sendError.add(fn) }

// OnReceived subscribes fn and returns a function that unsubscribes it.
func (c *Client) OnReceived(fn func(ReceivedEvent)) func() { return c.events.received.add(fn) }
