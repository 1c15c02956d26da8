package payload

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Entry kinds.
const (
	KindText    = "text-utf8"
	KindReply   = "reply"
	KindImage   = "image"
	KindStealth = "stealth-payment"
	KindP2PKH   = "p2pkh"
	KindForward = "forward"
)

// Payload is the plaintext carried inside a Message.
type Payload struct {
	Timestamp int64 // milliseconds
	Entries   []Entry
}

// Entry is one tagged item of a payload or profile.
type Entry struct {
	Kind    string
	Headers []Header
	Data    []byte
}

// Header is a name/value pair attached to an entry.
type Header struct {
	Name  string
	Value []byte
}

// Header returns the first header value named name.
func (e *Entry) Header(name string) ([]byte, bool) {
	for _, h := range e.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return nil, false
}

// StealthPaymentEntry is the body of a stealth-payment entry.
type StealthPaymentEntry struct {
	EphemeralPublicKey []byte
	Outpoints          []Outpoints
}

// P2PKHEntry is the body of an on-chain send entry.
type P2PKHEntry struct {
	Transaction []byte
	Vouts       []uint32
}

// ForwardEntry is the body of a forward entry: a payload received earlier
// from Source.
type ForwardEntry struct {
	SourcePublicKey []byte
	Payload         []byte
}

// Marshal encodes the payload in wire format.
func (p *Payload) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(p.Timestamp))
	for i := range p.Entries {
		b = appendMessageField(b, 2, p.Entries[i].Marshal())
	}
	return b
}

// UnmarshalPayload decodes a wire-format payload.
func UnmarshalPayload(b []byte) (*Payload, error) {
	p := &Payload{}
	err := walk(b, func(f field) error {
		switch {
		case f.is(1, protowire.VarintType):
			p.Timestamp = int64(f.x)
		case f.is(2, protowire.BytesType):
			e, err := unmarshalEntry(f.v)
			if err != nil {
				return err
			}
			p.Entries = append(p.Entries, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Marshal encodes the entry in wire format.
func (e *Entry) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, e.Kind)
	for _, h := range e.Headers {
		var hb []byte
		hb = appendStringField(hb, 1, h.Name)
		hb = appendBytesField(hb, 2, h.Value)
		b = appendMessageField(b, 2, hb)
	}
	b = appendBytesField(b, 3, e.Data)
	return b
}

func unmarshalEntry(b []byte) (*Entry, error) {
	e := &Entry{}
	err := walk(b, func(f field) error {
		switch {
		case f.is(1, protowire.BytesType):
			e.Kind = string(f.v)
		case f.is(2, protowire.BytesType):
			var h Header
			err := walk(f.v, func(hf field) error {
				switch {
				case hf.is(1, protowire.BytesType):
					h.Name = string(hf.v)
				case hf.is(2, protowire.BytesType):
					h.Value = hf.bytes()
				}
				return nil
			})
			if err != nil {
				return err
			}
			e.Headers = append(e.Headers, h)
		case f.is(3, protowire.BytesType):
			e.Data = f.bytes()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Marshal encodes the entry body in wire format.
func (s *StealthPaymentEntry) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, s.EphemeralPublicKey)
	for _, op := range s.Outpoints {
		b = appendMessageField(b, 2, op.Marshal())
	}
	return b
}

// UnmarshalStealthPaymentEntry decodes a stealth-payment entry body.
func UnmarshalStealthPaymentEntry(b []byte) (*StealthPaymentEntry, error) {
	s := &StealthPaymentEntry{}
	err := walk(b, func(f field) error {
		switch {
		case f.is(1, protowire.BytesType):
			s.EphemeralPublicKey = f.bytes()
		case f.is(2, protowire.BytesType):
			op, err := UnmarshalOutpoints(f.v)
			if err != nil {
				return err
			}
			s.Outpoints = append(s.Outpoints, *op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Marshal encodes the entry body in wire format.
func (p *P2PKHEntry) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, p.Transaction)
	b = appendPackedField(b, 2, p.Vouts)
	return b
}

// UnmarshalP2PKHEntry decodes an on-chain send entry body.
func UnmarshalP2PKHEntry(b []byte) (*P2PKHEntry, error) {
	o, err := UnmarshalOutpoints(b)
	if err != nil {
		return nil, err
	}
	return &P2PKHEntry{Transaction: o.Transaction, Vouts: o.Vouts}, nil
}

// Marshal encodes the entry body in wire format.
func (f *ForwardEntry) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, f.SourcePublicKey)
	b = appendBytesField(b, 2, f.Payload)
	return b
}

// UnmarshalForwardEntry decodes a forward entry body.
func UnmarshalForwardEntry(b []byte) (*ForwardEntry, error) {
	fe := &ForwardEntry{}
	err := walk(b, func(f field) error {
		switch {
		case f.is(1, protowire.BytesType):
			fe.SourcePublicKey = f.bytes()
		case f.is(2, protowire.BytesType):
			fe.Payload = f.bytes()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fe, nil
}
