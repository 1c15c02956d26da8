package payload

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Scheme identifies how a message payload is protected.
type Scheme uint32

const (
	// SchemeNone marks an unencrypted payload. Open refuses it.
	SchemeNone Scheme = 0
	// SchemeEphemeralDH is the ECDH shared key with AES-CBC and HMAC-SHA256.
	SchemeEphemeralDH Scheme = 1
)

// StampType identifies how stamp outputs are keyed.
type StampType uint32

const (
	StampNone StampType = 0
	// StampMessageCommitment keys stamp outputs on the payload digest.
	StampMessageCommitment StampType = 1
)

// Message is the relay envelope.
type Message struct {
	SourcePublicKey      []byte
	DestinationPublicKey []byte
	ReceivedTime         int64 // set by the relay, milliseconds
	PayloadDigest        []byte
	Stamp                *Stamp
	Scheme               Scheme
	Salt                 []byte
	PayloadHMAC          []byte
	PayloadSize          uint64
	Payload              []byte
}

// Stamp lists the transactions funding a message's stamp outputs.
type Stamp struct {
	Type      StampType
	Outpoints []Outpoints
}

// Outpoints names the wallet-relevant outputs of one raw transaction. The
// i-th vout was derived at output index i of its transaction's HD branch.
type Outpoints struct {
	Transaction []byte
	Vouts       []uint32
}

// MessagePage is the relay's response to a message listing.
type MessagePage struct {
	Messages  []*Message
	StartTime int64
	EndTime   int64
}

// Message field numbers.
const (
	msgSourcePublicKey      protowire.Number = 1
	msgDestinationPublicKey protowire.Number = 2
	msgReceivedTime         protowire.Number = 3
	msgPayloadDigest        protowire.Number = 4
	msgStamp                protowire.Number = 5
	msgScheme               protowire.Number = 6
	msgSalt                 protowire.Number = 7
	msgPayloadHMAC          protowire.Number = 8
	msgPayloadSize          protowire.Number = 9
	msgPayload              protowire.Number = 10
)

// Marshal encodes the message in wire format.
func (m *Message) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, msgSourcePublicKey, m.SourcePublicKey)
	b = appendBytesField(b, msgDestinationPublicKey, m.DestinationPublicKey)
	b = appendVarintField(b, msgReceivedTime, uint64(m.ReceivedTime))
	b = appendBytesField(b, msgPayloadDigest, m.PayloadDigest)
	if m.Stamp != nil {
		b = appendMessageField(b, msgStamp, m.Stamp.Marshal())
	}
	b = appendVarintField(b, msgScheme, uint64(m.Scheme))
	b = appendBytesField(b, msgSalt, m.Salt)
	b = appendBytesField(b, msgPayloadHMAC, m.PayloadHMAC)
	b = appendVarintField(b, msgPayloadSize, m.PayloadSize)
	b = appendBytesField(b, msgPayload, m.Payload)
	return b
}

// UnmarshalMessage decodes a wire-format message.
func UnmarshalMessage(b []byte) (*Message, error) {
	m := &Message{}
	err := walk(b, func(f field) error {
		switch {
		case f.is(msgSourcePublicKey, protowire.BytesType):
			m.SourcePublicKey = f.bytes()
		case f.is(msgDestinationPublicKey, protowire.BytesType):
			m.DestinationPublicKey = f.bytes()
		case f.is(msgReceivedTime, protowire.VarintType):
			m.ReceivedTime = int64(f.x)
		case f.is(msgPayloadDigest, protowire.BytesType):
			m.PayloadDigest = f.bytes()
		case f.is(msgStamp, protowire.BytesType):
			s, err := UnmarshalStamp(f.v)
			if err != nil {
				return err
			}
			m.Stamp = s
		case f.is(msgScheme, protowire.VarintType):
			m.Scheme = Scheme(f.x)
		case f.is(msgSalt, protowire.BytesType):
			m.Salt = f.bytes()
		case f.is(msgPayloadHMAC, protowire.BytesType):
			m.PayloadHMAC = f.bytes()
		case f.is(msgPayloadSize, protowire.VarintType):
			m.PayloadSize = f.x
		case f.is(msgPayload, protowire.BytesType):
			m.Payload = f.bytes()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c, _ := UnmarshalMessage(m.Marshal())
	return c
}

// Marshal encodes the stamp in wire format.
func (s *Stamp) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(s.Type))
	for _, op := range s.Outpoints {
		b = appendMessageField(b, 2, op.Marshal())
	}
	return b
}

// UnmarshalStamp decodes a wire-format stamp.
func UnmarshalStamp(b []byte) (*Stamp, error) {
	s := &Stamp{}
	err := walk(b, func(f field) error {
		switch {
		case f.is(1, protowire.VarintType):
			s.Type = StampType(f.x)
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

// Marshal encodes the outpoints in wire format.
func (o *Outpoints) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, o.Transaction)
	b = appendPackedField(b, 2, o.Vouts)
	return b
}

// UnmarshalOutpoints decodes wire-format outpoints.
func UnmarshalOutpoints(b []byte) (*Outpoints, error) {
	o := &Outpoints{}
	err := walk(b, func(f field) error {
		var err error
		switch {
		case f.is(1, protowire.BytesType):
			o.Transaction = f.bytes()
		case f.num == 2:
			o.Vouts, err = f.uint32s(o.Vouts)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Marshal encodes the page in wire format.
func (p *MessagePage) Marshal() []byte {
	var b []byte
	for _, m := range p.Messages {
		b = appendMessageField(b, 1, m.Marshal())
	}
	b = appendVarintField(b, 2, uint64(p.StartTime))
	b = appendVarintField(b, 3, uint64(p.EndTime))
	return b
}

// UnmarshalMessagePage decodes a wire-format message page.
func UnmarshalMessagePage(b []byte) (*MessagePage, error) {
	p := &MessagePage{}
	err := walk(b, func(f field) error {
		switch {
		case f.is(1, protowire.BytesType):
			m, err := UnmarshalMessage(f.v)
			if err != nil {
				return err
			}
			p.Messages = append(p.Messages, m)
		case f.is(2, protowire.VarintType):
			p.StartTime = int64(f.x)
		case f.is(3, protowire.VarintType):
			p.EndTime = int64(f.x)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
