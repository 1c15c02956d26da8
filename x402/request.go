// Package x402 implements the relay's pay-per-request branch.
//
// A relay answers a request it wants paid for with HTTP 402 and a serialized
// PaymentRequest. The client pays the requested outputs, posts a Payment to
// the request's payment URL, and retries the original call with the access
// token the payment endpoint returns. Records follow the BIP70 field layout.
package x402

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Network names carried in PaymentDetails.
const (
	NetworkMain = "main"
	NetworkTest = "test"
)

// Output is a requested payment output.
type Output struct {
	Amount uint64
	Script []byte // locking script
}

// PaymentDetails describes what the payee wants paid.
type PaymentDetails struct {
	Network      string
	Outputs      []Output
	Time         uint64 // unix seconds
	Expires      uint64 // unix seconds, 0 = never
	Memo         string
	PaymentURL   string
	MerchantData []byte
}

// PaymentRequest wraps serialized PaymentDetails. Only pki_type "none" is
// produced or understood.
type PaymentRequest struct {
	PaymentDetailsVersion    uint32
	PkiType                  string
	PkiData                  []byte
	SerializedPaymentDetails []byte
	Signature                []byte
}

// Payment is posted to PaymentDetails.PaymentURL.
type Payment struct {
	MerchantData []byte
	Transactions [][]byte
	RefundTo     []Output
	Memo         string
}

// PaymentACK is the payee's reply to a Payment.
type PaymentACK struct {
	Payment Payment
	Memo    string
}

// Total sums the requested output amounts.
func (d *PaymentDetails) Total() uint64 {
	var sum uint64
	for _, o := range d.Outputs {
		sum += o.Amount
	}
	return sum
}

// IsExpired reports whether the request has expired at now.
func (d *PaymentDetails) IsExpired(now time.Time) bool {
	return d.Expires != 0 && uint64(now.Unix()) > d.Expires
}

func (o *Output) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, o.Amount)
	b = appendBytes(b, 2, o.Script)
	return b
}

func unmarshalOutput(b []byte) (Output, error) {
	var o Output
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			o.Amount = x
		case num == 2 && typ == protowire.BytesType:
			o.Script = clone(v)
		}
		return nil
	})
	return o, err
}

func appendOutputs(b []byte, num protowire.Number, outs []Output) []byte {
	for i := range outs {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, outs[i].Marshal())
	}
	return b
}

func (d *PaymentDetails) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, d.Network)
	b = appendOutputs(b, 2, d.Outputs)
	b = appendVarint(b, 3, d.Time)
	b = appendVarint(b, 4, d.Expires)
	b = appendString(b, 5, d.Memo)
	b = appendString(b, 6, d.PaymentURL)
	b = appendBytes(b, 7, d.MerchantData)
	return b
}

func UnmarshalPaymentDetails(b []byte) (*PaymentDetails, error) {
	d := &PaymentDetails{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			d.Network = string(v)
		case num == 2 && typ == protowire.BytesType:
			o, err := unmarshalOutput(v)
			if err != nil {
				return err
			}
			d.Outputs = append(d.Outputs, o)
		case num == 3 && typ == protowire.VarintType:
			d.Time = x
		case num == 4 && typ == protowire.VarintType:
			d.Expires = x
		case num == 5 && typ == protowire.BytesType:
			d.Memo = string(v)
		case num == 6 && typ == protowire.BytesType:
			d.PaymentURL = string(v)
		case num == 7 && typ == protowire.BytesType:
			d.MerchantData = clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewPaymentRequest wraps details in an unsigned request.
func NewPaymentRequest(d *PaymentDetails) *PaymentRequest {
	return &PaymentRequest{
		PaymentDetailsVersion:    1,
		PkiType:                  "none",
		SerializedPaymentDetails: d.Marshal(),
	}
}

// Details decodes the embedded PaymentDetails.
func (r *PaymentRequest) Details() (*PaymentDetails, error) {
	return UnmarshalPaymentDetails(r.SerializedPaymentDetails)
}

func (r *PaymentRequest) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(r.PaymentDetailsVersion))
	b = appendString(b, 2, r.PkiType)
	b = appendBytes(b, 3, r.PkiData)
	b = appendBytes(b, 4, r.SerializedPaymentDetails)
	b = appendBytes(b, 5, r.Signature)
	return b
}

func UnmarshalPaymentRequest(b []byte) (*PaymentRequest, error) {
	r := &PaymentRequest{PaymentDetailsVersion: 1, PkiType: "none"}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			r.PaymentDetailsVersion = uint32(x)
		case num == 2 && typ == protowire.BytesType:
			r.PkiType = string(v)
		case num == 3 && typ == protowire.BytesType:
			r.PkiData = clone(v)
		case num == 4 && typ == protowire.BytesType:
			r.SerializedPaymentDetails = clone(v)
		case num == 5 && typ == protowire.BytesType:
			r.Signature = clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(r.SerializedPaymentDetails) == 0 {
		return nil, ErrMalformed
	}
	return r, nil
}

func (p *Payment) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, p.MerchantData)
	for _, raw := range p.Transactions {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	b = appendOutputs(b, 3, p.RefundTo)
	b = appendString(b, 4, p.Memo)
	return b
}

func UnmarshalPayment(b []byte) (*Payment, error) {
	p := &Payment{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			p.MerchantData = clone(v)
		case 2:
			p.Transactions = append(p.Transactions, clone(v))
		case 3:
			o, err := unmarshalOutput(v)
			if err != nil {
				return err
			}
			p.RefundTo = append(p.RefundTo, o)
		case 4:
			p.Memo = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (a *PaymentACK) Marshal() []byte {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, a.Payment.Marshal())
	return appendString(b, 2, a.Memo)
}

func UnmarshalPaymentACK(b []byte) (*PaymentACK, error) {
	a := &PaymentACK{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			p, err := UnmarshalPayment(v)
			if err != nil {
				return err
			}
			a.Payment = *p
		case 2:
			a.Memo = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
