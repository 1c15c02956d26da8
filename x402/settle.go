package x402

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/tx"
)

// Payer funds payment outputs from the wallet. *tx.Builder implements it.
type Payer interface {
	ConstructTransaction(outputs []*transaction.TransactionOutput) (*tx.Bundle, error)
	Commit(bundle *tx.Bundle) error
	Release(bundle *tx.Bundle)
}

// Settler pays PaymentRequests and returns the resulting access token.
type Settler struct {
	HTTP    *http.Client
	Payer   Payer
	Network string // expected PaymentDetails.Network; empty accepts any
	Now     func() time.Time
}

// NewSettler creates a Settler using client for the payment POST.
func NewSettler(client *http.Client, payer Payer, network string) *Settler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Settler{HTTP: client, Payer: payer, Network: network, Now: time.Now}
}

// Settle pays req and returns the token from the payment endpoint's
// Authorization header. The funding UTXOs are committed once the payee
// acknowledges the payment and released on any earlier failure.
func (s *Settler) Settle(ctx context.Context, req *PaymentRequest) (string, error) {
	if req == nil || s.Payer == nil {
		return "", fmt.Errorf("%w: nil request or payer", ErrInvalidParams)
	}
	details, err := req.Details()
	if err != nil {
		return "", err
	}
	if len(details.Outputs) == 0 {
		return "", ErrNoOutputs
	}
	if details.PaymentURL == "" {
		return "", fmt.Errorf("%w: no payment url", ErrInvalidParams)
	}
	if s.Network != "" && details.Network != "" && details.Network != s.Network {
		return "", fmt.Errorf("%w: %q, want %q", ErrNetworkMismatch, details.Network, s.Network)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if details.IsExpired(now()) {
		return "", ErrRequestExpired
	}

	outputs := make([]*transaction.TransactionOutput, len(details.Outputs))
	for i, o := range details.Outputs {
		outputs[i] = &transaction.TransactionOutput{
			Satoshis:      o.Amount,
			LockingScript: script.NewFromBytes(o.Script),
		}
	}
	bundle, err := s.Payer.ConstructTransaction(outputs)
	if err != nil {
		return "", fmt.Errorf("x402: fund payment: %w", err)
	}

	payment := &Payment{
		MerchantData: details.MerchantData,
		Transactions: [][]byte{bundle.Transaction.Bytes()},
	}
	token, err := s.post(ctx, details.PaymentURL, payment)
	if err != nil {
		s.Payer.Release(bundle)
		return "", err
	}
	if err := s.Payer.Commit(bundle); err != nil {
		log.Relay.Warn().Err(err).Str("txid", bundle.TxID()).Msg("payment accepted but commit failed")
	}
	log.Relay.Debug().Uint64("amount", details.Total()).Str("txid", bundle.TxID()).Msg("payment settled")
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func (s *Settler) post(ctx context.Context, url string, payment *Payment) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payment.Marshal()))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	httpReq.Header.Set("Content-Type", ContentTypePayment)
	httpReq.Header.Set("Accept", ContentTypePaymentACK)

	resp, err := s.HTTP.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("x402: post payment: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if readErr != nil {
			return "", fmt.Errorf("%w: status %d: read body: %w", ErrPaymentRejected, resp.StatusCode, readErr)
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrPaymentRejected, resp.StatusCode, bytes.TrimSpace(body))
	}
	// The payee took the payment; a broken ack body does not undo that.
	if readErr != nil {
		log.Relay.Warn().Err(readErr).Str("url", url).Msg("payment accepted but ack unreadable")
	} else if len(body) > 0 {
		if ack, err := UnmarshalPaymentACK(body); err == nil && ack.Memo != "" {
			log.Relay.Debug().Str("memo", ack.Memo).Msg("payment acknowledged")
		}
	}
	return resp.Header.Get(HeaderAuthorization), nil
}
