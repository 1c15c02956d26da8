package x402

import (
	"fmt"
	"io"
	"net/http"
)

// Content types for the payment exchange.
const (
	ContentTypePaymentRequest = "application/bitcoinsv-paymentrequest"
	ContentTypePayment        = "application/bitcoinsv-payment"
	ContentTypePaymentACK     = "application/bitcoinsv-paymentack"
)

// HeaderAuthorization carries the access token, both in the payment
// endpoint's reply and on the retried request.
const HeaderAuthorization = "Authorization"

// maxBodySize bounds payment records read from the network.
const maxBodySize = 1 << 20

// WritePaymentRequired writes req as a 402 Payment Required response.
func WritePaymentRequired(w http.ResponseWriter, req *PaymentRequest) {
	w.Header().Set("Content-Type", ContentTypePaymentRequest)
	w.WriteHeader(http.StatusPaymentRequired)
	_, _ = w.Write(req.Marshal())
}

// ReadPaymentRequired decodes the PaymentRequest carried by a 402 response.
// The body is consumed but not closed.
func ReadPaymentRequired(resp *http.Response) (*PaymentRequest, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("%w: status %d is not 402", ErrInvalidParams, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("x402: read payment request: %w", err)
	}
	return UnmarshalPaymentRequest(body)
}
