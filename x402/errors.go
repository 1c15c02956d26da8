package x402

import "errors"

var (
	// ErrRequestExpired indicates the payment request has passed its expiry time.
	ErrRequestExpired = errors.New("x402: payment request expired")

	// ErrInsufficientPayment indicates an output pays less than requested.
	ErrInsufficientPayment = errors.New("x402: insufficient payment amount")

	// ErrInvalidTx indicates the raw transaction cannot be deserialized.
	ErrInvalidTx = errors.New("x402: invalid transaction")

	// ErrNoMatchingOutput indicates no transaction output matches a requested output.
	ErrNoMatchingOutput = errors.New("x402: no matching output found")

	// ErrInvalidParams indicates one or more parameters are invalid.
	ErrInvalidParams = errors.New("x402: invalid parameters")

	// ErrMalformed indicates a payment record that does not decode.
	ErrMalformed = errors.New("x402: malformed payment record")

	// ErrNoOutputs indicates a payment request with nothing to pay.
	ErrNoOutputs = errors.New("x402: payment request has no outputs")

	// ErrNetworkMismatch indicates a request for a different network.
	ErrNetworkMismatch = errors.New("x402: payment request network mismatch")

	// ErrPaymentRejected indicates the payment endpoint refused the payment.
	ErrPaymentRejected = errors.New("x402: payment rejected")

	// ErrMissingToken indicates an accepted payment that returned no access token.
	ErrMissingToken = errors.New("x402: missing access token")
)
