package payload

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrMalformed indicates bytes that do not decode as the expected record.
	ErrMalformed = errors.New("payload: malformed wire data")

	// ErrNoPayload indicates a message with neither a digest nor a payload.
	ErrNoPayload = errors.New("payload: message has neither payload nor digest")

	// ErrDigestLength indicates a payload digest that is not 0 or 32 bytes.
	ErrDigestLength = errors.New("payload: digest must be 32 bytes")

	// ErrDigestMismatch indicates sha256(payload) differs from the declared digest.
	ErrDigestMismatch = errors.New("payload: digest mismatch")

	// ErrHMACLength indicates a payload HMAC that is not 32 bytes.
	ErrHMACLength = errors.New("payload: payload hmac must be 32 bytes")

	// ErrPayloadSize indicates the reported payload size disagrees with the payload.
	ErrPayloadSize = errors.New("payload: payload size mismatch")

	// ErrInvalidPublicKey indicates a source or destination key that does not parse.
	ErrInvalidPublicKey = errors.New("payload: invalid public key")

	// ErrAuthentication indicates the payload HMAC did not verify.
	ErrAuthentication = errors.New("Failed to authenticate message")

	// ErrUnsupportedScheme indicates an encryption or signature scheme this
	// client cannot handle.
	ErrUnsupportedScheme = errors.New("payload: unsupported scheme")

	// ErrPayloadMissing indicates an operation that needs payload bytes that
	// have not been fetched yet.
	ErrPayloadMissing = errors.New("payload: payload not present")

	// ErrUnknownKind indicates an entry kind this client does not decode.
	ErrUnknownKind = errors.New("payload: unknown entry kind")

	// ErrStealthMismatch indicates an inbound stealth output whose address
	// does not match the key recovered for it.
	ErrStealthMismatch = errors.New("payload: stealth output address mismatch")

	// ErrStampMismatch indicates a stamp output whose address does not match
	// the key recovered for it.
	ErrStampMismatch = errors.New("payload: stamp output address mismatch")

	// ErrBadOutpoint indicates an outpoint referencing a missing output.
	ErrBadOutpoint = errors.New("payload: outpoint out of range")

	// ErrInvalidSignature indicates a profile signature that does not verify.
	ErrInvalidSignature = errors.New("payload: invalid signature")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("payload: required parameter is nil")

	// ErrMessageNotFound indicates no stored message has the digest.
	ErrMessageNotFound = errors.New("payload: message not found")
)

// ConstructError reports a failed message construction. PayloadDigest is set
// once encryption has completed, so callers can attribute the failure to the
// message the user saw being sent.
type ConstructError struct {
	PayloadDigest []byte
	Err           error
}

func (e *ConstructError) Error() string {
	if len(e.PayloadDigest) == 0 {
		return fmt.Sprintf("payload: construct message: %v", e.Err)
	}
	return fmt.Sprintf("payload: construct message %s: %v", hex.EncodeToString(e.PayloadDigest), e.Err)
}

func (e *ConstructError) Unwrap() error { return e.Err }
