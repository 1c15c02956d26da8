package contact

import "errors"

var (
	// ErrInvalidHandle indicates a handle that is neither a paymail nor a
	// compressed public key.
	ErrInvalidHandle = errors.New("contact: invalid handle")

	// ErrDNSLookupFailed indicates a DNS SRV lookup failed.
	ErrDNSLookupFailed = errors.New("contact: DNS lookup failed")

	// ErrDNSSECValidationFailed indicates the upstream resolver did not
	// authenticate the answer.
	ErrDNSSECValidationFailed = errors.New("contact: DNSSEC validation failed")

	// ErrNoEndpoints indicates no SRV records were found for the domain.
	ErrNoEndpoints = errors.New("contact: no endpoints found")

	// ErrDiscovery indicates .well-known/bsvalias could not be fetched or parsed.
	ErrDiscovery = errors.New("contact: capability discovery failed")

	// ErrPKIResolution indicates the PKI endpoint returned no usable key.
	ErrPKIResolution = errors.New("contact: PKI resolution failed")

	// ErrInvalidPubKey indicates a key that is not a valid compressed
	// secp256k1 point.
	ErrInvalidPubKey = errors.New("contact: invalid compressed public key")

	// ErrUntrustedHost indicates a capability URL outside the paymail domain.
	ErrUntrustedHost = errors.New("contact: capability host not trusted")

	// ErrNilParam indicates a required parameter was nil.
	ErrNilParam = errors.New("contact: nil parameter")
)
