package contact

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/log"
)

// maxResponseSize bounds paymail documents read from the network.
const maxResponseSize = 64 << 10

// Capabilities are the capability URL templates a paymail host advertises.
type Capabilities struct {
	PKI           string
	PublicProfile string
	Relay         string // BRFCStampRelay
}

// Identity is a resolved handle.
type Identity struct {
	Handle   string
	PubKey   *ec.PublicKey
	RelayURL string // empty unless advertised
}

type wellKnown struct {
	BSVAlias     string         `json:"bsvalias"`
	Capabilities map[string]any `json:"capabilities"`
}

type pkiResponse struct {
	BSVAlias string `json:"bsvalias"`
	Handle   string `json:"handle"`
	PubKey   string `json:"pubkey"`
}

// Known capability keys.
const (
	capPKI           = "pki"
	capPKIBRFC       = "0c4339ef99c2"
	capPublicProfile = "f12f968c92d6"
)

// Resolver resolves handles over DNS and HTTPS.
type Resolver struct {
	HTTP *http.Client
	// DNS locates the bsvalias host. Nil skips SRV and uses domain:443.
	DNS DNSResolver
	// Scheme of the capability document URL; "https" unless testing.
	Scheme string
}

// NewResolver creates a Resolver with a 30-second HTTP timeout.
func NewResolver(dnsResolver DNSResolver) *Resolver {
	return &Resolver{
		HTTP:   &http.Client{Timeout: 30 * time.Second},
		DNS:    dnsResolver,
		Scheme: "https",
	}
}

// Resolve parses handle and returns the identity it names. Public-key
// handles resolve without network access.
func (r *Resolver) Resolve(ctx context.Context, handle string) (*Identity, error) {
	h, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	if h.Type == HandlePubKey {
		pub, err := ec.PublicKeyFromBytes(h.PubKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPubKey, err)
		}
		return &Identity{Handle: h.String(), PubKey: pub}, nil
	}

	caps, err := r.DiscoverCapabilities(ctx, h.Domain)
	if err != nil {
		return nil, err
	}
	pub, err := r.resolvePKI(ctx, caps, h)
	if err != nil {
		return nil, err
	}
	id := &Identity{Handle: h.String(), PubKey: pub}
	if caps.Relay != "" {
		id.RelayURL = expand(caps.Relay, h)
	}
	log.Contact.Debug().Str("handle", id.Handle).Bool("relay", id.RelayURL != "").Msg("paymail resolved")
	return id, nil
}

// host returns the bsvalias host for domain: the first SRV target, or
// domain:443 when SRV is unavailable.
func (r *Resolver) host(ctx context.Context, domain string) string {
	if r.DNS != nil {
		endpoints, err := ResolveEndpoints(ctx, r.DNS, domain, SRVPaymail)
		if err == nil {
			return endpoints[0]
		}
		if errors.Is(err, ErrDNSSECValidationFailed) {
			log.Contact.Warn().Err(err).Str("domain", domain).Msg("unauthenticated SRV answer ignored")
		}
	}
	return net.JoinHostPort(domain, "443")
}

// DiscoverCapabilities fetches and parses domain's capability document.
func (r *Resolver) DiscoverCapabilities(ctx context.Context, domain string) (*Capabilities, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrDiscovery)
	}
	host := r.host(ctx, domain)
	docURL := r.scheme() + "://" + strings.TrimSuffix(host, ":443") + "/.well-known/bsvalias"

	body, err := r.get(ctx, docURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	var wk wellKnown
	if err := json.Unmarshal(body, &wk); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrDiscovery, docURL, err)
	}

	caps := &Capabilities{}
	for key, val := range wk.Capabilities {
		s, ok := val.(string)
		if !ok {
			continue
		}
		switch key {
		case capPKI, capPKIBRFC:
			caps.PKI = s
		case capPublicProfile:
			caps.PublicProfile = s
		case BRFCStampRelay:
			caps.Relay = s
		default:
			continue
		}
		if err := validateCapabilityHost(s, domain, host); err != nil {
			return nil, err
		}
	}
	return caps, nil
}

func (r *Resolver) resolvePKI(ctx context.Context, caps *Capabilities, h *Handle) (*ec.PublicKey, error) {
	if caps.PKI == "" {
		return nil, fmt.Errorf("%w: %s advertises no pki capability", ErrPKIResolution, h.Domain)
	}
	pkiURL := expand(caps.PKI, h)
	body, err := r.get(ctx, pkiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPKIResolution, err)
	}
	var pki pkiResponse
	if err := json.Unmarshal(body, &pki); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrPKIResolution, err)
	}
	if pki.PubKey == "" {
		return nil, fmt.Errorf("%w: empty public key", ErrPKIResolution)
	}
	raw, err := hex.DecodeString(pki.PubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPubKey, err)
	}
	if err := validateCompressedPubKey(raw); err != nil {
		return nil, err
	}
	return ec.PublicKeyFromBytes(raw)
}

func (r *Resolver) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

func (r *Resolver) scheme() string {
	if r.Scheme == "" {
		return "https"
	}
	return r.Scheme
}

// expand fills a capability template. Variables are path-escaped.
func expand(template string, h *Handle) string {
	s := strings.ReplaceAll(template, "{alias}", url.PathEscape(h.Alias))
	return strings.ReplaceAll(s, "{domain.tld}", url.PathEscape(h.Domain))
}

// validateCapabilityHost rejects capability URLs that point anywhere other
// than the paymail domain, one of its subdomains, or the SRV host.
func validateCapabilityHost(capURL, domain, host string) error {
	u, err := url.Parse(strings.NewReplacer("{alias}", "a", "{domain.tld}", domain).Replace(capURL))
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: %q", ErrUntrustedHost, capURL)
	}
	h := strings.ToLower(u.Hostname())
	srvHost, _, _ := net.SplitHostPort(host)
	if h == domain || strings.HasSuffix(h, "."+domain) || strings.EqualFold(h, srvHost) {
		return nil
	}
	return fmt.Errorf("%w: %s not under %s", ErrUntrustedHost, h, domain)
}
