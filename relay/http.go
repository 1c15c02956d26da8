package relay

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/payload"
	"github.com/bitfsorg/libstamp-go/x402"
)

// MaxPaymentRetries bounds how many times one request is settled and
// retried after a 402.
const MaxPaymentRetries = 1

const (
	contentTypeBinary = "application/octet-stream"
	maxResponseSize   = 16 << 20
)

// Relay is the relay server surface the protocol client consumes.
type Relay interface {
	GetProfile(ctx context.Context, address string) (*payload.AuthWrapper, error)
	PutProfile(ctx context.Context, address string, w *payload.AuthWrapper) error
	GetMessages(ctx context.Context, address string, start, end time.Time) (*payload.MessagePage, error)
	PutMessage(ctx context.Context, address string, msg *payload.Message) error
	DeleteMessage(ctx context.Context, address string, digest []byte) error
	GetPayload(ctx context.Context, address string, digest []byte) ([]byte, error)
}

// Settler pays a relay's PaymentRequest and returns an access token.
// *x402.Settler implements it.
type Settler interface {
	Settle(ctx context.Context, req *x402.PaymentRequest) (string, error)
}

// HTTPClient talks to a relay server over HTTP. The access token obtained
// from the last settled payment is attached to every later request.
type HTTPClient struct {
	base    string
	http    *http.Client
	settler Settler

	mu    sync.RWMutex
	token string
}

var _ Relay = (*HTTPClient)(nil)

// NewHTTPClient creates a relay client rooted at baseURL. settler may be
// nil, in which case every 402 surfaces as ErrPaymentRequired.
func NewHTTPClient(baseURL string, client *http.Client, settler Settler) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		base:    strings.TrimRight(baseURL, "/"),
		http:    client,
		settler: settler,
	}
}

// Token returns the current access token, if any.
func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the access token.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// StreamURL returns the websocket endpoint for address.
func (c *HTTPClient) StreamURL(address string) string {
	u := c.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u += "/ws/" + url.PathEscape(address)
	if token := c.Token(); token != "" {
		u += "?" + url.Values{"access_token": {token}}.Encode()
	}
	return u
}

func (c *HTTPClient) GetProfile(ctx context.Context, address string) (*payload.AuthWrapper, error) {
	body, err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(address), nil, nil)
	if err != nil {
		return nil, err
	}
	return payload.UnmarshalAuthWrapper(body)
}

func (c *HTTPClient) PutProfile(ctx context.Context, address string, w *payload.AuthWrapper) error {
	if w == nil {
		return fmt.Errorf("%w: profile", ErrNilParam)
	}
	_, err := c.do(ctx, http.MethodPut, "/profiles/"+url.PathEscape(address), nil, w.Marshal())
	return err
}

// GetMessages lists messages for address. Zero times leave the bound open.
func (c *HTTPClient) GetMessages(ctx context.Context, address string, start, end time.Time) (*payload.MessagePage, error) {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start_time", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		q.Set("end_time", strconv.FormatInt(end.UnixMilli(), 10))
	}
	body, err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(address), q, nil)
	if err != nil {
		return nil, err
	}
	return payload.UnmarshalMessagePage(body)
}

func (c *HTTPClient) PutMessage(ctx context.Context, address string, msg *payload.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message", ErrNilParam)
	}
	_, err := c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(address), nil, msg.Marshal())
	return err
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, address string, digest []byte) error {
	q := url.Values{"digest": {hex.EncodeToString(digest)}}
	_, err := c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(address), q, nil)
	return err
}

func (c *HTTPClient) GetPayload(ctx context.Context, address string, digest []byte) ([]byte, error) {
	q := url.Values{"digest": {hex.EncodeToString(digest)}}
	return c.do(ctx, http.MethodGet, "/payloads/"+url.PathEscape(address), q, nil)
}

// do performs one relay call. A 402 is settled through the Settler and the
// call retried with the new token, at most MaxPaymentRetries times.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("relay: build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", contentTypeBinary)
		}
		if token := c.Token(); token != "" {
			req.Header.Set(x402.HeaderAuthorization, token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("relay: %s %s: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusPaymentRequired {
			token, err := c.settle(ctx, resp, attempt)
			_ = resp.Body.Close()
			if err != nil {
				return nil, err
			}
			c.SetToken(token)
			log.Relay.Debug().Str("path", path).Int("attempt", attempt+1).Msg("payment settled, retrying")
			continue
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("relay: read %s: %w", path, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return data, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		default:
			return nil, fmt.Errorf("%w: %s %s: %d %s", ErrUnexpectedStatus, method, path,
				resp.StatusCode, bytes.TrimSpace(data))
		}
	}
}

func (c *HTTPClient) settle(ctx context.Context, resp *http.Response, attempt int) (string, error) {
	if c.settler == nil || attempt >= MaxPaymentRetries {
		return "", ErrPaymentRequired
	}
	payReq, err := x402.ReadPaymentRequired(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPaymentRequired, err)
	}
	token, err := c.settler.Settle(ctx, payReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPaymentRequired, err)
	}
	return token, nil
}
