package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libstamp-go/payload"
	"github.com/bitfsorg/libstamp-go/tx"
	"github.com/bitfsorg/libstamp-go/utxo"
	"github.com/bitfsorg/libstamp-go/x402"
)

type fakeSettler struct {
	calls atomic.Int64
	token string
	err   error
}

func (s *fakeSettler) Settle(context.Context, *x402.PaymentRequest) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

func paymentRequest(payURL string) *x402.PaymentRequest {
	return x402.NewPaymentRequest(&x402.PaymentDetails{
		Network:    x402.NetworkMain,
		Outputs:    []x402.Output{{Amount: 1000, Script: []byte{0x51}}},
		PaymentURL: payURL,
	})
}

// gatedServer answers 402 unless the request carries token.
func gatedServer(t *testing.T, token string, hits *atomic.Int64, body []byte) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if token == "" || r.Header.Get(x402.HeaderAuthorization) != token {
			x402.WritePaymentRequired(w, paymentRequest(srv.URL+"/pay"))
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_SettlesOnceAndRetries(t *testing.T) {
	page := &payload.MessagePage{StartTime: 1, EndTime: 2}
	var hits atomic.Int64
	srv := gatedServer(t, "tok", &hits, page.Marshal())
	settler := &fakeSettler{token: "tok"}
	c := NewHTTPClient(srv.URL, srv.Client(), settler)

	got, err := c.GetMessages(context.Background(), "1addr", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.EndTime)
	assert.EqualValues(t, 1, settler.calls.Load())
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, "tok", c.Token())

	// The token is reused; no second payment.
	_, err = c.GetPayload(context.Background(), "1addr", make([]byte, 32))
	require.NoError(t, err)
	assert.EqualValues(t, 1, settler.calls.Load())
	assert.EqualValues(t, 3, hits.Load())
}

func TestHTTPClient_PaymentRetryBounded(t *testing.T) {
	var hits atomic.Int64
	srv := gatedServer(t, "", &hits, nil)
	settler := &fakeSettler{token: "useless"}
	c := NewHTTPClient(srv.URL, srv.Client(), settler)

	_, err := c.GetPayload(context.Background(), "1addr", make([]byte, 32))
	assert.ErrorIs(t, err, ErrPaymentRequired)
	assert.EqualValues(t, MaxPaymentRetries, settler.calls.Load())
	assert.EqualValues(t, MaxPaymentRetries+1, hits.Load())
}

func TestHTTPClient_PaymentRequiredWithoutSettler(t *testing.T) {
	var hits atomic.Int64
	srv := gatedServer(t, "tok", &hits, nil)
	c := NewHTTPClient(srv.URL, srv.Client(), nil)

	err := c.PutMessage(context.Background(), "1addr", &payload.Message{})
	assert.ErrorIs(t, err, ErrPaymentRequired)
	assert.EqualValues(t, 1, hits.Load())
}

func TestHTTPClient_SettleFailure(t *testing.T) {
	var hits atomic.Int64
	srv := gatedServer(t, "tok", &hits, nil)
	settler := &fakeSettler{err: x402.ErrPaymentRejected}
	c := NewHTTPClient(srv.URL, srv.Client(), settler)

	_, err := c.GetMessages(context.Background(), "1addr", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrPaymentRequired)
	assert.ErrorIs(t, err, x402.ErrPaymentRejected)
	assert.Empty(t, c.Token())
}

func TestHTTPClient_PaysWithWallet(t *testing.T) {
	store := utxo.NewMemoryStore()
	fund(t, store, 50_000)
	builder := tx.NewBuilder(store, staticKeys{newKey(t), newKey(t)})
	payee, err := tx.BuildP2PKHScript(newKey(t).PubKey())
	require.NoError(t, err)
	details := &x402.PaymentDetails{Network: x402.NetworkMain, Outputs: []x402.Output{{Amount: 1500, Script: payee}}}

	var paid atomic.Int64
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /pay", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p, err := x402.UnmarshalPayment(body)
		if err == nil {
			_, err = x402.VerifyPayment(p, details)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		paid.Add(1)
		w.Header().Set(x402.HeaderAuthorization, "paid-token")
		_, _ = w.Write((&x402.PaymentACK{Payment: *p}).Marshal())
	})
	mux.HandleFunc("GET /payloads/{address}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402.HeaderAuthorization) != "paid-token" {
			d := *details
			d.PaymentURL = srv.URL + "/pay"
			x402.WritePaymentRequired(w, x402.NewPaymentRequest(&d))
			return
		}
		assert.Equal(t, "1addr", r.PathValue("address"))
		assert.Equal(t, strings.Repeat("ab", 32), r.URL.Query().Get("digest"))
		_, _ = w.Write([]byte("payload bytes"))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client(), x402.NewSettler(srv.Client(), builder, x402.NetworkMain))
	digest, _ := hex.DecodeString(strings.Repeat("ab", 32))
	got, err := c.GetPayload(context.Background(), "1addr", digest)
	require.NoError(t, err)
	assert.Equal(t, "payload bytes", string(got))
	assert.EqualValues(t, 1, paid.Load())
	assert.Less(t, utxo.Balance(store), uint64(50_000-1500+1))
	assert.Zero(t, countFrozen(store))
}

func TestHTTPClient_Paths(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		switch {
		case strings.HasPrefix(r.URL.Path, "/profiles/missing"):
			http.NotFound(w, r)
		case r.URL.Path == "/messages/broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		case r.Method == http.MethodPut:
			assert.Equal(t, contentTypeBinary, r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusCreated)
		default:
			_, _ = w.Write((&payload.MessagePage{}).Marshal())
		}
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL+"/", srv.Client(), nil)
	ctx := context.Background()

	start := time.UnixMilli(1000)
	end := time.UnixMilli(2000)
	_, err := c.GetMessages(ctx, "1abc", start, end)
	require.NoError(t, err)
	require.NoError(t, c.PutMessage(ctx, "1abc", &payload.Message{PayloadDigest: []byte{1}}))
	require.NoError(t, c.DeleteMessage(ctx, "1abc", []byte{0xbe, 0xef}))

	_, err = c.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.GetMessages(ctx, "broken", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "500")

	assert.ErrorIs(t, c.PutProfile(ctx, "1abc", nil), ErrNilParam)
	assert.ErrorIs(t, c.PutMessage(ctx, "1abc", nil), ErrNilParam)

	assert.Equal(t, []string{
		"GET /messages/1abc?end_time=2000&start_time=1000",
		"PUT /messages/1abc?",
		"DELETE /messages/1abc?digest=beef",
		"GET /profiles/missing?",
		"GET /messages/broken?",
	}, seen)
}

func TestHTTPClient_StreamURL(t *testing.T) {
	c := NewHTTPClient("https://relay.example", nil, nil)
	assert.Equal(t, "wss://relay.example/ws/1abc", c.StreamURL("1abc"))

	c = NewHTTPClient("http://localhost:8080/", nil, nil)
	c.SetToken("t k")
	assert.Equal(t, "ws://localhost:8080/ws/1abc?access_token=t+k", c.StreamURL("1abc"))
}

func TestHTTPClient_TransportError(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", nil, nil)
	_, err := c.GetProfile(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
