package x402

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libstamp-go/tx"
	"github.com/bitfsorg/libstamp-go/utxo"
)

// --- Helpers ---

type staticKeys []*ec.PrivateKey

func (k staticKeys) ChangeKeys() ([]*ec.PrivateKey, error) { return k, nil }

func newKey(t *testing.T) *ec.PrivateKey {
	t.Helper()
	k, err := ec.NewPrivateKey()
	require.NoError(t, err)
	return k
}

func fundedBuilder(t *testing.T, amounts ...uint64) (*tx.Builder, *utxo.MemoryStore) {
	t.Helper()
	store := utxo.NewMemoryStore()
	for _, amt := range amounts {
		priv := newKey(t)
		addr, err := tx.Address(priv.PubKey(), true)
		require.NoError(t, err)
		txid := make([]byte, 32)
		_, err = rand.Read(txid)
		require.NoError(t, err)
		require.NoError(t, store.Put(&utxo.Utxo{
			TxID:       hex.EncodeToString(txid),
			Satoshis:   amt,
			Address:    addr,
			Type:       utxo.TypeP2PKH,
			PrivateKey: priv,
		}))
	}
	keys := staticKeys{newKey(t), newKey(t), newKey(t)}
	return tx.NewBuilder(store, keys), store
}

func payeeOutput(t *testing.T, amount uint64) Output {
	t.Helper()
	lock, err := tx.BuildP2PKHScript(newKey(t).PubKey())
	require.NoError(t, err)
	return Output{Amount: amount, Script: lock}
}

func countFrozen(s utxo.Store) int {
	n := 0
	for range s.Frozen() {
		n++
	}
	return n
}

// paymentServer verifies posted payments against details and answers with
// token in the Authorization header.
func paymentServer(t *testing.T, details *PaymentDetails, token string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ContentTypePayment, r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		p, err := UnmarshalPayment(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := VerifyPayment(p, details); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set(HeaderAuthorization, token)
		w.Header().Set("Content-Type", ContentTypePaymentACK)
		_, _ = w.Write((&PaymentACK{Payment: *p, Memo: "thanks"}).Marshal())
	}))
}

// --- Wire format ---

func TestPaymentRequest_RoundTrip(t *testing.T) {
	d := &PaymentDetails{
		Network:      NetworkMain,
		Outputs:      []Output{{Amount: 1500, Script: []byte{0x76, 0xa9}}, {Amount: 7, Script: []byte{0x51}}},
		Time:         1700000000,
		Expires:      1700000600,
		Memo:         "messages page",
		PaymentURL:   "https://relay.example/pay/abc",
		MerchantData: []byte("session-1"),
	}
	req := NewPaymentRequest(d)

	decoded, err := UnmarshalPaymentRequest(req.Marshal())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), decoded.PaymentDetailsVersion)
	assert.Equal(t, "none", decoded.PkiType)

	got, err := decoded.Details()
	require.NoError(t, err)
	assert.Equal(t, d, got)
	assert.Equal(t, uint64(1507), got.Total())
}

func TestPayment_RoundTrip(t *testing.T) {
	p := &Payment{
		MerchantData: []byte("m"),
		Transactions: [][]byte{{1, 2, 3}, {4}},
		RefundTo:     []Output{{Amount: 1, Script: []byte{0x51}}},
		Memo:         "hi",
	}
	got, err := UnmarshalPayment(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, p, got)

	ack, err := UnmarshalPaymentACK((&PaymentACK{Payment: *p, Memo: "ok"}).Marshal())
	require.NoError(t, err)
	assert.Equal(t, "ok", ack.Memo)
	assert.Equal(t, *p, ack.Payment)
}

func TestUnmarshalPaymentRequest_Malformed(t *testing.T) {
	_, err := UnmarshalPaymentRequest([]byte{0x0a, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrMalformed)

	// Decodes but carries no details.
	_, err = UnmarshalPaymentRequest(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPaymentDetails_IsExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	assert.False(t, (&PaymentDetails{}).IsExpired(now), "zero expiry never expires")
	assert.False(t, (&PaymentDetails{Expires: 1700000001}).IsExpired(now))
	assert.True(t, (&PaymentDetails{Expires: 1699999999}).IsExpired(now))
}

func TestWriteAndReadPaymentRequired(t *testing.T) {
	req := NewPaymentRequest(&PaymentDetails{PaymentURL: "http://x/pay", Outputs: []Output{{Amount: 1}}})
	rec := httptest.NewRecorder()
	WritePaymentRequired(rec, req)

	resp := rec.Result()
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, ContentTypePaymentRequest, resp.Header.Get("Content-Type"))

	got, err := ReadPaymentRequired(resp)
	require.NoError(t, err)
	assert.Equal(t, req.SerializedPaymentDetails, got.SerializedPaymentDetails)

	_, err = ReadPaymentRequired(&http.Response{StatusCode: http.StatusOK})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

// --- VerifyPayment ---

func TestVerifyPayment(t *testing.T) {
	out := payeeOutput(t, 2000)
	details := &PaymentDetails{Outputs: []Output{out}}

	b, _ := fundedBuilder(t, 50_000)
	bundle, err := b.ConstructTransaction([]*transaction.TransactionOutput{{
		Satoshis:      out.Amount,
		LockingScript: script.NewFromBytes(out.Script),
	}})
	require.NoError(t, err)
	raw := bundle.Transaction.Bytes()

	txids, err := VerifyPayment(&Payment{Transactions: [][]byte{raw}}, details)
	require.NoError(t, err)
	assert.Equal(t, []string{bundle.TxID()}, txids)

	t.Run("insufficient", func(t *testing.T) {
		more := &PaymentDetails{Outputs: []Output{{Amount: 2001, Script: out.Script}}}
		_, err := VerifyPayment(&Payment{Transactions: [][]byte{raw}}, more)
		assert.ErrorIs(t, err, ErrInsufficientPayment)
	})
	t.Run("no match", func(t *testing.T) {
		other := &PaymentDetails{Outputs: []Output{payeeOutput(t, 1)}}
		_, err := VerifyPayment(&Payment{Transactions: [][]byte{raw}}, other)
		assert.ErrorIs(t, err, ErrNoMatchingOutput)
	})
	t.Run("output used once", func(t *testing.T) {
		twice := &PaymentDetails{Outputs: []Output{out, out}}
		_, err := VerifyPayment(&Payment{Transactions: [][]byte{raw}}, twice)
		assert.ErrorIs(t, err, ErrNoMatchingOutput)
	})
	t.Run("expired", func(t *testing.T) {
		old := &PaymentDetails{Outputs: []Output{out}, Expires: 1}
		_, err := VerifyPayment(&Payment{Transactions: [][]byte{raw}}, old)
		assert.ErrorIs(t, err, ErrRequestExpired)
	})
	t.Run("bad tx", func(t *testing.T) {
		_, err := VerifyPayment(&Payment{Transactions: [][]byte{{0xff}}}, details)
		assert.ErrorIs(t, err, ErrInvalidTx)
		_, err = VerifyPayment(&Payment{}, details)
		assert.ErrorIs(t, err, ErrInvalidTx)
	})
	t.Run("nil", func(t *testing.T) {
		_, err := VerifyPayment(nil, details)
		assert.ErrorIs(t, err, ErrInvalidParams)
		_, err = VerifyPayment(&Payment{}, nil)
		assert.ErrorIs(t, err, ErrInvalidParams)
	})
}

// --- Settle ---

func TestSettle_Success(t *testing.T) {
	details := &PaymentDetails{Network: NetworkMain, Outputs: []Output{payeeOutput(t, 1500)}}
	srv := paymentServer(t, details, "Bearer tok-123")
	defer srv.Close()
	details.PaymentURL = srv.URL

	b, store := fundedBuilder(t, 20_000)
	s := NewSettler(srv.Client(), b, NetworkMain)

	token, err := s.Settle(context.Background(), NewPaymentRequest(details))
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", token)

	// The funding UTXO is spent and change is tracked.
	assert.Equal(t, 0, countFrozen(store))
	m, err := store.Map()
	require.NoError(t, err)
	assert.NotEmpty(t, m)
	for _, u := range m {
		assert.NotEqual(t, uint64(20_000), u.Satoshis)
	}
}

func TestSettle_RejectedReleasesFunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no thanks", http.StatusBadRequest)
	}))
	defer srv.Close()

	details := &PaymentDetails{Outputs: []Output{payeeOutput(t, 1500)}, PaymentURL: srv.URL}
	b, store := fundedBuilder(t, 20_000)

	_, err := NewSettler(srv.Client(), b, "").Settle(context.Background(), NewPaymentRequest(details))
	assert.ErrorIs(t, err, ErrPaymentRejected)
	assert.Equal(t, 0, countFrozen(store))
	assert.Equal(t, uint64(20_000), utxo.Balance(store))
}

// truncatedServer answers with status and token but sends fewer body bytes
// than its Content-Length announces.
func truncatedServer(t *testing.T, status int, token string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set(HeaderAuthorization, token)
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(status)
		_, _ = w.Write([]byte("short"))
	}))
}

func TestSettle_TruncatedAckKeepsPayment(t *testing.T) {
	srv := truncatedServer(t, http.StatusOK, "Bearer tok-9")
	defer srv.Close()

	details := &PaymentDetails{Outputs: []Output{payeeOutput(t, 1500)}, PaymentURL: srv.URL}
	b, store := fundedBuilder(t, 20_000)

	token, err := NewSettler(srv.Client(), b, "").Settle(context.Background(), NewPaymentRequest(details))
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-9", token)
	assert.Equal(t, 0, countFrozen(store))
	assert.Less(t, utxo.Balance(store), uint64(20_000-1500))
}

func TestSettle_TruncatedRejection(t *testing.T) {
	srv := truncatedServer(t, http.StatusPaymentRequired, "")
	defer srv.Close()

	details := &PaymentDetails{Outputs: []Output{payeeOutput(t, 1500)}, PaymentURL: srv.URL}
	b, store := fundedBuilder(t, 20_000)

	_, err := NewSettler(srv.Client(), b, "").Settle(context.Background(), NewPaymentRequest(details))
	assert.ErrorIs(t, err, ErrPaymentRejected)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, uint64(20_000), utxo.Balance(store))
}

func TestSettle_MissingToken(t *testing.T) {
	details := &PaymentDetails{Outputs: []Output{payeeOutput(t, 1500)}}
	srv := paymentServer(t, details, "")
	defer srv.Close()
	details.PaymentURL = srv.URL

	b, _ := fundedBuilder(t, 20_000)
	_, err := NewSettler(srv.Client(), b, "").Settle(context.Background(), NewPaymentRequest(details))
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestSettle_Validation(t *testing.T) {
	b, store := fundedBuilder(t, 20_000)
	s := NewSettler(nil, b, NetworkMain)
	ctx := context.Background()
	out := payeeOutput(t, 1500)

	tests := []struct {
		name    string
		details *PaymentDetails
		wantErr error
	}{
		{"no outputs", &PaymentDetails{PaymentURL: "http://x"}, ErrNoOutputs},
		{"no url", &PaymentDetails{Outputs: []Output{out}}, ErrInvalidParams},
		{"wrong network", &PaymentDetails{Network: NetworkTest, Outputs: []Output{out}, PaymentURL: "http://x"}, ErrNetworkMismatch},
		{"expired", &PaymentDetails{Outputs: []Output{out}, PaymentURL: "http://x", Expires: 1}, ErrRequestExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Settle(ctx, NewPaymentRequest(tt.details))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	_, err := s.Settle(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidParams)

	// Nothing was funded.
	assert.Equal(t, 0, countFrozen(store))
}

func TestSettle_InsufficientFunds(t *testing.T) {
	b, _ := fundedBuilder(t, 1000)
	details := &PaymentDetails{Outputs: []Output{payeeOutput(t, 50_000)}, PaymentURL: "http://127.0.0.1:1"}
	_, err := NewSettler(nil, b, "").Settle(context.Background(), NewPaymentRequest(details))
	assert.ErrorIs(t, err, tx.ErrInsufficientFunds)
}
