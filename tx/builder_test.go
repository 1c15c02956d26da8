package tx

import (
	"crypto/rand"
	"encoding/hex"
	mrand "math/rand/v2"
	"sync"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libstamp-go/utxo"
)

// --- Helpers ---

func generateTestKeyPair(t *testing.T) (*ec.PrivateKey, *ec.PublicKey) {
	t.Helper()
	privKey, err := ec.NewPrivateKey()
	require.NoError(t, err)
	return privKey, privKey.PubKey()
}

func randomTxID(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

type staticKeys []*ec.PrivateKey

func (k staticKeys) ChangeKeys() ([]*ec.PrivateKey, error) { return k, nil }

func testKeys(t *testing.T, n int) staticKeys {
	t.Helper()
	keys := make(staticKeys, n)
	for i := range keys {
		keys[i], _ = generateTestKeyPair(t)
	}
	return keys
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.DustLimit = 1000
	p.MinFeePerByte = 1
	p.MaxFeePerByte = 1
	return p
}

// fundedStore puts one UTXO per amount, each from its own transaction.
func fundedStore(t *testing.T, amounts ...uint64) (*utxo.MemoryStore, []*utxo.Utxo) {
	t.Helper()
	store := utxo.NewMemoryStore()
	var utxos []*utxo.Utxo
	for _, amt := range amounts {
		priv, pub := generateTestKeyPair(t)
		addr, err := Address(pub, true)
		require.NoError(t, err)
		u := &utxo.Utxo{
			TxID:        randomTxID(t),
			OutputIndex: 0,
			Satoshis:    amt,
			Address:     addr,
			Type:        utxo.TypeP2PKH,
			PrivateKey:  priv,
		}
		require.NoError(t, store.Put(u))
		utxos = append(utxos, u)
	}
	return store, utxos
}

func newTestBuilder(t *testing.T, store utxo.Store) *Builder {
	t.Helper()
	return NewBuilder(store, testKeys(t, 5),
		WithPolicy(testPolicy()),
		WithRand(mrand.New(mrand.NewPCG(1, 2))))
}

func frozenIDs(s utxo.Store) []string {
	var ids []string
	for u := range s.Frozen() {
		ids = append(ids, u.ID())
	}
	return ids
}

func ids(us []*utxo.Utxo) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.ID()
	}
	return out
}

// assertWellFormed checks sufficiency against the signed size and that no
// output is below dust.
func assertWellFormed(t *testing.T, b *Builder, bundle *Bundle) {
	t.Helper()
	var in, out uint64
	for _, u := range bundle.UsedUtxos {
		in += u.Satoshis
	}
	for _, o := range bundle.Transaction.Outputs {
		out += o.Satoshis
		assert.GreaterOrEqual(t, o.Satoshis, b.Policy().DustLimit, "sub-dust output")
	}
	require.GreaterOrEqual(t, in, out)
	assert.GreaterOrEqual(t, in-out, b.Policy().FeeForSize(len(bundle.Transaction.Bytes())), "fee below signed size")

	for _, c := range bundle.ChangeUtxos {
		assert.Equal(t, bundle.TxID(), c.TxID)
		assert.Equal(t, c.Satoshis, bundle.Transaction.Outputs[c.OutputIndex].Satoshis)
	}
}

// --- Policy ---

func TestPolicy_FeeModel(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 10+35*2+148*3, p.EstimateSize(3, 2))
	assert.Equal(t, uint64(10+35+148)*p.MinFeePerByte, p.Fee(1, 1))
	assert.Equal(t, uint64(35)*p.MaxFeePerByte, p.FutureOutputFee())
	assert.Equal(t, uint64(35)*p.MinFeePerByte, p.OutputCost())
}

func TestMagnitude(t *testing.T) {
	assert.Equal(t, -1, magnitude(0))
	assert.Equal(t, 0, magnitude(1))
	assert.Equal(t, 12, magnitude(8000))
	assert.Equal(t, 12, magnitude(4096))
	assert.Equal(t, 13, magnitude(8192))
}

func TestAwkwardLeftover(t *testing.T) {
	p := testPolicy() // dust 1000, future output fee 35
	tests := []struct {
		leftover uint64
		want     bool
	}{
		{0, false},
		{36, false},
		{614, false},
		{1035, false},
		{1036, true},
		{1069, true},
		{1070, false},
		{5000, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.awkwardLeftover(tt.leftover), "leftover %d", tt.leftover)
	}
}

func TestGreatestLowerBound(t *testing.T) {
	pool := []*utxo.Utxo{{Satoshis: 3000}, {Satoshis: 6000}, {Satoshis: 10000}}
	assert.Equal(t, 1, greatestLowerBound(pool, 8193))
	assert.Equal(t, 0, greatestLowerBound(pool, 2000), "none below: smallest")
	assert.Equal(t, 0, greatestLowerBound(pool, 6000), "strictly below")
	assert.Equal(t, 2, greatestLowerBound(pool, 50000))
}

// --- ConstructTransaction ---

func TestConstructTransaction_Scenario8000(t *testing.T) {
	store, utxos := fundedStore(t, 10000, 6000, 3000)
	b := newTestBuilder(t, store)
	_, recipient := generateTestKeyPair(t)

	out, err := BuildP2PKHOutput(recipient, 8000)
	require.NoError(t, err)
	bundle, err := b.ConstructTransaction([]*transaction.TransactionOutput{out})
	require.NoError(t, err)

	// The single 10,000 sat UTXO covers 8,000 + fee on its own.
	assert.Equal(t, []string{utxos[0].ID()}, ids(bundle.UsedUtxos))
	assert.ElementsMatch(t, []string{utxos[0].ID()}, frozenIDs(store))

	require.Len(t, bundle.OutputVoutIndices, 1)
	primary := bundle.Transaction.Outputs[bundle.OutputVoutIndices[0]]
	assert.Equal(t, uint64(8000), primary.Satoshis)
	addr, _ := Address(recipient, true)
	assert.Equal(t, addr, OutputAddress(primary, true))

	assertWellFormed(t, b, bundle)
}

func TestConstructTransaction_SkipsFrozen(t *testing.T) {
	store, utxos := fundedStore(t, 10000, 6000, 3000)
	require.NoError(t, store.Freeze(utxos[0].ID()))
	b := newTestBuilder(t, store)
	_, recipient := generateTestKeyPair(t)

	out, _ := BuildP2PKHOutput(recipient, 8000)
	bundle, err := b.ConstructTransaction([]*transaction.TransactionOutput{out})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{utxos[1].ID(), utxos[2].ID()}, ids(bundle.UsedUtxos))
	for _, u := range bundle.UsedUtxos {
		assert.True(t, u.Frozen)
	}
	assertWellFormed(t, b, bundle)
}

func TestConstructTransaction_InsufficientFunds(t *testing.T) {
	store, _ := fundedStore(t, 3000, 2000)
	b := newTestBuilder(t, store)
	_, recipient := generateTestKeyPair(t)

	out, _ := BuildP2PKHOutput(recipient, 50000)
	_, err := b.ConstructTransaction([]*transaction.TransactionOutput{out})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, frozenIDs(store), "nothing frozen on failure")
}

func TestConstructTransaction_RejectsDustAndEmpty(t *testing.T) {
	store, _ := fundedStore(t, 10000)
	b := newTestBuilder(t, store)
	_, recipient := generateTestKeyPair(t)

	out, _ := BuildP2PKHOutput(recipient, 999)
	_, err := b.ConstructTransaction([]*transaction.TransactionOutput{out})
	assert.ErrorIs(t, err, ErrDustOutput)

	_, err = b.ConstructTransaction(nil)
	assert.ErrorIs(t, err, ErrNoOutputs)
}

func TestConstructTransaction_ConcurrentCallsNeverShareUtxos(t *testing.T) {
	amounts := make([]uint64, 12)
	for i := range amounts {
		amounts[i] = 3000
	}
	store, _ := fundedStore(t, amounts...)
	b := newTestBuilder(t, store)
	_, recipient := generateTestKeyPair(t)

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _ := BuildP2PKHOutput(recipient, 2000)
			bundle, err := b.ConstructTransaction([]*transaction.TransactionOutput{out})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, u := range bundle.UsedUtxos {
				seen[u.ID()]++
			}
		}()
	}
	wg.Wait()

	for id, n := range seen {
		assert.Equal(t, 1, n, "utxo %s selected twice", id)
	}
}

// --- ConstructTransactionSet ---

func TestConstructTransactionSet_Scenario8000(t *testing.T) {
	store, utxos := fundedStore(t, 10000, 6000, 3000)
	b := newTestBuilder(t, store)

	dests := map[uint32]*ec.PublicKey{}
	gen := func(txn uint32) func(uint32) (*ec.PublicKey, error) {
		return func(out uint32) (*ec.PublicKey, error) {
			require.Zero(t, out)
			_, pub := generateTestKeyPair(t)
			dests[txn] = pub
			return pub, nil
		}
	}

	bundles, err := b.ConstructTransactionSet(8000, gen)
	require.NoError(t, err)
	require.NotEmpty(t, bundles)

	var paid uint64
	var used []string
	for i, bundle := range bundles {
		require.Len(t, bundle.OutputVoutIndices, 1)
		out := bundle.Transaction.Outputs[bundle.OutputVoutIndices[0]]
		paid += out.Satoshis

		addr, _ := Address(dests[uint32(i)], true)
		assert.Equal(t, addr, OutputAddress(out, true))
		assertWellFormed(t, b, bundle)
		used = append(used, ids(bundle.UsedUtxos)...)
	}
	assert.Equal(t, uint64(8000), paid)
	assert.ElementsMatch(t, used, frozenIDs(store), "exactly the used utxos are frozen")

	// 6000 pays 5807; 3000 pays the remaining 2193 and leaves 614, which
	// is below dust plus one output fee and so is not worth growing for.
	assert.ElementsMatch(t, []string{utxos[1].ID(), utxos[2].ID()}, used)
	assert.NotContains(t, frozenIDs(store), utxos[0].ID())
}

func TestConstructTransactionSet_SingleLargeUtxo(t *testing.T) {
	store, utxos := fundedStore(t, 100000)
	b := newTestBuilder(t, store)
	_, dest := generateTestKeyPair(t)
	gen := func(uint32) func(uint32) (*ec.PublicKey, error) {
		return func(uint32) (*ec.PublicKey, error) { return dest, nil }
	}

	bundles, err := b.ConstructTransactionSet(50000, gen)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, []string{utxos[0].ID()}, ids(bundles[0].UsedUtxos))
	assert.Equal(t, uint64(50000), bundles[0].Transaction.Outputs[bundles[0].OutputVoutIndices[0]].Satoshis)
	assert.NotEmpty(t, bundles[0].ChangeUtxos)
	assertWellFormed(t, b, bundles[0])
}

func TestConstructTransactionSet_InsufficientFunds(t *testing.T) {
	store, _ := fundedStore(t, 2000, 2000)
	b := newTestBuilder(t, store)
	_, dest := generateTestKeyPair(t)
	gen := func(uint32) func(uint32) (*ec.PublicKey, error) {
		return func(uint32) (*ec.PublicKey, error) { return dest, nil }
	}

	_, err := b.ConstructTransactionSet(10000, gen)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, frozenIDs(store))

	_, err = b.ConstructTransactionSet(10, gen)
	assert.ErrorIs(t, err, ErrDustOutput)

	_, err = b.ConstructTransactionSet(5000, nil)
	assert.ErrorIs(t, err, ErrNilParam)
}

func TestConstructTransactionSet_NoChangeKeys(t *testing.T) {
	store, _ := fundedStore(t, 100000)
	b := NewBuilder(store, staticKeys{}, WithPolicy(testPolicy()))
	_, dest := generateTestKeyPair(t)
	gen := func(uint32) func(uint32) (*ec.PublicKey, error) {
		return func(uint32) (*ec.PublicKey, error) { return dest, nil }
	}

	_, err := b.ConstructTransactionSet(5000, gen)
	assert.ErrorIs(t, err, ErrNoChangeKeys)
	assert.Empty(t, frozenIDs(store))
}

// --- Commit / Release ---

func TestCommitAndRelease(t *testing.T) {
	store, _ := fundedStore(t, 20000, 20000)
	b := newTestBuilder(t, store)
	_, recipient := generateTestKeyPair(t)

	out, _ := BuildP2PKHOutput(recipient, 5000)
	bundle, err := b.ConstructTransaction([]*transaction.TransactionOutput{out})
	require.NoError(t, err)
	require.Len(t, frozenIDs(store), 1)

	b.Release(bundle)
	assert.Empty(t, frozenIDs(store))

	bundle, err = b.ConstructTransaction([]*transaction.TransactionOutput{out})
	require.NoError(t, err)
	require.NoError(t, b.Commit(bundle))

	all, err := store.Map()
	require.NoError(t, err)
	for _, u := range bundle.UsedUtxos {
		assert.NotContains(t, all, u.ID())
	}
	for _, c := range bundle.ChangeUtxos {
		assert.Contains(t, all, c.ID())
	}

	// Committing twice is a logged no-op for the missing inputs.
	require.NoError(t, b.Commit(&Bundle{UsedUtxos: bundle.UsedUtxos}))
}

// --- Helpers in sign.go ---

func TestBuildP2PKHScript(t *testing.T) {
	_, pub := generateTestKeyPair(t)
	s, err := BuildP2PKHScript(pub)
	require.NoError(t, err)
	assert.Len(t, s, 25)

	_, err = BuildP2PKHScript(nil)
	assert.ErrorIs(t, err, ErrNilParam)
}

func TestBuildP2PKHOutputToAddress(t *testing.T) {
	_, pub := generateTestKeyPair(t)
	addr, err := Address(pub, true)
	require.NoError(t, err)

	out, err := BuildP2PKHOutputToAddress(addr, 1234)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), out.Satoshis)
	assert.Equal(t, addr, OutputAddress(out, true))

	_, err = BuildP2PKHOutputToAddress("not-an-address", 1)
	assert.ErrorIs(t, err, ErrScriptBuild)
}

func TestHashFromTxID(t *testing.T) {
	txid := randomTxID(t)
	h, err := HashFromTxID(txid)
	require.NoError(t, err)
	assert.Equal(t, txid, h.String())

	_, err = HashFromTxID("abcd")
	assert.ErrorIs(t, err, ErrInvalidTxID)
}
