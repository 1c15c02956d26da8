package network

import (
	"context"
	"fmt"
)

// MockIndexer is a test double for Indexer. Unset function fields return
// an error rather than panic.
type MockIndexer struct {
	ScriptUtxosFn   func(ctx context.Context, typ ScriptType, pkh []byte) ([]*UTXO, error)
	TxFn            func(ctx context.Context, txid string) ([]byte, error)
	BroadcastTxFn   func(ctx context.Context, rawTxHex string) (string, error)
	ValidateUtxosFn func(ctx context.Context, outpoints []OutPoint) ([]OutputState, error)
}

var _ Indexer = (*MockIndexer)(nil)

func errUnset(name string) error {
	return fmt.Errorf("network: mock %s not set", name)
}

func (m *MockIndexer) ScriptUtxos(ctx context.Context, typ ScriptType, pkh []byte) ([]*UTXO, error) {
	if m.ScriptUtxosFn == nil {
		return nil, errUnset("ScriptUtxos")
	}
	return m.ScriptUtxosFn(ctx, typ, pkh)
}

func (m *MockIndexer) Tx(ctx context.Context, txid string) ([]byte, error) {
	if m.TxFn == nil {
		return nil, errUnset("Tx")
	}
	return m.TxFn(ctx, txid)
}

func (m *MockIndexer) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	if m.BroadcastTxFn == nil {
		return "", errUnset("BroadcastTx")
	}
	return m.BroadcastTxFn(ctx, rawTxHex)
}

// ValidateUtxos defaults to reporting every outpoint unspent.
func (m *MockIndexer) ValidateUtxos(ctx context.Context, outpoints []OutPoint) ([]OutputState, error) {
	if m.ValidateUtxosFn == nil {
		return make([]OutputState, len(outpoints)), nil
	}
	return m.ValidateUtxosFn(ctx, outpoints)
}
