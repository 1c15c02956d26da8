package network

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Compile-time interface check.
var _ Indexer = (*RPCClient)(nil)

// btcToSat converts a BTC float64 amount (as returned by the node) to satoshis.
func btcToSat(btc float64) uint64 {
	return uint64(math.Round(btc * 1e8))
}

// listUnspentResult maps the JSON fields returned by listunspent.
type listUnspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Amount        float64 `json:"amount"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Address       string  `json:"address"`
	Confirmations int64   `json:"confirmations"`
}

// ScriptUtxos returns the unspent outputs locked to pkh. The address must
// have been imported into the node's wallet (see ImportAddress).
func (c *RPCClient) ScriptUtxos(ctx context.Context, typ ScriptType, pkh []byte) ([]*UTXO, error) {
	if typ != ScriptP2PKH {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScript, typ)
	}
	address, err := c.address(pkh)
	if err != nil {
		return nil, err
	}
	return c.ListUnspent(ctx, address)
}

// ListUnspent calls `listunspent 0 9999999 ["address"]` and converts BTC
// amounts to satoshis.
func (c *RPCClient) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	params := []any{0, 9999999, []string{address}}
	var results []listUnspentResult
	if err := c.Call(ctx, "listunspent", params, &results); err != nil {
		return nil, err
	}

	utxos := make([]*UTXO, len(results))
	for i, r := range results {
		utxos[i] = &UTXO{
			TxID:          r.TxID,
			Vout:          r.Vout,
			Amount:        btcToSat(r.Amount),
			ScriptPubKey:  r.ScriptPubKey,
			Address:       r.Address,
			Confirmations: r.Confirmations,
		}
	}
	return utxos, nil
}

// ImportAddress imports a watch-only address without rescanning. Importing
// an address twice is a no-op on the node.
func (c *RPCClient) ImportAddress(ctx context.Context, pkh []byte) error {
	address, err := c.address(pkh)
	if err != nil {
		return err
	}
	return c.Call(ctx, "importaddress", []any{address, "", false}, nil)
}

func (c *RPCClient) address(pkh []byte) (string, error) {
	if len(pkh) != 20 {
		return "", fmt.Errorf("%w: pubkey hash must be 20 bytes, got %d", ErrInvalidParams, len(pkh))
	}
	addr, err := script.NewAddressFromPublicKeyHash(pkh, c.mainnet)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return addr.AddressString, nil
}

// Tx calls `getrawtransaction "txid" false`.
func (c *RPCClient) Tx(ctx context.Context, txid string) ([]byte, error) {
	var rawHex string
	if err := c.Call(ctx, "getrawtransaction", []any{txid, false}, &rawHex); err != nil {
		if isRPCCode(err, rpcCodeInvalidAddressOrKey) {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
		}
		return nil, err
	}
	data, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tx hex: %w", ErrInvalidResponse, err)
	}
	return data, nil
}

// BroadcastTx calls `sendrawtransaction "hex"`. Node errors are wrapped with
// ErrBroadcastRejected; transport errors are returned as is so callers can
// tell a rejection from an outage.
func (c *RPCClient) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	var txid string
	if err := c.Call(ctx, "sendrawtransaction", []any{rawTxHex}, &txid); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("%w: %w", ErrBroadcastRejected, err)
		}
		return "", err
	}
	return txid, nil
}

// gettxoutResult maps the JSON fields returned by gettxout. A JSON null
// (spent or unknown output) leaves the pointer nil.
type gettxoutResult struct {
	Value         float64 `json:"value"`
	Confirmations int64   `json:"confirmations"`
}

// ValidateUtxos classifies each outpoint. gettxout (mempool included)
// answers unspent; otherwise the transaction is fetched to tell a spent
// output from a missing transaction or index.
func (c *RPCClient) ValidateUtxos(ctx context.Context, outpoints []OutPoint) ([]OutputState, error) {
	states := make([]OutputState, len(outpoints))
	txCache := make(map[string]*transaction.Transaction)
	for i, op := range outpoints {
		var out *gettxoutResult
		if err := c.Call(ctx, "gettxout", []any{op.TxID, op.Vout, true}, &out); err != nil {
			return nil, err
		}
		if out != nil {
			states[i] = StateUnspent
			continue
		}

		t, ok := txCache[op.TxID]
		if !ok {
			raw, err := c.Tx(ctx, op.TxID)
			if err != nil {
				if isNotFound(err) {
					txCache[op.TxID] = nil
					states[i] = StateNoSuchTx
					continue
				}
				return nil, err
			}
			t, err = transaction.NewTransactionFromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, op.TxID, err)
			}
			txCache[op.TxID] = t
		}
		switch {
		case t == nil:
			states[i] = StateNoSuchTx
		case int(op.Vout) >= len(t.Outputs):
			states[i] = StateNoSuchOutput
		default:
			states[i] = StateSpent
		}
	}
	return states, nil
}
