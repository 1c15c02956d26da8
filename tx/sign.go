package tx

import (
	"encoding/hex"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/utxo"
)

// AddInputs appends one input per UTXO, attaching the source output and a
// P2PKH unlocker so the transaction can be signed later.
func AddInputs(sdkTx *transaction.Transaction, inputs []*utxo.Utxo) error {
	for i, u := range inputs {
		if u == nil {
			return fmt.Errorf("%w: input %d", ErrNilParam, i)
		}
		if u.PrivateKey == nil {
			return fmt.Errorf("%w: utxo %s has no private key", ErrSigningFailed, u.ID())
		}
		txid, err := HashFromTxID(u.TxID)
		if err != nil {
			return err
		}
		lock, err := BuildP2PKHScript(u.PrivateKey.PubKey())
		if err != nil {
			return err
		}
		unlocker, err := p2pkh.Unlock(u.PrivateKey, nil)
		if err != nil {
			return fmt.Errorf("%w: unlocker for %s: %w", ErrSigningFailed, u.ID(), err)
		}

		in := &transaction.TransactionInput{
			SourceTXID:              txid,
			SourceTxOutIndex:        u.OutputIndex,
			SequenceNumber:          transaction.DefaultSequenceNumber,
			UnlockingScriptTemplate: unlocker,
		}
		in.SetSourceTxOutput(&transaction.TransactionOutput{
			Satoshis:      u.Satoshis,
			LockingScript: script.NewFromBytes(lock),
		})
		sdkTx.AddInput(in)
	}
	return nil
}

// Sign signs every input. Inputs must have been added with AddInputs.
func Sign(sdkTx *transaction.Transaction) error {
	if sdkTx == nil {
		return fmt.Errorf("%w: transaction", ErrNilParam)
	}
	if err := sdkTx.Sign(); err != nil {
		return fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	return nil
}

// BuildP2PKHScript creates a P2PKH locking script for the given public key.
func BuildP2PKHScript(pubKey *ec.PublicKey) ([]byte, error) {
	if pubKey == nil {
		return nil, fmt.Errorf("%w: public key", ErrNilParam)
	}
	addr, err := script.NewAddressFromPublicKey(pubKey, true)
	if err != nil {
		return nil, fmt.Errorf("%w: address from pubkey: %w", ErrScriptBuild, err)
	}
	lockScript, err := p2pkh.Lock(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: P2PKH lock script: %w", ErrScriptBuild, err)
	}
	return []byte(*lockScript), nil
}

// BuildP2PKHOutput creates a P2PKH output paying satoshis to pubKey.
func BuildP2PKHOutput(pubKey *ec.PublicKey, satoshis uint64) (*transaction.TransactionOutput, error) {
	lock, err := BuildP2PKHScript(pubKey)
	if err != nil {
		return nil, err
	}
	return &transaction.TransactionOutput{
		Satoshis:      satoshis,
		LockingScript: script.NewFromBytes(lock),
	}, nil
}

// BuildP2PKHOutputToAddress creates a P2PKH output paying satoshis to a
// base58 address.
func BuildP2PKHOutputToAddress(address string, satoshis uint64) (*transaction.TransactionOutput, error) {
	addr, err := script.NewAddressFromString(address)
	if err != nil {
		return nil, fmt.Errorf("%w: parse address %q: %w", ErrScriptBuild, address, err)
	}
	lockScript, err := p2pkh.Lock(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: P2PKH lock: %w", ErrScriptBuild, err)
	}
	return &transaction.TransactionOutput{Satoshis: satoshis, LockingScript: lockScript}, nil
}

// Address returns the base58 P2PKH address of pubKey.
func Address(pubKey *ec.PublicKey, mainnet bool) (string, error) {
	if pubKey == nil {
		return "", fmt.Errorf("%w: public key", ErrNilParam)
	}
	addr, err := script.NewAddressFromPublicKey(pubKey, mainnet)
	if err != nil {
		return "", fmt.Errorf("%w: address from pubkey: %w", ErrScriptBuild, err)
	}
	return addr.AddressString, nil
}

// OutputAddress returns the P2PKH address an output pays to, or "" for
// non-P2PKH outputs.
func OutputAddress(out *transaction.TransactionOutput, mainnet bool) string {
	if out == nil || out.LockingScript == nil || !out.LockingScript.IsP2PKH() {
		return ""
	}
	pkh, err := out.LockingScript.PublicKeyHash()
	if err != nil {
		return ""
	}
	addr, err := script.NewAddressFromPublicKeyHash(pkh, mainnet)
	if err != nil {
		return ""
	}
	return addr.AddressString
}

// HashFromTxID converts a display-order hex txid into a chainhash.
func HashFromTxID(txid string) (*chainhash.Hash, error) {
	b, err := hex.DecodeString(txid)
	if err != nil || len(b) != chainhash.HashSize {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTxID, txid)
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	h, err := chainhash.NewHash(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTxID, err)
	}
	return h, nil
}
