package x402

import (
	"bytes"
	"fmt"
	"time"

	"github.com/bsv-blockchain/go-sdk/transaction"
)

// VerifyPayment checks that the transactions in payment together pay every
// output of details, each by a distinct transaction output.
//
// WARNING: This function does NOT verify input signatures. Callers MUST
// independently confirm the transaction is accepted by the network before
// granting access.
//
// Returns the transaction IDs on success for caller tracking.
func VerifyPayment(payment *Payment, details *PaymentDetails) ([]string, error) {
	if payment == nil {
		return nil, fmt.Errorf("%w: nil payment", ErrInvalidParams)
	}
	if details == nil {
		return nil, fmt.Errorf("%w: nil payment details", ErrInvalidParams)
	}
	if details.IsExpired(time.Now()) {
		return nil, ErrRequestExpired
	}
	if len(payment.Transactions) == 0 {
		return nil, fmt.Errorf("%w: no transactions", ErrInvalidTx)
	}

	type candidate struct {
		out  *transaction.TransactionOutput
		used bool
	}
	var pool []*candidate
	txids := make([]string, 0, len(payment.Transactions))
	for i, raw := range payment.Transactions {
		t, err := transaction.NewTransactionFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction %d: %w", ErrInvalidTx, i, err)
		}
		txids = append(txids, t.TxID().String())
		for _, out := range t.Outputs {
			if out.LockingScript != nil {
				pool = append(pool, &candidate{out: out})
			}
		}
	}

	for i, want := range details.Outputs {
		var short *transaction.TransactionOutput
		matched := false
		for _, c := range pool {
			if c.used || !bytes.Equal(*c.out.LockingScript, want.Script) {
				continue
			}
			if c.out.Satoshis < want.Amount {
				short = c.out
				continue
			}
			c.used = true
			matched = true
			break
		}
		if matched {
			continue
		}
		if short != nil {
			return nil, fmt.Errorf("%w: output %d has %d satoshis, need %d",
				ErrInsufficientPayment, i, short.Satoshis, want.Amount)
		}
		return nil, fmt.Errorf("%w: output %d", ErrNoMatchingOutput, i)
	}
	return txids, nil
}
