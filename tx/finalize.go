package tx

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/transaction"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/utxo"
)

// maxReclaimRounds bounds the re-sign loop in reclaim.
const maxReclaimRounds = 3

type changeOutput struct {
	key    *ec.PrivateKey
	amount uint64
}

// build creates, finalizes and signs a transaction spending inputs to
// outputs. randomSweep selects the sweep target randomly (transaction sets)
// instead of deterministically (ordinary payments).
func (b *Builder) build(inputs []*utxo.Utxo, outputs []*transaction.TransactionOutput, randomSweep bool) (*Bundle, error) {
	sdkTx := transaction.NewTransaction()
	if err := AddInputs(sdkTx, inputs); err != nil {
		return nil, err
	}
	keys, err := b.changeKeys()
	if err != nil {
		return nil, err
	}
	placement, change, err := b.finalize(sdkTx, inputs, outputs, keys, randomSweep)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Transaction:       sdkTx,
		OutputVoutIndices: placement,
		UsedUtxos:         inputs,
		ChangeUtxos:       change,
	}, nil
}

// Finalize appends outputs plus change to sdkTx, shuffles output order,
// signs, and returns where each requested output ended up.
//
// Change is carved as a random 40-60% of the remaining delta. A carve whose
// floor(log2) equals the primary output's is held back and merged into the
// next one. Carving stops below DustLimit + FutureOutputFee; the leftover,
// plus whatever the post-signing size re-estimate frees, is swept into one
// change output instead of the fee.
//
// Inputs must already be attached with AddInputs. keys are used in order.
func (b *Builder) Finalize(sdkTx *transaction.Transaction, inputs []*utxo.Utxo,
	outputs []*transaction.TransactionOutput, keys []*ec.PrivateKey, randomSweep bool) ([]uint32, []*utxo.Utxo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalize(sdkTx, inputs, outputs, keys, randomSweep)
}

func (b *Builder) finalize(sdkTx *transaction.Transaction, inputs []*utxo.Utxo,
	outputs []*transaction.TransactionOutput, keys []*ec.PrivateKey, randomSweep bool) ([]uint32, []*utxo.Utxo, error) {
	p := b.policy
	if len(outputs) == 0 {
		return nil, nil, ErrNoOutputs
	}

	var inSum, outSum uint64
	for _, u := range inputs {
		inSum += u.Satoshis
	}
	for _, o := range outputs {
		outSum += o.Satoshis
	}
	fee := p.Fee(len(inputs), len(outputs))
	if inSum < outSum+fee {
		return nil, nil, fmt.Errorf("%w: inputs %d < outputs %d + fee %d", ErrInsufficientFunds, inSum, outSum, fee)
	}

	remaining := inSum - outSum - fee
	primary := magnitude(outputs[0].Satoshis)
	threshold := p.DustLimit + p.FutureOutputFee()
	cost := p.OutputCost()

	var changes []changeOutput
	var pending uint64
	for next := 0; next < len(keys) && remaining >= threshold; {
		avail := remaining - cost
		frac := p.ChangeFractionMin
		if span := p.ChangeFractionMax - p.ChangeFractionMin; span > 0 {
			frac += b.rng.IntN(span + 1)
		}
		carve := avail * uint64(frac) / 100
		if carve == 0 {
			break
		}
		amount := pending + carve
		if amount < p.DustLimit || magnitude(amount) == primary {
			pending = amount
			remaining -= carve
			continue
		}
		remaining -= carve + cost
		changes = append(changes, changeOutput{key: keys[next], amount: amount})
		next++
		pending = 0
	}

	leftover := remaining + pending
	sweep := -1
	switch {
	case len(changes) > 0:
		sweep = len(changes) - 1
		if randomSweep {
			sweep = b.rng.IntN(len(changes))
		}
		changes[sweep].amount += leftover
	case len(keys) > 0 && leftover >= p.DustLimit+cost:
		changes = append(changes, changeOutput{key: keys[0], amount: leftover - cost})
		sweep = 0
	}

	// Lay out requested outputs and change, then shuffle.
	type slot struct {
		out     *transaction.TransactionOutput
		request int // index into outputs, or -1
		change  int // index into changes, or -1
	}
	slots := make([]slot, 0, len(outputs)+len(changes))
	for i, o := range outputs {
		slots = append(slots, slot{out: o, request: i, change: -1})
	}
	for i, c := range changes {
		out, err := BuildP2PKHOutput(c.key.PubKey(), c.amount)
		if err != nil {
			return nil, nil, err
		}
		slots = append(slots, slot{out: out, request: -1, change: i})
	}
	b.rng.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })

	placement := make([]uint32, len(outputs))
	changeVout := make([]uint32, len(changes))
	sdkTx.Outputs = sdkTx.Outputs[:0]
	for vout, s := range slots {
		sdkTx.Outputs = append(sdkTx.Outputs, s.out)
		if s.request >= 0 {
			placement[s.request] = uint32(vout)
		} else {
			changeVout[s.change] = uint32(vout)
		}
	}

	if err := Sign(sdkTx); err != nil {
		return nil, nil, err
	}

	if sweep >= 0 {
		amount, err := b.reclaim(sdkTx, inSum, sdkTx.Outputs[changeVout[sweep]])
		if err != nil {
			return nil, nil, err
		}
		changes[sweep].amount = amount
	}

	txid := sdkTx.TxID().String()
	records := make([]*utxo.Utxo, len(changes))
	for i, c := range changes {
		addr, err := Address(c.key.PubKey(), b.mainnet)
		if err != nil {
			return nil, nil, err
		}
		records[i] = &utxo.Utxo{
			TxID:        txid,
			OutputIndex: changeVout[i],
			Satoshis:    c.amount,
			Address:     addr,
			Type:        utxo.TypeP2PKH,
			PrivateKey:  c.key,
		}
	}
	return placement, records, nil
}

// reclaim moves the gap between the estimated fee and the signed size into
// out and re-signs. A re-signed input can grow by up to two bytes, so two
// bytes per input are held back, and the signed result is re-checked until
// the fee covers it. If it never does, out reverts to its estimated amount,
// which covers any signature length.
func (b *Builder) reclaim(sdkTx *transaction.Transaction, inSum uint64, out *transaction.TransactionOutput) (uint64, error) {
	p := b.policy
	base := out.Satoshis
	fee := func() uint64 {
		var paid uint64
		for _, o := range sdkTx.Outputs {
			paid += o.Satoshis
		}
		return inSum - paid
	}

	target := p.FeeForSize(len(sdkTx.Bytes()) + 2*len(sdkTx.Inputs))
	budget := fee()
	if budget <= target {
		return base, nil
	}
	out.Satoshis += budget - target
	if err := Sign(sdkTx); err != nil {
		return 0, err
	}

	for range maxReclaimRounds {
		need := p.FeeForSize(len(sdkTx.Bytes()))
		have := fee()
		if have >= need {
			return out.Satoshis, nil
		}
		short := need - have
		if out.Satoshis-base <= short {
			break
		}
		out.Satoshis -= short
		if err := Sign(sdkTx); err != nil {
			return 0, err
		}
	}
	out.Satoshis = base
	if err := Sign(sdkTx); err != nil {
		return 0, err
	}
	return base, nil
}
