package tx

import (
	"fmt"
	"sort"

	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/utxo"
)

// txPlan is one transaction of a set: the inputs staged and the amount it
// pays to its generated output.
type txPlan struct {
	inputs []*utxo.Utxo
	pay    uint64
}

// ConstructTransactionSet pays amount to keys produced by gen, splitting it
// across as many transactions as the UTXO pool and size ceiling require.
// Every UTXO used is frozen on success.
func (b *Builder) ConstructTransactionSet(amount uint64, gen AddressGenerator) ([]*Bundle, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: address generator", ErrNilParam)
	}
	if amount < b.policy.DustLimit {
		return nil, fmt.Errorf("%w: %d < %d", ErrDustOutput, amount, b.policy.DustLimit)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	plans, err := b.planTransactionSet(amount, b.available())
	if err != nil {
		return nil, err
	}

	bundles := make([]*Bundle, 0, len(plans))
	for i, plan := range plans {
		dest, err := gen(uint32(i))(0)
		if err != nil {
			return nil, fmt.Errorf("tx: address generator txn %d: %w", i, err)
		}
		out, err := BuildP2PKHOutput(dest, plan.pay)
		if err != nil {
			return nil, err
		}
		bundle, err := b.build(plan.inputs, []*transaction.TransactionOutput{out}, true)
		if err != nil {
			return nil, fmt.Errorf("tx: build txn %d: %w", i, err)
		}
		bundles = append(bundles, bundle)
	}

	if err := b.reserve(bundles); err != nil {
		return nil, err
	}
	log.Builder.Debug().Uint64("amount", amount).Int("transactions", len(bundles)).Msg("transaction set built")
	return bundles, nil
}

// planTransactionSet runs the greatest-lower-bound selection loop. pool must
// be sorted by ascending value and is consumed.
func (b *Builder) planTransactionSet(amount uint64, pool []*utxo.Utxo) ([]txPlan, error) {
	p := b.policy
	outFee := p.FutureOutputFee()
	var plans []txPlan

	amountLeft := amount
	for amountLeft > 0 {
		var plan txPlan
		var staged uint64

		for {
			if len(pool) == 0 {
				return nil, fmt.Errorf("%w: %d satoshis unfunded", ErrInsufficientFunds, amountLeft)
			}
			if p.EstimateSize(len(plan.inputs)+1, 2) > p.MaximumTransactionSize {
				return nil, fmt.Errorf("%w: %d inputs", ErrTransactionTooLarge, len(plan.inputs)+1)
			}

			var requisite uint64
			if need := amountLeft + p.Fee(len(plan.inputs)+1, 1); need > staged {
				requisite = need - staged
			}
			idx := greatestLowerBound(pool, requisite)
			u := pool[idx]
			pool = append(pool[:idx:idx], pool[idx+1:]...)
			plan.inputs = append(plan.inputs, u)
			staged += u.Satoshis

			fee := p.Fee(len(plan.inputs), 1)
			if staged < fee+p.DustLimit+outFee {
				continue
			}
			usable := staged - fee
			pay := min(amountLeft, usable)
			rest := amountLeft - pay
			canGrow := len(pool) > 0 && p.EstimateSize(len(plan.inputs)+1, 2) <= p.MaximumTransactionSize

			if rest == 0 && canGrow && p.awkwardLeftover(usable-pay) {
				continue
			}
			if rest > 0 && rest < p.MinimumNewInputAmount && canGrow {
				continue
			}
			plan.pay = pay
			break
		}

		plans = append(plans, plan)
		amountLeft -= plan.pay
	}
	return plans, nil
}

// greatestLowerBound returns the index of the largest UTXO strictly below
// target, or 0 (the smallest) when none is.
func greatestLowerBound(pool []*utxo.Utxo, target uint64) int {
	i := sort.Search(len(pool), func(i int) bool { return pool[i].Satoshis >= target })
	if i == 0 {
		return 0
	}
	return i - 1
}

// ConstructTransaction builds an ordinary payment to outputs. It prefers the
// smallest single UTXO covering amount and fees, otherwise spends from the
// grouped, highest-value-first pool. Used UTXOs are frozen on success.
func (b *Builder) ConstructTransaction(outputs []*transaction.TransactionOutput) (*Bundle, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}
	var total uint64
	for i, out := range outputs {
		if out == nil {
			return nil, fmt.Errorf("%w: output %d", ErrNilParam, i)
		}
		if out.Satoshis < b.policy.DustLimit {
			return nil, fmt.Errorf("%w: output %d has %d", ErrDustOutput, i, out.Satoshis)
		}
		total += out.Satoshis
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	inputs, err := b.selectPayment(total, len(outputs), paymentPool(b.available()))
	if err != nil {
		return nil, err
	}
	bundle, err := b.build(inputs, outputs, false)
	if err != nil {
		return nil, err
	}
	if err := b.reserve([]*Bundle{bundle}); err != nil {
		return nil, err
	}
	log.Builder.Debug().Uint64("amount", total).Int("inputs", len(inputs)).Msg("payment built")
	return bundle, nil
}

func (b *Builder) selectPayment(total uint64, numOutputs int, pool []*utxo.Utxo) ([]*utxo.Utxo, error) {
	p := b.policy

	var best *utxo.Utxo
	need := total + p.Fee(1, numOutputs+1)
	for _, u := range pool {
		if u.Satoshis >= need && (best == nil || u.Satoshis < best.Satoshis) {
			best = u
		}
	}
	if best != nil {
		return []*utxo.Utxo{best}, nil
	}

	var staged uint64
	var inputs []*utxo.Utxo
	for _, u := range pool {
		if p.EstimateSize(len(inputs)+1, numOutputs+1) > p.MaximumTransactionSize {
			return nil, fmt.Errorf("%w: %d inputs", ErrTransactionTooLarge, len(inputs)+1)
		}
		inputs = append(inputs, u)
		staged += u.Satoshis
		if staged >= total+p.Fee(len(inputs), numOutputs) {
			return inputs, nil
		}
	}
	return nil, fmt.Errorf("%w: have %d, need %d plus fees", ErrInsufficientFunds, staged, total)
}

// paymentPool orders UTXOs for ordinary payments: grouped by source
// transaction, groups ordered by their largest member, highest value first.
func paymentPool(all []*utxo.Utxo) []*utxo.Utxo {
	groups := make(map[string][]*utxo.Utxo)
	var order []string
	for _, u := range all {
		if _, ok := groups[u.TxID]; !ok {
			order = append(order, u.TxID)
		}
		groups[u.TxID] = append(groups[u.TxID], u)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].Satoshis > g[j].Satoshis })
	}
	sort.SliceStable(order, func(i, j int) bool {
		return groups[order[i]][0].Satoshis > groups[order[j]][0].Satoshis
	})

	pool := make([]*utxo.Utxo, 0, len(all))
	for _, txid := range order {
		pool = append(pool, groups[txid]...)
	}
	return pool
}
