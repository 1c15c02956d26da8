package tx

import "math/bits"

// Policy holds the fixed fee and size constants used by the builder.
//
//	size = FixedOverhead + OutputSize·outputs + MaxScriptInputSize·inputs
//	fee  = size · MinFeePerByte
//
// MaxFeePerByte prices outputs the builder might add later (change,
// decoys) so it over-provisions rather than under-provisions.
type Policy struct {
	DustLimit              uint64
	MinFeePerByte          uint64
	MaxFeePerByte          uint64
	MinimumNewInputAmount  uint64
	MaximumTransactionSize int
	FixedOverhead          int
	OutputSize             int
	MaxScriptInputSize     int

	// Change carving bounds, in percent of the remaining delta.
	ChangeFractionMin int
	ChangeFractionMax int
}

// DefaultPolicy returns the policy used for mainnet sends.
func DefaultPolicy() Policy {
	return Policy{
		DustLimit:              546,
		MinFeePerByte:          1,
		MaxFeePerByte:          2,
		MinimumNewInputAmount:  1000,
		MaximumTransactionSize: 100_000,
		FixedOverhead:          10,
		OutputSize:             35,
		MaxScriptInputSize:     148,
		ChangeFractionMin:      40,
		ChangeFractionMax:      60,
	}
}

// EstimateSize returns the projected serialized size in bytes.
func (p Policy) EstimateSize(numInputs, numOutputs int) int {
	return p.FixedOverhead + p.OutputSize*numOutputs + p.MaxScriptInputSize*numInputs
}

// Fee returns the fee for a transaction with the given shape.
func (p Policy) Fee(numInputs, numOutputs int) uint64 {
	return uint64(p.EstimateSize(numInputs, numOutputs)) * p.MinFeePerByte
}

// FeeForSize returns the fee for an already serialized size.
func (p Policy) FeeForSize(size int) uint64 {
	return uint64(size) * p.MinFeePerByte
}

// OutputCost is the fee actually spent on one extra output.
func (p Policy) OutputCost() uint64 {
	return uint64(p.OutputSize) * p.MinFeePerByte
}

// FutureOutputFee is the conservative price of one more output.
func (p Policy) FutureOutputFee() uint64 {
	return uint64(p.OutputSize) * p.MaxFeePerByte
}

// awkwardLeftover reports whether a would-be change amount lies strictly
// between one and two future output fees above dust: enough to pay for a
// change output, not enough for that output to clear dust comfortably.
func (p Policy) awkwardLeftover(leftover uint64) bool {
	f := p.FutureOutputFee()
	return leftover > p.DustLimit+f && leftover < p.DustLimit+2*f
}

// magnitude returns floor(log2(v)), or -1 for zero.
func magnitude(v uint64) int {
	return bits.Len64(v) - 1
}
