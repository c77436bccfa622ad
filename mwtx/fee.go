package mwtx

const (
	// DefaultBaseFee is the fee paid per unit of weight.
	DefaultBaseFee = 500_000

	inputWeight  = 1
	outputWeight = 21
	kernelWeight = 3
)

// FeeParams holds the fee policy used when building transactions.
type FeeParams struct {
	// BaseFee is the fee per unit of weight.
	BaseFee uint64
}

// DefaultFeeParams returns the default fee policy.
func DefaultFeeParams() FeeParams {
	return FeeParams{BaseFee: DefaultBaseFee}
}

// Weight returns the fee weight of a transaction with the given shape.
// Spending inputs reduces the weight so consolidating transactions are
// cheaper, but the weight never drops below one.
func Weight(numInputs, numOutputs, numKernels int) uint64 {
	w := numOutputs*outputWeight + numKernels*kernelWeight -
		numInputs*inputWeight
	if w < 1 {
		w = 1
	}

	return uint64(w)
}

// Fee returns the fee of a transaction with the given shape.
func (p FeeParams) Fee(numInputs, numOutputs, numKernels int) uint64 {
	return Weight(numInputs, numOutputs, numKernels) * p.BaseFee
}
