package walletapi

import (
	"fmt"
	"sort"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/wallet"
)

// selection is the outcome of coin selection.
type selection struct {
	// inputs are the selected outputs.
	inputs []wallet.OutputData

	// total is the value of the inputs.
	total uint64

	// fee is the fee of the transaction.
	fee uint64

	// change is the value of the change output, zero for none.
	change uint64
}

// eligibleCoins returns the outputs spendable at height with at least
// minConf confirmations.
func eligibleCoins(outputs []wallet.OutputData, height,
	minConf uint64) []wallet.OutputData {

	var coins []wallet.OutputData
	for i := range outputs {
		out := &outputs[i]
		if !out.IsSpendable(height) || out.Height > height {
			continue
		}
		if height-out.Height+1 < minConf {
			continue
		}
		coins = append(coins, *out)
	}

	return coins
}

// selectCoins picks the smallest coins first until they pay amt plus the
// fee of the transaction spending them. A transaction always carries the
// counterparty's output and one kernel, plus a change output unless the
// inputs match exactly. Change is never zero. A fixed fee overrides the
// weight based one.
func selectCoins(coins []wallet.OutputData, amt uint64,
	fees mwtx.FeeParams, fixedFee fn.Option[uint64],
	selectAll bool) (*selection, error) {

	sort.SliceStable(coins, func(i, j int) bool {
		return coins[i].Value < coins[j].Value
	})

	feeFor := func(numInputs, numOutputs int) uint64 {
		return fixedFee.UnwrapOr(fees.Fee(numInputs, numOutputs, 1))
	}

	var total uint64
	for i := range coins {
		total += coins[i].Value
		if selectAll && i < len(coins)-1 {
			continue
		}

		n := i + 1
		feeNoChange := feeFor(n, 1)
		feeWithChange := feeFor(n, 2)

		if err := slate.CheckAmount(amt, feeWithChange); err != nil {
			return nil, err
		}

		switch {
		case total == amt+feeNoChange:
			return &selection{
				inputs: coins[:n],
				total:  total,
				fee:    feeNoChange,
			}, nil

		case total > amt+feeWithChange:
			return &selection{
				inputs: coins[:n],
				total:  total,
				fee:    feeWithChange,
				change: total - amt - feeWithChange,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: need %d plus fee, have %d spendable",
		wallet.ErrInsufficientFunds, amt, total)
}

// inputElements converts selected outputs into slate inputs.
func inputElements(inputs []wallet.OutputData) []slate.Element {
	elements := make([]slate.Element, 0, len(inputs))
	for i := range inputs {
		features := mwtx.OutputPlain
		if inputs[i].IsCoinbase {
			features = mwtx.OutputCoinbase
		}
		elements = append(elements, slate.Element{
			KeyID:    inputs[i].KeyID,
			Value:    inputs[i].Value,
			Features: features,
		})
	}

	return elements
}
