package walletapi

import (
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func coin(index uint32, value uint64) wallet.OutputData {
	return wallet.OutputData{
		KeyID: keychain.KeyLocator{
			Family: keychain.KeyFamilyOutput,
			Index:  index,
		}.ID(),
		Value:  value,
		Status: wallet.Unspent,
		Height: 10,
	}
}

func TestEligibleCoins(t *testing.T) {
	t.Parallel()

	immature := coin(2, 5)
	immature.LockHeight = 50
	locked := coin(3, 5)
	locked.Status = wallet.Locked
	fresh := coin(4, 5)
	fresh.Height = 20

	outputs := []wallet.OutputData{coin(1, 5), immature, locked, fresh}

	require.Len(t, eligibleCoins(outputs, 20, 1), 2)
	require.Len(t, eligibleCoins(outputs, 20, 2), 1)
	require.Len(t, eligibleCoins(outputs, 60, 1), 3)
	require.Empty(t, eligibleCoins(outputs, 20, 20))
}

func TestSelectCoins(t *testing.T) {
	t.Parallel()

	fees := mwtx.FeeParams{BaseFee: 1}
	fixed := fn.Some[uint64](1)

	tests := []struct {
		name    string
		coins   []uint64
		amt     uint64
		all     bool
		inputs  int
		change  uint64
		wantErr error
	}{
		{
			name:   "smallest first",
			coins:  []uint64{10, 2, 5},
			amt:    5,
			inputs: 2,
			change: 1,
		},
		{
			name:   "exact match has no change",
			coins:  []uint64{7, 20},
			amt:    6,
			inputs: 1,
		},
		{
			name:   "select all",
			coins:  []uint64{10, 2, 5},
			amt:    1,
			all:    true,
			inputs: 3,
			change: 15,
		},
		{
			name:    "insufficient",
			coins:   []uint64{3, 3},
			amt:     6,
			wantErr: wallet.ErrInsufficientFunds,
		},
		{
			name:    "no coins",
			amt:     1,
			wantErr: wallet.ErrInsufficientFunds,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var coins []wallet.OutputData
			for i, v := range test.coins {
				coins = append(coins, coin(uint32(i+1), v))
			}

			sel, err := selectCoins(coins, test.amt, fees, fixed,
				test.all)
			if test.wantErr != nil {
				require.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, sel.inputs, test.inputs)
			require.Equal(t, test.change, sel.change)
			require.EqualValues(t, 1, sel.fee)
		})
	}
}

// TestSelectCoinsBalance checks that every selection pays the amount, its
// fee and its change out of exactly the selected inputs.
func TestSelectCoinsBalance(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(
			rapid.Uint64Range(1, 1_000_000_000), 0, 12,
		).Draw(t, "values")
		amt := rapid.Uint64Range(1, 3_000_000_000).Draw(t, "amt")
		all := rapid.Bool().Draw(t, "all")

		var (
			coins []wallet.OutputData
			total uint64
		)
		for i, v := range values {
			coins = append(coins, coin(uint32(i+1), v))
			total += v
		}

		fees := mwtx.FeeParams{BaseFee: 1000}
		sel, err := selectCoins(coins, amt, fees, fn.None[uint64](), all)
		if err != nil {
			require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
			require.LessOrEqual(
				t, total, amt+fees.Fee(len(values), 2, 1),
			)
			return
		}

		var sum uint64
		for _, in := range sel.inputs {
			sum += in.Value
		}
		require.Equal(t, sel.total, sum)
		require.Equal(t, sum, amt+sel.fee+sel.change)
		if all {
			require.Len(t, sel.inputs, len(values))
		}

		numOutputs := 2
		if sel.change == 0 {
			numOutputs = 1
		}
		require.Equal(t, fees.Fee(len(sel.inputs), numOutputs, 1),
			sel.fee)
	})
}
