package scanner

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/internal/chaintest"
	"github.com/mwcore/mwwallet/internal/slatetest"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/mwcore/mwwallet/walletdb"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testTime = time.Unix(1700000000, 0)

func chainOutput(out mwtx.Output, mmr uint64) wallet.ChainOutput {
	return wallet.ChainOutput{
		Commit:   out.Commit,
		Proof:    out.Proof,
		Height:   mmr,
		MMRIndex: mmr,
	}
}

// TestIdentifyGapLimit checks that every wallet output is recovered as long
// as no gap between used key indices reaches the gap limit, and that
// foreign outputs are never claimed.
func TestIdentifyGapLimit(t *testing.T) {
	t.Parallel()

	ours := slatetest.NewParty(t, 0x71)
	theirs := slatetest.NewParty(t, 0x72)

	rapid.Check(t, func(t *rapid.T) {
		gap := rapid.Uint32Range(1, 6).Draw(t, "gap")
		n := rapid.IntRange(0, 5).Draw(t, "n")
		m := rapid.IntRange(0, 3).Draw(t, "m")

		var (
			outputs []wallet.ChainOutput
			want    = make(map[keychain.KeyID]uint64)
			index   uint32
		)
		for i := 0; i < n; i++ {
			step := rapid.Uint32Range(0, gap-1).Draw(t, "step")
			if i == 0 {
				index = step
			} else {
				index += 1 + step
			}

			value := rapid.Uint64Range(1, 1_000_000).Draw(t, "value")
			out, id := ours.Output(t, 0, index, value)
			outputs = append(outputs, chainOutput(out, uint64(i+1)))
			want[id] = value
		}
		for i := 0; i < m; i++ {
			out, _ := theirs.Output(t, 0, uint32(i), 5)
			outputs = append(outputs, chainOutput(out, uint64(n+i+1)))
		}

		s, err := New(Config{
			KeyRing: ours.Ring, GapLimit: gap, Workers: 2,
		})
		require.NoError(t, err)

		matches, err := s.Identify(context.Background(), outputs)
		require.NoError(t, err)
		require.Len(t, matches, n)
		for _, match := range matches {
			require.Equal(t, want[match.KeyID], match.Value)
		}
	})
}

// TestIdentifyPastHorizon checks that the search stops once the gap limit is
// reached.
func TestIdentifyPastHorizon(t *testing.T) {
	t.Parallel()

	party := slatetest.NewParty(t, 0x73)

	near, _ := party.Output(t, 0, 2, 10)
	far, _ := party.Output(t, 0, 9, 20)
	otherAccount, _ := party.Output(t, 1, 1, 30)

	s, err := New(Config{KeyRing: party.Ring, GapLimit: 3})
	require.NoError(t, err)

	matches, err := s.Identify(t.Context(), []wallet.ChainOutput{
		chainOutput(near, 1),
		chainOutput(far, 2),
		chainOutput(otherAccount, 3),
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, near.Commit, matches[0].Output.Commit)
	require.EqualValues(t, 2, matches[0].Index())
	require.EqualValues(t, 10, matches[0].Value)

	// A wider gap limit reaches the far output.
	s, err = New(Config{KeyRing: party.Ring, GapLimit: 7})
	require.NoError(t, err)
	matches, err = s.Identify(t.Context(), []wallet.ChainOutput{
		chainOutput(near, 1),
		chainOutput(far, 2),
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

// TestIdentifyCancelled checks that a cancelled context aborts the search.
func TestIdentifyCancelled(t *testing.T) {
	t.Parallel()

	party := slatetest.NewParty(t, 0x74)
	out, _ := party.Output(t, 0, 1, 10)

	s, err := New(DefaultConfig(party.Ring))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = s.Identify(ctx, []wallet.ChainOutput{chainOutput(out, 1)})
	require.ErrorIs(t, err, context.Canceled)
}

// TestScanChain restores, confirms and spends outputs against a chain.
func TestScanChain(t *testing.T) {
	t.Parallel()

	party := slatetest.NewParty(t, 0x75)
	stranger := slatetest.NewParty(t, 0x76)
	clk := clock.NewTestClock(testTime)

	store, err := walletdb.Open(
		filepath.Join(t.TempDir(), walletdb.DefaultDBName), party.Ring,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	chain := chaintest.New(10)

	// A received output the wallet knows about but hasn't seen
	// confirmed, one it doesn't know at all and a coinbase.
	pending, pendingID := party.Output(t, 0, 3, 20)
	lost, lostID := party.Output(t, 0, 1, 10)
	coinbase, coinbaseID := party.Output(t, 0, 5, 60)
	coinbase.Features = mwtx.OutputCoinbase
	foreign, _ := stranger.Output(t, 0, 2, 40)

	chain.AddOutputs(false, lost, foreign)
	chain.AddOutputs(false, pending)
	chain.AddOutputs(true, coinbase)

	// An output the wallet believes unspent that the chain lacks.
	gone, goneID := party.Output(t, 0, 7, 5)

	require.NoError(t, store.Batch(func(b wallet.Batch) error {
		id, err := b.NextTxLogID(0)
		if err != nil {
			return err
		}
		err = b.PutTxLogEntry(0, &wallet.TxLogEntry{
			ID:             id,
			Type:           wallet.TxReceived,
			CreationTime:   testTime,
			NumOutputs:     1,
			AmountCredited: 20,
		})
		if err != nil {
			return err
		}
		err = b.PutOutput(0, &wallet.OutputData{
			KeyID:   pendingID,
			Commit:  pending.Commit,
			Value:   20,
			Status:  wallet.Unconfirmed,
			TxLogID: fn.Some(id),
		})
		if err != nil {
			return err
		}

		return b.PutOutput(0, &wallet.OutputData{
			KeyID:  goneID,
			Commit: gone.Commit,
			Value:  5,
			Status: wallet.Unspent,
		})
	}))

	s, err := New(Config{KeyRing: party.Ring, PageSize: 2})
	require.NoError(t, err)

	res, err := s.ScanChain(t.Context(), chain, store, clk, false)
	require.NoError(t, err)
	require.Len(t, res.Restored, 2)
	require.Equal(t, 1, res.Confirmed)
	require.Equal(t, 1, res.Spent)
	require.EqualValues(t, 4, res.LastIndex)

	restored, err := store.FetchOutput(lostID)
	require.NoError(t, err)
	require.Equal(t, wallet.Unspent, restored.Status)
	require.EqualValues(t, 10, restored.Value)
	require.Equal(t, fn.Some(uint64(1)), restored.MMRIndex)

	cb, err := store.FetchOutput(coinbaseID)
	require.NoError(t, err)
	require.True(t, cb.IsCoinbase)
	require.Equal(t, cb.Height+wallet.CoinbaseMaturity, cb.LockHeight)

	confirmed, err := store.FetchOutput(pendingID)
	require.NoError(t, err)
	require.Equal(t, wallet.Unspent, confirmed.Status)

	spent, err := store.FetchOutput(goneID)
	require.NoError(t, err)
	require.Equal(t, wallet.Spent, spent.Status)

	txLog, err := store.FetchTxLog(0)
	require.NoError(t, err)
	require.Len(t, txLog, 3)
	require.True(t, txLog[0].Confirmed)
	require.Equal(t, testTime.Unix(),
		txLog[0].ConfirmationTime.UnwrapOr(time.Time{}).Unix())

	var types []wallet.TxLogEntryType
	for _, entry := range txLog[1:] {
		types = append(types, entry.Type)
	}
	require.ElementsMatch(t, []wallet.TxLogEntryType{
		wallet.TxReceived, wallet.ConfirmedCoinbase,
	}, types)

	last, err := store.LastScannedIndex()
	require.NoError(t, err)
	require.EqualValues(t, 4, last)

	// Restored key indices are never handed out again.
	require.NoError(t, store.Batch(func(b wallet.Batch) error {
		idx, err := b.NextChildIndex(0)
		require.EqualValues(t, 6, idx)

		return err
	}))

	// A rescan from the last index only sees the new output.
	fresh, freshID := party.Output(t, 0, 8, 7)
	chain.AddOutputs(false, fresh)

	res, err = s.ScanChain(t.Context(), chain, store, clk, false)
	require.NoError(t, err)
	require.Len(t, res.Restored, 1)
	require.Equal(t, freshID, res.Restored[0].KeyID)
	require.Zero(t, res.Confirmed)
	require.Zero(t, res.Spent)
	require.EqualValues(t, 5, res.LastIndex)

	// A full rescan finds nothing new.
	res, err = s.ScanChain(t.Context(), chain, store, clk, true)
	require.NoError(t, err)
	require.Empty(t, res.Restored)
	require.Zero(t, res.Confirmed)
}

// TestScanChainOffline checks that node failures surface.
func TestScanChainOffline(t *testing.T) {
	t.Parallel()

	party := slatetest.NewParty(t, 0x77)
	store, err := walletdb.Open(
		filepath.Join(t.TempDir(), walletdb.DefaultDBName), party.Ring,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	chain := chaintest.New(1)
	chain.SetOffline(true)

	s, err := New(DefaultConfig(party.Ring))
	require.NoError(t, err)

	_, err = s.ScanChain(
		t.Context(), chain, store, clock.NewTestClock(testTime), false,
	)
	require.ErrorIs(t, err, wallet.ErrNodeCommunication)
}

// TestHorizonAfterSaturates ensures key indices near the top of the range
// never wrap the search horizon back to a small value.
func TestHorizonAfterSaturates(t *testing.T) {
	t.Parallel()

	require.EqualValues(t, 111, horizonAfter(10, 100))
	require.EqualValues(t, math.MaxUint32, horizonAfter(math.MaxUint32-100,
		100))
	require.EqualValues(t, math.MaxUint32, horizonAfter(math.MaxUint32, 0))

	rapid.Check(t, func(t *rapid.T) {
		index := rapid.Uint32().Draw(t, "index")
		gap := rapid.Uint32().Draw(t, "gap")

		next := horizonAfter(index, gap)
		want := uint64(index) + 1 + uint64(gap)
		if want > math.MaxUint32 {
			want = math.MaxUint32
		}
		require.EqualValues(t, want, next)
	})
}
