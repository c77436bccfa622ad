package walletdb

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/internal/slatetest"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestDB(t *testing.T) (*DB, *slatetest.Party, string) {
	t.Helper()

	party := slatetest.NewParty(t, 0x61)
	path := filepath.Join(t.TempDir(), DefaultDBName)

	db, err := Open(path, party.Ring)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db, party, path
}

// TestOutputs checks output storage per account.
func TestOutputs(t *testing.T) {
	t.Parallel()

	db, party, _ := openTestDB(t)

	commit, err := pedersen.CommitValue(5)
	require.NoError(t, err)

	out := wallet.OutputData{
		KeyID:      party.Element(5).KeyID,
		Commit:     commit,
		Value:      5,
		Status:     wallet.Unconfirmed,
		Height:     10,
		LockHeight: 10,
		TxLogID:    fn.Some(uint32(3)),
	}
	other := out
	other.KeyID = keychain.KeyLocator{
		Account: 1, Family: keychain.KeyFamilyOutput, Index: 9,
	}.ID()

	require.NoError(t, db.Batch(func(b wallet.Batch) error {
		if err := b.PutOutput(0, &out); err != nil {
			return err
		}

		return b.PutOutput(1, &other)
	}))

	outputs, err := db.FetchOutputs(0)
	require.NoError(t, err)
	require.Equal(t, []wallet.OutputData{out}, outputs)

	got, err := db.FetchOutput(other.KeyID)
	require.NoError(t, err)
	require.Equal(t, other, *got)

	out.Status = wallet.Unspent
	out.MMRIndex = fn.Some(uint64(77))
	require.NoError(t, db.Batch(func(b wallet.Batch) error {
		return b.PutOutput(0, &out)
	}))
	got, err = db.FetchOutput(out.KeyID)
	require.NoError(t, err)
	require.Equal(t, out, *got)

	require.NoError(t, db.Batch(func(b wallet.Batch) error {
		return b.DeleteOutput(0, out.KeyID)
	}))
	_, err = db.FetchOutput(out.KeyID)
	require.ErrorIs(t, err, wallet.ErrNotFound)
}

// TestBatchAtomic checks that a failing batch writes nothing.
func TestBatchAtomic(t *testing.T) {
	t.Parallel()

	db, party, _ := openTestDB(t)

	errAbort := errors.New("abort")
	err := db.Batch(func(b wallet.Batch) error {
		out := wallet.OutputData{KeyID: party.Element(1).KeyID}
		if err := b.PutOutput(0, &out); err != nil {
			return err
		}
		if _, err := b.NextChildIndex(0); err != nil {
			return err
		}

		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	outputs, err := db.FetchOutputs(0)
	require.NoError(t, err)
	require.Empty(t, outputs)

	require.NoError(t, db.Batch(func(b wallet.Batch) error {
		idx, err := b.NextChildIndex(0)
		require.EqualValues(t, 1, idx)

		return err
	}))
}

// TestCounters checks tx log ids and child indices.
func TestCounters(t *testing.T) {
	t.Parallel()

	db, _, _ := openTestDB(t)

	require.NoError(t, db.Batch(func(b wallet.Batch) error {
		for i := uint32(0); i < 3; i++ {
			id, err := b.NextTxLogID(0)
			require.NoError(t, err)
			require.Equal(t, i, id)
		}

		idx, err := b.NextChildIndex(0)
		require.NoError(t, err)
		require.EqualValues(t, 1, idx)

		require.NoError(t, b.EnsureChildIndex(0, 50))
		require.NoError(t, b.EnsureChildIndex(0, 20))
		idx, err = b.NextChildIndex(0)
		require.NoError(t, err)
		require.EqualValues(t, 50, idx)

		// Accounts count independently.
		idx, err = b.NextChildIndex(1)
		require.NoError(t, err)
		require.EqualValues(t, 1, idx)

		return b.PutLastScannedIndex(1234)
	}))

	last, err := db.LastScannedIndex()
	require.NoError(t, err)
	require.EqualValues(t, 1234, last)
}

// TestTxLog checks tx log storage, including payment proofs.
func TestTxLog(t *testing.T) {
	t.Parallel()

	db, party, _ := openTestDB(t)
	sender, _ := party.Address(t, 0)
	receiver, _ := party.Address(t, 1)

	excess, err := pedersen.CommitValue(1)
	require.NoError(t, err)

	slateID := uuid.New()
	entry := wallet.TxLogEntry{
		ID:             0,
		SlateID:        fn.Some(slateID),
		Type:           wallet.TxSent,
		CreationTime:   time.Unix(1000, 0),
		NumInputs:      1,
		NumOutputs:     1,
		AmountCredited: 3,
		AmountDebited:  10,
		Fee:            fn.Some(uint64(1)),
		KernelExcess:   fn.Some(excess),
		PaymentProof: fn.Some(wallet.StoredProofInfo{
			Proof: slate.PaymentProof{
				SenderAddress:   sender,
				ReceiverAddress: receiver,
				ReceiverSignature: fn.Some(
					[64]byte{1, 2, 3},
				),
			},
			SenderAddressIndex: 0,
		}),
	}
	plain := wallet.TxLogEntry{
		ID:               1,
		Type:             wallet.ConfirmedCoinbase,
		CreationTime:     time.Unix(2000, 0),
		Confirmed:        true,
		ConfirmationTime: fn.Some(time.Unix(2001, 0)),
	}

	require.NoError(t, db.Batch(func(b wallet.Batch) error {
		if err := b.PutTxLogEntry(0, &entry); err != nil {
			return err
		}

		return b.PutTxLogEntry(0, &plain)
	}))

	entries, err := db.FetchTxLog(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, plain.ConfirmationTime.UnwrapOr(time.Time{}).Unix(),
		entries[1].ConfirmationTime.UnwrapOr(time.Time{}).Unix())

	got, err := db.FetchTxLogBySlate(0, slateID)
	require.NoError(t, err)
	require.Equal(t, entry.ID, got.ID)
	require.Equal(t, entry.Fee, got.Fee)
	require.Equal(t, entry.KernelExcess, got.KernelExcess)
	require.Equal(t, entry.CreationTime.Unix(), got.CreationTime.Unix())

	proof := got.PaymentProof.UnwrapOr(wallet.StoredProofInfo{})
	require.True(t, proof.Proof.SenderAddress.Equal(sender))
	require.True(t, proof.Proof.ReceiverAddress.Equal(receiver))
	require.Equal(
		t, entry.PaymentProof.UnwrapOr(wallet.StoredProofInfo{}).
			Proof.ReceiverSignature,
		proof.Proof.ReceiverSignature,
	)

	_, err = db.FetchTxLogBySlate(0, uuid.New())
	require.ErrorIs(t, err, wallet.ErrNotFound)
}

// TestContextEncrypted checks that contexts round trip and never hit the
// disk in the clear.
func TestContextEncrypted(t *testing.T) {
	t.Parallel()

	db, party, path := openTestDB(t)

	ctx, err := slate.NewContext(uuid.New(), slate.SenderID, false)
	require.NoError(t, err)
	ctx.SecKey, err = pedersen.RandomBlindingFactor()
	require.NoError(t, err)
	ctx.Amount = 6
	ctx.Fee = 1
	ctx.KernelFeatures = mwtx.KernelHeightLocked
	ctx.LockHeight = 150
	ctx.PaymentProofIndex = fn.Some(uint32(0))
	ctx.Inputs = []slate.OutputRef{{
		KeyID: party.Element(10).KeyID, Value: 10,
	}}

	stored := &wallet.StoredContext{Context: ctx, Account: 2}
	require.NoError(t, db.Batch(func(b wallet.Batch) error {
		return b.PutContext(stored)
	}))

	got, err := db.FetchContext(ctx.SlateID, slate.SenderID)
	require.NoError(t, err)
	require.Equal(t, stored, got)

	err = db.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(contextsBucket).Get(
			contextKey(ctx.SlateID, slate.SenderID),
		)
		require.NotNil(t, raw)
		require.False(t, bytes.Contains(raw, ctx.SecKey[:]))
		require.False(t, bytes.Contains(raw, ctx.SecNonce[:]))

		return nil
	})
	require.NoError(t, err)

	// Another key ring can't open the context.
	require.NoError(t, db.Close())
	stranger := slatetest.NewParty(t, 0x62)
	other, err := Open(path, stranger.Ring)
	require.NoError(t, err)
	defer other.Close()

	_, err = other.FetchContext(ctx.SlateID, slate.SenderID)
	require.ErrorIs(t, err, wallet.ErrBackend)

	require.NoError(t, other.Batch(func(b wallet.Batch) error {
		return b.DeleteContext(ctx.SlateID, slate.SenderID)
	}))
	_, err = other.FetchContext(ctx.SlateID, slate.SenderID)
	require.ErrorIs(t, err, wallet.ErrNotFound)
}

// TestStoredTxAndAccounts checks the remaining records.
func TestStoredTxAndAccounts(t *testing.T) {
	t.Parallel()

	db, _, _ := openTestDB(t)

	payer := slatetest.NewParty(t, 0x63)
	payee := slatetest.NewParty(t, 0x64)
	flow := slatetest.StandardFlow(t, payer, payee, slatetest.FlowParams{
		Amount: 6, Fee: 1, InputValue: 10,
	})
	final := flow.Steps[slate.Standard3]

	require.NoError(t, db.Batch(func(b wallet.Batch) error {
		if err := b.PutStoredTx(final.ID, final.Tx); err != nil {
			return err
		}
		if err := b.PutAccount(wallet.AccountPath{
			Label: "default",
		}); err != nil {
			return err
		}

		return b.PutAccount(wallet.AccountPath{
			Label: "savings", Account: 1,
		})
	}))

	tx, err := db.FetchStoredTx(final.ID)
	require.NoError(t, err)
	require.Equal(t, final.Tx, tx)
	require.NoError(t, tx.Validate())

	_, err = db.FetchStoredTx(uuid.New())
	require.ErrorIs(t, err, wallet.ErrNotFound)

	accounts, err := db.Accounts()
	require.NoError(t, err)
	require.Equal(t, []wallet.AccountPath{
		{Label: "default", Account: 0},
		{Label: "savings", Account: 1},
	}, accounts)
}

// TestProvider opens the database through a wallet instance.
func TestProvider(t *testing.T) {
	t.Parallel()

	party := slatetest.NewParty(t, 0x65)
	inst := wallet.NewInstance(&Provider{
		Path:    filepath.Join(t.TempDir(), "sub", DefaultDBName),
		KeyRing: party.Ring,
	})

	g, err := inst.Lock(t.Context())
	require.NoError(t, err)
	require.Same(t, party.Ring, g.Store().Keychain())
	g.Release()

	require.NoError(t, inst.Close(t.Context()))
}
