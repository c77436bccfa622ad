package walletapi

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/internal/chaintest"
	"github.com/mwcore/mwwallet/internal/slatetest"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/mwcore/mwwallet/walletdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1700000000, 0)

// testWallet is an owner backed by a fresh database on the shared test
// chain.
type testWallet struct {
	*Owner

	party *slatetest.Party
	chain *chaintest.Chain
	addr  address.Address
}

func newTestWallet(t *testing.T, seed byte, chain *chaintest.Chain,
	reg prometheus.Registerer) *testWallet {

	t.Helper()

	party := slatetest.NewParty(t, seed)
	inst := wallet.NewInstance(&walletdb.Provider{
		Path:    filepath.Join(t.TempDir(), walletdb.DefaultDBName),
		KeyRing: party.Ring,
	})
	t.Cleanup(func() {
		_ = inst.Close(context.Background())
	})

	cfg := DefaultConfig(inst, chain)
	cfg.Clock = clock.NewTestClock(testTime)
	cfg.MinConfirmations = 1
	cfg.Registerer = reg

	owner, err := New(cfg)
	require.NoError(t, err)

	addr, err := owner.GetSlatepackAddress(
		context.Background(), address.DefaultIndex,
	)
	require.NoError(t, err)

	return &testWallet{
		Owner: owner,
		party: party,
		chain: chain,
		addr:  addr,
	}
}

// fund mines outputs of the given values under the wallet's keys, starting
// at index 1, and scans them in.
func (w *testWallet) fund(t *testing.T, values ...uint64) {
	t.Helper()

	outputs := make([]mwtx.Output, 0, len(values))
	for i, v := range values {
		out, _ := w.party.Output(t, 0, uint32(i+1), v)
		outputs = append(outputs, out)
	}
	w.chain.AddOutputs(false, outputs...)

	res, err := w.Scan(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, res.Restored, len(values))
}

func (w *testWallet) summary(t *testing.T) *wallet.Summary {
	t.Helper()

	sum, err := w.RetrieveSummaryInfo(context.Background(), true)
	require.NoError(t, err)

	return sum
}

// transfer moves a slate between wallets as an encrypted slatepack.
func transfer(t *testing.T, from, to *testWallet,
	s *slate.Slate) *slate.Slate {

	t.Helper()
	ctx := context.Background()

	armored, err := from.CreateSlatepackMessage(ctx, s, SlatepackArgs{
		Recipients: []address.Address{to.addr},
	})
	require.NoError(t, err)

	got, _, err := to.SlateFromSlatepackMessage(ctx, armored)
	require.NoError(t, err)

	return got
}

func sendArgs(amount uint64) InitTxArgs {
	return InitTxArgs{
		Amount: amount,
		Fee:    fn.Some[uint64](1),
	}
}

// TestSendReceiveFinalize runs a standard payment of 6 with a fee of 1 out
// of a single output of 10, exchanged as slatepacks.
func TestSendReceiveFinalize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := chaintest.New(100)
	alice := newTestWallet(t, 0x01, chain, nil)
	bob := newTestWallet(t, 0x02, chain, nil)
	alice.fund(t, 10)

	s1, err := alice.InitSendTx(ctx, sendArgs(6))
	require.NoError(t, err)
	require.Equal(t, slate.Standard1, s1.State)
	require.EqualValues(t, 1, s1.Fee)

	sum := alice.summary(t)
	require.EqualValues(t, 10, sum.Locked)
	require.EqualValues(t, 3, sum.AwaitingConfirmation)
	require.Zero(t, sum.Spendable)

	s2, err := bob.ReceiveTx(ctx, transfer(t, alice, bob, s1),
		fn.None[string]())
	require.NoError(t, err)
	require.Equal(t, slate.Standard2, s2.State)

	s3, err := alice.FinalizeTx(ctx, transfer(t, bob, alice, s2))
	require.NoError(t, err)
	require.Equal(t, slate.Standard3, s3.State)
	require.NoError(t, s3.VerifyFinal())
	require.NoError(t, s3.Tx.Kernel().Verify())

	require.NoError(t, alice.PostTx(ctx, s3.ID, false))
	require.Len(t, chain.Posted(), 1)

	excess, err := s3.Excess()
	require.NoError(t, err)
	loc, err := chain.GetKernel(ctx, excess, 0, 0)
	require.NoError(t, err)
	require.True(t, loc.IsSome())

	// Alice paid the amount plus the fee, bob got the amount.
	sum = alice.summary(t)
	require.EqualValues(t, 3, sum.Spendable)
	require.Zero(t, sum.Locked)
	require.Zero(t, sum.AwaitingConfirmation)
	require.EqualValues(t, 10-6-1, sum.Total)

	sum = bob.summary(t)
	require.EqualValues(t, 6, sum.Spendable)

	for _, w := range []*testWallet{alice, bob} {
		txs, err := w.RetrieveTxs(
			ctx, false, fn.Some(s3.ID), RetrieveTxQueryArgs{},
		)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		require.True(t, txs[0].Confirmed)
		require.Equal(t, fn.Some(excess), txs[0].KernelExcess)
	}

	outputs, err := alice.RetrieveOutputs(ctx, true, false)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	outputs, err = alice.RetrieveOutputs(ctx, false, false)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.EqualValues(t, 3, outputs[0].Value)

	err = alice.CancelTx(ctx, s3.ID)
	require.ErrorIs(t, err, ErrTxConfirmed)
}

// TestInvoiceFlow has bob invoice alice, who pays; bob finalizes and posts.
func TestInvoiceFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := chaintest.New(100)
	alice := newTestWallet(t, 0x03, chain, nil)
	bob := newTestWallet(t, 0x04, chain, nil)
	alice.fund(t, 4, 5)

	inv, err := bob.IssueInvoiceTx(ctx, IssueInvoiceTxArgs{
		Amount: 6,
	})
	require.NoError(t, err)
	require.Equal(t, slate.Invoice1, inv.State)
	require.EqualValues(t, 6, bob.summary(t).AwaitingConfirmation)

	paid, err := alice.ProcessInvoiceTx(
		ctx, transfer(t, bob, alice, inv), sendArgs(0),
	)
	require.NoError(t, err)
	require.Equal(t, slate.Invoice2, paid.State)
	require.EqualValues(t, 1, paid.Fee)

	final, err := bob.FinalizeTx(ctx, transfer(t, alice, bob, paid))
	require.NoError(t, err)
	require.Equal(t, slate.Invoice3, final.State)
	require.NoError(t, final.VerifyFinal())

	require.NoError(t, bob.PostTx(ctx, final.ID, true))

	require.EqualValues(t, 6, bob.summary(t).Spendable)
	require.EqualValues(t, 2, alice.summary(t).Spendable)

	txs, err := bob.RetrieveTxs(
		ctx, false, fn.Some(final.ID), RetrieveTxQueryArgs{},
	)
	require.NoError(t, err)
	require.Equal(t, fn.Some[uint64](1), txs[0].Fee)

	// Paying the same invoice twice is refused.
	_, err = alice.ProcessInvoiceTx(ctx, inv, sendArgs(0))
	require.ErrorIs(t, err, ErrDuplicateSlate)
}

// TestPaymentProof has the receiver sign a payment proof that the sender
// keeps.
func TestPaymentProof(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := chaintest.New(100)
	alice := newTestWallet(t, 0x05, chain, nil)
	bob := newTestWallet(t, 0x06, chain, nil)
	alice.fund(t, 10)

	args := sendArgs(6)
	args.PaymentProofRecipient = fn.Some(bob.addr)
	s1, err := alice.InitSendTx(ctx, args)
	require.NoError(t, err)

	proof := s1.PaymentProof.UnsafeFromSome()
	require.True(t, proof.SenderAddress.Equal(alice.addr))
	require.True(t, proof.ReceiverSignature.IsNone())

	s2, err := bob.ReceiveTx(ctx, transfer(t, alice, bob, s1),
		fn.None[string]())
	require.NoError(t, err)

	s3, err := alice.FinalizeTx(ctx, transfer(t, bob, alice, s2))
	require.NoError(t, err)

	excess, err := s3.Excess()
	require.NoError(t, err)

	txs, err := alice.RetrieveTxs(
		ctx, false, fn.Some(s3.ID), RetrieveTxQueryArgs{},
	)
	require.NoError(t, err)
	stored := txs[0].PaymentProof.UnsafeFromSome()
	require.EqualValues(t, address.DefaultIndex, stored.SenderAddressIndex)
	require.True(t, stored.Proof.ReceiverSignature.IsSome())
	require.NoError(t, slate.VerifyPaymentProof(stored.Proof, 6, excess))

	// Once confirmed, bob's funds pay alice, but only alice can sign
	// the proof bob asks for.
	require.NoError(t, alice.PostTx(ctx, s3.ID, false))
	require.EqualValues(t, 6, bob.summary(t).Spendable)

	args = sendArgs(2)
	args.PaymentProofRecipient = fn.Some(alice.addr)
	s4, err := bob.InitSendTx(ctx, args)
	require.NoError(t, err)

	carol := newTestWallet(t, 0x07, chain, nil)
	_, err = carol.ReceiveTx(ctx, s4, fn.None[string]())
	require.ErrorIs(t, err, slate.ErrPaymentProofAddress)

	// The failed receive left nothing behind.
	_, err = carol.RetrieveTxs(
		ctx, false, fn.Some(s4.ID), RetrieveTxQueryArgs{},
	)
	require.ErrorIs(t, err, ErrUnknownSlate)

	_, err = alice.ReceiveTx(ctx, s4, fn.None[string]())
	require.NoError(t, err)
}

// TestCancelTx checks that cancelling a pending send restores its inputs
// and drops its change.
func TestCancelTx(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := chaintest.New(100)
	alice := newTestWallet(t, 0x08, chain, nil)
	bob := newTestWallet(t, 0x09, chain, nil)
	alice.fund(t, 10)

	s1, err := alice.InitSendTx(ctx, sendArgs(6))
	require.NoError(t, err)
	s2, err := bob.ReceiveTx(ctx, s1, fn.None[string]())
	require.NoError(t, err)

	require.NoError(t, alice.CancelTx(ctx, s1.ID))

	sum := alice.summary(t)
	require.EqualValues(t, 10, sum.Spendable)
	require.Zero(t, sum.Locked)
	require.Zero(t, sum.AwaitingConfirmation)

	outputs, err := alice.RetrieveOutputs(ctx, true, false)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, wallet.Unspent, outputs[0].Status)

	txs, err := alice.RetrieveTxs(
		ctx, false, fn.Some(s1.ID), RetrieveTxQueryArgs{},
	)
	require.NoError(t, err)
	require.Equal(t, wallet.TxSentCancelled, txs[0].Type)

	require.ErrorIs(t, alice.CancelTx(ctx, s1.ID), ErrTxCancelled)

	// The context is gone, so the returned slate can't be finalized.
	_, err = alice.FinalizeTx(ctx, s2)
	require.ErrorIs(t, err, ErrUnknownSlate)

	// The receiver cancels its side as well.
	require.NoError(t, bob.CancelTx(ctx, s1.ID))
	require.Zero(t, bob.summary(t).AwaitingConfirmation)
	txs, err = bob.RetrieveTxs(
		ctx, false, fn.Some(s1.ID), RetrieveTxQueryArgs{},
	)
	require.NoError(t, err)
	require.Equal(t, wallet.TxReceivedCancelled, txs[0].Type)

	// The restored input funds a new send.
	_, err = alice.InitSendTx(ctx, sendArgs(9))
	require.NoError(t, err)
}

func TestOwnerErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := chaintest.New(100)
	alice := newTestWallet(t, 0x0a, chain, nil)
	bob := newTestWallet(t, 0x0b, chain, nil)
	alice.fund(t, 10)

	_, err := alice.InitSendTx(ctx, sendArgs(0))
	require.ErrorIs(t, err, slate.ErrInvalidAmount)

	_, err = alice.InitSendTx(ctx, sendArgs(10))
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	// Fresh outputs need confirmations.
	args := sendArgs(5)
	args.MinConfirmations = fn.Some[uint64](5)
	_, err = alice.InitSendTx(ctx, args)
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	args = sendArgs(2)
	args.TTLBlocks = fn.Some[uint64](2)
	s1, err := alice.InitSendTx(ctx, args)
	require.NoError(t, err)
	require.Equal(t, fn.Some(chain.Height()+2), s1.TTLCutoffHeight)

	// Receiving twice, or in the wrong state, is refused.
	s2, err := bob.ReceiveTx(ctx, s1, fn.None[string]())
	require.NoError(t, err)
	_, err = bob.ReceiveTx(ctx, s1, fn.None[string]())
	require.ErrorIs(t, err, ErrDuplicateSlate)
	_, err = bob.ReceiveTx(ctx, s2, fn.None[string]())
	require.ErrorIs(t, err, slate.ErrStateError)
	_, err = bob.FinalizeTx(ctx, s2)
	require.ErrorIs(t, err, ErrUnknownSlate)

	// Tampering with the amount is caught against the context.
	tampered := s2.Copy()
	tampered.Amount++
	_, err = alice.FinalizeTx(ctx, tampered)
	require.ErrorIs(t, err, slate.ErrContextMismatch)

	// So is a kernel lock the sender never agreed to.
	tampered = s2.Copy()
	tampered.LockHeight = chain.Height() + 50
	_, err = alice.FinalizeTx(ctx, tampered)
	require.ErrorIs(t, err, slate.ErrContextMismatch)

	tampered = s2.Copy()
	tampered.KernelFeatures = mwtx.KernelHeightLocked
	_, err = alice.FinalizeTx(ctx, tampered)
	require.ErrorIs(t, err, slate.ErrContextMismatch)

	// Posting before finalizing fails.
	err = alice.PostTx(ctx, s1.ID, false)
	require.ErrorIs(t, err, slate.ErrStateError)

	// The TTL expires two blocks past the tip.
	require.NoError(t, alice.CancelTx(ctx, s1.ID))
	s4, err := alice.InitSendTx(ctx, args)
	require.NoError(t, err)
	chain.MineBlocks(2)
	_, err = bob.ReceiveTx(ctx, s4, fn.None[string]())
	require.ErrorIs(t, err, slate.ErrTTLExpired)

	// Node failures surface unchanged.
	chain.SetOffline(true)
	_, err = alice.InitSendTx(ctx, sendArgs(1))
	require.ErrorIs(t, err, wallet.ErrNodeCommunication)
	_, err = alice.RetrieveSummaryInfo(ctx, false)
	require.ErrorIs(t, err, wallet.ErrNodeCommunication)
}

func TestOwnerMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	chain := chaintest.New(100)
	alice := newTestWallet(t, 0x0c, chain, reg)
	alice.fund(t, 10)

	_, err := alice.InitSendTx(ctx, sendArgs(3))
	require.NoError(t, err)
	_, err = alice.InitSendTx(ctx, sendArgs(30))
	require.Error(t, err)

	ops := alice.metrics.ops
	require.EqualValues(t, 1, testutil.ToFloat64(
		ops.WithLabelValues("init_send_tx", "ok"),
	))
	require.EqualValues(t, 1, testutil.ToFloat64(
		ops.WithLabelValues("init_send_tx", "error"),
	))

	// A second owner can't register on the same registry.
	cfg := alice.cfg
	_, err = New(cfg)
	require.Error(t, err)
}

// TestOutOfTurnSlate ensures a slate the opener never contributed to is
// refused before anything is stored.
func TestOutOfTurnSlate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := chaintest.New(100)
	bob := newTestWallet(t, 0x0d, chain, nil)
	bob.fund(t, 20)

	bare, err := slate.New(slate.Params{
		Amount: 5, Fee: 1, Height: chain.Height(),
	})
	require.NoError(t, err)
	_, err = bob.ReceiveTx(ctx, bare, fn.None[string]())
	require.ErrorIs(t, err, slate.ErrStateError)

	invoice, err := slate.New(slate.Params{
		Amount: 5, Height: chain.Height(), Invoice: true,
	})
	require.NoError(t, err)
	_, err = bob.ProcessInvoiceTx(ctx, invoice, sendArgs(5))
	require.ErrorIs(t, err, slate.ErrStateError)

	// Only the funding entry and output exist.
	txs, err := bob.RetrieveTxs(
		ctx, false, fn.None[uuid.UUID](), RetrieveTxQueryArgs{},
	)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	outputs, err := bob.RetrieveOutputs(ctx, true, false)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, wallet.Unspent, outputs[0].Status)

	_, err = bob.RetrieveTxs(
		ctx, false, fn.Some(bare.ID), RetrieveTxQueryArgs{},
	)
	require.ErrorIs(t, err, ErrUnknownSlate)
}
