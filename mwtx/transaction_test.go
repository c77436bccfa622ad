package mwtx

import (
	"testing"

	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/stretchr/testify/require"
)

func newBlind(t *testing.T) pedersen.BlindingFactor {
	b, err := pedersen.RandomBlindingFactor()
	require.NoError(t, err)

	return b
}

// buildTx creates a valid single signer transaction spending inValue into
// outValue, paying the difference as fee.
func buildTx(t *testing.T, features KernelFeatures, inValue, outValue,
	lockHeight uint64) *Transaction {

	rIn, rOut, offset := newBlind(t), newBlind(t), newBlind(t)

	inCommit, err := pedersen.Commit(inValue, rIn)
	require.NoError(t, err)
	outCommit, proof, err := pedersen.CreateProof(
		outValue, rOut, keychain.KeyLocator{Index: 1}.ID(),
	)
	require.NoError(t, err)

	tx := NewTransaction(NewKernel(features, inValue-outValue, lockHeight))
	tx.Offset = offset
	tx.AddInput(OutputPlain, inCommit)
	tx.AddOutput(Output{Commit: outCommit, Proof: proof})

	var sum pedersen.BlindSum
	excess, err := sum.AddPositive(rOut).AddNegative(rIn, offset).Sum()
	require.NoError(t, err)
	priv, err := excess.PrivKey()
	require.NoError(t, err)

	kernel := tx.Kernel()
	kernel.Excess = pedersen.CommitmentFromPubKey(priv.PubKey())
	msg, err := kernel.Message()
	require.NoError(t, err)
	kernel.ExcessSig, err = aggsig.SignSingle(priv, msg)
	require.NoError(t, err)

	return tx
}

// TestTransactionValidate checks that a correctly built transaction validates
// and that altering any committed field breaks it.
func TestTransactionValidate(t *testing.T) {
	t.Parallel()

	tx := buildTx(t, KernelPlain, 10, 9, 0)
	require.NoError(t, tx.Validate())

	fee, err := tx.Fee()
	require.NoError(t, err)
	require.EqualValues(t, 1, fee)

	// Changing the fee invalidates both the signature and the sums.
	bad := tx.Copy()
	bad.Kernel().Fee = 2
	require.ErrorIs(t, bad.Validate(), ErrInvalidKernel)
	require.ErrorIs(t, bad.VerifySums(), ErrUnbalanced)

	// A different offset unbalances the transaction.
	bad = tx.Copy()
	bad.Offset = newBlind(t)
	require.ErrorIs(t, bad.Validate(), ErrUnbalanced)

	// The copy must not share storage with the original.
	require.NoError(t, tx.Validate())

	// Duplicating the output is rejected.
	bad = tx.Copy()
	bad.Body.Outputs = append(bad.Body.Outputs, bad.Body.Outputs[0])
	require.ErrorIs(t, bad.Validate(), ErrDuplicateCommitment)
}

// TestKernelFeatures exercises the lock height variants of the kernel.
func TestKernelFeatures(t *testing.T) {
	t.Parallel()

	hl := buildTx(t, KernelHeightLocked, 50, 40, 1000)
	require.NoError(t, hl.Validate())

	// The lock height is committed to by the signature.
	hl.Kernel().LockHeight = 1001
	require.ErrorIs(t, hl.Validate(), ErrInvalidKernel)

	nrd := buildTx(t, KernelNoRecentDuplicate, 50, 40, 1440)
	require.NoError(t, nrd.Validate())

	_, err := KernelMessage(KernelNoRecentDuplicate, 1, 0)
	require.ErrorIs(t, err, ErrInvalidKernel)
	_, err = KernelMessage(
		KernelNoRecentDuplicate, 1, NRDMaxRelativeHeight+1,
	)
	require.ErrorIs(t, err, ErrInvalidKernel)
	_, err = KernelMessage(KernelFeatures(9), 1, 0)
	require.ErrorIs(t, err, ErrUnknownFeatures)

	m1, err := KernelMessage(KernelPlain, 1, 0)
	require.NoError(t, err)
	m2, err := KernelMessage(KernelHeightLocked, 1, 0)
	require.NoError(t, err)
	require.NotEqual(t, m1, m2)

	for f := KernelPlain; f <= KernelNoRecentDuplicate; f++ {
		parsed, err := ParseKernelFeatures(f.String())
		require.NoError(t, err)
		require.Equal(t, f, parsed)
	}
}

// TestFee checks the weight based fee computation.
func TestFee(t *testing.T) {
	t.Parallel()

	params := DefaultFeeParams()

	// One input, change plus receiver output, one kernel.
	require.EqualValues(t, 44, Weight(1, 2, 1))
	require.EqualValues(t, 44*DefaultBaseFee, params.Fee(1, 2, 1))

	// Heavy consolidation never drops below a weight of one.
	require.EqualValues(t, 1, Weight(500, 1, 1))
}

// TestCoinbase checks a built coinbase mints exactly its value.
func TestCoinbase(t *testing.T) {
	t.Parallel()

	blind := newBlind(t)
	keyID := keychain.KeyLocator{Index: 7}.ID()

	out, kernel, err := NewCoinbase(60_000_000_100, blind, keyID)
	require.NoError(t, err)
	require.Equal(t, OutputCoinbase, out.Features)
	require.Equal(t, KernelCoinbase, kernel.Features)
	require.Zero(t, kernel.Fee)
	require.NoError(t, VerifyCoinbase(out, kernel, 60_000_000_100))

	// Claiming a larger reward breaks the balance.
	require.ErrorIs(
		t, VerifyCoinbase(out, kernel, 60_000_000_101), ErrUnbalanced,
	)

	rewound, err := out.Proof.Rewind(out.Commit, blind)
	require.NoError(t, err)
	require.Equal(t, keyID, rewound.KeyID)

	plain := *out
	plain.Features = OutputPlain
	require.ErrorIs(
		t, VerifyCoinbase(&plain, kernel, 60_000_000_100),
		ErrInvalidKernel,
	)
}
