package aggsig

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type signer struct {
	key   *btcec.PrivateKey
	nonce *btcec.PrivateKey
}

func newSigner(t require.TestingT) signer {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	nonce, err := NewSecretNonce()
	require.NoError(t, err)

	return signer{key: key, nonce: nonce}
}

// TestAggregateSignature runs the full multi-party flow for a varying number
// of signers: every partial verifies, and the sum verifies under the
// aggregate key.
func TestAggregateSignature(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(t, "signers")
		msg := sha256.Sum256(
			rapid.SliceOf(rapid.Byte()).Draw(t, "msg"),
		)

		signers := make([]signer, n)
		keys := make([]*btcec.PublicKey, n)
		nonces := make([]*btcec.PublicKey, n)
		for i := range signers {
			signers[i] = newSigner(t)
			keys[i] = signers[i].key.PubKey()
			nonces[i] = signers[i].nonce.PubKey()
		}

		keySum, err := SumPubKeys(keys...)
		require.NoError(t, err)
		nonceSum, err := SumPubKeys(nonces...)
		require.NoError(t, err)

		partials := make([]Signature, n)
		for i, s := range signers {
			partials[i], err = SignPartial(
				s.key, s.nonce, nonceSum, keySum, msg,
			)
			require.NoError(t, err)

			require.NoError(t, VerifyPartial(
				partials[i], nonces[i], keys[i], nonceSum,
				keySum, msg,
			))
		}

		sig, err := AddPartials(partials, nonceSum)
		require.NoError(t, err)
		require.NoError(t, Verify(sig, keySum, msg))

		msg[0] ^= 0x01
		require.ErrorIs(t, Verify(sig, keySum, msg), ErrInvalidSignature)
	})
}

// TestPartialSignatureMismatch ensures partial signatures made against a
// different nonce set, or by the wrong key, are rejected.
func TestPartialSignatureMismatch(t *testing.T) {
	t.Parallel()

	a, b, c := newSigner(t), newSigner(t), newSigner(t)
	msg := sha256.Sum256([]byte("kernel"))

	keySum, err := SumPubKeys(a.key.PubKey(), b.key.PubKey())
	require.NoError(t, err)
	nonceSum, err := SumPubKeys(a.nonce.PubKey(), b.nonce.PubKey())
	require.NoError(t, err)
	otherNonceSum, err := SumPubKeys(a.nonce.PubKey(), c.nonce.PubKey())
	require.NoError(t, err)

	sig, err := SignPartial(a.key, a.nonce, otherNonceSum, keySum, msg)
	require.NoError(t, err)

	err = VerifyPartial(
		sig, a.nonce.PubKey(), a.key.PubKey(), nonceSum, keySum, msg,
	)
	require.ErrorIs(t, err, ErrNonceMismatch)

	_, err = AddPartials([]Signature{sig}, nonceSum)
	require.ErrorIs(t, err, ErrNonceMismatch)

	sig, err = SignPartial(c.key, a.nonce, nonceSum, keySum, msg)
	require.NoError(t, err)
	err = VerifyPartial(
		sig, a.nonce.PubKey(), a.key.PubKey(), nonceSum, keySum, msg,
	)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

// TestSignSingle checks the single key signatures used for messages.
func TestSignSingle(t *testing.T) {
	t.Parallel()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	msg := sha256.Sum256([]byte("hello"))

	sig, err := SignSingle(key, msg)
	require.NoError(t, err)
	require.NoError(t, Verify(sig, key.PubKey(), msg))

	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	require.ErrorIs(
		t, Verify(sig, other.PubKey(), msg), ErrInvalidSignature,
	)

	text, err := sig.MarshalText()
	require.NoError(t, err)
	var decoded Signature
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, sig, decoded)
}

// TestSumPubKeysCancel ensures opposing keys are rejected.
func TestSumPubKeysCancel(t *testing.T) {
	t.Parallel()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	neg := key.Key
	neg.Negate()
	negKey := btcec.PrivKeyFromScalar(&neg)

	_, err = SumPubKeys(key.PubKey(), negKey.PubKey())
	require.ErrorIs(t, err, ErrKeysCancel)

	_, err = SumPubKeys()
	require.ErrorIs(t, err, ErrNoKeys)
}
