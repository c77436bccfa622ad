package keychain

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

var testSeed = bytes.Repeat([]byte{0x2b}, 32)

// TestKeyIDRoundTrip ensures a locator survives the compact identifier
// encoding, including its text form.
func TestKeyIDRoundTrip(t *testing.T) {
	t.Parallel()

	loc := KeyLocator{Account: 3, Family: KeyFamilySlatepack, Index: 77}
	id := loc.ID()

	got, err := id.Locator()
	require.NoError(t, err)
	require.Equal(t, loc, got)

	text, err := id.MarshalText()
	require.NoError(t, err)

	parsed, err := ParseKeyID(string(text))
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	var bad KeyID
	_, err = bad.Locator()
	require.ErrorIs(t, err, ErrInvalidKeyID)

	_, err = ParseKeyID("00ff")
	require.ErrorIs(t, err, ErrInvalidKeyID)
}

// TestHDKeyRingDeterministic checks that two rings built from the same seed
// derive the same keys, and that distinct locators yield distinct keys.
func TestHDKeyRingDeterministic(t *testing.T) {
	t.Parallel()

	ringA, err := NewHDKeyRing(testSeed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	ringB, err := NewHDKeyRing(testSeed, &chaincfg.TestNet3Params)
	require.NoError(t, err)

	loc := KeyLocator{Family: KeyFamilyOutput, Index: 5}
	privA, err := ringA.DerivePrivKey(loc)
	require.NoError(t, err)
	privB, err := ringB.DerivePrivKey(loc)
	require.NoError(t, err)
	require.Equal(t, privA.Serialize(), privB.Serialize())

	desc, err := ringA.DeriveKey(loc)
	require.NoError(t, err)
	require.True(t, desc.PubKey.IsEqual(privA.PubKey()))
	require.Equal(t, loc, desc.KeyLocator)

	other, err := ringA.DerivePrivKey(KeyLocator{
		Family: KeyFamilyOutput, Index: 6,
	})
	require.NoError(t, err)
	require.NotEqual(t, privA.Serialize(), other.Serialize())

	otherFamily, err := ringA.DerivePrivKey(KeyLocator{
		Family: KeyFamilySlatepack, Index: 5,
	})
	require.NoError(t, err)
	require.NotEqual(t, privA.Serialize(), otherFamily.Serialize())
}
