package slateversions

import (
	"encoding/json"
	"testing"

	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/stretchr/testify/require"
)

func TestVersionedCoinbase(t *testing.T) {
	t.Parallel()

	blind, err := pedersen.RandomBlindingFactor()
	require.NoError(t, err)
	keyID := keychain.KeyLocator{Index: 4}.ID()

	reward, err := wallet.Reward(25)
	require.NoError(t, err)
	out, kernel, err := mwtx.NewCoinbase(reward, blind, keyID)
	require.NoError(t, err)
	cb := &wallet.CbData{Output: *out, Kernel: *kernel, KeyID: keyID}

	for _, v := range SupportedVersions {
		versioned, err := NewVersionedCoinbase(cb, v)
		require.NoError(t, err)

		raw, err := json.Marshal(versioned)
		require.NoError(t, err)

		var decoded VersionedCoinbase
		require.NoError(t, json.Unmarshal(raw, &decoded))
		require.Equal(t, cb, decoded.CbData)
		require.NoError(t, mwtx.VerifyCoinbase(
			&decoded.CbData.Output, &decoded.CbData.Kernel, reward,
		))
	}

	_, err = NewVersionedCoinbase(cb, Version(9))
	require.ErrorIs(t, err, ErrUnknownVersion)

	var decoded VersionedCoinbase
	err = json.Unmarshal([]byte(`{"output":{"features":"Coinbase",`+
		`"commit":"zz","proof":""}}`), &decoded)
	require.ErrorIs(t, err, ErrMalformedSlate)
}
