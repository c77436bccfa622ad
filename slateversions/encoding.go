package slateversions

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/pedersen"
)

// u64Str is a uint64 encoded as a JSON string. Older wallets emitted some of
// these fields as numbers, so both forms are accepted when decoding.
type u64Str uint64

// MarshalJSON encodes the value as a decimal string.
func (u u64Str) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

// UnmarshalJSON accepts a decimal string or a number.
func (u *u64Str) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}

	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %q: %w", b, err)
	}
	*u = u64Str(v)

	return nil
}

// zeroCommitHex is how legacy slates encode the excess of an unsigned
// kernel.
var zeroCommitHex = hex.EncodeToString(make([]byte, pedersen.CommitmentSize))

func commitHex(c pedersen.Commitment) string {
	if c.IsZero() {
		return zeroCommitHex
	}

	return c.String()
}

// parseCommitHex decodes a commitment, mapping the all zero encoding onto
// the zero value.
func parseCommitHex(s string) (pedersen.Commitment, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pedersen.Commitment{}, err
	}
	if len(raw) == pedersen.CommitmentSize &&
		bytes.Equal(raw, make([]byte, pedersen.CommitmentSize)) {

		return pedersen.Commitment{}, nil
	}

	return pedersen.ParseCommitment(raw)
}

func sigHex(s aggsig.Signature) string {
	return s.String()
}

func parseSigHex(s string) (aggsig.Signature, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return aggsig.Signature{}, err
	}

	return aggsig.ParseSignature(raw)
}

func pubKeyHex(pub *btcec.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

func parsePubKeyHex(s string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}

	return btcec.ParsePubKey(raw)
}
