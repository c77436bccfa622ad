package address

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/mwcore/mwwallet/keychain"
	"golang.org/x/crypto/blake2b"
)

// ErrInvalidAddress is returned when a string isn't a valid slatepack
// address.
var ErrInvalidAddress = errors.New("invalid slatepack address")

// Network selects the human readable part of encoded addresses.
type Network string

const (
	// Mainnet addresses start with grin1.
	Mainnet Network = "grin"

	// Testnet addresses start with tgrin1.
	Testnet Network = "tgrin"
)

// DefaultIndex is the derivation index of the wallet's slatepack address
// within the slatepack key family.
const DefaultIndex = 0

// slatepackSeedKey keys the blake2b instance turning a secp256k1 secret into
// an ed25519 seed.
var slatepackSeedKey = []byte("MW/slatepack")

// Address identifies a wallet for slatepack exchange. It's an ed25519 public
// key, which also verifies payment proofs and sender signatures, and which
// converts into an X25519 key for encryption.
type Address struct {
	Network Network
	PubKey  ed25519.PublicKey
}

// New returns the address of pub on the given network.
func New(pub ed25519.PublicKey, network Network) Address {
	return Address{Network: network, PubKey: pub}
}

// Decode parses a bech32 encoded address.
func Decode(s string) (Address, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	network := Network(hrp)
	if network != Mainnet && network != Testnet {
		return Address{}, fmt.Errorf("%w: unknown prefix %q",
			ErrInvalidAddress, hrp)
	}

	key, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(key) != ed25519.PublicKeySize {
		return Address{}, fmt.Errorf("%w: key length %d",
			ErrInvalidAddress, len(key))
	}

	// Reject keys that aren't points on the curve, they can neither
	// verify signatures nor receive encrypted slatepacks.
	if _, err := new(edwards25519.Point).SetBytes(key); err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	return Address{Network: network, PubKey: key}, nil
}

// String returns the bech32 encoding of the address.
func (a Address) String() string {
	data, err := bech32.ConvertBits(a.PubKey, 8, 5, true)
	if err != nil {
		return ""
	}

	s, err := bech32.Encode(string(a.Network), data)
	if err != nil {
		return ""
	}

	return s
}

// Equal returns true if both addresses hold the same key. The network is
// ignored.
func (a Address) Equal(other Address) bool {
	return a.PubKey.Equal(other.PubKey)
}

// MarshalText encodes the address in its bech32 form.
func (a Address) MarshalText() ([]byte, error) {
	s := a.String()
	if s == "" {
		return nil, ErrInvalidAddress
	}

	return []byte(s), nil
}

// UnmarshalText parses a bech32 encoded address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Decode(string(text))
	if err != nil {
		return err
	}
	*a = parsed

	return nil
}

// X25519 returns the Montgomery form of the address key, used as the
// recipient key of encrypted slatepacks.
func (a Address) X25519() ([32]byte, error) {
	var out [32]byte

	p, err := new(edwards25519.Point).SetBytes(a.PubKey)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	copy(out[:], p.BytesMontgomery())

	return out, nil
}

// X25519PrivKey returns the X25519 scalar matching the Montgomery form of
// the key's public key.
func X25519PrivKey(priv ed25519.PrivateKey) [32]byte {
	h := sha512.Sum512(priv.Seed())

	var out [32]byte
	copy(out[:], h[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64

	return out
}

// DeriveKey derives the ed25519 key of the slatepack address at index within
// account.
func DeriveKey(ring keychain.SecretKeyRing, account,
	index uint32) (ed25519.PrivateKey, error) {

	secret, err := ring.DerivePrivKey(keychain.KeyLocator{
		Account: account,
		Family:  keychain.KeyFamilySlatepack,
		Index:   index,
	})
	if err != nil {
		return nil, err
	}

	h, err := blake2b.New256(slatepackSeedKey)
	if err != nil {
		return nil, err
	}
	h.Write(secret.Serialize())

	return ed25519.NewKeyFromSeed(h.Sum(nil)), nil
}

// Derive returns the slatepack address at index within account together
// with its private key.
func Derive(ring keychain.SecretKeyRing, network Network, account,
	index uint32) (Address, ed25519.PrivateKey, error) {

	priv, err := DeriveKey(ring, account, index)
	if err != nil {
		return Address{}, nil, err
	}

	pub := priv.Public().(ed25519.PublicKey)

	return New(pub, network), priv, nil
}
