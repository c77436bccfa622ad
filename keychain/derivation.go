package keychain

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	// KeyIDSize is the serialized size of a KeyID: one depth byte followed
	// by three big endian path components.
	KeyIDSize = 17

	// keyIDDepth is the only depth we ever derive at.
	keyIDDepth = 3
)

var (
	// ErrInvalidKeyID is returned when a serialized key identifier can't
	// be mapped back onto a KeyLocator.
	ErrInvalidKeyID = errors.New("invalid key identifier")

	// ErrCannotDerivePrivKey is returned when DerivePrivKey is unable to
	// derive a private key for the given locator.
	ErrCannotDerivePrivKey = errors.New("unable to derive private key")
)

// KeyFamily represents a "family" of keys used by the wallet. Families are
// distinct, non-hardened branches below the hardened account key so that all
// keys can be restored from the seed alone.
//
// The derivation in this package follows:
//
//   - m/account'/keyFamily/index
type KeyFamily uint32

const (
	// KeyFamilyOutput are keys whose private part is used as the blinding
	// factor of a wallet owned output commitment. The output scanner walks
	// this family when recovering funds.
	KeyFamilyOutput KeyFamily = 0

	// KeyFamilySlatepack are keys that seed the ed25519 slatepack address
	// of the wallet. The same key signs payment proofs.
	KeyFamilySlatepack KeyFamily = 1

	// KeyFamilyStorage is the family of keys used to derive the symmetric
	// keys that encrypt secret negotiation contexts at rest.
	KeyFamilyStorage KeyFamily = 2
)

// String returns a human readable name of the key family.
func (f KeyFamily) String() string {
	switch f {
	case KeyFamilyOutput:
		return "output"
	case KeyFamilySlatepack:
		return "slatepack"
	case KeyFamilyStorage:
		return "storage"
	default:
		return fmt.Sprintf("family(%d)", uint32(f))
	}
}

// KeyLocator is a three-tuple that can be used to derive *any* key that has
// ever been used by the wallet.
type KeyLocator struct {
	// Account is the hardened account index the key belongs to.
	Account uint32

	// Family is the family of key being identified.
	Family KeyFamily

	// Index is the precise index of the key being identified.
	Index uint32
}

// ID returns the compact identifier of the locator.
func (k KeyLocator) ID() KeyID {
	var id KeyID
	id[0] = keyIDDepth
	binary.BigEndian.PutUint32(id[1:5], k.Account)
	binary.BigEndian.PutUint32(id[5:9], uint32(k.Family))
	binary.BigEndian.PutUint32(id[9:13], k.Index)

	return id
}

// String returns the derivation path of the locator.
func (k KeyLocator) String() string {
	return fmt.Sprintf("m/%d'/%d/%d", k.Account, k.Family, k.Index)
}

// KeyID is the serialized form of a KeyLocator stored alongside outputs and
// embedded into rewindable proofs.
type KeyID [KeyIDSize]byte

// Locator maps the identifier back onto the locator it was created from.
func (id KeyID) Locator() (KeyLocator, error) {
	if id[0] != keyIDDepth {
		return KeyLocator{}, fmt.Errorf("%w: depth %d", ErrInvalidKeyID,
			id[0])
	}

	return KeyLocator{
		Account: binary.BigEndian.Uint32(id[1:5]),
		Family:  KeyFamily(binary.BigEndian.Uint32(id[5:9])),
		Index:   binary.BigEndian.Uint32(id[9:13]),
	}, nil
}

// String returns the hex encoding of the identifier.
func (id KeyID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText encodes the identifier as hex.
func (id KeyID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a hex encoded identifier.
func (id *KeyID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != KeyIDSize {
		return fmt.Errorf("%w: length %d", ErrInvalidKeyID, len(b))
	}
	copy(id[:], b)

	return nil
}

// ParseKeyID decodes a hex encoded identifier.
func ParseKeyID(s string) (KeyID, error) {
	var id KeyID
	err := id.UnmarshalText([]byte(s))

	return id, err
}

// KeyDescriptor wraps a KeyLocator and also optionally includes a public key.
type KeyDescriptor struct {
	// KeyLocator is the internal KeyLocator of the descriptor.
	KeyLocator

	// PubKey is the public key of the derived key.
	PubKey *btcec.PublicKey
}

// KeyRing is the interface used to perform public derivation of the keys
// used by the wallet.
type KeyRing interface {
	// DeriveKey attempts to derive an arbitrary key specified by the
	// passed KeyLocator.
	DeriveKey(keyLoc KeyLocator) (KeyDescriptor, error)
}

// SecretKeyRing is a ring similar to the regular KeyRing interface, but it is
// also able to derive *private keys*. The private keys of the output family
// are the blinding factors of the wallet's commitments.
type SecretKeyRing interface {
	KeyRing

	// DerivePrivKey derives the private key located by keyLoc.
	DerivePrivKey(keyLoc KeyLocator) (*btcec.PrivateKey, error)
}
