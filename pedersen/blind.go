package pedersen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// BlindingFactorSize is the size of a serialized blinding factor.
const BlindingFactorSize = 32

var (
	// ErrScalarOverflow is returned when a 32-byte value is not a valid
	// scalar of the secp256k1 group.
	ErrScalarOverflow = errors.New("scalar overflows group order")

	// ErrZeroBlindingFactor is returned when a blinding factor that must
	// be non-zero (e.g. because it is used as a signing key) is zero.
	ErrZeroBlindingFactor = errors.New("blinding factor is zero")
)

// BlindingFactor is a secret scalar hiding the value of a commitment. The
// wallet derives one per output; the difference between output and input
// blinding factors is the transaction excess.
type BlindingFactor [BlindingFactorSize]byte

// BlindingFactorFromScalar serializes a scalar.
func BlindingFactorFromScalar(s *btcec.ModNScalar) BlindingFactor {
	return BlindingFactor(s.Bytes())
}

// BlindingFactorFromPrivKey returns the scalar of the private key as a
// blinding factor.
func BlindingFactorFromPrivKey(priv *btcec.PrivateKey) BlindingFactor {
	return BlindingFactorFromScalar(&priv.Key)
}

// RandomBlindingFactor returns a uniformly random non-zero blinding factor.
func RandomBlindingFactor() (BlindingFactor, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return BlindingFactor{}, err
	}

	return BlindingFactorFromPrivKey(priv), nil
}

// ParseBlindingFactor decodes a hex encoded blinding factor.
func ParseBlindingFactor(s string) (BlindingFactor, error) {
	var b BlindingFactor
	err := b.UnmarshalText([]byte(s))

	return b, err
}

// Scalar returns the blinding factor as a group scalar.
func (b BlindingFactor) Scalar() (btcec.ModNScalar, error) {
	var s btcec.ModNScalar
	arr := [32]byte(b)
	if overflow := s.SetBytes(&arr); overflow != 0 {
		return s, ErrScalarOverflow
	}

	return s, nil
}

// IsZero returns true if the blinding factor is the zero scalar.
func (b BlindingFactor) IsZero() bool {
	return b == BlindingFactor{}
}

// Add returns b + other mod n.
func (b BlindingFactor) Add(other BlindingFactor) (BlindingFactor, error) {
	s1, err := b.Scalar()
	if err != nil {
		return BlindingFactor{}, err
	}
	s2, err := other.Scalar()
	if err != nil {
		return BlindingFactor{}, err
	}
	s1.Add(&s2)

	return BlindingFactorFromScalar(&s1), nil
}

// Sub returns b - other mod n.
func (b BlindingFactor) Sub(other BlindingFactor) (BlindingFactor, error) {
	s1, err := b.Scalar()
	if err != nil {
		return BlindingFactor{}, err
	}
	s2, err := other.Scalar()
	if err != nil {
		return BlindingFactor{}, err
	}
	s2.Negate()
	s1.Add(&s2)

	return BlindingFactorFromScalar(&s1), nil
}

// PrivKey returns the blinding factor as a private key. Zero is rejected.
func (b BlindingFactor) PrivKey() (*btcec.PrivateKey, error) {
	s, err := b.Scalar()
	if err != nil {
		return nil, err
	}
	if s.IsZero() {
		return nil, ErrZeroBlindingFactor
	}

	return btcec.PrivKeyFromScalar(&s), nil
}

// PubKey returns b*G.
func (b BlindingFactor) PubKey() (*btcec.PublicKey, error) {
	priv, err := b.PrivKey()
	if err != nil {
		return nil, err
	}

	return priv.PubKey(), nil
}

// Wipe overwrites the blinding factor with zeroes.
func (b *BlindingFactor) Wipe() {
	for i := range b {
		b[i] = 0
	}
}

// String returns the hex encoding of the blinding factor.
func (b BlindingFactor) String() string {
	return hex.EncodeToString(b[:])
}

// MarshalText encodes the blinding factor as hex.
func (b BlindingFactor) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText decodes a hex encoded blinding factor.
func (b *BlindingFactor) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != BlindingFactorSize {
		return fmt.Errorf("invalid blinding factor length %d", len(raw))
	}
	copy(b[:], raw)

	if _, err := b.Scalar(); err != nil {
		return err
	}

	return nil
}

// BlindSum accumulates blinding factors that are to be added or subtracted.
// It is used to compute a participant's excess from the blinding factors of
// the outputs they create and the inputs they spend.
type BlindSum struct {
	Positive []BlindingFactor
	Negative []BlindingFactor
}

// AddPositive adds blinding factors to the positive side of the sum.
func (s *BlindSum) AddPositive(b ...BlindingFactor) *BlindSum {
	s.Positive = append(s.Positive, b...)
	return s
}

// AddNegative adds blinding factors to the negative side of the sum.
func (s *BlindSum) AddNegative(b ...BlindingFactor) *BlindSum {
	s.Negative = append(s.Negative, b...)
	return s
}

// Sum returns sum(positive) - sum(negative) mod n.
func (s *BlindSum) Sum() (BlindingFactor, error) {
	var total btcec.ModNScalar
	for _, b := range s.Positive {
		v, err := b.Scalar()
		if err != nil {
			return BlindingFactor{}, err
		}
		total.Add(&v)
	}
	for _, b := range s.Negative {
		v, err := b.Scalar()
		if err != nil {
			return BlindingFactor{}, err
		}
		v.Negate()
		total.Add(&v)
	}

	return BlindingFactorFromScalar(&total), nil
}

// scalarFromUint64 maps an amount onto the scalar field.
func scalarFromUint64(v uint64) btcec.ModNScalar {
	var (
		b [32]byte
		s btcec.ModNScalar
	)
	binary.BigEndian.PutUint64(b[24:], v)
	s.SetBytes(&b)

	return s
}

// randomScalar returns a uniformly random non-zero scalar.
func randomScalar() (btcec.ModNScalar, error) {
	var (
		b [32]byte
		s btcec.ModNScalar
	)
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return s, err
		}
		if overflow := s.SetBytes(&b); overflow == 0 && !s.IsZero() {
			return s, nil
		}
	}
}
