package pedersen

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// CommitmentSize is the size of a serialized commitment.
const CommitmentSize = 33

var (
	// ErrPointAtInfinity is returned when a sum of points is the identity
	// element, which has no compressed encoding.
	ErrPointAtInfinity = errors.New("point at infinity")

	// ErrInvalidCommitment is returned when bytes don't encode a point on
	// the curve.
	ErrInvalidCommitment = errors.New("invalid commitment")
)

// generatorHBytes is the compressed encoding of the secondary generator H
// whose discrete logarithm with respect to G is unknown. The x coordinate is
// the one used by every MimbleWimble chain.
var generatorHBytes = [CommitmentSize]byte{
	0x02,
	0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54,
	0xb7, 0x8b, 0x4b, 0x60, 0x35, 0xe9, 0x7a, 0x5e,
	0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96, 0xd5,
	0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
}

// generatorH is H in Jacobian form. It's never mutated after init.
var generatorH = mustParsePoint(generatorHBytes[:])

func mustParsePoint(b []byte) btcec.JacobianPoint {
	p, err := parsePoint(b)
	if err != nil {
		panic(err)
	}

	return p
}

// GeneratorH returns a copy of the value generator H.
func GeneratorH() *btcec.PublicKey {
	pk, _ := btcec.ParsePubKey(generatorHBytes[:])
	return pk
}

// Commitment is a Pedersen commitment r*G + v*H in compressed form.
type Commitment [CommitmentSize]byte

// Commit returns the commitment to value under the blinding factor.
func Commit(value uint64, blind BlindingFactor) (Commitment, error) {
	r, err := blind.Scalar()
	if err != nil {
		return Commitment{}, err
	}
	v := scalarFromUint64(value)

	var rG, vH, sum btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&r, &rG)
	btcec.ScalarMultNonConst(&v, &generatorH, &vH)
	btcec.AddNonConst(&rG, &vH, &sum)

	return commitmentFromPoint(&sum)
}

// CommitValue returns the commitment v*H with a zero blinding factor. It's
// used to move the fee onto the commitment side of the balance equation.
func CommitValue(value uint64) (Commitment, error) {
	return Commit(value, BlindingFactor{})
}

// CommitmentFromPubKey returns the commitment encoding of a public key. Excess
// commitments are public keys x*G.
func CommitmentFromPubKey(pub *btcec.PublicKey) Commitment {
	var c Commitment
	copy(c[:], pub.SerializeCompressed())

	return c
}

// ParseCommitment parses a serialized commitment and checks that it encodes
// a point on the curve.
func ParseCommitment(b []byte) (Commitment, error) {
	if len(b) != CommitmentSize {
		return Commitment{}, fmt.Errorf("%w: length %d",
			ErrInvalidCommitment, len(b))
	}
	if _, err := parsePoint(b); err != nil {
		return Commitment{}, err
	}

	var c Commitment
	copy(c[:], b)

	return c, nil
}

// PubKey interprets the commitment as a public key.
func (c Commitment) PubKey() (*btcec.PublicKey, error) {
	pub, err := btcec.ParsePubKey(c[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}

	return pub, nil
}

// IsZero returns true if the commitment was never set.
func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

// String returns the hex encoding of the commitment.
func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// MarshalText encodes the commitment as hex.
func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a hex encoded commitment.
func (c *Commitment) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}

	parsed, err := ParseCommitment(raw)
	if err != nil {
		return err
	}
	*c = parsed

	return nil
}

// Sum returns sum(positive) - sum(negative). ErrPointAtInfinity is returned
// if the commitments cancel out.
func Sum(positive, negative []Commitment) (Commitment, error) {
	total, err := sumPoints(positive, negative)
	if err != nil {
		return Commitment{}, err
	}

	return commitmentFromPoint(&total)
}

// Balanced reports whether sum(positive) equals sum(negative).
func Balanced(positive, negative []Commitment) (bool, error) {
	total, err := sumPoints(positive, negative)
	if err != nil {
		return false, err
	}

	return isInfinity(&total), nil
}

func sumPoints(positive, negative []Commitment) (btcec.JacobianPoint, error) {
	var total btcec.JacobianPoint
	for _, c := range positive {
		p, err := parsePoint(c[:])
		if err != nil {
			return total, err
		}
		addPoint(&total, &p)
	}
	for _, c := range negative {
		p, err := parsePoint(c[:])
		if err != nil {
			return total, err
		}
		negatePoint(&p)
		addPoint(&total, &p)
	}

	return total, nil
}

func parsePoint(b []byte) (btcec.JacobianPoint, error) {
	var p btcec.JacobianPoint
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}
	pub.AsJacobian(&p)

	return p, nil
}

// addPoint sets acc = acc + p, treating a zero value acc as the identity.
func addPoint(acc, p *btcec.JacobianPoint) {
	if isInfinity(acc) {
		*acc = *p
		return
	}

	var sum btcec.JacobianPoint
	btcec.AddNonConst(acc, p, &sum)
	*acc = sum
}

func negatePoint(p *btcec.JacobianPoint) {
	p.ToAffine()
	p.Y.Negate(1)
	p.Y.Normalize()
}

func isInfinity(p *btcec.JacobianPoint) bool {
	x, y, z := p.X, p.Y, p.Z
	x.Normalize()
	y.Normalize()
	z.Normalize()

	return (x.IsZero() && y.IsZero()) || z.IsZero()
}

func commitmentFromPoint(p *btcec.JacobianPoint) (Commitment, error) {
	if isInfinity(p) {
		return Commitment{}, ErrPointAtInfinity
	}

	affine := *p
	affine.ToAffine()
	pub := btcec.NewPublicKey(&affine.X, &affine.Y)

	return CommitmentFromPubKey(pub), nil
}
