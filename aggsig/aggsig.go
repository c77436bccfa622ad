package aggsig

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// SignatureSize is the size of a serialized signature: the x coordinate of
// the nonce point followed by the scalar.
const SignatureSize = 64

var (
	// ErrInvalidSignature is returned when a signature fails
	// verification.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNonceMismatch is returned when a partial signature was made
	// against a different aggregate nonce than the one expected.
	ErrNonceMismatch = errors.New("partial signature nonce mismatch")

	// ErrNoKeys is returned when summing an empty set of public keys.
	ErrNoKeys = errors.New("no public keys to aggregate")

	// ErrKeysCancel is returned when a set of public keys sums to the
	// point at infinity.
	ErrKeysCancel = errors.New("public keys sum to infinity")
)

// challengeTag is the tag of the tagged hash computing the challenge scalar.
var challengeTag = []byte("MW/aggsig")

// Signature is a Schnorr signature (or partial signature) over a 32-byte
// message. The nonce point is implicitly the one with an even y coordinate.
// Partial signatures carry the x coordinate of the aggregate nonce so that a
// signer that used a different nonce set is detected early.
type Signature [SignatureSize]byte

// ParseSignature parses a serialized signature.
func ParseSignature(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SignatureSize {
		return sig, fmt.Errorf("%w: length %d", ErrInvalidSignature,
			len(b))
	}
	copy(sig[:], b)

	return sig, nil
}

// String returns the hex encoding of the signature.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// MarshalText encodes the signature as hex.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a hex encoded signature.
func (s *Signature) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}

	sig, err := ParseSignature(raw)
	if err != nil {
		return err
	}
	*s = sig

	return nil
}

// NewSecretNonce generates a fresh secret nonce. A nonce must never be used
// for more than one signature.
func NewSecretNonce() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// SumPubKeys returns the sum of the passed public keys. It's used to compute
// both the aggregate nonce and the aggregate excess.
func SumPubKeys(keys ...*btcec.PublicKey) (*btcec.PublicKey, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	var acc btcec.JacobianPoint
	keys[0].AsJacobian(&acc)
	for _, key := range keys[1:] {
		var p, sum btcec.JacobianPoint
		key.AsJacobian(&p)
		btcec.AddNonConst(&acc, &p, &sum)
		acc = sum
	}

	if isInfinity(&acc) {
		return nil, ErrKeysCancel
	}
	acc.ToAffine()

	return btcec.NewPublicKey(&acc.X, &acc.Y), nil
}

// SignPartial computes the partial signature of a single participant. The
// nonce is negated if the aggregate nonce has an odd y coordinate so that the
// partial signatures sum to a signature under the even nonce.
func SignPartial(secKey, secNonce *btcec.PrivateKey, nonceSum,
	keySum *btcec.PublicKey, msg [32]byte) (Signature, error) {

	if nonceSum == nil || keySum == nil {
		return Signature{}, fmt.Errorf("aggregate nonce and key " +
			"required")
	}

	k := secNonce.Key
	if hasOddY(nonceSum) {
		k.Negate()
	}

	e := challenge(xOnly(nonceSum), keySum, msg)
	s := new(btcec.ModNScalar).Mul2(&e, &secKey.Key).Add(&k)

	return newSignature(xOnly(nonceSum), s), nil
}

// VerifyPartial checks a partial signature of the participant owning pubNonce
// and pubKey against the aggregates.
func VerifyPartial(sig Signature, pubNonce, pubKey, nonceSum,
	keySum *btcec.PublicKey, msg [32]byte) error {

	if nonceSum == nil || keySum == nil {
		return ErrInvalidSignature
	}

	rx := xOnly(nonceSum)
	if [32]byte(sig[:32]) != [32]byte(rx) {
		return ErrNonceMismatch
	}

	var s btcec.ModNScalar
	if s.SetByteSlice(sig[32:]) {
		return ErrInvalidSignature
	}

	e := challenge(rx, keySum, msg)

	// s*G must equal R_i + e*X_i, with R_i negated along with the sum.
	var sG, eX, nonce, rhs btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&s, &sG)

	pubNonce.AsJacobian(&nonce)
	if hasOddY(nonceSum) {
		nonce.Y.Negate(1)
		nonce.Y.Normalize()
	}

	var x btcec.JacobianPoint
	pubKey.AsJacobian(&x)
	btcec.ScalarMultNonConst(&e, &x, &eX)
	btcec.AddNonConst(&nonce, &eX, &rhs)

	if !equalPoints(&sG, &rhs) {
		return ErrInvalidSignature
	}

	return nil
}

// AddPartials sums partial signatures into the final signature. Every
// partial must have been made against nonceSum.
func AddPartials(sigs []Signature, nonceSum *btcec.PublicKey) (Signature,
	error) {

	if len(sigs) == 0 {
		return Signature{}, fmt.Errorf("no partial signatures")
	}

	rx := xOnly(nonceSum)

	var total btcec.ModNScalar
	for _, sig := range sigs {
		if [32]byte(sig[:32]) != [32]byte(rx) {
			return Signature{}, ErrNonceMismatch
		}

		var s btcec.ModNScalar
		if s.SetByteSlice(sig[32:]) {
			return Signature{}, ErrInvalidSignature
		}
		total.Add(&s)
	}

	return newSignature(rx, &total), nil
}

// Verify checks a complete signature against the public key.
func Verify(sig Signature, pubKey *btcec.PublicKey, msg [32]byte) error {
	if pubKey == nil {
		return ErrInvalidSignature
	}

	var (
		r btcec.FieldVal
		s btcec.ModNScalar
	)
	if r.SetByteSlice(sig[:32]) || s.SetByteSlice(sig[32:]) {
		return ErrInvalidSignature
	}

	e := challenge(sig[:32], pubKey, msg)

	// R' = s*G - e*X.
	var sG, eX, x, rPrime btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&s, &sG)
	pubKey.AsJacobian(&x)
	btcec.ScalarMultNonConst(&e, &x, &eX)
	eX.ToAffine()
	eX.Y.Negate(1)
	eX.Y.Normalize()
	btcec.AddNonConst(&sG, &eX, &rPrime)

	if isInfinity(&rPrime) {
		return ErrInvalidSignature
	}
	rPrime.ToAffine()

	if rPrime.Y.IsOdd() || !rPrime.X.Equals(&r) {
		return ErrInvalidSignature
	}

	return nil
}

// SignSingle creates a complete signature with a single key. It's used for
// participant messages, which are not aggregated.
func SignSingle(secKey *btcec.PrivateKey, msg [32]byte) (Signature, error) {
	nonce, err := NewSecretNonce()
	if err != nil {
		return Signature{}, err
	}
	defer nonce.Zero()

	return SignPartial(secKey, nonce, nonce.PubKey(), secKey.PubKey(), msg)
}

func challenge(rx []byte, pubKey *btcec.PublicKey,
	msg [32]byte) btcec.ModNScalar {

	h := chainhash.TaggedHash(
		challengeTag, rx, pubKey.SerializeCompressed(), msg[:],
	)

	var e btcec.ModNScalar
	e.SetByteSlice(h[:])

	return e
}

func newSignature(rx []byte, s *btcec.ModNScalar) Signature {
	var sig Signature
	copy(sig[:32], rx)
	s.PutBytesUnchecked(sig[32:])

	return sig
}

func xOnly(pub *btcec.PublicKey) []byte {
	return pub.SerializeCompressed()[1:]
}

func hasOddY(pub *btcec.PublicKey) bool {
	return pub.SerializeCompressed()[0] == 0x03
}

func isInfinity(p *btcec.JacobianPoint) bool {
	x, y, z := p.X, p.Y, p.Z
	x.Normalize()
	y.Normalize()
	z.Normalize()

	return (x.IsZero() && y.IsZero()) || z.IsZero()
}

func equalPoints(a, b *btcec.JacobianPoint) bool {
	if isInfinity(a) || isInfinity(b) {
		return isInfinity(a) && isInfinity(b)
	}

	pa, pb := *a, *b
	pa.ToAffine()
	pb.ToAffine()

	return pa.X.Equals(&pb.X) && pa.Y.Equals(&pb.Y)
}
