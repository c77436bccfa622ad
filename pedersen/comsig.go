package pedersen

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ComSigSize is the size of a serialized commitment signature: the nonce
// commitment followed by the two response scalars.
const ComSigSize = CommitmentSize + 32 + 32

// ErrInvalidComSig is returned when a commitment signature doesn't verify.
var ErrInvalidComSig = errors.New("invalid commitment signature")

// comSigTag is the BIP-340 style tag of the challenge hash.
var comSigTag = []byte("MW/comsig")

// ComSig is a signature proving knowledge of the opening (v, r) of a
// commitment C = r*G + v*H, bound to a message.
type ComSig [ComSigSize]byte

// SignCommitment creates a commitment signature for C = blind*G + value*H.
func SignCommitment(value uint64, blind BlindingFactor,
	msg []byte) (ComSig, error) {

	r, err := blind.Scalar()
	if err != nil {
		return ComSig{}, err
	}
	commit, err := Commit(value, blind)
	if err != nil {
		return ComSig{}, err
	}

	k1, err := randomScalar()
	if err != nil {
		return ComSig{}, err
	}
	k2, err := randomScalar()
	if err != nil {
		return ComSig{}, err
	}

	var k1H, k2G, nonce btcec.JacobianPoint
	btcec.ScalarMultNonConst(&k1, &generatorH, &k1H)
	btcec.ScalarBaseMultNonConst(&k2, &k2G)
	btcec.AddNonConst(&k1H, &k2G, &nonce)
	nonceCommit, err := commitmentFromPoint(&nonce)
	if err != nil {
		return ComSig{}, err
	}

	e := comSigChallenge(nonceCommit, commit, msg)

	// u = k1 + e*v, t = k2 + e*r.
	v := scalarFromUint64(value)
	u := new(btcec.ModNScalar).Mul2(&e, &v).Add(&k1)
	t := new(btcec.ModNScalar).Mul2(&e, &r).Add(&k2)

	var sig ComSig
	copy(sig[:CommitmentSize], nonceCommit[:])
	u.PutBytesUnchecked(sig[CommitmentSize : CommitmentSize+32])
	t.PutBytesUnchecked(sig[CommitmentSize+32:])

	return sig, nil
}

// Verify checks the signature against the commitment and message.
func (s ComSig) Verify(commit Commitment, msg []byte) error {
	var nonceCommit Commitment
	copy(nonceCommit[:], s[:CommitmentSize])

	nonce, err := parsePoint(nonceCommit[:])
	if err != nil {
		return ErrInvalidComSig
	}
	c, err := parsePoint(commit[:])
	if err != nil {
		return ErrInvalidComSig
	}

	var u, t btcec.ModNScalar
	if u.SetByteSlice(s[CommitmentSize:CommitmentSize+32]) ||
		t.SetByteSlice(s[CommitmentSize+32:]) {

		return ErrInvalidComSig
	}

	e := comSigChallenge(nonceCommit, commit, msg)

	// u*H + t*G must equal R + e*C.
	var uH, tG, lhs, eC, rhs btcec.JacobianPoint
	btcec.ScalarMultNonConst(&u, &generatorH, &uH)
	btcec.ScalarBaseMultNonConst(&t, &tG)
	btcec.AddNonConst(&uH, &tG, &lhs)

	btcec.ScalarMultNonConst(&e, &c, &eC)
	btcec.AddNonConst(&nonce, &eC, &rhs)

	negatePoint(&rhs)
	var diff btcec.JacobianPoint
	btcec.AddNonConst(&lhs, &rhs, &diff)
	if !isInfinity(&diff) {
		return ErrInvalidComSig
	}

	return nil
}

// String returns the hex encoding of the signature.
func (s ComSig) String() string {
	return hex.EncodeToString(s[:])
}

// MarshalText encodes the signature as hex.
func (s ComSig) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a hex encoded signature.
func (s *ComSig) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != ComSigSize {
		return fmt.Errorf("%w: length %d", ErrInvalidComSig, len(raw))
	}
	copy(s[:], raw)

	return nil
}

func comSigChallenge(nonce, commit Commitment, msg []byte) btcec.ModNScalar {
	h := chainhash.TaggedHash(comSigTag, nonce[:], commit[:], msg)

	var e btcec.ModNScalar
	e.SetByteSlice(h[:])

	return e
}
