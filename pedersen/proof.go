package pedersen

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mwcore/mwwallet/keychain"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// rewindMsgSize is the plaintext size of the rewind message: the
	// amount followed by the key identifier of the blinding factor.
	rewindMsgSize = 8 + keychain.KeyIDSize

	// envelopeSize is the size of the encrypted rewind message including
	// the nonce and the authentication tag.
	envelopeSize = chacha20poly1305.NonceSizeX + rewindMsgSize +
		chacha20poly1305.Overhead

	// rangeBits is the width of the proven value range [0, 2^64).
	rangeBits = 64

	// bitCommitsSize is the size of the explicit bit commitments. The
	// last one is implied by the output commitment.
	bitCommitsSize = (rangeBits - 1) * CommitmentSize

	// bitProofSize is the size of a single bit ring signature: the
	// challenge e0 followed by the responses s0 and s1.
	bitProofSize = 3 * 32

	// ProofSize is the size of a serialized output proof.
	ProofSize = envelopeSize + bitCommitsSize + rangeBits*bitProofSize
)

var (
	// ErrRewindFailed is returned when a proof can't be opened with the
	// given blinding factor, meaning the output isn't ours.
	ErrRewindFailed = errors.New("unable to rewind proof")

	// ErrInvalidProof is returned when a proof doesn't verify against its
	// commitment.
	ErrInvalidProof = errors.New("invalid output proof")
)

var (
	// rewindKeyTag keys the blake2b instance deriving the envelope key.
	rewindKeyTag = []byte("MW/rewind")

	// rangeProofTag tags the bit ring signature challenges.
	rangeProofTag = []byte("MW/rangeproof")
)

// bitGenerators holds 2^i*H for every bit position.
var bitGenerators = func() [rangeBits]btcec.JacobianPoint {
	var gens [rangeBits]btcec.JacobianPoint
	for i := range gens {
		s := scalarFromUint64(1 << i)
		btcec.ScalarMultNonConst(&s, &generatorH, &gens[i])
		gens[i].ToAffine()
	}

	return gens
}()

// Proof is attached to every output. It proves the committed amount lies in
// [0, 2^64) and carries the amount and key identifier encrypted under a key
// only the owner of the blinding factor can derive, so the owner can
// recognize and restore the output from the chain alone.
//
// The range part splits the commitment into one commitment per bit,
// C_i = r_i*G + b_i*2^i*H, and proves for each of them with a two member
// ring signature that it opens to either 0 or 2^i. The commitments sum to
// the output commitment, so the last one isn't serialized. Every ring
// challenge commits to the envelope, binding it to the range proof.
type Proof [ProofSize]byte

// RewoundProof is the information recovered by rewinding a proof.
type RewoundProof struct {
	// Value is the committed amount.
	Value uint64

	// KeyID identifies the blinding factor of the output.
	KeyID keychain.KeyID
}

// CreateProof commits to value under blind and creates the output proof
// carrying keyID.
func CreateProof(value uint64, blind BlindingFactor,
	keyID keychain.KeyID) (Commitment, Proof, error) {

	r, err := blind.Scalar()
	if err != nil {
		return Commitment{}, Proof{}, err
	}
	commit, err := Commit(value, blind)
	if err != nil {
		return Commitment{}, Proof{}, err
	}

	aead, err := rewindCipher(blind, commit)
	if err != nil {
		return Commitment{}, Proof{}, err
	}

	var proof Proof
	nonce := proof[:chacha20poly1305.NonceSizeX]
	if _, err := rand.Read(nonce); err != nil {
		return Commitment{}, Proof{}, err
	}

	var msg [rewindMsgSize]byte
	binary.BigEndian.PutUint64(msg[:8], value)
	copy(msg[8:], keyID[:])

	aead.Seal(
		proof[chacha20poly1305.NonceSizeX:chacha20poly1305.NonceSizeX],
		nonce, msg[:], commit[:],
	)

	err = proveRange(value, &r, commit, proof[:envelopeSize],
		proof[envelopeSize:])
	if err != nil {
		return Commitment{}, Proof{}, err
	}

	return commit, proof, nil
}

// Verify checks that the proof is bound to the commitment and that the
// committed amount is in [0, 2^64).
func (p Proof) Verify(commit Commitment) error {
	c, err := parsePoint(commit[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	envelope := p[:envelopeSize]

	// The last bit commitment is C minus all the others.
	var bitCommits [rangeBits]Commitment
	last := c
	for i := 0; i < rangeBits-1; i++ {
		offset := envelopeSize + i*CommitmentSize
		copy(bitCommits[i][:], p[offset:offset+CommitmentSize])

		ci, err := parsePoint(bitCommits[i][:])
		if err != nil {
			return fmt.Errorf("%w: bit %d: %v", ErrInvalidProof, i,
				err)
		}
		negatePoint(&ci)
		addPoint(&last, &ci)
	}
	bitCommits[rangeBits-1], err = commitmentFromPoint(&last)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	sigs := p[envelopeSize+bitCommitsSize:]
	for i := range bitCommits {
		sig := sigs[i*bitProofSize : (i+1)*bitProofSize]
		err := verifyBit(i, bitCommits[i], commit, envelope, sig)
		if err != nil {
			return fmt.Errorf("%w: bit %d: %v", ErrInvalidProof, i,
				err)
		}
	}

	return nil
}

// Rewind attempts to open the proof using blind. The recovered amount is
// checked against the commitment so a successful rewind guarantees
// commit = blind*G + value*H.
func (p Proof) Rewind(commit Commitment, blind BlindingFactor) (*RewoundProof,
	error) {

	aead, err := rewindCipher(blind, commit)
	if err != nil {
		return nil, err
	}

	nonce := p[:chacha20poly1305.NonceSizeX]
	msg, err := aead.Open(
		nil, nonce, p[chacha20poly1305.NonceSizeX:envelopeSize],
		commit[:],
	)
	if err != nil {
		return nil, ErrRewindFailed
	}

	rewound := &RewoundProof{
		Value: binary.BigEndian.Uint64(msg[:8]),
	}
	copy(rewound.KeyID[:], msg[8:])

	expected, err := Commit(rewound.Value, blind)
	if err != nil || expected != commit {
		return nil, ErrRewindFailed
	}

	return rewound, nil
}

// String returns the hex encoding of the proof.
func (p Proof) String() string {
	return hex.EncodeToString(p[:])
}

// MarshalText encodes the proof as hex.
func (p Proof) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a hex encoded proof.
func (p *Proof) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != ProofSize {
		return fmt.Errorf("%w: length %d", ErrInvalidProof, len(raw))
	}
	copy(p[:], raw)

	return nil
}

// proveRange writes the bit commitments and their ring signatures for
// commit = r*G + value*H into out.
func proveRange(value uint64, r *btcec.ModNScalar, commit Commitment,
	envelope, out []byte) error {

	// Random blinds for all bits but the last, which takes what's left
	// of r so the bit commitments sum to commit.
	var blinds [rangeBits]btcec.ModNScalar
	rest := *r
	for i := 0; i < rangeBits-1; i++ {
		b, err := randomScalar()
		if err != nil {
			return err
		}
		blinds[i] = b

		neg := b
		neg.Negate()
		rest.Add(&neg)
	}
	blinds[rangeBits-1] = rest

	sigs := out[bitCommitsSize:]
	for i := range blinds {
		bit := int(value>>i) & 1

		var ci btcec.JacobianPoint
		btcec.ScalarBaseMultNonConst(&blinds[i], &ci)
		if bit == 1 {
			addPoint(&ci, &bitGenerators[i])
		}
		bitCommit, err := commitmentFromPoint(&ci)
		if err != nil {
			return err
		}
		if i < rangeBits-1 {
			copy(out[i*CommitmentSize:], bitCommit[:])
		}

		err = proveBit(
			i, bit, &blinds[i], bitCommit, commit, envelope,
			sigs[i*bitProofSize:(i+1)*bitProofSize],
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// bitRing returns the ring keys of bit i: P0 = C_i and P1 = C_i - 2^i*H.
// The prover knows the discrete log to G of exactly one of them.
func bitRing(i int, ci Commitment) ([2]btcec.JacobianPoint, error) {
	var ring [2]btcec.JacobianPoint

	p, err := parsePoint(ci[:])
	if err != nil {
		return ring, err
	}
	ring[0] = p

	gen := bitGenerators[i]
	negatePoint(&gen)
	btcec.AddNonConst(&p, &gen, &ring[1])

	return ring, nil
}

// proveBit signs the ring of bit i with the blind of the member the bit
// selects. The layout is e0 || s0 || s1 with e_j = H(A_{1-j}).
func proveBit(i, bit int, blind *btcec.ModNScalar, ci, commit Commitment,
	envelope, out []byte) error {

	ring, err := bitRing(i, ci)
	if err != nil {
		return err
	}
	other := 1 - bit

	var (
		e [2]btcec.ModNScalar
		s [2]btcec.ModNScalar
	)

	k, err := randomScalar()
	if err != nil {
		return err
	}
	var nonce btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&k, &nonce)
	e[other], err = bitChallenge(i, ci, commit, envelope, &nonce)
	if err != nil {
		return err
	}

	s[other], err = randomScalar()
	if err != nil {
		return err
	}
	a := ringNonce(&s[other], &e[other], &ring[other])
	e[bit], err = bitChallenge(i, ci, commit, envelope, &a)
	if err != nil {
		return err
	}

	// s_bit = k + e_bit*r_i closes the ring.
	s[bit].Mul2(&e[bit], blind).Add(&k)

	e[0].PutBytesUnchecked(out[:32])
	s[0].PutBytesUnchecked(out[32:64])
	s[1].PutBytesUnchecked(out[64:96])

	return nil
}

// verifyBit walks the ring of bit i starting from e0 and checks it closes.
func verifyBit(i int, ci, commit Commitment, envelope, sig []byte) error {
	var e0, s0, s1 btcec.ModNScalar
	if e0.SetByteSlice(sig[:32]) || s0.SetByteSlice(sig[32:64]) ||
		s1.SetByteSlice(sig[64:96]) {

		return errors.New("scalar overflow")
	}

	ring, err := bitRing(i, ci)
	if err != nil {
		return err
	}

	a0 := ringNonce(&s0, &e0, &ring[0])
	e1, err := bitChallenge(i, ci, commit, envelope, &a0)
	if err != nil {
		return err
	}

	a1 := ringNonce(&s1, &e1, &ring[1])
	closing, err := bitChallenge(i, ci, commit, envelope, &a1)
	if err != nil {
		return err
	}
	if !closing.Equals(&e0) {
		return errors.New("ring doesn't close")
	}

	return nil
}

// ringNonce returns s*G - e*P.
func ringNonce(s, e *btcec.ModNScalar,
	p *btcec.JacobianPoint) btcec.JacobianPoint {

	var sG, eP btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(s, &sG)
	btcec.ScalarMultNonConst(e, p, &eP)
	negatePoint(&eP)
	addPoint(&sG, &eP)

	return sG
}

func bitChallenge(i int, ci, commit Commitment, envelope []byte,
	nonce *btcec.JacobianPoint) (btcec.ModNScalar, error) {

	var e btcec.ModNScalar

	n, err := commitmentFromPoint(nonce)
	if err != nil {
		return e, err
	}
	h := chainhash.TaggedHash(
		rangeProofTag, commit[:], envelope, []byte{byte(i)}, ci[:],
		n[:],
	)
	e.SetByteSlice(h[:])

	return e, nil
}

func rewindCipher(blind BlindingFactor, commit Commitment) (cipher.AEAD,
	error) {

	h, err := blake2b.New256(rewindKeyTag)
	if err != nil {
		return nil, err
	}
	h.Write(blind[:])
	h.Write(commit[:])

	return chacha20poly1305.NewX(h.Sum(nil))
}
