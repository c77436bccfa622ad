package slateversions

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
)

// The TLV types of the binary V4 form.
const (
	typeID         tlv.Type = 0
	typeState      tlv.Type = 1
	typeOffset     tlv.Type = 2
	typeNumParts   tlv.Type = 3
	typeAmount     tlv.Type = 4
	typeFee        tlv.Type = 5
	typeFeatures   tlv.Type = 6
	typeLockHeight tlv.Type = 7
	typeTTL        tlv.Type = 8
	typeSigs       tlv.Type = 9
	typeComs       tlv.Type = 10
	typeProof      tlv.Type = 11
)

// headerSize is the size of the version prefix of binary slates.
const headerSize = 4

const (
	// comFlagProof marks a commitment entry as an output carrying a
	// proof.
	comFlagProof uint8 = 1 << 0

	// maxBinaryParticipants is the number of participants the binary
	// form can express.
	maxBinaryParticipants = slate.DefaultNumParticipants
)

// binarySlate is the flattened binary form of a V4 slate.
type binarySlate struct {
	id         [16]byte
	state      uint8
	offset     [32]byte
	numParts   uint8
	amount     uint64
	fee        uint64
	features   uint8
	lockHeight uint64
	ttl        uint64
	sigs       []byte
	coms       []byte
	proof      []byte
}

func (b *binarySlate) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeID, &b.id),
		tlv.MakePrimitiveRecord(typeState, &b.state),
		tlv.MakePrimitiveRecord(typeOffset, &b.offset),
		tlv.MakePrimitiveRecord(typeNumParts, &b.numParts),
		tlv.MakePrimitiveRecord(typeAmount, &b.amount),
		tlv.MakePrimitiveRecord(typeFee, &b.fee),
		tlv.MakePrimitiveRecord(typeFeatures, &b.features),
		tlv.MakePrimitiveRecord(typeLockHeight, &b.lockHeight),
		tlv.MakePrimitiveRecord(typeTTL, &b.ttl),
		tlv.MakePrimitiveRecord(typeSigs, &b.sigs),
		tlv.MakePrimitiveRecord(typeComs, &b.coms),
		tlv.MakePrimitiveRecord(typeProof, &b.proof),
	}
}

// EncodeBinary serializes the slate in the compact binary V4 form: the
// version header followed by a TLV stream. Optional records are left out
// when unset.
func EncodeBinary(s *slate.Slate) ([]byte, error) {
	if err := checkV4(s); err != nil {
		return nil, err
	}
	if s.NumParticipants > maxBinaryParticipants {
		return nil, fmt.Errorf("%w: binary slates carry at most %d "+
			"participants", ErrVersionIncompatible,
			maxBinaryParticipants)
	}

	b := &binarySlate{
		id:         s.ID,
		state:      uint8(s.State),
		offset:     s.Tx.Offset,
		numParts:   s.NumParticipants,
		amount:     s.Amount,
		fee:        s.Fee,
		features:   uint8(s.KernelFeatures),
		lockHeight: s.LockHeight,
	}

	var err error
	if b.sigs, err = encodeSigs(s.Participants); err != nil {
		return nil, err
	}
	if b.coms, err = encodeComs(s.Tx); err != nil {
		return nil, err
	}

	all := b.records()
	records := append([]tlv.Record(nil), all[:typeFeatures+1]...)
	if hasLockHeight(s.KernelFeatures) {
		records = append(records, all[typeLockHeight])
	}
	s.TTLCutoffHeight.WhenSome(func(ttl uint64) {
		b.ttl = ttl
		records = append(records, all[typeTTL])
	})
	records = append(records, all[typeSigs], all[typeComs])

	var proofErr error
	s.PaymentProof.WhenSome(func(p slate.PaymentProof) {
		b.proof, proofErr = encodeProof(p)
		records = append(records, all[typeProof])
	})
	if proofErr != nil {
		return nil, proofErr
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(binaryHeader())
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeBinary parses a binary V4 slate.
func DecodeBinary(raw []byte) (*slate.Slate, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: short binary slate",
			ErrMalformedSlate)
	}
	if !bytes.Equal(raw[:2], binaryHeader()[:2]) {
		return nil, fmt.Errorf("%w: binary header %x", ErrUnknownVersion,
			raw[:headerSize])
	}

	b := &binarySlate{}
	stream, err := tlv.NewStream(b.records()...)
	if err != nil {
		return nil, err
	}
	parsed, err := stream.DecodeWithParsedTypes(
		bytes.NewReader(raw[headerSize:]),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSlate, err)
	}
	for _, typ := range []tlv.Type{
		typeID, typeState, typeOffset, typeNumParts, typeAmount,
		typeFee, typeFeatures, typeSigs,
	} {
		if _, ok := parsed[typ]; !ok {
			return nil, fmt.Errorf("%w: missing record %d",
				ErrMalformedSlate, typ)
		}
	}

	state := slate.State(b.state)
	if _, err := slate.ParseState(state.String()); err != nil ||
		state == slate.StateUnknown {

		return nil, fmt.Errorf("%w: state %d", ErrMalformedSlate,
			b.state)
	}
	if b.numParts > maxBinaryParticipants {
		return nil, fmt.Errorf("%w: %d participants in binary slate",
			ErrMalformedSlate, b.numParts)
	}

	s := &slate.Slate{
		ID:              b.id,
		State:           state,
		NumParticipants: b.numParts,
		Amount:          b.amount,
		Fee:             b.fee,
		KernelFeatures:  mwtx.KernelFeatures(b.features),
	}
	if _, ok := parsed[typeLockHeight]; ok {
		s.LockHeight = b.lockHeight
	}
	if _, ok := parsed[typeTTL]; ok {
		s.TTLCutoffHeight = fn.Some(b.ttl)
	}

	if s.Participants, err = decodeSigs(b.sigs); err != nil {
		return nil, err
	}

	s.Tx = mwtx.NewTransaction(mwtx.NewKernel(
		s.KernelFeatures, s.Fee, s.LockHeight,
	))
	s.Tx.Offset = b.offset
	if err := decodeComs(b.coms, s.Tx); err != nil {
		return nil, err
	}

	if _, ok := parsed[typeProof]; ok {
		proof, err := decodeProof(b.proof)
		if err != nil {
			return nil, err
		}
		s.PaymentProof = fn.Some(proof)
	}

	if err := finishDecode(s); err != nil {
		return nil, err
	}

	return s, nil
}

// encodeSigs writes the participants as a count followed by fixed size
// entries: id, public excess, public nonce and an optional partial
// signature.
func encodeSigs(participants []slate.ParticipantData) ([]byte, error) {
	var (
		w   bytes.Buffer
		buf [8]byte
	)

	count := uint8(len(participants))
	if err := tlv.EUint8(&w, &count, &buf); err != nil {
		return nil, err
	}
	for _, p := range participants {
		id := uint8(p.ID)
		if err := tlv.EUint8(&w, &id, &buf); err != nil {
			return nil, err
		}
		if err := tlv.EPubKey(&w, &p.PublicBlindExcess, &buf); err != nil {
			return nil, err
		}
		if err := tlv.EPubKey(&w, &p.PublicNonce, &buf); err != nil {
			return nil, err
		}

		part, ok := p.PartSig.UnwrapOr(aggsig.Signature{}), p.PartSig.IsSome()
		if err := tlv.EBool(&w, &ok, &buf); err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		sig := [64]byte(part)
		if err := tlv.EBytes64(&w, &sig, &buf); err != nil {
			return nil, err
		}
	}

	return w.Bytes(), nil
}

func decodeSigs(raw []byte) ([]slate.ParticipantData, error) {
	var (
		r     = bytes.NewReader(raw)
		buf   [8]byte
		count uint8
	)
	if err := tlv.DUint8(r, &count, &buf, 1); err != nil {
		return nil, malformed("participants", err)
	}

	participants := make([]slate.ParticipantData, 0, count)
	for i := uint8(0); i < count; i++ {
		var (
			id          uint8
			xs, nonce   *btcec.PublicKey
			hasPartSig  bool
			participant slate.ParticipantData
		)
		if err := tlv.DUint8(r, &id, &buf, 1); err != nil {
			return nil, malformed("participant id", err)
		}
		if err := tlv.DPubKey(r, &xs, &buf, 33); err != nil {
			return nil, malformed("participant excess", err)
		}
		if err := tlv.DPubKey(r, &nonce, &buf, 33); err != nil {
			return nil, malformed("participant nonce", err)
		}
		if err := tlv.DBool(r, &hasPartSig, &buf, 1); err != nil {
			return nil, malformed("partial signature flag", err)
		}

		participant.ID = uint64(id)
		participant.PublicBlindExcess = xs
		participant.PublicNonce = nonce

		if hasPartSig {
			var sig [64]byte
			if err := tlv.DBytes64(r, &sig, &buf, 64); err != nil {
				return nil, malformed("partial signature", err)
			}
			part, err := aggsig.ParseSignature(sig[:])
			if err != nil {
				return nil, malformed("partial signature", err)
			}
			participant.PartSig = fn.Some(part)
		}

		participants = append(participants, participant)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing participant data",
			ErrMalformedSlate)
	}

	return participants, nil
}

// encodeComs writes the inputs and outputs as a count followed by entries
// of flags, features, commitment and, for outputs, the proof.
func encodeComs(tx *mwtx.Transaction) ([]byte, error) {
	var (
		w   bytes.Buffer
		buf [8]byte
	)

	count := uint16(len(tx.Body.Inputs) + len(tx.Body.Outputs))
	if err := tlv.EUint16(&w, &count, &buf); err != nil {
		return nil, err
	}

	writeCom := func(flags, features uint8, commit [33]byte) error {
		if err := tlv.EUint8(&w, &flags, &buf); err != nil {
			return err
		}
		if err := tlv.EUint8(&w, &features, &buf); err != nil {
			return err
		}

		return tlv.EBytes33(&w, &commit, &buf)
	}

	for _, in := range tx.Body.Inputs {
		err := writeCom(0, uint8(in.Features), in.Commit)
		if err != nil {
			return nil, err
		}
	}
	for _, out := range tx.Body.Outputs {
		err := writeCom(comFlagProof, uint8(out.Features), out.Commit)
		if err != nil {
			return nil, err
		}
		w.Write(out.Proof[:])
	}

	return w.Bytes(), nil
}

func decodeComs(raw []byte, tx *mwtx.Transaction) error {
	if len(raw) == 0 {
		return nil
	}

	var (
		r     = bytes.NewReader(raw)
		buf   [8]byte
		count uint16
	)
	if err := tlv.DUint16(r, &count, &buf, 2); err != nil {
		return malformed("commitments", err)
	}

	for i := uint16(0); i < count; i++ {
		var (
			flags, features uint8
			raw33           [33]byte
		)
		if err := tlv.DUint8(r, &flags, &buf, 1); err != nil {
			return malformed("commitment flags", err)
		}
		if err := tlv.DUint8(r, &features, &buf, 1); err != nil {
			return malformed("commitment features", err)
		}
		if err := tlv.DBytes33(r, &raw33, &buf, 33); err != nil {
			return malformed("commitment", err)
		}
		commit, err := pedersen.ParseCommitment(raw33[:])
		if err != nil {
			return malformed("commitment", err)
		}

		if flags&comFlagProof == 0 {
			tx.AddInput(mwtx.OutputFeatures(features), commit)
			continue
		}

		var proof pedersen.Proof
		if _, err := io.ReadFull(r, proof[:]); err != nil {
			return malformed("proof", err)
		}
		tx.AddOutput(mwtx.Output{
			Features: mwtx.OutputFeatures(features),
			Commit:   commit,
			Proof:    proof,
		})
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: trailing commitment data",
			ErrMalformedSlate)
	}

	return nil
}

// encodeProof writes the sender and receiver addresses as length prefixed
// strings followed by the optional receiver signature.
func encodeProof(p slate.PaymentProof) ([]byte, error) {
	var (
		w   bytes.Buffer
		buf [8]byte
	)

	for _, addr := range []address.Address{
		p.SenderAddress, p.ReceiverAddress,
	} {
		encoded := []byte(addr.String())
		n := uint16(len(encoded))
		if err := tlv.EUint16(&w, &n, &buf); err != nil {
			return nil, err
		}
		w.Write(encoded)
	}

	hasSig := p.ReceiverSignature.IsSome()
	if err := tlv.EBool(&w, &hasSig, &buf); err != nil {
		return nil, err
	}
	p.ReceiverSignature.WhenSome(func(sig [ed25519.SignatureSize]byte) {
		w.Write(sig[:])
	})

	return w.Bytes(), nil
}

func decodeProof(raw []byte) (slate.PaymentProof, error) {
	var (
		r     = bytes.NewReader(raw)
		buf   [8]byte
		addrs [2]address.Address
	)
	for i := range addrs {
		var n uint16
		if err := tlv.DUint16(r, &n, &buf, 2); err != nil {
			return slate.PaymentProof{}, malformed("proof address",
				err)
		}
		encoded := make([]byte, n)
		if _, err := io.ReadFull(r, encoded); err != nil {
			return slate.PaymentProof{}, malformed("proof address",
				err)
		}

		addr, err := address.Decode(string(encoded))
		if err != nil {
			return slate.PaymentProof{}, malformed("proof address",
				err)
		}
		addrs[i] = addr
	}

	proof := slate.PaymentProof{
		SenderAddress:   addrs[0],
		ReceiverAddress: addrs[1],
	}

	var hasSig bool
	if err := tlv.DBool(r, &hasSig, &buf, 1); err != nil {
		return slate.PaymentProof{}, malformed("proof signature flag",
			err)
	}
	if hasSig {
		var sig [ed25519.SignatureSize]byte
		if _, err := io.ReadFull(r, sig[:]); err != nil {
			return slate.PaymentProof{}, malformed("proof signature",
				err)
		}
		proof.ReceiverSignature = fn.Some(sig)
	}

	return proof, nil
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedSlate, what, err)
}
