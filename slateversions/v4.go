package slateversions

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
)

// slateV4 is the compact JSON form of a V4 slate. Defaults are omitted: two
// participants, plain kernel features, no TTL.
type slateV4 struct {
	Ver      string          `json:"ver"`
	ID       uuid.UUID       `json:"id"`
	Sta      string          `json:"sta"`
	Off      string          `json:"off"`
	NumParts uint8           `json:"num_parts,omitempty"`
	Amt      u64Str          `json:"amt"`
	Fee      u64Str          `json:"fee"`
	Feat     uint8           `json:"feat,omitempty"`
	FeatArgs *featArgsV4     `json:"feat_args,omitempty"`
	TTL      *u64Str         `json:"ttl,omitempty"`
	Sigs     []participantV4 `json:"sigs"`
	Coms     []commitV4      `json:"coms,omitempty"`
	Proof    *proofV4        `json:"proof,omitempty"`
}

type featArgsV4 struct {
	LockHgt u64Str `json:"lock_hgt"`
}

type participantV4 struct {
	ID    uint64 `json:"id"`
	Xs    string `json:"xs"`
	Nonce string `json:"nonce"`
	Part  string `json:"part,omitempty"`
}

// commitV4 is an input when P is empty and an output otherwise.
type commitV4 struct {
	F uint8  `json:"f,omitempty"`
	C string `json:"c"`
	P string `json:"p,omitempty"`
}

type proofV4 struct {
	Saddr string `json:"saddr"`
	Raddr string `json:"raddr"`
	Rsig  string `json:"rsig,omitempty"`
}

// checkV4 rejects slates V4 can't express.
func checkV4(s *slate.Slate) error {
	if s.State == slate.StateUnknown {
		return fmt.Errorf("%w: unknown state", ErrVersionIncompatible)
	}
	for _, p := range s.Participants {
		if p.Message.IsSome() {
			log.Debugf("Dropping message of participant %d from "+
				"V4 slate %v", p.ID, s.ID)
		}
	}

	return nil
}

func toV4(s *slate.Slate) (*slateV4, error) {
	if err := checkV4(s); err != nil {
		return nil, err
	}

	v := &slateV4{
		Ver:  v4Tag(),
		ID:   s.ID,
		Sta:  s.State.String(),
		Off:  s.Tx.Offset.String(),
		Amt:  u64Str(s.Amount),
		Fee:  u64Str(s.Fee),
		Feat: uint8(s.KernelFeatures),
	}
	if s.NumParticipants != slate.DefaultNumParticipants {
		v.NumParts = s.NumParticipants
	}
	if hasLockHeight(s.KernelFeatures) {
		v.FeatArgs = &featArgsV4{LockHgt: u64Str(s.LockHeight)}
	}
	s.TTLCutoffHeight.WhenSome(func(ttl uint64) {
		t := u64Str(ttl)
		v.TTL = &t
	})

	v.Sigs = make([]participantV4, 0, len(s.Participants))
	for _, p := range s.Participants {
		sig := participantV4{
			ID:    p.ID,
			Xs:    pubKeyHex(p.PublicBlindExcess),
			Nonce: pubKeyHex(p.PublicNonce),
		}
		p.PartSig.WhenSome(func(part aggsig.Signature) {
			sig.Part = sigHex(part)
		})
		v.Sigs = append(v.Sigs, sig)
	}

	for _, in := range s.Tx.Body.Inputs {
		v.Coms = append(v.Coms, commitV4{
			F: uint8(in.Features),
			C: in.Commit.String(),
		})
	}
	for _, out := range s.Tx.Body.Outputs {
		v.Coms = append(v.Coms, commitV4{
			F: uint8(out.Features),
			C: out.Commit.String(),
			P: out.Proof.String(),
		})
	}

	s.PaymentProof.WhenSome(func(proof slate.PaymentProof) {
		v.Proof = &proofV4{
			Saddr: proof.SenderAddress.String(),
			Raddr: proof.ReceiverAddress.String(),
		}
		proof.ReceiverSignature.WhenSome(
			func(sig [ed25519.SignatureSize]byte) {
				v.Proof.Rsig = hex.EncodeToString(sig[:])
			},
		)
	})

	return v, nil
}

func fromV4(v *slateV4) (*slate.Slate, error) {
	state, err := slate.ParseState(v.Sta)
	if err != nil || state == slate.StateUnknown {
		return nil, fmt.Errorf("%w: state %q", ErrMalformedSlate, v.Sta)
	}

	s := &slate.Slate{
		ID:              v.ID,
		State:           state,
		NumParticipants: slate.DefaultNumParticipants,
		Amount:          uint64(v.Amt),
		Fee:             uint64(v.Fee),
		KernelFeatures:  mwtx.KernelFeatures(v.Feat),
	}
	if v.NumParts != 0 {
		s.NumParticipants = v.NumParts
	}
	if v.FeatArgs != nil {
		s.LockHeight = uint64(v.FeatArgs.LockHgt)
	}
	if v.TTL != nil {
		s.TTLCutoffHeight = fn.Some(uint64(*v.TTL))
	}

	offset, err := pedersen.ParseBlindingFactor(v.Off)
	if err != nil {
		return nil, fmt.Errorf("%w: offset: %v", ErrMalformedSlate, err)
	}

	for _, sig := range v.Sigs {
		p, err := parseParticipantV4(sig)
		if err != nil {
			return nil, err
		}
		s.Participants = append(s.Participants, p)
	}

	tx := mwtx.NewTransaction(mwtx.NewKernel(
		s.KernelFeatures, s.Fee, s.LockHeight,
	))
	tx.Offset = offset
	for _, com := range v.Coms {
		commit, err := parseCommitHex(com.C)
		if err != nil || commit.IsZero() {
			return nil, fmt.Errorf("%w: commitment %q",
				ErrMalformedSlate, com.C)
		}

		features := mwtx.OutputFeatures(com.F)
		if com.P == "" {
			tx.AddInput(features, commit)
			continue
		}

		var proof pedersen.Proof
		if err := proof.UnmarshalText([]byte(com.P)); err != nil {
			return nil, fmt.Errorf("%w: proof: %v",
				ErrMalformedSlate, err)
		}
		tx.AddOutput(mwtx.Output{
			Features: features,
			Commit:   commit,
			Proof:    proof,
		})
	}
	s.Tx = tx

	if v.Proof != nil {
		proof, err := parseProofV4(v.Proof)
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

func parseParticipantV4(sig participantV4) (slate.ParticipantData, error) {
	xs, err := parsePubKeyHex(sig.Xs)
	if err != nil {
		return slate.ParticipantData{}, fmt.Errorf("%w: excess of "+
			"participant %d: %v", ErrMalformedSlate, sig.ID, err)
	}
	nonce, err := parsePubKeyHex(sig.Nonce)
	if err != nil {
		return slate.ParticipantData{}, fmt.Errorf("%w: nonce of "+
			"participant %d: %v", ErrMalformedSlate, sig.ID, err)
	}

	p := slate.ParticipantData{
		ID:                sig.ID,
		PublicBlindExcess: xs,
		PublicNonce:       nonce,
	}
	if sig.Part != "" {
		part, err := parseSigHex(sig.Part)
		if err != nil {
			return slate.ParticipantData{}, fmt.Errorf("%w: partial "+
				"signature of participant %d: %v",
				ErrMalformedSlate, sig.ID, err)
		}
		p.PartSig = fn.Some(part)
	}

	return p, nil
}

func parseProofV4(v *proofV4) (slate.PaymentProof, error) {
	sender, err := address.Decode(v.Saddr)
	if err != nil {
		return slate.PaymentProof{}, fmt.Errorf("%w: %v",
			ErrMalformedSlate, err)
	}
	receiver, err := address.Decode(v.Raddr)
	if err != nil {
		return slate.PaymentProof{}, fmt.Errorf("%w: %v",
			ErrMalformedSlate, err)
	}

	proof := slate.PaymentProof{
		SenderAddress:   sender,
		ReceiverAddress: receiver,
	}
	if v.Rsig != "" {
		sig, err := parseProofSig(v.Rsig)
		if err != nil {
			return slate.PaymentProof{}, err
		}
		proof.ReceiverSignature = fn.Some(sig)
	}

	return proof, nil
}

func parseProofSig(s string) ([ed25519.SignatureSize]byte, error) {
	var sig [ed25519.SignatureSize]byte

	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return sig, fmt.Errorf("%w: payment proof signature",
			ErrMalformedSlate)
	}
	copy(sig[:], raw)

	return sig, nil
}

func hasLockHeight(f mwtx.KernelFeatures) bool {
	return f == mwtx.KernelHeightLocked || f == mwtx.KernelNoRecentDuplicate
}

// finishDecode validates the upgraded slate and, for finalized states whose
// wire form doesn't carry the kernel signature, rebuilds the kernel from the
// participants' data.
func finishDecode(s *slate.Slate) error {
	if _, err := mwtx.KernelMessage(
		s.KernelFeatures, s.Fee, s.LockHeight,
	); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSlate, err)
	}
	if s.NumParticipants < 2 {
		return fmt.Errorf("%w: %d participants", ErrMalformedSlate,
			s.NumParticipants)
	}

	sort.Slice(s.Participants, func(i, j int) bool {
		return s.Participants[i].ID < s.Participants[j].ID
	})
	for i, p := range s.Participants {
		if p.ID >= uint64(s.NumParticipants) {
			return fmt.Errorf("%w: participant id %d out of range",
				ErrMalformedSlate, p.ID)
		}
		if i > 0 && s.Participants[i-1].ID == p.ID {
			return fmt.Errorf("%w: duplicate participant %d",
				ErrMalformedSlate, p.ID)
		}
	}

	kernel := s.Tx.Kernel()
	if !s.IsFinalized() || !kernel.Excess.IsZero() {
		return nil
	}

	return rebuildKernel(s)
}

// rebuildKernel computes the kernel excess and signature of a finalized
// slate from the participants' public excesses and partial signatures.
func rebuildKernel(s *slate.Slate) error {
	if !s.IsComplete() {
		return fmt.Errorf("%w: finalized slate missing participants",
			ErrMalformedSlate)
	}

	excesses := make([]*btcec.PublicKey, 0, len(s.Participants))
	nonces := make([]*btcec.PublicKey, 0, len(s.Participants))
	partials := make([]aggsig.Signature, 0, len(s.Participants))
	for _, p := range s.Participants {
		part, err := p.PartSig.UnwrapOrErr(fmt.Errorf("%w: finalized "+
			"slate missing partial signature of participant %d",
			ErrMalformedSlate, p.ID))
		if err != nil {
			return err
		}

		excesses = append(excesses, p.PublicBlindExcess)
		nonces = append(nonces, p.PublicNonce)
		partials = append(partials, part)
	}

	keySum, err := aggsig.SumPubKeys(excesses...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSlate, err)
	}
	nonceSum, err := aggsig.SumPubKeys(nonces...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSlate, err)
	}
	sig, err := aggsig.AddPartials(partials, nonceSum)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSlate, err)
	}

	kernel := s.Tx.Kernel()
	kernel.Excess = pedersen.CommitmentFromPubKey(keySum)
	kernel.ExcessSig = sig

	return nil
}
