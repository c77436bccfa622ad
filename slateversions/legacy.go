package slateversions

import (
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
)

// slateLegacy is the JSON form of V2 and V3 slates. V2 lacks the payment
// proof and the TTL cutoff height. The negotiation state isn't carried and
// is inferred from the participant data on upgrade.
type slateLegacy struct {
	VersionInfo     versionInfo         `json:"version_info"`
	NumParticipants u64Str              `json:"num_participants"`
	ID              string              `json:"id"`
	Tx              txLegacy            `json:"tx"`
	Amount          u64Str              `json:"amount"`
	Fee             u64Str              `json:"fee"`
	Height          u64Str              `json:"height"`
	LockHeight      u64Str              `json:"lock_height"`
	TTLCutoffHeight *u64Str             `json:"ttl_cutoff_height,omitempty"`
	ParticipantData []participantLegacy `json:"participant_data"`
	PaymentProof    *proofLegacy        `json:"payment_proof,omitempty"`
}

type versionInfo struct {
	Version            u64Str `json:"version"`
	OrigVersion        u64Str `json:"orig_version"`
	BlockHeaderVersion u64Str `json:"block_header_version"`
}

type txLegacy struct {
	Offset string     `json:"offset"`
	Body   bodyLegacy `json:"body"`
}

type bodyLegacy struct {
	Inputs  []inputLegacy  `json:"inputs"`
	Outputs []outputLegacy `json:"outputs"`
	Kernels []kernelLegacy `json:"kernels"`
}

type inputLegacy struct {
	Features string `json:"features"`
	Commit   string `json:"commit"`
}

type outputLegacy struct {
	Features string `json:"features"`
	Commit   string `json:"commit"`
	Proof    string `json:"proof"`
}

type kernelLegacy struct {
	Features   string `json:"features"`
	Fee        u64Str `json:"fee"`
	LockHeight u64Str `json:"lock_height"`
	Excess     string `json:"excess"`
	ExcessSig  string `json:"excess_sig"`
}

type participantLegacy struct {
	ID                u64Str  `json:"id"`
	PublicBlindExcess string  `json:"public_blind_excess"`
	PublicNonce       string  `json:"public_nonce"`
	PartSig           *string `json:"part_sig"`
	Message           *string `json:"message"`
	MessageSig        *string `json:"message_sig"`
}

type proofLegacy struct {
	ReceiverAddress   string  `json:"receiver_address"`
	ReceiverSignature *string `json:"receiver_signature"`
	SenderAddress     string  `json:"sender_address"`
}

// checkLegacy rejects slates the legacy versions can't express.
func checkLegacy(s *slate.Slate, v Version) error {
	if s.PaymentProof.IsSome() && v < V3 {
		return fmt.Errorf("%w: payment proofs need %v or later",
			ErrVersionIncompatible, V3)
	}
	if s.KernelFeatures == mwtx.KernelNoRecentDuplicate {
		return fmt.Errorf("%w: NRD kernels need %v",
			ErrVersionIncompatible, V4)
	}

	// The state isn't carried, so it must be recoverable from the
	// participant data.
	inferred, err := inferState(s.Participants, s.NumParticipants,
		!s.Tx.Kernel().Excess.IsZero())
	if err != nil || inferred != s.State {
		return fmt.Errorf("%w: state %v can't be expressed at %v",
			ErrVersionIncompatible, s.State, v)
	}

	if v < V3 && s.TTLCutoffHeight.IsSome() {
		log.Debugf("Dropping TTL of slate %v encoded at %v", s.ID, v)
	}

	return nil
}

// inferState recovers the negotiation state of a legacy slate:
//
//   - nobody contributed yet: Standard1
//   - the kernel is signed: Standard3
//   - only the sender contributed, or not everyone did yet: Standard1
//   - only the receiver contributed: Invoice1
//   - everyone contributed and the sender hasn't signed: Standard2
//   - everyone contributed and only the sender signed: Invoice2
func inferState(participants []slate.ParticipantData, numParticipants uint8,
	signed bool) (slate.State, error) {

	var (
		sender, receiver *slate.ParticipantData
		numSigned        int
	)
	for i := range participants {
		p := &participants[i]
		if p.PartSig.IsSome() {
			numSigned++
		}

		switch p.ID {
		case slate.SenderID:
			sender = p
		case slate.ReceiverID:
			receiver = p
		}
	}

	n := len(participants)
	complete := n == int(numParticipants)

	switch {
	case n == 0:
		return slate.Standard1, nil

	case signed && complete && numSigned == n:
		return slate.Standard3, nil

	case n == 1 && receiver != nil:
		return slate.Invoice1, nil

	case !complete && sender != nil:
		return slate.Standard1, nil

	case !complete || sender == nil || receiver == nil:

	case sender.PartSig.IsNone() && numSigned > 0:
		return slate.Standard2, nil

	case sender.PartSig.IsSome() && numSigned == 1:
		return slate.Invoice2, nil
	}

	return slate.StateUnknown, fmt.Errorf("%w: can't infer state of "+
		"legacy slate", ErrMalformedSlate)
}

func toLegacy(s *slate.Slate, v Version) (*slateLegacy, error) {
	if err := checkLegacy(s, v); err != nil {
		return nil, err
	}

	kernel := s.Tx.Kernel()
	l := &slateLegacy{
		VersionInfo: versionInfo{
			Version:            u64Str(v),
			OrigVersion:        u64Str(v),
			BlockHeaderVersion: BlockHeaderVersion,
		},
		NumParticipants: u64Str(s.NumParticipants),
		ID:              s.ID.String(),
		Tx: txLegacy{
			Offset: s.Tx.Offset.String(),
			Body: bodyLegacy{
				Inputs:  []inputLegacy{},
				Outputs: []outputLegacy{},
				Kernels: []kernelLegacy{{
					Features:   s.KernelFeatures.String(),
					Fee:        u64Str(s.Fee),
					LockHeight: u64Str(s.LockHeight),
					Excess:     commitHex(kernel.Excess),
					ExcessSig:  sigHex(kernel.ExcessSig),
				}},
			},
		},
		Amount:     u64Str(s.Amount),
		Fee:        u64Str(s.Fee),
		Height:     u64Str(s.Height),
		LockHeight: u64Str(s.LockHeight),
	}

	for _, in := range s.Tx.Body.Inputs {
		l.Tx.Body.Inputs = append(l.Tx.Body.Inputs, inputLegacy{
			Features: in.Features.String(),
			Commit:   in.Commit.String(),
		})
	}
	for _, out := range s.Tx.Body.Outputs {
		l.Tx.Body.Outputs = append(l.Tx.Body.Outputs, outputLegacy{
			Features: out.Features.String(),
			Commit:   out.Commit.String(),
			Proof:    out.Proof.String(),
		})
	}

	for _, p := range s.Participants {
		l.ParticipantData = append(l.ParticipantData, participantLegacy{
			ID:                u64Str(p.ID),
			PublicBlindExcess: pubKeyHex(p.PublicBlindExcess),
			PublicNonce:       pubKeyHex(p.PublicNonce),
			PartSig:           optSigHex(p.PartSig),
			Message:           optString(p.Message),
			MessageSig:        optSigHex(p.MessageSig),
		})
	}

	if v >= V3 {
		s.TTLCutoffHeight.WhenSome(func(ttl uint64) {
			t := u64Str(ttl)
			l.TTLCutoffHeight = &t
		})

		s.PaymentProof.WhenSome(func(proof slate.PaymentProof) {
			l.PaymentProof = &proofLegacy{
				ReceiverAddress: proof.ReceiverAddress.String(),
				SenderAddress:   proof.SenderAddress.String(),
			}
			proof.ReceiverSignature.WhenSome(func(sig [64]byte) {
				h := fmt.Sprintf("%x", sig[:])
				l.PaymentProof.ReceiverSignature = &h
			})
		})
	}

	return l, nil
}

func fromLegacy(l *slateLegacy, v Version) (*slate.Slate, error) {
	var s slate.Slate

	if err := s.ID.UnmarshalText([]byte(l.ID)); err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrMalformedSlate, err)
	}
	if l.NumParticipants > 255 {
		return nil, fmt.Errorf("%w: %d participants", ErrMalformedSlate,
			l.NumParticipants)
	}
	if len(l.Tx.Body.Kernels) != 1 {
		return nil, fmt.Errorf("%w: %d kernels", ErrMalformedSlate,
			len(l.Tx.Body.Kernels))
	}

	kl := l.Tx.Body.Kernels[0]
	features, err := mwtx.ParseKernelFeatures(kl.Features)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSlate, err)
	}

	s.NumParticipants = uint8(l.NumParticipants)
	s.Amount = uint64(l.Amount)
	s.Fee = uint64(l.Fee)
	s.Height = uint64(l.Height)
	s.LockHeight = uint64(l.LockHeight)
	s.KernelFeatures = features

	offset, err := pedersen.ParseBlindingFactor(l.Tx.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: offset: %v", ErrMalformedSlate, err)
	}

	kernel := mwtx.NewKernel(features, s.Fee, s.LockHeight)
	kernel.Excess, err = parseCommitHex(kl.Excess)
	if err != nil {
		return nil, fmt.Errorf("%w: excess: %v", ErrMalformedSlate, err)
	}
	kernel.ExcessSig, err = parseSigHex(kl.ExcessSig)
	if err != nil {
		return nil, fmt.Errorf("%w: excess signature: %v",
			ErrMalformedSlate, err)
	}

	tx := mwtx.NewTransaction(kernel)
	tx.Offset = offset
	for _, in := range l.Tx.Body.Inputs {
		f, err := mwtx.ParseOutputFeatures(in.Features)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSlate, err)
		}
		commit, err := parseCommitHex(in.Commit)
		if err != nil || commit.IsZero() {
			return nil, fmt.Errorf("%w: input %q",
				ErrMalformedSlate, in.Commit)
		}
		tx.AddInput(f, commit)
	}
	for _, out := range l.Tx.Body.Outputs {
		f, err := mwtx.ParseOutputFeatures(out.Features)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSlate, err)
		}
		commit, err := parseCommitHex(out.Commit)
		if err != nil || commit.IsZero() {
			return nil, fmt.Errorf("%w: output %q",
				ErrMalformedSlate, out.Commit)
		}
		var proof pedersen.Proof
		if err := proof.UnmarshalText([]byte(out.Proof)); err != nil {
			return nil, fmt.Errorf("%w: proof: %v",
				ErrMalformedSlate, err)
		}
		tx.AddOutput(mwtx.Output{
			Features: f,
			Commit:   commit,
			Proof:    proof,
		})
	}
	s.Tx = tx

	for _, pl := range l.ParticipantData {
		p, err := parseParticipantLegacy(pl)
		if err != nil {
			return nil, err
		}
		s.Participants = append(s.Participants, p)
	}

	if v >= V3 {
		if l.TTLCutoffHeight != nil {
			s.TTLCutoffHeight = fn.Some(uint64(*l.TTLCutoffHeight))
		}
		if l.PaymentProof != nil {
			proof, err := parseProofLegacy(l.PaymentProof)
			if err != nil {
				return nil, err
			}
			s.PaymentProof = fn.Some(proof)
		}
	}

	if err := finishDecode(&s); err != nil {
		return nil, err
	}

	s.State, err = inferState(
		s.Participants, s.NumParticipants, !kernel.Excess.IsZero(),
	)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func parseParticipantLegacy(
	pl participantLegacy) (slate.ParticipantData, error) {

	p, err := parseParticipantV4(participantV4{
		ID:    uint64(pl.ID),
		Xs:    pl.PublicBlindExcess,
		Nonce: pl.PublicNonce,
	})
	if err != nil {
		return p, err
	}

	if pl.PartSig != nil {
		sig, err := parseSigHex(*pl.PartSig)
		if err != nil {
			return p, fmt.Errorf("%w: partial signature: %v",
				ErrMalformedSlate, err)
		}
		p.PartSig = fn.Some(sig)
	}
	if pl.Message != nil {
		p.Message = fn.Some(*pl.Message)
	}
	if pl.MessageSig != nil {
		sig, err := parseSigHex(*pl.MessageSig)
		if err != nil {
			return p, fmt.Errorf("%w: message signature: %v",
				ErrMalformedSlate, err)
		}
		p.MessageSig = fn.Some(sig)
	}

	return p, nil
}

func parseProofLegacy(pl *proofLegacy) (slate.PaymentProof, error) {
	v := &proofV4{Saddr: pl.SenderAddress, Raddr: pl.ReceiverAddress}
	if pl.ReceiverSignature != nil {
		v.Rsig = *pl.ReceiverSignature
	}

	return parseProofV4(v)
}

func optSigHex(o fn.Option[aggsig.Signature]) *string {
	return fn.MapOptionZ(o, func(sig aggsig.Signature) *string {
		h := sigHex(sig)
		return &h
	})
}

func optString(o fn.Option[string]) *string {
	return fn.MapOptionZ(o, func(s string) *string {
		return &s
	})
}
