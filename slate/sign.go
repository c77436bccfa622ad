package slate

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/pedersen"
	"golang.org/x/crypto/blake2b"
)

// messageHash is the 32-byte digest signed by participant messages.
func messageHash(msg string) [32]byte {
	return blake2b.Sum256([]byte(msg))
}

// AddParticipantInfo appends the local participant's public excess and
// nonce, and its signed message if one is given. Once every participant has
// contributed, the local partial signature is computed as well.
func (s *Slate) AddParticipantInfo(ctx *Context,
	message fn.Option[string]) error {

	if ctx.SlateID != s.ID {
		return ErrContextMismatch
	}

	next, err := nextState(s.State, OpAddInfo, ctx.Role())
	if err != nil {
		return err
	}
	if err := s.CheckTurn(ctx.Role()); err != nil {
		return err
	}

	secKey, secNonce, err := ctx.keys()
	if err != nil {
		return err
	}

	p := ParticipantData{
		ID:                ctx.ParticipantID,
		PublicBlindExcess: secKey.PubKey(),
		PublicNonce:       secNonce.PubKey(),
		Message:           message,
	}

	if msg, ok := fromOption(message); ok {
		sig, err := aggsig.SignSingle(secKey, messageHash(msg))
		if err != nil {
			return err
		}
		p.MessageSig = fn.Some(sig)
	}

	work := s.Copy()
	if err := work.addParticipant(p); err != nil {
		return err
	}

	if work.IsComplete() {
		if err := work.signPartial(ctx.ParticipantID, secKey,
			secNonce); err != nil {

			return err
		}
	} else {
		next = s.State
	}
	work.State = next

	*s = *work

	log.Debugf("Slate %v: participant %d contributed, state %v", s.ID,
		ctx.ParticipantID, s.State)

	return nil
}

// CheckTurn returns ErrStateError unless a participant with the given role
// may add its public data now. The counterparty contributes only after the
// participant opening the flow has.
func (s *Slate) CheckTurn(role Role) error {
	next, err := nextState(s.State, OpAddInfo, role)
	if err != nil {
		return err
	}
	if next == s.State {
		return nil
	}

	opener := SenderID
	if s.State == Invoice1 {
		opener = ReceiverID
	}
	if _, ok := s.Participant(opener); !ok {
		return fmt.Errorf("%w: %v has to contribute before the %v in "+
			"state %v", ErrStateError, RoleOf(opener), role, s.State)
	}

	return nil
}

// signPartial computes and stores the partial signature of the participant.
func (s *Slate) signPartial(id uint64, secKey,
	secNonce *btcec.PrivateKey) error {

	p, ok := s.Participant(id)
	if !ok {
		return ErrContextMismatch
	}
	if !p.PublicBlindExcess.IsEqual(secKey.PubKey()) ||
		!p.PublicNonce.IsEqual(secNonce.PubKey()) {

		return ErrContextMismatch
	}

	keySum, nonceSum, err := s.aggregateKeys()
	if err != nil {
		return err
	}
	msg, err := s.KernelMessage()
	if err != nil {
		return err
	}

	sig, err := aggsig.SignPartial(secKey, secNonce, nonceSum, keySum, msg)
	if err != nil {
		return err
	}
	p.PartSig = fn.Some(sig)

	return nil
}

// AddPartialSignature adds the partial signature of a participant that
// contributed before every other participant did. Only slates with more than
// two participants need this.
func (s *Slate) AddPartialSignature(ctx *Context) error {
	if ctx.SlateID != s.ID {
		return ErrContextMismatch
	}
	if s.State.IsTerminal() {
		return fmt.Errorf("%w: slate in state %v", ErrStateError,
			s.State)
	}
	if !s.IsComplete() {
		return fmt.Errorf("%w: have %d of %d participants",
			ErrIncompleteSlate, len(s.Participants),
			s.NumParticipants)
	}

	p, ok := s.Participant(ctx.ParticipantID)
	if !ok {
		return ErrContextMismatch
	}
	if p.IsComplete() {
		return fmt.Errorf("%w: participant %d already signed",
			ErrStateError, ctx.ParticipantID)
	}

	secKey, secNonce, err := ctx.keys()
	if err != nil {
		return err
	}

	work := s.Copy()
	if err := work.signPartial(ctx.ParticipantID, secKey,
		secNonce); err != nil {

		return err
	}
	*s = *work

	return nil
}

// verifyPartialSigs checks every participant's partial signature against the
// aggregate nonce and excess.
func (s *Slate) verifyPartialSigs() error {
	keySum, nonceSum, err := s.aggregateKeys()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	msg, err := s.KernelMessage()
	if err != nil {
		return err
	}

	for _, p := range s.Participants {
		sig, err := p.PartSig.UnwrapOrErr(fmt.Errorf("%w: participant "+
			"%d has no partial signature", ErrIncompleteSlate, p.ID))
		if err != nil {
			return err
		}

		err = aggsig.VerifyPartial(
			sig, p.PublicNonce, p.PublicBlindExcess, nonceSum,
			keySum, msg,
		)
		if err != nil {
			return fmt.Errorf("%w: participant %d: %v",
				ErrInvalidSignature, p.ID, err)
		}
	}

	return nil
}

// VerifyMessages checks the signature of every participant message.
func (s *Slate) VerifyMessages() error {
	for _, p := range s.Participants {
		msg, ok := fromOption(p.Message)
		if !ok {
			continue
		}

		sig, err := p.MessageSig.UnwrapOrErr(fmt.Errorf("%w: message "+
			"of participant %d is unsigned", ErrInvalidSignature,
			p.ID))
		if err != nil {
			return err
		}

		err = aggsig.Verify(sig, p.PublicBlindExcess, messageHash(msg))
		if err != nil {
			return fmt.Errorf("%w: message of participant %d",
				ErrInvalidSignature, p.ID)
		}
	}

	return nil
}

// Finalize signs the local part, verifies every partial signature and
// aggregates them into the kernel signature, which is verified against the
// aggregate excess before the transaction itself is validated. On any
// failure the slate is left untouched.
func (s *Slate) Finalize(ctx *Context) error {
	if ctx.SlateID != s.ID {
		return ErrContextMismatch
	}

	next, err := nextState(s.State, OpFinalize, ctx.Role())
	if err != nil {
		return err
	}
	if !s.IsComplete() {
		return fmt.Errorf("%w: have %d of %d participants",
			ErrIncompleteSlate, len(s.Participants),
			s.NumParticipants)
	}

	secKey, secNonce, err := ctx.keys()
	if err != nil {
		return err
	}

	work := s.Copy()
	work.syncKernel()

	local, ok := work.Participant(ctx.ParticipantID)
	if !ok {
		return ErrContextMismatch
	}
	if local.PartSig.IsNone() {
		err := work.signPartial(ctx.ParticipantID, secKey, secNonce)
		if err != nil {
			return err
		}
	}

	if err := work.VerifyMessages(); err != nil {
		return err
	}
	if err := work.verifyPaymentProof(); err != nil {
		return err
	}
	if err := work.verifyPartialSigs(); err != nil {
		return err
	}

	// Aggregate in participant id order. The list is kept sorted.
	keySum, nonceSum, err := work.aggregateKeys()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	partials := make([]aggsig.Signature, 0, len(work.Participants))
	for _, p := range work.Participants {
		partials = append(partials, p.PartSig.UnsafeFromSome())
	}
	finalSig, err := aggsig.AddPartials(partials, nonceSum)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	msg, err := work.KernelMessage()
	if err != nil {
		return err
	}
	if err := aggsig.Verify(finalSig, keySum, msg); err != nil {
		return fmt.Errorf("%w: final signature: %v",
			ErrInvalidSignature, err)
	}

	kernel := work.Tx.Kernel()
	kernel.Excess = pedersen.CommitmentFromPubKey(keySum)
	kernel.ExcessSig = finalSig

	if err := work.Tx.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	work.State = next
	*s = *work

	log.Infof("Finalized slate %v, kernel excess %v", s.ID,
		kernel.Excess)

	return nil
}

// Cancel moves a non-terminal slate to Cancelled.
func (s *Slate) Cancel() error {
	next, err := nextState(s.State, OpCancel, roleAny)
	if err != nil {
		return err
	}
	s.State = next

	log.Debugf("Cancelled slate %v", s.ID)

	return nil
}

// IsFinalized returns true if the slate's kernel has been signed.
func (s *Slate) IsFinalized() bool {
	return s.State == Standard3 || s.State == Invoice3
}

// VerifyFinal checks the kernel signature and sums of a finalized slate.
func (s *Slate) VerifyFinal() error {
	if !s.IsFinalized() {
		return fmt.Errorf("%w: slate not finalized", ErrStateError)
	}

	if err := s.Tx.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	return nil
}

// fromOption unpacks an option into the comma ok form.
func fromOption[A any](o fn.Option[A]) (A, bool) {
	var zero A
	return o.UnwrapOr(zero), o.IsSome()
}
