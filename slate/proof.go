package slate

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/pedersen"
)

// PaymentProof lets a sender prove that the receiver accepted a payment of
// the slate amount under the slate's kernel.
type PaymentProof struct {
	// SenderAddress is the slatepack address of the sender.
	SenderAddress address.Address

	// ReceiverAddress is the slatepack address of the receiver, whose key
	// signs the proof.
	ReceiverAddress address.Address

	// ReceiverSignature is set by the receiver when it adds its
	// contribution.
	ReceiverSignature fn.Option[[ed25519.SignatureSize]byte]
}

// PaymentProofMessage returns the message signed by the receiver: the
// amount, the kernel excess and the sender address key.
func PaymentProofMessage(amount uint64, excess pedersen.Commitment,
	sender address.Address) []byte {

	msg := make([]byte, 0, 8+pedersen.CommitmentSize+ed25519.PublicKeySize)
	msg = binary.BigEndian.AppendUint64(msg, amount)
	msg = append(msg, excess[:]...)
	msg = append(msg, sender.PubKey...)

	return msg
}

// VerifyPaymentProof checks the receiver signature of a proof for the given
// amount and kernel excess.
func VerifyPaymentProof(proof PaymentProof, amount uint64,
	excess pedersen.Commitment) error {

	sig, err := proof.ReceiverSignature.UnwrapOrErr(fmt.Errorf("%w: "+
		"receiver signature missing", ErrInvalidPaymentProof))
	if err != nil {
		return err
	}

	msg := PaymentProofMessage(amount, excess, proof.SenderAddress)
	if len(proof.ReceiverAddress.PubKey) != ed25519.PublicKeySize ||
		!ed25519.Verify(proof.ReceiverAddress.PubKey, msg, sig[:]) {

		return ErrInvalidPaymentProof
	}

	return nil
}

// RequestPaymentProof asks the receiver to sign a payment proof. It's only
// possible on a standard slate the receiver hasn't seen yet.
func (s *Slate) RequestPaymentProof(sender, receiver address.Address) error {
	if s.State != Standard1 {
		return fmt.Errorf("%w: payment proofs are only requested by "+
			"the sender of a new slate", ErrStateError)
	}
	if _, ok := s.Participant(ReceiverID); ok {
		return fmt.Errorf("%w: receiver already contributed",
			ErrStateError)
	}

	s.PaymentProof = fn.Some(PaymentProof{
		SenderAddress:   sender,
		ReceiverAddress: receiver,
	})

	return nil
}

// SignPaymentProof signs the requested payment proof with the receiver's
// slatepack key. Every participant must have contributed so that the kernel
// excess is known. It's a no-op if no proof was requested.
func (s *Slate) SignPaymentProof(key ed25519.PrivateKey) error {
	proof, ok := fromOption(s.PaymentProof)
	if !ok {
		return nil
	}

	pub, _ := key.Public().(ed25519.PublicKey)
	if !proof.ReceiverAddress.PubKey.Equal(pub) {
		return ErrPaymentProofAddress
	}
	if !s.IsComplete() {
		return fmt.Errorf("%w: excess unknown", ErrIncompleteSlate)
	}

	excess, err := s.Excess()
	if err != nil {
		return err
	}

	var sig [ed25519.SignatureSize]byte
	copy(sig[:], ed25519.Sign(
		key, PaymentProofMessage(s.Amount, excess, proof.SenderAddress),
	))
	proof.ReceiverSignature = fn.Some(sig)
	s.PaymentProof = fn.Some(proof)

	return nil
}

// verifyPaymentProof checks the payment proof of the slate, if any.
func (s *Slate) verifyPaymentProof() error {
	proof, ok := fromOption(s.PaymentProof)
	if !ok {
		return nil
	}

	excess, err := s.Excess()
	if err != nil {
		return err
	}

	return VerifyPaymentProof(proof, s.Amount, excess)
}
