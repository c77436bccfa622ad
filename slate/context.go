package slate

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
)

// OutputRef describes an input spent or an output created by the local
// participant.
type OutputRef struct {
	// KeyID locates the blinding factor of the commitment.
	KeyID keychain.KeyID

	// Value is the committed amount.
	Value uint64

	// Commit is the commitment itself.
	Commit pedersen.Commitment
}

// Context is the secret counterpart of one participant's contribution to a
// slate. It's never transported and must be wiped once the negotiation is
// over.
type Context struct {
	// SlateID is the id of the slate the context belongs to.
	SlateID uuid.UUID

	// ParticipantID is the id of the local participant.
	ParticipantID uint64

	// SecKey is the participant's secret excess: the sum of its output
	// blinding factors minus its input blinding factors and, for the
	// payer, minus the kernel offset.
	SecKey pedersen.BlindingFactor

	// SecNonce is the secret nonce of the participant's partial
	// signature.
	SecNonce pedersen.BlindingFactor

	// Inputs are the wallet outputs spent by the participant.
	Inputs []OutputRef

	// Outputs are the outputs created by the participant.
	Outputs []OutputRef

	// Amount is the amount of the slate as seen when the context was
	// created.
	Amount uint64

	// Fee is the fee of the slate as seen when the context was created.
	Fee uint64

	// KernelFeatures is the kernel variant of the slate as seen when the
	// context was created.
	KernelFeatures mwtx.KernelFeatures

	// LockHeight is the kernel lock height as seen when the context was
	// created.
	LockHeight uint64

	// IsInvoice is true if the context belongs to an invoice flow.
	IsInvoice bool

	// PaymentProofIndex is the derivation index of the slatepack address
	// used for the payment proof, if one was requested.
	PaymentProofIndex fn.Option[uint32]
}

// NewContext returns a context for the participant with a fresh secret
// nonce. The secret excess is filled in once the participant's inputs and
// outputs are known.
func NewContext(slateID uuid.UUID, participantID uint64,
	isInvoice bool) (*Context, error) {

	nonce, err := pedersen.RandomBlindingFactor()
	if err != nil {
		return nil, fmt.Errorf("unable to generate nonce: %w", err)
	}

	return &Context{
		SlateID:       slateID,
		ParticipantID: participantID,
		SecNonce:      nonce,
		IsInvoice:     isInvoice,
	}, nil
}

// Role returns the role of the local participant.
func (c *Context) Role() Role {
	return RoleOf(c.ParticipantID)
}

// keys returns the secret excess and nonce as private keys.
func (c *Context) keys() (*btcec.PrivateKey, *btcec.PrivateKey, error) {
	secKey, err := c.SecKey.PrivKey()
	if err != nil {
		return nil, nil, fmt.Errorf("secret excess: %w", err)
	}
	secNonce, err := c.SecNonce.PrivKey()
	if err != nil {
		return nil, nil, fmt.Errorf("secret nonce: %w", err)
	}

	return secKey, secNonce, nil
}

// PublicKeys returns the public excess and nonce of the participant.
func (c *Context) PublicKeys() (*btcec.PublicKey, *btcec.PublicKey, error) {
	secKey, secNonce, err := c.keys()
	if err != nil {
		return nil, nil, err
	}

	return secKey.PubKey(), secNonce.PubKey(), nil
}

// Zero wipes the secret material of the context.
func (c *Context) Zero() {
	c.SecKey.Wipe()
	c.SecNonce.Wipe()
}
