package slate

import (
	"fmt"
	"math"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
)

// DefaultNumParticipants is the number of participants of the standard and
// invoice flows.
const DefaultNumParticipants = 2

// ParticipantData is the public contribution of one participant. Once
// appended to a slate it's never modified.
type ParticipantData struct {
	// ID is the participant id, 0 for the payer and 1 for the payee.
	ID uint64

	// PublicBlindExcess is the public key of the participant's secret
	// excess.
	PublicBlindExcess *btcec.PublicKey

	// PublicNonce is the public key of the participant's secret nonce.
	PublicNonce *btcec.PublicKey

	// PartSig is the participant's partial signature of the kernel, set
	// once every public excess and nonce is known.
	PartSig fn.Option[aggsig.Signature]

	// Message is an optional free form note.
	Message fn.Option[string]

	// MessageSig signs Message with the participant's excess key.
	MessageSig fn.Option[aggsig.Signature]
}

// IsComplete returns true once the participant's partial signature is set.
func (p *ParticipantData) IsComplete() bool {
	return p.PartSig.IsSome()
}

// Params holds the parameters of a new slate.
type Params struct {
	// Amount is the amount paid.
	Amount uint64

	// Fee is the transaction fee. For invoices it's filled in by the
	// payer.
	Fee uint64

	// Height is the chain height at creation.
	Height uint64

	// KernelFeatures selects the kernel variant.
	KernelFeatures mwtx.KernelFeatures

	// LockHeight is the lock height of height locked kernels or the
	// relative height of NRD kernels.
	LockHeight uint64

	// TTLCutoffHeight is the height after which the slate must not be
	// processed anymore.
	TTLCutoffHeight fn.Option[uint64]

	// NumParticipants defaults to two.
	NumParticipants uint8

	// Invoice selects the invoice flow.
	Invoice bool
}

// Slate is a transaction under negotiation.
type Slate struct {
	// ID identifies the negotiation.
	ID uuid.UUID

	// State is the negotiation state.
	State State

	// NumParticipants is the number of participants expected.
	NumParticipants uint8

	// Amount is the amount paid.
	Amount uint64

	// Fee is the fee paid by the transaction.
	Fee uint64

	// Height is the chain height at creation.
	Height uint64

	// KernelFeatures is the variant of the kernel.
	KernelFeatures mwtx.KernelFeatures

	// LockHeight is the lock height argument of the kernel features.
	LockHeight uint64

	// TTLCutoffHeight is the height after which the slate expires.
	TTLCutoffHeight fn.Option[uint64]

	// Participants holds the participants' public data ordered by id.
	Participants []ParticipantData

	// Tx is the transaction built so far. Its kernel is signed on
	// finalization.
	Tx *mwtx.Transaction

	// PaymentProof is the optional payment proof requested by the sender.
	PaymentProof fn.Option[PaymentProof]
}

// CheckAmount rejects zero amounts and amounts whose sum with the fee
// overflows.
func CheckAmount(amount, fee uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrInvalidAmount)
	}
	if amount > math.MaxUint64-fee {
		return fmt.Errorf("%w: amount %d plus fee %d overflows",
			ErrInvalidAmount, amount, fee)
	}

	return nil
}

// New creates a blank slate in the initial state of its flow.
func New(p Params) (*Slate, error) {
	if err := CheckAmount(p.Amount, p.Fee); err != nil {
		return nil, err
	}

	// Validate the kernel arguments upfront rather than at signing time.
	if _, err := mwtx.KernelMessage(
		p.KernelFeatures, p.Fee, p.LockHeight,
	); err != nil {
		return nil, err
	}

	numParticipants := p.NumParticipants
	if numParticipants == 0 {
		numParticipants = DefaultNumParticipants
	}
	if numParticipants < 2 {
		return nil, fmt.Errorf("%w: %d participants", ErrStateError,
			numParticipants)
	}

	state := Standard1
	if p.Invoice {
		state = Invoice1
	}

	s := &Slate{
		ID:              uuid.New(),
		State:           state,
		NumParticipants: numParticipants,
		Amount:          p.Amount,
		Fee:             p.Fee,
		Height:          p.Height,
		KernelFeatures:  p.KernelFeatures,
		LockHeight:      p.LockHeight,
		TTLCutoffHeight: p.TTLCutoffHeight,
		Tx: mwtx.NewTransaction(mwtx.NewKernel(
			p.KernelFeatures, p.Fee, p.LockHeight,
		)),
	}

	log.Debugf("Created slate %v in state %v for amount %d", s.ID,
		s.State, s.Amount)

	return s, nil
}

// Copy returns a deep copy of the slate.
func (s *Slate) Copy() *Slate {
	c := *s
	c.Participants = append([]ParticipantData(nil), s.Participants...)
	c.Tx = s.Tx.Copy()

	return &c
}

// Participant returns the data of the participant with the given id.
func (s *Slate) Participant(id uint64) (*ParticipantData, bool) {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i], true
		}
	}

	return nil, false
}

// SetFee updates the fee of the slate and its kernel. Only the payer of an
// invoice does this, before contributing.
func (s *Slate) SetFee(fee uint64) error {
	if err := CheckAmount(s.Amount, fee); err != nil {
		return err
	}

	s.Fee = fee
	s.syncKernel()

	return nil
}

// CheckTTL returns ErrTTLExpired if the slate's TTL cutoff height has been
// reached at the given chain height.
func (s *Slate) CheckTTL(height uint64) error {
	return fn.MapOptionZ(s.TTLCutoffHeight, func(cutoff uint64) error {
		if height >= cutoff {
			return fmt.Errorf("%w: cutoff %d, height %d",
				ErrTTLExpired, cutoff, height)
		}

		return nil
	})
}

// KernelMessage returns the message signed by the participants.
func (s *Slate) KernelMessage() ([32]byte, error) {
	return mwtx.KernelMessage(s.KernelFeatures, s.Fee, s.LockHeight)
}

// syncKernel copies the kernel arguments of the slate onto the kernel of
// the transaction.
func (s *Slate) syncKernel() {
	if s.Tx == nil {
		s.Tx = mwtx.NewTransaction(mwtx.NewKernel(
			s.KernelFeatures, s.Fee, s.LockHeight,
		))
		return
	}

	kernel := s.Tx.Kernel()
	if kernel == nil {
		s.Tx.Body.Kernels = []mwtx.TxKernel{mwtx.NewKernel(
			s.KernelFeatures, s.Fee, s.LockHeight,
		)}
		return
	}

	kernel.Features = s.KernelFeatures
	kernel.Fee = s.Fee
	kernel.LockHeight = s.LockHeight
}

// addParticipant inserts the participant keeping the list ordered by id.
func (s *Slate) addParticipant(p ParticipantData) error {
	if p.ID >= uint64(s.NumParticipants) {
		return fmt.Errorf("%w: participant id %d out of range",
			ErrStateError, p.ID)
	}
	if _, ok := s.Participant(p.ID); ok {
		return fmt.Errorf("%w: participant %d already contributed",
			ErrStateError, p.ID)
	}

	s.Participants = append(s.Participants, p)
	sort.Slice(s.Participants, func(i, j int) bool {
		return s.Participants[i].ID < s.Participants[j].ID
	})

	return nil
}

// aggregateKeys returns the sums of the public excesses and nonces of all
// participants.
func (s *Slate) aggregateKeys() (*btcec.PublicKey, *btcec.PublicKey, error) {
	excesses := make([]*btcec.PublicKey, 0, len(s.Participants))
	nonces := make([]*btcec.PublicKey, 0, len(s.Participants))
	for _, p := range s.Participants {
		excesses = append(excesses, p.PublicBlindExcess)
		nonces = append(nonces, p.PublicNonce)
	}

	keySum, err := aggsig.SumPubKeys(excesses...)
	if err != nil {
		return nil, nil, err
	}
	nonceSum, err := aggsig.SumPubKeys(nonces...)
	if err != nil {
		return nil, nil, err
	}

	return keySum, nonceSum, nil
}

// Excess returns the aggregate public excess of the participants, which
// becomes the kernel excess.
func (s *Slate) Excess() (pedersen.Commitment, error) {
	keySum, _, err := s.aggregateKeys()
	if err != nil {
		return pedersen.Commitment{}, err
	}

	return pedersen.CommitmentFromPubKey(keySum), nil
}

// IsComplete returns true once every participant contributed.
func (s *Slate) IsComplete() bool {
	return len(s.Participants) == int(s.NumParticipants)
}
