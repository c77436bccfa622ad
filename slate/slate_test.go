package slate

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/stretchr/testify/require"
)

// party is one side of a test negotiation.
type party struct {
	ring *keychain.HDKeyRing
	next uint32
}

func newParty(t *testing.T, seed byte) *party {
	ring, err := keychain.NewHDKeyRing(
		bytes.Repeat([]byte{seed}, 32), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return &party{ring: ring}
}

func (p *party) element(value uint64) Element {
	p.next++
	return Element{
		KeyID: keychain.KeyLocator{
			Family: keychain.KeyFamilyOutput,
			Index:  p.next,
		}.ID(),
		Value: value,
	}
}

// standardFlow runs a send of amount with the given fee from a single input
// of inputValue, stopping once the receiver contributed.
func standardFlow(t *testing.T, sender, receiver *party, inputValue, amount,
	fee uint64) (*Slate, *Context, *Context) {

	s, err := New(Params{Amount: amount, Fee: fee, Height: 100})
	require.NoError(t, err)
	require.Equal(t, Standard1, s.State)

	senderCtx, err := NewContext(s.ID, SenderID, false)
	require.NoError(t, err)
	err = s.AddTransactionElements(
		sender.ring, senderCtx,
		[]Element{sender.element(inputValue)},
		[]Element{sender.element(inputValue - amount - fee)},
	)
	require.NoError(t, err)
	require.NoError(t, s.AddParticipantInfo(senderCtx, fn.None[string]()))
	require.Equal(t, Standard1, s.State)

	receiverCtx, err := NewContext(s.ID, ReceiverID, false)
	require.NoError(t, err)
	err = s.AddTransactionElements(
		receiver.ring, receiverCtx, nil,
		[]Element{receiver.element(amount)},
	)
	require.NoError(t, err)
	require.NoError(t, s.AddParticipantInfo(
		receiverCtx, fn.Some("thanks"),
	))
	require.Equal(t, Standard2, s.State)

	return s, senderCtx, receiverCtx
}

// TestStandardFlow covers the send scenario: a 10 unit input pays 6 units
// with a fee of 1, leaving 3 units of change.
func TestStandardFlow(t *testing.T) {
	t.Parallel()

	sender, receiver := newParty(t, 0x01), newParty(t, 0x02)
	s, senderCtx, receiverCtx := standardFlow(t, sender, receiver, 10, 6, 1)

	rp, ok := s.Participant(ReceiverID)
	require.True(t, ok)
	require.True(t, rp.IsComplete())
	sp, ok := s.Participant(SenderID)
	require.True(t, ok)
	require.False(t, sp.IsComplete())

	require.NoError(t, s.Finalize(senderCtx))
	require.Equal(t, Standard3, s.State)
	require.NoError(t, s.VerifyFinal())

	kernel := s.Tx.Kernel()
	require.NoError(t, kernel.Verify())
	require.EqualValues(t, 1, kernel.Fee)

	excess, err := s.Excess()
	require.NoError(t, err)
	require.Equal(t, excess, kernel.Excess)

	// outputs - inputs equals the negative fee.
	var in, out uint64
	for _, ref := range senderCtx.Inputs {
		in += ref.Value
	}
	for _, ref := range append(senderCtx.Outputs, receiverCtx.Outputs...) {
		out += ref.Value
	}
	require.EqualValues(t, 10, in)
	require.EqualValues(t, 9, out)
	require.Len(t, s.Tx.Body.Inputs, 1)
	require.Len(t, s.Tx.Body.Outputs, 2)

	// A finalized slate accepts no further operation.
	require.ErrorIs(t, s.Finalize(senderCtx), ErrStateError)
	require.ErrorIs(t, s.Cancel(), ErrStateError)
}

// TestInvoiceFlow covers the invoice scenario with roles reversed.
func TestInvoiceFlow(t *testing.T) {
	t.Parallel()

	issuer, payer := newParty(t, 0x03), newParty(t, 0x04)

	s, err := New(Params{Amount: 50, Invoice: true})
	require.NoError(t, err)
	require.Equal(t, Invoice1, s.State)

	issuerCtx, err := NewContext(s.ID, ReceiverID, true)
	require.NoError(t, err)
	require.NoError(t, s.AddTransactionElements(
		issuer.ring, issuerCtx, nil, []Element{issuer.element(50)},
	))
	require.NoError(t, s.AddParticipantInfo(issuerCtx, fn.None[string]()))
	require.Equal(t, Invoice1, s.State)

	// The payer sets the fee before contributing.
	require.NoError(t, s.SetFee(2))

	payerCtx, err := NewContext(s.ID, SenderID, true)
	require.NoError(t, err)
	require.NoError(t, s.AddTransactionElements(
		payer.ring, payerCtx,
		[]Element{payer.element(40), payer.element(30)},
		[]Element{payer.element(18)},
	))
	require.NoError(t, s.AddParticipantInfo(payerCtx, fn.None[string]()))
	require.Equal(t, Invoice2, s.State)

	// Only the issuer finalizes an invoice.
	require.ErrorIs(t, s.Finalize(payerCtx), ErrStateError)

	require.NoError(t, s.Finalize(issuerCtx))
	require.Equal(t, Invoice3, s.State)
	require.NoError(t, s.VerifyFinal())
}

// TestCancelledSlate ensures a cancelled slate rejects every mutation.
func TestCancelledSlate(t *testing.T) {
	t.Parallel()

	sender, receiver := newParty(t, 0x05), newParty(t, 0x06)

	s, err := New(Params{Amount: 6, Fee: 1})
	require.NoError(t, err)

	senderCtx, err := NewContext(s.ID, SenderID, false)
	require.NoError(t, err)
	require.NoError(t, s.AddTransactionElements(
		sender.ring, senderCtx, []Element{sender.element(10)},
		[]Element{sender.element(3)},
	))
	require.NoError(t, s.AddParticipantInfo(senderCtx, fn.None[string]()))

	require.NoError(t, s.Cancel())
	require.Equal(t, Cancelled, s.State)

	receiverCtx, err := NewContext(s.ID, ReceiverID, false)
	require.NoError(t, err)
	err = s.AddTransactionElements(
		receiver.ring, receiverCtx, nil, []Element{receiver.element(6)},
	)
	require.ErrorIs(t, err, ErrStateError)
	require.ErrorIs(
		t, s.AddParticipantInfo(receiverCtx, fn.None[string]()),
		ErrStateError,
	)
	require.ErrorIs(t, s.Finalize(senderCtx), ErrStateError)
	require.ErrorIs(t, s.Cancel(), ErrStateError)
}

// TestFinalizeMismatchedNonce ensures a partial signature made against the
// wrong aggregate nonce fails finalization and leaves the slate untouched.
func TestFinalizeMismatchedNonce(t *testing.T) {
	t.Parallel()

	sender, receiver := newParty(t, 0x07), newParty(t, 0x08)
	s, senderCtx, receiverCtx := standardFlow(t, sender, receiver, 10, 6, 1)

	secKey, err := receiverCtx.SecKey.PrivKey()
	require.NoError(t, err)
	secNonce, err := receiverCtx.SecNonce.PrivKey()
	require.NoError(t, err)
	stray, err := aggsig.NewSecretNonce()
	require.NoError(t, err)

	sp, _ := s.Participant(SenderID)
	rp, _ := s.Participant(ReceiverID)
	keySum, err := aggsig.SumPubKeys(
		sp.PublicBlindExcess, rp.PublicBlindExcess,
	)
	require.NoError(t, err)
	wrongNonceSum, err := aggsig.SumPubKeys(
		stray.PubKey(), rp.PublicNonce,
	)
	require.NoError(t, err)

	msg, err := s.KernelMessage()
	require.NoError(t, err)
	badSig, err := aggsig.SignPartial(
		secKey, secNonce, wrongNonceSum, keySum, msg,
	)
	require.NoError(t, err)
	rp.PartSig = fn.Some(badSig)

	before := s.Copy()
	require.ErrorIs(t, s.Finalize(senderCtx), ErrInvalidSignature)
	require.Equal(t, Standard2, s.State)
	require.Equal(t, before, s)
}

// TestFinalizeTamperedPartial ensures a corrupted partial signature under
// the right nonce is caught as well.
func TestFinalizeTamperedPartial(t *testing.T) {
	t.Parallel()

	sender, receiver := newParty(t, 0x09), newParty(t, 0x0a)
	s, senderCtx, _ := standardFlow(t, sender, receiver, 20, 5, 2)

	rp, _ := s.Participant(ReceiverID)
	sig := rp.PartSig.UnsafeFromSome()
	sig[63] ^= 0x01
	rp.PartSig = fn.Some(sig)

	require.ErrorIs(t, s.Finalize(senderCtx), ErrInvalidSignature)
	require.Equal(t, Standard2, s.State)
}

// TestMessages checks that participant messages are signed and verified.
func TestMessages(t *testing.T) {
	t.Parallel()

	sender, receiver := newParty(t, 0x0b), newParty(t, 0x0c)
	s, senderCtx, _ := standardFlow(t, sender, receiver, 10, 6, 1)

	require.NoError(t, s.VerifyMessages())

	rp, _ := s.Participant(ReceiverID)
	rp.Message = fn.Some("forged")
	require.ErrorIs(t, s.VerifyMessages(), ErrInvalidSignature)
	require.ErrorIs(t, s.Finalize(senderCtx), ErrInvalidSignature)
}

// TestPaymentProof runs a send with a payment proof request.
func TestPaymentProof(t *testing.T) {
	t.Parallel()

	sender, receiver := newParty(t, 0x0d), newParty(t, 0x0e)

	senderAddr, _, err := address.Derive(
		sender.ring, address.Mainnet, 0, address.DefaultIndex,
	)
	require.NoError(t, err)
	receiverAddr, receiverKey, err := address.Derive(
		receiver.ring, address.Mainnet, 0, address.DefaultIndex,
	)
	require.NoError(t, err)
	_, strangerKey, err := address.Derive(
		sender.ring, address.Mainnet, 0, address.DefaultIndex+1,
	)
	require.NoError(t, err)

	s, err := New(Params{Amount: 6, Fee: 1})
	require.NoError(t, err)
	require.NoError(t, s.RequestPaymentProof(senderAddr, receiverAddr))

	senderCtx, err := NewContext(s.ID, SenderID, false)
	require.NoError(t, err)
	require.NoError(t, s.AddTransactionElements(
		sender.ring, senderCtx, []Element{sender.element(10)},
		[]Element{sender.element(3)},
	))
	require.NoError(t, s.AddParticipantInfo(senderCtx, fn.None[string]()))

	receiverCtx, err := NewContext(s.ID, ReceiverID, false)
	require.NoError(t, err)
	require.NoError(t, s.AddTransactionElements(
		receiver.ring, receiverCtx, nil, []Element{receiver.element(6)},
	))
	require.NoError(t, s.AddParticipantInfo(
		receiverCtx, fn.None[string](),
	))

	// Without the receiver signature finalization fails.
	require.ErrorIs(t, s.Finalize(senderCtx), ErrInvalidPaymentProof)
	require.ErrorIs(t, s.Finalize(senderCtx), ErrInvalidSignature)

	require.ErrorIs(
		t, s.SignPaymentProof(strangerKey), ErrPaymentProofAddress,
	)
	require.NoError(t, s.SignPaymentProof(receiverKey))

	require.NoError(t, s.Finalize(senderCtx))

	proof := s.PaymentProof.UnsafeFromSome()
	require.NoError(t, VerifyPaymentProof(
		proof, s.Amount, s.Tx.Kernel().Excess,
	))
	require.ErrorIs(t, VerifyPaymentProof(
		proof, s.Amount+1, s.Tx.Kernel().Excess,
	), ErrInvalidPaymentProof)
}

// TestTransitionTable walks every state and operation and checks the table
// against the expected flow.
func TestTransitionTable(t *testing.T) {
	t.Parallel()

	type step struct {
		from State
		op   Op
		role Role
		to   State
		ok   bool
	}
	steps := []step{
		{Standard1, OpAddInfo, RoleSender, Standard1, true},
		{Standard1, OpAddInfo, RoleReceiver, Standard2, true},
		{Standard1, OpFinalize, RoleSender, 0, false},
		{Standard2, OpAddInfo, RoleReceiver, 0, false},
		{Standard2, OpFinalize, RoleReceiver, 0, false},
		{Standard2, OpFinalize, RoleSender, Standard3, true},
		{Invoice1, OpAddInfo, RoleReceiver, Invoice1, true},
		{Invoice1, OpAddInfo, RoleSender, Invoice2, true},
		{Invoice2, OpFinalize, RoleSender, 0, false},
		{Invoice2, OpFinalize, RoleReceiver, Invoice3, true},
		{Standard1, OpCancel, RoleSender, Cancelled, true},
		{Invoice2, OpCancel, RoleReceiver, Cancelled, true},
		{Standard3, OpCancel, RoleSender, 0, false},
		{Invoice3, OpAddInfo, RoleSender, 0, false},
		{Cancelled, OpCancel, RoleSender, 0, false},
		{Cancelled, OpAddInfo, RoleReceiver, 0, false},
		{StateUnknown, OpAddInfo, RoleSender, 0, false},
	}

	for _, st := range steps {
		to, err := nextState(st.from, st.op, st.role)
		if !st.ok {
			require.ErrorIs(t, err, ErrStateError, "%v %v %v",
				st.from, st.op, st.role)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, st.to, to)
	}

	for s := range stateNames {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
}

// TestNewSlateErrors checks amount and participant validation.
func TestNewSlateErrors(t *testing.T) {
	t.Parallel()

	_, err := New(Params{Amount: 0, Fee: 1})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = New(Params{Amount: ^uint64(0), Fee: 1})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = New(Params{Amount: 1, NumParticipants: 1})
	require.ErrorIs(t, err, ErrStateError)

	_, err = New(Params{
		Amount:         1,
		KernelFeatures: mwtx.KernelNoRecentDuplicate,
	})
	require.ErrorIs(t, err, mwtx.ErrInvalidKernel)

	s, err := New(Params{
		Amount:          1,
		TTLCutoffHeight: fn.Some[uint64](200),
	})
	require.NoError(t, err)
	require.NoError(t, s.CheckTTL(199))
	require.ErrorIs(t, s.CheckTTL(200), ErrTTLExpired)
}

// TestDuplicateContribution ensures a participant can't contribute twice and
// that foreign contexts are rejected.
func TestDuplicateContribution(t *testing.T) {
	t.Parallel()

	sender := newParty(t, 0x0f)

	s, err := New(Params{Amount: 6, Fee: 1})
	require.NoError(t, err)

	ctx, err := NewContext(s.ID, SenderID, false)
	require.NoError(t, err)
	require.NoError(t, s.AddTransactionElements(
		sender.ring, ctx, []Element{sender.element(10)},
		[]Element{sender.element(3)},
	))
	require.NoError(t, s.AddParticipantInfo(ctx, fn.None[string]()))
	require.ErrorIs(
		t, s.AddParticipantInfo(ctx, fn.None[string]()), ErrStateError,
	)

	other, err := New(Params{Amount: 6, Fee: 1})
	require.NoError(t, err)
	require.ErrorIs(
		t, other.AddParticipantInfo(ctx, fn.None[string]()),
		ErrContextMismatch,
	)

	ctx.Zero()
	require.True(t, ctx.SecKey.IsZero())
	require.True(t, ctx.SecNonce.IsZero())
}

// TestMultiParty runs a three participant send where two receivers each add
// an output.
func TestMultiParty(t *testing.T) {
	t.Parallel()

	parties := []*party{
		newParty(t, 0x10), newParty(t, 0x11), newParty(t, 0x12),
	}

	s, err := New(Params{Amount: 8, Fee: 1, NumParticipants: 3})
	require.NoError(t, err)

	ctxs := make([]*Context, 3)
	for i, p := range parties {
		ctxs[i], err = NewContext(s.ID, uint64(i), false)
		require.NoError(t, err)

		var inputs, outputs []Element
		if i == 0 {
			inputs = []Element{p.element(12)}
			outputs = []Element{p.element(3)}
		} else {
			outputs = []Element{p.element(4)}
		}
		require.NoError(t, s.AddTransactionElements(
			p.ring, ctxs[i], inputs, outputs,
		))
		require.NoError(t, s.AddParticipantInfo(
			ctxs[i], fn.None[string](),
		))

		if i < 2 {
			require.Equal(t, Standard1, s.State)
		}
	}
	require.Equal(t, Standard2, s.State)

	// Receiver 1 contributed before every nonce was known and still has
	// to sign. Finalizing without its partial fails.
	require.ErrorIs(t, s.Finalize(ctxs[0]), ErrIncompleteSlate)
	require.NoError(t, s.AddPartialSignature(ctxs[1]))

	require.NoError(t, s.Finalize(ctxs[0]))
	require.Equal(t, Standard3, s.State)
	require.NoError(t, s.VerifyFinal())
}

// TestOutOfTurnContribution ensures the counterparty can't add its data
// before the participant opening the flow did, in either flow.
func TestOutOfTurnContribution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		invoice bool
		early   uint64
	}{
		{name: "standard receiver first", early: ReceiverID},
		{name: "invoice payer first", invoice: true, early: SenderID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := newParty(t, 0x20)
			s, err := New(Params{
				Amount: 5, Fee: 1, Invoice: tc.invoice,
			})
			require.NoError(t, err)
			state := s.State

			ctx, err := NewContext(s.ID, tc.early, tc.invoice)
			require.NoError(t, err)
			require.NoError(t, s.AddTransactionElements(
				p.ring, ctx, nil, []Element{p.element(5)},
			))

			require.ErrorIs(t, s.CheckTurn(RoleOf(tc.early)),
				ErrStateError)
			require.ErrorIs(
				t, s.AddParticipantInfo(ctx, fn.None[string]()),
				ErrStateError,
			)
			require.Equal(t, state, s.State)
			require.Empty(t, s.Participants)
		})
	}
}
