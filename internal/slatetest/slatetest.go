// Package slatetest builds slates at every negotiation step for tests.
package slatetest

import (
	"bytes"
	"crypto/ed25519"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
	"github.com/stretchr/testify/require"
)

// TestingT is satisfied by *testing.T as well as *rapid.T.
type TestingT interface {
	require.TestingT
	Helper()
}

// Party is one side of a test negotiation, backed by a deterministic key
// ring.
type Party struct {
	Ring *keychain.HDKeyRing
	next uint32
}

// NewParty creates a party whose seed is the given byte repeated.
func NewParty(t TestingT, seed byte) *Party {
	t.Helper()

	ring, err := keychain.NewHDKeyRing(
		bytes.Repeat([]byte{seed}, 32), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return &Party{Ring: ring}
}

// Element returns an element of the given value under a fresh key.
func (p *Party) Element(value uint64) slate.Element {
	p.next++

	return slate.Element{
		KeyID: keychain.KeyLocator{
			Family: keychain.KeyFamilyOutput,
			Index:  p.next,
		}.ID(),
		Value: value,
	}
}

// Output creates an output of the given value under the output key at
// account and index, the way the party's wallet would.
func (p *Party) Output(t TestingT, account, index uint32,
	value uint64) (mwtx.Output, keychain.KeyID) {

	t.Helper()

	loc := keychain.KeyLocator{
		Account: account,
		Family:  keychain.KeyFamilyOutput,
		Index:   index,
	}
	priv, err := p.Ring.DerivePrivKey(loc)
	require.NoError(t, err)

	commit, proof, err := pedersen.CreateProof(
		value, pedersen.BlindingFactorFromPrivKey(priv), loc.ID(),
	)
	require.NoError(t, err)

	return mwtx.Output{
		Features: mwtx.OutputPlain,
		Commit:   commit,
		Proof:    proof,
	}, loc.ID()
}

// Address returns the party's slatepack address at index.
func (p *Party) Address(t TestingT,
	index uint32) (address.Address, ed25519.PrivateKey) {

	t.Helper()

	addr, key, err := address.Derive(p.Ring, address.Mainnet, 0, index)
	require.NoError(t, err)

	return addr, key
}

// Flow holds a copy of a negotiation after every step.
type Flow struct {
	// Steps maps each state reached to a copy of the slate in it.
	Steps map[slate.State]*slate.Slate

	// PayerCtx and PayeeCtx are the secret contexts of both sides.
	PayerCtx, PayeeCtx *slate.Context
}

// FlowParams tunes the flows.
type FlowParams struct {
	// Amount and Fee of the slate.
	Amount, Fee uint64

	// InputValue is the value of the payer's single input. The change
	// is whatever remains after the amount and fee.
	InputValue uint64

	// Kernel carries the kernel features and lock height. Its other
	// fields are overwritten.
	Kernel slate.Params

	// PaymentProof requests a payment proof on standard flows.
	PaymentProof bool

	// TTL sets the TTL cutoff height.
	TTL fn.Option[uint64]

	// Message is attached by both participants.
	Message fn.Option[string]
}

// StandardFlow runs a send from payer to payee up to finalization.
func StandardFlow(t TestingT, payer, payee *Party, p FlowParams) *Flow {
	t.Helper()

	params := p.Kernel
	params.Amount = p.Amount
	params.Fee = p.Fee
	params.Height = 100
	params.TTLCutoffHeight = p.TTL

	s, err := slate.New(params)
	require.NoError(t, err)

	f := &Flow{Steps: make(map[slate.State]*slate.Slate)}

	var payeeKey ed25519.PrivateKey
	if p.PaymentProof {
		senderAddr, _ := payer.Address(t, address.DefaultIndex)
		var receiverAddr address.Address
		receiverAddr, payeeKey = payee.Address(t, address.DefaultIndex)
		require.NoError(t, s.RequestPaymentProof(
			senderAddr, receiverAddr,
		))
	}

	f.PayerCtx, err = slate.NewContext(s.ID, slate.SenderID, false)
	require.NoError(t, err)
	require.NoError(t, s.AddTransactionElements(
		payer.Ring, f.PayerCtx,
		[]slate.Element{payer.Element(p.InputValue)},
		[]slate.Element{payer.Element(p.InputValue - p.Amount - p.Fee)},
	))
	require.NoError(t, s.AddParticipantInfo(f.PayerCtx, p.Message))
	f.Steps[slate.Standard1] = s.Copy()

	f.PayeeCtx, err = slate.NewContext(s.ID, slate.ReceiverID, false)
	require.NoError(t, err)
	require.NoError(t, s.AddTransactionElements(
		payee.Ring, f.PayeeCtx, nil,
		[]slate.Element{payee.Element(p.Amount)},
	))
	require.NoError(t, s.AddParticipantInfo(f.PayeeCtx, p.Message))
	if payeeKey != nil {
		require.NoError(t, s.SignPaymentProof(payeeKey))
	}
	f.Steps[slate.Standard2] = s.Copy()

	require.NoError(t, s.Finalize(f.PayerCtx))
	f.Steps[slate.Standard3] = s.Copy()

	return f
}

// InvoiceFlow runs an invoice issued by payee and paid by payer up to
// finalization.
func InvoiceFlow(t TestingT, payee, payer *Party, p FlowParams) *Flow {
	t.Helper()

	params := p.Kernel
	params.Amount = p.Amount
	params.Height = 100
	params.TTLCutoffHeight = p.TTL
	params.Invoice = true

	s, err := slate.New(params)
	require.NoError(t, err)

	f := &Flow{Steps: make(map[slate.State]*slate.Slate)}

	f.PayeeCtx, err = slate.NewContext(s.ID, slate.ReceiverID, true)
	require.NoError(t, err)
	require.NoError(t, s.AddTransactionElements(
		payee.Ring, f.PayeeCtx, nil,
		[]slate.Element{payee.Element(p.Amount)},
	))
	require.NoError(t, s.AddParticipantInfo(f.PayeeCtx, p.Message))
	f.Steps[slate.Invoice1] = s.Copy()

	require.NoError(t, s.SetFee(p.Fee))
	f.PayerCtx, err = slate.NewContext(s.ID, slate.SenderID, true)
	require.NoError(t, err)
	require.NoError(t, s.AddTransactionElements(
		payer.Ring, f.PayerCtx,
		[]slate.Element{payer.Element(p.InputValue)},
		[]slate.Element{payer.Element(p.InputValue - p.Amount - p.Fee)},
	))
	require.NoError(t, s.AddParticipantInfo(f.PayerCtx, p.Message))
	f.Steps[slate.Invoice2] = s.Copy()

	require.NoError(t, s.Finalize(f.PayeeCtx))
	f.Steps[slate.Invoice3] = s.Copy()

	return f
}
