package slate

import (
	"fmt"

	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
)

// Element is an input to spend or an output to create, identified by the
// key of its blinding factor.
type Element struct {
	// KeyID locates the blinding factor.
	KeyID keychain.KeyID

	// Value is the committed amount.
	Value uint64

	// Features are the output features. Only inputs can be coinbase.
	Features mwtx.OutputFeatures
}

// deriveBlind returns the blinding factor located by id.
func deriveBlind(ring keychain.SecretKeyRing,
	id keychain.KeyID) (pedersen.BlindingFactor, error) {

	loc, err := id.Locator()
	if err != nil {
		return pedersen.BlindingFactor{}, err
	}

	priv, err := ring.DerivePrivKey(loc)
	if err != nil {
		return pedersen.BlindingFactor{}, err
	}

	return pedersen.BlindingFactorFromPrivKey(priv), nil
}

// AddTransactionElements adds the local participant's inputs and outputs to
// the transaction and sets the secret excess of the context accordingly. The
// payer also picks the kernel offset and subtracts it from its excess.
//
// The transition table is consulted before any key is derived, and the slate
// is only modified once every element was built.
func (s *Slate) AddTransactionElements(ring keychain.SecretKeyRing,
	ctx *Context, inputs, outputs []Element) error {

	if ctx.SlateID != s.ID {
		return ErrContextMismatch
	}
	if _, err := nextState(s.State, OpAddInfo, ctx.Role()); err != nil {
		return err
	}
	if _, ok := s.Participant(ctx.ParticipantID); ok {
		return fmt.Errorf("%w: participant %d already contributed",
			ErrStateError, ctx.ParticipantID)
	}
	if len(inputs) == 0 && len(outputs) == 0 {
		return fmt.Errorf("no transaction elements")
	}

	tx := s.Tx.Copy()
	var (
		blinds     pedersen.BlindSum
		inputRefs  []OutputRef
		outputRefs []OutputRef
	)

	for _, in := range inputs {
		blind, err := deriveBlind(ring, in.KeyID)
		if err != nil {
			return fmt.Errorf("input %v: %w", in.KeyID, err)
		}

		commit, err := pedersen.Commit(in.Value, blind)
		if err != nil {
			return err
		}
		if tx.HasInput(commit) {
			return fmt.Errorf("input %v already spent by the "+
				"slate", commit)
		}

		tx.AddInput(in.Features, commit)
		blinds.AddNegative(blind)
		inputRefs = append(inputRefs, OutputRef{
			KeyID:  in.KeyID,
			Value:  in.Value,
			Commit: commit,
		})
	}

	for _, out := range outputs {
		blind, err := deriveBlind(ring, out.KeyID)
		if err != nil {
			return fmt.Errorf("output %v: %w", out.KeyID, err)
		}

		commit, proof, err := pedersen.CreateProof(
			out.Value, blind, out.KeyID,
		)
		if err != nil {
			return err
		}

		tx.AddOutput(mwtx.Output{
			Features: mwtx.OutputPlain,
			Commit:   commit,
			Proof:    proof,
		})
		blinds.AddPositive(blind)
		outputRefs = append(outputRefs, OutputRef{
			KeyID:  out.KeyID,
			Value:  out.Value,
			Commit: commit,
		})
	}

	if ctx.Role() == RoleSender {
		offset, err := pedersen.RandomBlindingFactor()
		if err != nil {
			return err
		}
		tx.Offset = offset
		blinds.AddNegative(offset)
	}

	secKey, err := blinds.Sum()
	if err != nil {
		return err
	}
	if secKey.IsZero() {
		return fmt.Errorf("%w: participant excess is zero",
			pedersen.ErrZeroBlindingFactor)
	}

	s.Tx = tx
	ctx.SecKey = secKey
	ctx.Inputs = append(ctx.Inputs, inputRefs...)
	ctx.Outputs = append(ctx.Outputs, outputRefs...)
	ctx.Amount = s.Amount
	ctx.Fee = s.Fee
	ctx.KernelFeatures = s.KernelFeatures
	ctx.LockHeight = s.LockHeight

	log.Tracef("Slate %v: participant %d added %d inputs and %d outputs",
		s.ID, ctx.ParticipantID, len(inputs), len(outputs))

	return nil
}
