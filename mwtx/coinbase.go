package mwtx

import (
	"fmt"

	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/pedersen"
)

// NewCoinbase builds the coinbase output paying value under blind and the
// kernel authorizing it. The kernel excess is the output commitment minus
// value*H, which leaves blind*G.
func NewCoinbase(value uint64, blind pedersen.BlindingFactor,
	keyID keychain.KeyID) (*Output, *TxKernel, error) {

	commit, proof, err := pedersen.CreateProof(value, blind, keyID)
	if err != nil {
		return nil, nil, err
	}

	priv, err := blind.PrivKey()
	if err != nil {
		return nil, nil, err
	}

	kernel := NewKernel(KernelCoinbase, 0, 0)
	msg, err := kernel.Message()
	if err != nil {
		return nil, nil, err
	}
	kernel.Excess = pedersen.CommitmentFromPubKey(priv.PubKey())
	kernel.ExcessSig, err = aggsig.SignSingle(priv, msg)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to sign coinbase kernel: %w",
			err)
	}

	out := &Output{
		Features: OutputCoinbase,
		Commit:   commit,
		Proof:    proof,
	}

	return out, &kernel, nil
}

// VerifyCoinbase checks that the kernel and output form a valid coinbase
// minting exactly value.
func VerifyCoinbase(out *Output, kernel *TxKernel, value uint64) error {
	if out.Features != OutputCoinbase || kernel.Features != KernelCoinbase {
		return fmt.Errorf("%w: not a coinbase", ErrInvalidKernel)
	}
	if err := out.Proof.Verify(out.Commit); err != nil {
		return fmt.Errorf("%w %v: %v", ErrInvalidOutput, out.Commit,
			err)
	}
	if err := kernel.Verify(); err != nil {
		return err
	}

	minted, err := pedersen.CommitValue(value)
	if err != nil {
		return err
	}
	ok, err := pedersen.Balanced(
		[]pedersen.Commitment{out.Commit},
		[]pedersen.Commitment{minted, kernel.Excess},
	)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnbalanced
	}

	return nil
}
