package slateversions

import (
	"encoding/json"
	"fmt"

	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/wallet"
)

// coinbaseJSON is the wire shape of a coinbase. It's the same at every
// supported version.
type coinbaseJSON struct {
	Output outputLegacy   `json:"output"`
	Kernel kernelLegacy   `json:"kernel"`
	KeyID  keychain.KeyID `json:"key_id"`
}

// VersionedCoinbase is a coinbase tagged with the slate version of the
// miner asking for it.
type VersionedCoinbase struct {
	// Version is the slate version the coinbase is encoded for.
	Version Version

	// CbData is the coinbase itself.
	CbData *wallet.CbData
}

// NewVersionedCoinbase tags cb with version v.
func NewVersionedCoinbase(cb *wallet.CbData,
	v Version) (*VersionedCoinbase, error) {

	if !v.supported() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownVersion, v)
	}

	return &VersionedCoinbase{Version: v, CbData: cb}, nil
}

// MarshalJSON encodes the coinbase.
func (c VersionedCoinbase) MarshalJSON() ([]byte, error) {
	if !c.Version.supported() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownVersion, c.Version)
	}

	cb := c.CbData
	return json.Marshal(&coinbaseJSON{
		Output: outputLegacy{
			Features: cb.Output.Features.String(),
			Commit:   cb.Output.Commit.String(),
			Proof:    cb.Output.Proof.String(),
		},
		Kernel: kernelLegacy{
			Features:   cb.Kernel.Features.String(),
			Fee:        u64Str(cb.Kernel.Fee),
			LockHeight: u64Str(cb.Kernel.LockHeight),
			Excess:     commitHex(cb.Kernel.Excess),
			ExcessSig:  sigHex(cb.Kernel.ExcessSig),
		},
		KeyID: cb.KeyID,
	})
}

// UnmarshalJSON decodes a coinbase. The shape carries no version, so the
// current one is assumed.
func (c *VersionedCoinbase) UnmarshalJSON(b []byte) error {
	var raw coinbaseJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSlate, err)
	}

	var (
		cb  wallet.CbData
		err error
	)
	cb.Output.Features, err = mwtx.ParseOutputFeatures(raw.Output.Features)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSlate, err)
	}
	cb.Output.Commit, err = parseCommitHex(raw.Output.Commit)
	if err != nil || cb.Output.Commit.IsZero() {
		return fmt.Errorf("%w: output %q", ErrMalformedSlate,
			raw.Output.Commit)
	}
	var proof pedersen.Proof
	if err := proof.UnmarshalText([]byte(raw.Output.Proof)); err != nil {
		return fmt.Errorf("%w: proof: %v", ErrMalformedSlate, err)
	}
	cb.Output.Proof = proof

	features, err := mwtx.ParseKernelFeatures(raw.Kernel.Features)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSlate, err)
	}
	cb.Kernel = mwtx.NewKernel(
		features, uint64(raw.Kernel.Fee), uint64(raw.Kernel.LockHeight),
	)
	cb.Kernel.Excess, err = parseCommitHex(raw.Kernel.Excess)
	if err != nil {
		return fmt.Errorf("%w: excess: %v", ErrMalformedSlate, err)
	}
	cb.Kernel.ExcessSig, err = parseSigHex(raw.Kernel.ExcessSig)
	if err != nil {
		return fmt.Errorf("%w: excess signature: %v", ErrMalformedSlate,
			err)
	}
	cb.KeyID = raw.KeyID

	c.Version = CurrentVersion
	c.CbData = &cb

	return nil
}
