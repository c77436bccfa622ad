package mwtx

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/pedersen"
	"golang.org/x/crypto/blake2b"
)

// NRDMaxRelativeHeight is the largest relative lock height of a no recent
// duplicate kernel, one week of blocks.
const NRDMaxRelativeHeight = 7 * 24 * 60

var (
	// ErrInvalidKernel is returned when a kernel is malformed or its
	// signature doesn't verify.
	ErrInvalidKernel = errors.New("invalid kernel")

	// ErrUnknownFeatures is returned for feature bytes this package doesn't
	// know about.
	ErrUnknownFeatures = errors.New("unknown features")
)

// KernelFeatures selects the kind of kernel and which extra fields are
// committed to by its signature.
type KernelFeatures uint8

const (
	// KernelPlain is a regular kernel carrying a fee.
	KernelPlain KernelFeatures = 0

	// KernelCoinbase is the kernel of a coinbase output. It carries no
	// fee.
	KernelCoinbase KernelFeatures = 1

	// KernelHeightLocked is a kernel that can't be included in a block
	// below its lock height.
	KernelHeightLocked KernelFeatures = 2

	// KernelNoRecentDuplicate is a kernel that can't be included if a
	// kernel with the same excess was included within its relative
	// height.
	KernelNoRecentDuplicate KernelFeatures = 3
)

// String returns the canonical name of the features.
func (f KernelFeatures) String() string {
	switch f {
	case KernelPlain:
		return "Plain"
	case KernelCoinbase:
		return "Coinbase"
	case KernelHeightLocked:
		return "HeightLocked"
	case KernelNoRecentDuplicate:
		return "NoRecentDuplicate"
	default:
		return fmt.Sprintf("KernelFeatures(%d)", uint8(f))
	}
}

// ParseKernelFeatures maps a canonical name back onto the features.
func ParseKernelFeatures(s string) (KernelFeatures, error) {
	for f := KernelPlain; f <= KernelNoRecentDuplicate; f++ {
		if f.String() == s {
			return f, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownFeatures, s)
}

// TxKernel is the signed summary of a transaction.
type TxKernel struct {
	// Features selects the kernel variant.
	Features KernelFeatures `json:"features"`

	// Fee is the fee paid by the transaction. Zero for coinbase kernels.
	Fee uint64 `json:"fee"`

	// LockHeight is the absolute lock height of height locked kernels or
	// the relative height of NRD kernels. Zero otherwise.
	LockHeight uint64 `json:"lock_height"`

	// Excess is the public excess of the transaction, the sum of the
	// participants' public blinding factors.
	Excess pedersen.Commitment `json:"excess"`

	// ExcessSig is the aggregate signature of the kernel message under
	// Excess.
	ExcessSig aggsig.Signature `json:"excess_sig"`
}

// NewKernel returns an unsigned kernel with the given features.
func NewKernel(features KernelFeatures, fee, lockHeight uint64) TxKernel {
	return TxKernel{
		Features:   features,
		Fee:        fee,
		LockHeight: lockHeight,
	}
}

// Message returns the message signed by the kernel's excess.
func (k *TxKernel) Message() ([32]byte, error) {
	return KernelMessage(k.Features, k.Fee, k.LockHeight)
}

// KernelMessage computes the signature message committing to the kernel
// features and their arguments.
func KernelMessage(features KernelFeatures, fee,
	lockHeight uint64) ([32]byte, error) {

	buf := make([]byte, 0, 1+8+8)
	buf = append(buf, byte(features))

	switch features {
	case KernelPlain:
		buf = binary.BigEndian.AppendUint64(buf, fee)

	case KernelCoinbase:

	case KernelHeightLocked:
		buf = binary.BigEndian.AppendUint64(buf, fee)
		buf = binary.BigEndian.AppendUint64(buf, lockHeight)

	case KernelNoRecentDuplicate:
		if lockHeight == 0 || lockHeight > NRDMaxRelativeHeight {
			return [32]byte{}, fmt.Errorf("%w: NRD relative "+
				"height %d out of range", ErrInvalidKernel,
				lockHeight)
		}
		buf = binary.BigEndian.AppendUint64(buf, fee)
		buf = binary.BigEndian.AppendUint16(buf, uint16(lockHeight))

	default:
		return [32]byte{}, fmt.Errorf("%w: kernel %d",
			ErrUnknownFeatures, features)
	}

	return blake2b.Sum256(buf), nil
}

// Verify checks the kernel signature against its excess.
func (k *TxKernel) Verify() error {
	msg, err := k.Message()
	if err != nil {
		return err
	}

	pub, err := k.Excess.PubKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKernel, err)
	}

	if err := aggsig.Verify(k.ExcessSig, pub, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKernel, err)
	}

	return nil
}
