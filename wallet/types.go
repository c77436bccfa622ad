package wallet

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
)

const (
	// CoinbaseMaturity is the number of blocks a coinbase output stays
	// unspendable.
	CoinbaseMaturity = 1440

	// BlockReward is the amount minted by every block, excluding fees.
	BlockReward uint64 = 60_000_000_000
)

// Reward returns the value of the coinbase output of a block collecting
// fees.
func Reward(fees uint64) (uint64, error) {
	if fees > math.MaxUint64-BlockReward {
		return 0, fmt.Errorf("%w: fees %d overflow the reward",
			slate.ErrInvalidAmount, fees)
	}

	return BlockReward + fees, nil
}

// BlockFees is what a miner asks the wallet for when building the coinbase
// of a block.
type BlockFees struct {
	// Fees is the sum of the fees of the block's transactions.
	Fees uint64

	// Height is the height of the block being mined.
	Height uint64

	// KeyID selects the key of the coinbase output. A fresh key is
	// derived when it's unset.
	KeyID fn.Option[keychain.KeyID]
}

// CbData is the coinbase output and kernel built for a block.
type CbData struct {
	// Output is the coinbase output paying the reward.
	Output mwtx.Output

	// Kernel is the signed coinbase kernel.
	Kernel mwtx.TxKernel

	// KeyID is the key the output was built with.
	KeyID keychain.KeyID
}

// OutputStatus is the life cycle state of a wallet output.
type OutputStatus uint8

const (
	// Unconfirmed outputs were created by a transaction not yet seen on
	// chain.
	Unconfirmed OutputStatus = iota

	// Unspent outputs are confirmed and spendable.
	Unspent

	// Locked outputs are selected as inputs of a pending transaction.
	Locked

	// Spent outputs were consumed by a confirmed transaction.
	Spent

	// Reverted outputs were confirmed once and then dropped by a reorg.
	Reverted
)

// String returns the name of the status.
func (s OutputStatus) String() string {
	switch s {
	case Unconfirmed:
		return "Unconfirmed"
	case Unspent:
		return "Unspent"
	case Locked:
		return "Locked"
	case Spent:
		return "Spent"
	case Reverted:
		return "Reverted"
	default:
		return fmt.Sprintf("OutputStatus(%d)", uint8(s))
	}
}

// OutputData is a wallet owned output together with the information needed
// to spend it.
type OutputData struct {
	// KeyID locates the blinding factor of the commitment.
	KeyID keychain.KeyID

	// Commit is the output commitment.
	Commit pedersen.Commitment

	// Value is the committed amount.
	Value uint64

	// Status is the life cycle state of the output.
	Status OutputStatus

	// Height is the height the output was confirmed at, or the chain tip
	// when it was created if it's unconfirmed.
	Height uint64

	// LockHeight is the height from which the output is spendable.
	// Coinbase outputs mature after a delay.
	LockHeight uint64

	// IsCoinbase marks coinbase outputs.
	IsCoinbase bool

	// TxLogID links the output to the transaction that created it. Once
	// locked, it points at the transaction spending it instead.
	TxLogID fn.Option[uint32]

	// MMRIndex is the position of the output in the output PMMR once
	// confirmed.
	MMRIndex fn.Option[uint64]
}

// IsSpendable returns true if the output can be selected as an input at the
// given height.
func (o *OutputData) IsSpendable(height uint64) bool {
	return o.Status == Unspent && o.LockHeight <= height
}

// TxLogEntryType is the kind of a transaction log entry.
type TxLogEntryType uint8

const (
	// ConfirmedCoinbase is a mined coinbase output.
	ConfirmedCoinbase TxLogEntryType = iota

	// TxReceived is a received transaction.
	TxReceived

	// TxSent is a sent transaction.
	TxSent

	// TxReceivedCancelled is a received transaction that was cancelled.
	TxReceivedCancelled

	// TxSentCancelled is a sent transaction that was cancelled.
	TxSentCancelled

	// TxReverted is a received transaction dropped by a reorg.
	TxReverted
)

// String returns the name of the entry type.
func (t TxLogEntryType) String() string {
	switch t {
	case ConfirmedCoinbase:
		return "ConfirmedCoinbase"
	case TxReceived:
		return "TxReceived"
	case TxSent:
		return "TxSent"
	case TxReceivedCancelled:
		return "TxReceivedCancelled"
	case TxSentCancelled:
		return "TxSentCancelled"
	case TxReverted:
		return "TxReverted"
	default:
		return fmt.Sprintf("TxLogEntryType(%d)", uint8(t))
	}
}

// Cancelled returns the type an entry of type t gets once cancelled.
func (t TxLogEntryType) Cancelled() TxLogEntryType {
	switch t {
	case TxSent:
		return TxSentCancelled
	case TxReceived:
		return TxReceivedCancelled
	default:
		return t
	}
}

// StoredProofInfo is the payment proof kept by the sender of a transaction
// until the receiver's signature arrives.
type StoredProofInfo struct {
	// Proof is the proof as carried by the slate.
	Proof slate.PaymentProof

	// SenderAddressIndex is the derivation index of the sender address.
	SenderAddressIndex uint32
}

// TxLogEntry records a transaction the wallet took part in.
type TxLogEntry struct {
	// ID is the local identifier of the entry.
	ID uint32

	// SlateID is the id of the negotiation, if any.
	SlateID fn.Option[uuid.UUID]

	// Type is the kind of the entry.
	Type TxLogEntryType

	// CreationTime is when the entry was created.
	CreationTime time.Time

	// ConfirmationTime is when the transaction was seen confirmed.
	ConfirmationTime fn.Option[time.Time]

	// Confirmed is true once the transaction is on chain.
	Confirmed bool

	// NumInputs and NumOutputs count the wallet's own elements.
	NumInputs, NumOutputs int

	// AmountCredited is the value of the wallet's new outputs.
	AmountCredited uint64

	// AmountDebited is the value of the wallet's spent inputs.
	AmountDebited uint64

	// Fee is the fee paid by the transaction, when known.
	Fee fn.Option[uint64]

	// TTLCutoffHeight is the TTL of the slate.
	TTLCutoffHeight fn.Option[uint64]

	// KernelExcess is the kernel excess once finalized.
	KernelExcess fn.Option[pedersen.Commitment]

	// KernelLookupMinHeight bounds kernel lookups from below.
	KernelLookupMinHeight fn.Option[uint64]

	// PaymentProof is the payment proof of sent transactions that asked
	// for one.
	PaymentProof fn.Option[StoredProofInfo]
}

// IsCancelled returns true for cancelled entries.
func (e *TxLogEntry) IsCancelled() bool {
	return e.Type == TxSentCancelled || e.Type == TxReceivedCancelled
}

// ChainOutput is an output as reported by the node.
type ChainOutput struct {
	// Commit is the output commitment.
	Commit pedersen.Commitment

	// Proof is the output proof. It's only returned by PMMR index
	// queries.
	Proof pedersen.Proof

	// Height is the height of the block that confirmed the output.
	Height uint64

	// MMRIndex is the position in the output PMMR.
	MMRIndex uint64

	// IsCoinbase marks coinbase outputs.
	IsCoinbase bool
}

// OutputPage is a range of outputs returned by a PMMR index query.
type OutputPage struct {
	// HighestIndex is the highest PMMR index at the time of the query.
	HighestIndex uint64

	// LastRetrievedIndex is the index of the last output of the page.
	LastRetrievedIndex uint64

	// Outputs are the outputs of the page, in PMMR order.
	Outputs []ChainOutput
}

// KernelLocation is where a kernel was found on chain.
type KernelLocation struct {
	// Kernel is the kernel itself.
	Kernel mwtx.TxKernel

	// Height is the height of the block containing the kernel.
	Height uint64

	// MMRIndex is the position in the kernel MMR.
	MMRIndex uint64
}

// ChainTip is the latest block known to the node.
type ChainTip struct {
	// Height of the block.
	Height uint64

	// Hash of the block, hex encoded.
	Hash string
}

// AccountPath maps a label onto an account of the keychain.
type AccountPath struct {
	// Label is the user chosen name.
	Label string

	// Account is the hardened account index.
	Account uint32
}

// Summary is the balance of an account.
type Summary struct {
	// LastConfirmedHeight is the height the balance is valid at.
	LastConfirmedHeight uint64

	// Total is the sum of unspent and immature funds.
	Total uint64

	// AwaitingConfirmation is the value of unconfirmed outputs.
	AwaitingConfirmation uint64

	// Immature is the value of unspent coinbase outputs not yet mature.
	Immature uint64

	// Locked is the value of outputs locked by pending transactions.
	Locked uint64

	// Spendable is the value that can be spent now.
	Spendable uint64
}

// Summarize computes the balance of the outputs at the given height.
func Summarize(outputs []OutputData, height uint64) Summary {
	sum := Summary{LastConfirmedHeight: height}
	for i := range outputs {
		out := &outputs[i]
		switch out.Status {
		case Unconfirmed:
			sum.AwaitingConfirmation += out.Value

		case Unspent:
			if out.LockHeight > height {
				sum.Immature += out.Value
			} else {
				sum.Spendable += out.Value
			}
			sum.Total += out.Value

		case Locked:
			sum.Locked += out.Value
		}
	}

	return sum
}
