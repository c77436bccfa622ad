package walletapi

import (
	"errors"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/mwixnet"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/scanner"
	"github.com/mwcore/mwwallet/slateversions"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMinConfirmations is the number of confirmations an output needs
// before it's selected as an input.
const DefaultMinConfirmations = 10

// MixnetConfig enables output swaps through a mix network.
type MixnetConfig struct {
	// Servers are the X25519 keys of the mix servers in path order.
	Servers [][32]byte

	// HopFee is the fee every server subtracts.
	HopFee uint64

	// Server submits the swap requests.
	Server mwixnet.MixServer
}

// Config holds everything an Owner needs. It's built once at startup.
type Config struct {
	// Instance is the wallet, whose lock guards every operation.
	Instance *wallet.Instance

	// Chain is the node serving chain queries.
	Chain wallet.ChainQuery

	// Clock timestamps the tx log.
	Clock clock.Clock

	// Account is the account the owner operates on.
	Account uint32

	// Network selects the slatepack address encoding.
	Network address.Network

	// Fees is the fee policy of new transactions.
	Fees mwtx.FeeParams

	// MinConfirmations is the default number of confirmations of
	// selected inputs.
	MinConfirmations uint64

	// Scanner tunes chain scans. Its key ring and account are taken from
	// the wallet.
	Scanner scanner.Config

	// Mixnet enables Mix when set.
	Mixnet *MixnetConfig

	// Registerer receives the owner metrics when set.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a config with the default policies for the wallet
// and node.
func DefaultConfig(inst *wallet.Instance, chain wallet.ChainQuery) Config {
	return Config{
		Instance:         inst,
		Chain:            chain,
		Clock:            clock.NewDefaultClock(),
		Network:          address.Mainnet,
		Fees:             mwtx.DefaultFeeParams(),
		MinConfirmations: DefaultMinConfirmations,
		Scanner: scanner.Config{
			GapLimit: scanner.DefaultGapLimit,
			PageSize: scanner.DefaultPageSize,
		},
	}
}

func (c *Config) validate() error {
	switch {
	case c.Instance == nil:
		return errors.New("owner needs a wallet instance")

	case c.Chain == nil:
		return errors.New("owner needs a chain query")

	case c.Fees.BaseFee == 0:
		return errors.New("base fee must be positive")
	}

	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.MinConfirmations == 0 {
		c.MinConfirmations = 1
	}

	return nil
}

// InitTxArgs are the arguments of a new send, or of paying an invoice.
type InitTxArgs struct {
	// Amount is the amount to send. Invoice payments take it from the
	// slate.
	Amount uint64

	// Fee overrides the fee computed from the transaction weight.
	Fee fn.Option[uint64]

	// MinConfirmations overrides the configured minimum confirmations of
	// selected inputs.
	MinConfirmations fn.Option[uint64]

	// SelectAll spends every eligible output instead of the smallest set
	// covering the amount.
	SelectAll bool

	// Message is signed and attached to the slate.
	Message fn.Option[string]

	// TTLBlocks sets the TTL cutoff height that many blocks past the tip.
	TTLBlocks fn.Option[uint64]

	// PaymentProofRecipient requests a payment proof signed by the
	// address.
	PaymentProofRecipient fn.Option[address.Address]

	// KernelFeatures selects a height locked or NRD kernel.
	KernelFeatures mwtx.KernelFeatures

	// LockHeight is the argument of the kernel features.
	LockHeight uint64
}

// IssueInvoiceTxArgs are the arguments of a new invoice.
type IssueInvoiceTxArgs struct {
	// Amount is the amount requested.
	Amount uint64

	// Message is signed and attached to the slate.
	Message fn.Option[string]

	// TTLBlocks sets the TTL cutoff height that many blocks past the tip.
	TTLBlocks fn.Option[uint64]
}

// SlatepackArgs tune CreateSlatepackMessage.
type SlatepackArgs struct {
	// Recipients encrypt the slatepack to their addresses.
	Recipients []address.Address

	// SenderIndex signs the slatepack with the address at that index.
	SenderIndex fn.Option[uint32]

	// Version forces a slate version. Zero selects the binary form.
	Version slateversions.Version
}
