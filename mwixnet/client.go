package mwixnet

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
)

var (
	// ErrMixnetUnavailable is returned when the mix servers can't be
	// reached.
	ErrMixnetUnavailable = errors.New("mixnet unavailable")

	// ErrSwapRejected is returned when the mix servers reject the swap or
	// return a transaction that doesn't perform it.
	ErrSwapRejected = errors.New("swap rejected")

	// ErrInvalidInput is returned when the output to swap can't be
	// swapped.
	ErrInvalidInput = errors.New("invalid swap input")
)

// DefaultHopFee is the fee every mix server charges by default.
const DefaultHopFee = 50_000_000

// SwapRequest is submitted to the first mix server.
type SwapRequest struct {
	// Onion carries one layer per server.
	Onion *Onion `json:"onion"`

	// ComSig proves knowledge of the opening of the onion's commitment,
	// bound to the onion.
	ComSig pedersen.ComSig `json:"comsig"`
}

// MixServer submits swap requests. Implementations return the transaction
// that performs the swap once the mix round completed.
type MixServer interface {
	// Swap submits the request.
	Swap(ctx context.Context, req *SwapRequest) (*mwtx.Transaction, error)
}

// Config configures a Client.
type Config struct {
	// Servers are the X25519 keys of the mix servers in path order.
	Servers [][32]byte

	// HopFee is the fee every server subtracts.
	HopFee uint64

	// KeyRing derives the blinding factors of the swapped and the new
	// output.
	KeyRing keychain.SecretKeyRing

	// Server submits the requests.
	Server MixServer
}

// Client swaps wallet outputs through the mix network.
type Client struct {
	cfg Config
}

// NewClient returns a client for the given config.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no mix servers configured")
	}
	if cfg.KeyRing == nil || cfg.Server == nil {
		return nil, errors.New("mixnet client needs a key ring and a " +
			"server")
	}

	return &Client{cfg: cfg}, nil
}

// TotalFee returns the fee taken by the whole path.
func (c *Client) TotalFee() uint64 {
	return c.cfg.HopFee * uint64(len(c.cfg.Servers))
}

// Input is the wallet output to swap.
type Input struct {
	// KeyID locates the blinding factor of the output.
	KeyID keychain.KeyID

	// Value is the committed amount.
	Value uint64

	// Commit is the output commitment.
	Commit pedersen.Commitment
}

// Result describes a completed swap.
type Result struct {
	// Tx is the transaction spending the input into the new output.
	Tx *mwtx.Transaction

	// Output is the new output.
	Output mwtx.Output

	// KeyID locates the blinding factor of the new output.
	KeyID keychain.KeyID

	// Value is the amount of the new output.
	Value uint64
}

func (c *Client) deriveBlind(id keychain.KeyID) (pedersen.BlindingFactor,
	error) {

	loc, err := id.Locator()
	if err != nil {
		return pedersen.BlindingFactor{}, err
	}
	priv, err := c.cfg.KeyRing.DerivePrivKey(loc)
	if err != nil {
		return pedersen.BlindingFactor{}, err
	}

	return pedersen.BlindingFactorFromPrivKey(priv), nil
}

// Swap replaces an output created by tx with a fresh output under outKey,
// unlinkable to the original. The value of the new output is the input
// value minus the fees of every hop. tx is only read.
func (c *Client) Swap(ctx context.Context, tx *mwtx.Transaction,
	in Input, outKey keychain.KeyID) (*Result, error) {

	if _, ok := tx.FindOutput(in.Commit); !ok {
		return nil, fmt.Errorf("%w: %v not an output of the "+
			"transaction", ErrInvalidInput, in.Commit)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	fee := c.TotalFee()
	if in.Value <= fee {
		return nil, fmt.Errorf("%w: value %d doesn't cover fee %d",
			ErrInvalidInput, in.Value, fee)
	}

	inBlind, err := c.deriveBlind(in.KeyID)
	if err != nil {
		return nil, err
	}
	defer inBlind.Wipe()

	commit, err := pedersen.Commit(in.Value, inBlind)
	if err != nil {
		return nil, err
	}
	if commit != in.Commit {
		return nil, fmt.Errorf("%w: key doesn't open %v",
			ErrInvalidInput, in.Commit)
	}

	outBlind, err := c.deriveBlind(outKey)
	if err != nil {
		return nil, err
	}
	defer outBlind.Wipe()

	value := in.Value - fee
	outCommit, proof, err := pedersen.CreateProof(value, outBlind, outKey)
	if err != nil {
		return nil, err
	}
	output := mwtx.Output{
		Features: mwtx.OutputPlain,
		Commit:   outCommit,
		Proof:    proof,
	}

	payloads, err := c.payloads(inBlind, outBlind, output)
	if err != nil {
		return nil, err
	}

	onion, err := NewOnion(in.Commit, c.cfg.Servers, payloads)
	if err != nil {
		return nil, err
	}
	msg := onion.Message()
	comSig, err := pedersen.SignCommitment(in.Value, inBlind, msg[:])
	if err != nil {
		return nil, err
	}

	log.Infof("Submitting swap of %v through %d servers", in.Commit,
		len(c.cfg.Servers))

	swapTx, err := c.cfg.Server.Swap(ctx, &SwapRequest{
		Onion:  onion,
		ComSig: comSig,
	})
	if err != nil {
		return nil, err
	}

	if err := verifySwap(swapTx, in.Commit, output); err != nil {
		return nil, err
	}

	log.Infof("Swapped %v for %v", in.Commit, outCommit)

	return &Result{
		Tx:     swapTx,
		Output: output,
		KeyID:  outKey,
		Value:  value,
	}, nil
}

// payloads builds the per hop payloads. The excesses are random except the
// last one, chosen so the final commitment opens under outBlind.
func (c *Client) payloads(inBlind, outBlind pedersen.BlindingFactor,
	output mwtx.Output) ([]Payload, error) {

	n := len(c.cfg.Servers)
	payloads := make([]Payload, n)

	// outBlind = inBlind + sum(excesses).
	last := new(pedersen.BlindSum).AddPositive(outBlind).
		AddNegative(inBlind)
	for i := 0; i < n-1; i++ {
		excess, err := pedersen.RandomBlindingFactor()
		if err != nil {
			return nil, err
		}
		payloads[i] = Payload{Excess: excess, Fee: c.cfg.HopFee}
		last.AddNegative(excess)
	}

	excess, err := last.Sum()
	if err != nil {
		return nil, err
	}
	payloads[n-1] = Payload{
		Excess: excess,
		Fee:    c.cfg.HopFee,
		Output: fn.Some(output),
	}

	return payloads, nil
}

// verifySwap checks that tx is valid, spends input and creates output.
func verifySwap(tx *mwtx.Transaction, input pedersen.Commitment,
	output mwtx.Output) error {

	if tx == nil {
		return fmt.Errorf("%w: no transaction", ErrSwapRejected)
	}
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrSwapRejected, err)
	}
	if !tx.HasInput(input) {
		return fmt.Errorf("%w: %v not spent", ErrSwapRejected, input)
	}

	got, ok := tx.FindOutput(output.Commit)
	if !ok {
		return fmt.Errorf("%w: %v not created", ErrSwapRejected,
			output.Commit)
	}
	if got.Proof != output.Proof {
		return fmt.Errorf("%w: proof of %v replaced", ErrSwapRejected,
			output.Commit)
	}

	return nil
}
