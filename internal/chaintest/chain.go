// Package chaintest is an in-memory chain serving wallet.ChainQuery for
// tests.
package chaintest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/wallet"
)

// Chain is a chain where every posted transaction is mined right away into
// its own block.
type Chain struct {
	mu sync.Mutex

	height  uint64
	nextMMR uint64
	offline bool

	// outputs holds every output ever created, spent ones included.
	outputs map[pedersen.Commitment]*entry
	kernels map[pedersen.Commitment]wallet.KernelLocation
	posted  []*mwtx.Transaction
}

type entry struct {
	out   wallet.ChainOutput
	spent bool
}

// New returns a chain at the given height.
func New(height uint64) *Chain {
	return &Chain{
		height:  height,
		nextMMR: 1,
		outputs: make(map[pedersen.Commitment]*entry),
		kernels: make(map[pedersen.Commitment]wallet.KernelLocation),
	}
}

// SetOffline makes every query fail as if the node was unreachable.
func (c *Chain) SetOffline(offline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.offline = offline
}

// Height returns the current height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.height
}

// MineBlocks advances the chain by n empty blocks.
func (c *Chain) MineBlocks(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height += n
}

// Posted returns the transactions posted so far.
func (c *Chain) Posted() []*mwtx.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*mwtx.Transaction(nil), c.posted...)
}

// AddOutputs mines a block creating the outputs without any input, the way
// a coinbase does.
func (c *Chain) AddOutputs(coinbase bool, outputs ...mwtx.Output) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height++
	for _, out := range outputs {
		c.addOutput(out, coinbase)
	}
}

func (c *Chain) addOutput(out mwtx.Output, coinbase bool) {
	c.outputs[out.Commit] = &entry{out: wallet.ChainOutput{
		Commit:     out.Commit,
		Proof:      out.Proof,
		Height:     c.height,
		MMRIndex:   c.nextMMR,
		IsCoinbase: coinbase,
	}}
	c.nextMMR++
}

func (c *Chain) checkOnline() error {
	if c.offline {
		return fmt.Errorf("%w: node offline", wallet.ErrNodeCommunication)
	}

	return nil
}

// GetChainTip returns the latest block.
func (c *Chain) GetChainTip(context.Context) (wallet.ChainTip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOnline(); err != nil {
		return wallet.ChainTip{}, err
	}

	return wallet.ChainTip{
		Height: c.height,
		Hash:   fmt.Sprintf("%064x", c.height),
	}, nil
}

// GetOutputsByCommit returns the unspent outputs among commits.
func (c *Chain) GetOutputsByCommit(_ context.Context,
	commits []pedersen.Commitment) (
	map[pedersen.Commitment]wallet.ChainOutput, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOnline(); err != nil {
		return nil, err
	}

	found := make(map[pedersen.Commitment]wallet.ChainOutput)
	for _, commit := range commits {
		e, ok := c.outputs[commit]
		if !ok || e.spent {
			continue
		}
		out := e.out
		out.Proof = pedersen.Proof{}
		found[commit] = out
	}

	return found, nil
}

// GetOutputsByPMMRIndex pages through the unspent outputs.
func (c *Chain) GetOutputsByPMMRIndex(_ context.Context, start, end uint64,
	max int) (*wallet.OutputPage, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOnline(); err != nil {
		return nil, err
	}

	var unspent []wallet.ChainOutput
	for _, e := range c.outputs {
		if e.spent || e.out.MMRIndex <= start {
			continue
		}
		if end != 0 && e.out.MMRIndex > end {
			continue
		}
		unspent = append(unspent, e.out)
	}
	sort.Slice(unspent, func(i, j int) bool {
		return unspent[i].MMRIndex < unspent[j].MMRIndex
	})
	if max > 0 && len(unspent) > max {
		unspent = unspent[:max]
	}

	page := &wallet.OutputPage{
		HighestIndex:       c.nextMMR - 1,
		LastRetrievedIndex: c.nextMMR - 1,
		Outputs:            unspent,
	}
	if n := len(unspent); n > 0 && max > 0 && n == max {
		page.LastRetrievedIndex = unspent[n-1].MMRIndex
	}

	return page, nil
}

// PostTx validates the transaction against the UTXO set and mines it.
func (c *Chain) PostTx(_ context.Context, tx *mwtx.Transaction,
	_ bool) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOnline(); err != nil {
		return err
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	for _, in := range tx.Body.Inputs {
		e, ok := c.outputs[in.Commit]
		if !ok || e.spent {
			return fmt.Errorf("input %v not in the UTXO set",
				in.Commit)
		}
	}
	for _, out := range tx.Body.Outputs {
		if _, ok := c.outputs[out.Commit]; ok {
			return fmt.Errorf("output %v already exists",
				out.Commit)
		}
	}
	for _, k := range tx.Body.Kernels {
		if k.Features == mwtx.KernelHeightLocked &&
			k.LockHeight > c.height+1 {

			return fmt.Errorf("kernel locked until %d",
				k.LockHeight)
		}
	}

	c.height++
	for _, in := range tx.Body.Inputs {
		c.outputs[in.Commit].spent = true
	}
	for _, out := range tx.Body.Outputs {
		c.addOutput(out, false)
	}
	for i, k := range tx.Body.Kernels {
		c.kernels[k.Excess] = wallet.KernelLocation{
			Kernel:   k,
			Height:   c.height,
			MMRIndex: uint64(len(c.kernels) + i + 1),
		}
	}
	c.posted = append(c.posted, tx.Copy())

	return nil
}

// GetKernel looks up a kernel by excess.
func (c *Chain) GetKernel(_ context.Context, excess pedersen.Commitment,
	minHeight, maxHeight uint64) (fn.Option[wallet.KernelLocation], error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOnline(); err != nil {
		return fn.None[wallet.KernelLocation](), err
	}

	loc, ok := c.kernels[excess]
	if !ok || loc.Height < minHeight ||
		(maxHeight != 0 && loc.Height > maxHeight) {

		return fn.None[wallet.KernelLocation](), nil
	}

	return fn.Some(loc), nil
}

var _ wallet.ChainQuery = (*Chain)(nil)
