package walletapi

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwixnet"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/wallet"
)

// pendingSwap is the wallet state reserved for a swap before it's
// submitted.
type pendingSwap struct {
	client *mwixnet.Client
	input  wallet.OutputData
	outKey keychain.KeyID
	entry  *wallet.TxLogEntry
}

// Mix swaps the wallet output commit, created by the finalized transaction
// tx, for a fresh output through the mix network. The output is locked
// while the swap runs and unlocked again if it fails. The wallet lock isn't
// held while waiting for the mix servers.
func (o *Owner) Mix(ctx context.Context, tx *mwtx.Transaction,
	commit pedersen.Commitment) (_ *mwixnet.Result, err error) {

	defer func() { o.metrics.observe("mix", err) }()

	if o.cfg.Mixnet == nil {
		return nil, ErrMixnetDisabled
	}

	p, err := o.reserveSwap(ctx, commit)
	if err != nil {
		return nil, err
	}

	res, swapErr := p.client.Swap(ctx, tx, mwixnet.Input{
		KeyID:  p.input.KeyID,
		Value:  p.input.Value,
		Commit: p.input.Commit,
	}, p.outKey)

	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		return store.Batch(func(b wallet.Batch) error {
			if swapErr != nil {
				return o.abortSwap(b, p)
			}

			return o.completeSwap(b, p, res)
		})
	})
	switch {
	case swapErr != nil:
		return nil, swapErr

	case err != nil:
		return nil, err
	}

	log.Infof("Mixed %v into %v, %d after fees", commit,
		res.Output.Commit, res.Value)

	return res, nil
}

// reserveSwap locks the output to swap and reserves the key of its
// replacement.
func (o *Owner) reserveSwap(ctx context.Context,
	commit pedersen.Commitment) (*pendingSwap, error) {

	mix := o.cfg.Mixnet
	p := &pendingSwap{}
	err := o.withStore(ctx, func(store wallet.PersistentStore) error {
		client, err := mwixnet.NewClient(mwixnet.Config{
			Servers: mix.Servers,
			HopFee:  mix.HopFee,
			KeyRing: store.Keychain(),
			Server:  mix.Server,
		})
		if err != nil {
			return err
		}
		p.client = client

		outputs, err := store.FetchOutputs(o.cfg.Account)
		if err != nil {
			return err
		}

		var found bool
		for i := range outputs {
			if outputs[i].Commit == commit {
				p.input, found = outputs[i], true
				break
			}
		}
		switch {
		case !found:
			return fmt.Errorf("%w: %v not a wallet output",
				ErrOutputNotSwappable, commit)

		case p.input.Status != wallet.Unspent &&
			p.input.Status != wallet.Unconfirmed:

			return fmt.Errorf("%w: %v is %v", ErrOutputNotSwappable,
				commit, p.input.Status)
		}

		fee := client.TotalFee()
		if p.input.Value <= fee {
			return fmt.Errorf("%w: value %d doesn't cover fee %d",
				ErrOutputNotSwappable, p.input.Value, fee)
		}

		return store.Batch(func(b wallet.Batch) error {
			p.outKey, err = o.nextOutputKey(b)
			if err != nil {
				return err
			}

			logID, err := b.NextTxLogID(o.cfg.Account)
			if err != nil {
				return err
			}
			p.entry = &wallet.TxLogEntry{
				ID:            logID,
				Type:          wallet.TxSent,
				CreationTime:  o.cfg.Clock.Now(),
				NumInputs:     1,
				NumOutputs:    1,
				AmountDebited: p.input.Value,
				Fee:           fn.Some(fee),
			}
			err = b.PutTxLogEntry(o.cfg.Account, p.entry)
			if err != nil {
				return err
			}

			locked := p.input
			locked.Status = wallet.Locked
			locked.TxLogID = fn.Some(logID)

			return b.PutOutput(o.cfg.Account, &locked)
		})
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// completeSwap records the new output and the swap transaction.
func (o *Owner) completeSwap(b wallet.Batch, p *pendingSwap,
	res *mwixnet.Result) error {

	if kernels := res.Tx.Body.Kernels; len(kernels) > 0 {
		p.entry.KernelExcess = fn.Some(kernels[0].Excess)
	}
	p.entry.AmountCredited = res.Value
	if err := b.PutTxLogEntry(o.cfg.Account, p.entry); err != nil {
		return err
	}

	height := p.input.Height
	return b.PutOutput(o.cfg.Account, &wallet.OutputData{
		KeyID:      res.KeyID,
		Commit:     res.Output.Commit,
		Value:      res.Value,
		Status:     wallet.Unconfirmed,
		Height:     height,
		LockHeight: height,
		TxLogID:    fn.Some(p.entry.ID),
	})
}

// abortSwap unlocks the output of a failed swap and cancels its entry.
func (o *Owner) abortSwap(b wallet.Batch, p *pendingSwap) error {
	if err := b.PutOutput(o.cfg.Account, &p.input); err != nil {
		return err
	}

	p.entry.Type = p.entry.Type.Cancelled()

	return b.PutTxLogEntry(o.cfg.Account, p.entry)
}
