package walletapi

import (
	"context"
	"fmt"
	"math"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/wallet"
)

// coinbaseKey returns the key the coinbase is built with, reserving a fresh
// one unless the miner picked it.
func (o *Owner) coinbaseKey(b wallet.Batch,
	picked fn.Option[keychain.KeyID]) (keychain.KeyLocator, error) {

	id, ok := unpack(picked)
	if !ok {
		fresh, err := o.nextOutputKey(b)
		if err != nil {
			return keychain.KeyLocator{}, err
		}

		return fresh.Locator()
	}

	loc, err := id.Locator()
	if err != nil {
		return keychain.KeyLocator{}, err
	}
	if loc.Account != o.cfg.Account ||
		loc.Family != keychain.KeyFamilyOutput {

		return keychain.KeyLocator{}, fmt.Errorf("%w: %v", ErrForeignKey,
			id)
	}

	// Keep fresh derivations from reusing the picked key.
	if loc.Index < math.MaxUint32 {
		err := b.EnsureChildIndex(o.cfg.Account, loc.Index+1)
		if err != nil {
			return keychain.KeyLocator{}, err
		}
	}

	return loc, nil
}

// BuildCoinbase builds the coinbase output and kernel of a block paying the
// reward plus fees. The output is stored unconfirmed and matures
// CoinbaseMaturity blocks after the block height.
func (o *Owner) BuildCoinbase(ctx context.Context,
	fees wallet.BlockFees) (_ *wallet.CbData, err error) {

	defer func() { o.metrics.observe("build_coinbase", err) }()

	reward, err := wallet.Reward(fees.Fees)
	if err != nil {
		return nil, err
	}

	var cb *wallet.CbData
	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		return store.Batch(func(b wallet.Batch) error {
			loc, err := o.coinbaseKey(b, fees.KeyID)
			if err != nil {
				return err
			}
			priv, err := store.Keychain().DerivePrivKey(loc)
			if err != nil {
				return err
			}
			blind := pedersen.BlindingFactorFromPrivKey(priv)
			defer blind.Wipe()

			out, kernel, err := mwtx.NewCoinbase(
				reward, blind, loc.ID(),
			)
			if err != nil {
				return err
			}

			logID, err := b.NextTxLogID(o.cfg.Account)
			if err != nil {
				return err
			}
			entry := &wallet.TxLogEntry{
				ID:                    logID,
				Type:                  wallet.ConfirmedCoinbase,
				CreationTime:          o.cfg.Clock.Now(),
				NumOutputs:            1,
				AmountCredited:        reward,
				KernelExcess:          fn.Some(kernel.Excess),
				KernelLookupMinHeight: fn.Some(fees.Height),
			}
			if err := b.PutTxLogEntry(o.cfg.Account, entry); err != nil {
				return err
			}

			err = b.PutOutput(o.cfg.Account, &wallet.OutputData{
				KeyID:      loc.ID(),
				Commit:     out.Commit,
				Value:      reward,
				Status:     wallet.Unconfirmed,
				Height:     fees.Height,
				LockHeight: fees.Height + wallet.CoinbaseMaturity,
				IsCoinbase: true,
				TxLogID:    fn.Some(logID),
			})
			if err != nil {
				return err
			}

			cb = &wallet.CbData{
				Output: *out,
				Kernel: *kernel,
				KeyID:  loc.ID(),
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Built coinbase %v of %d for height %d", cb.Output.Commit,
		reward, fees.Height)

	return cb, nil
}
