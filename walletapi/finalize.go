package walletapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/wallet"
)

// finalizerOf returns the participant finalizing a slate in the given
// state.
func finalizerOf(state slate.State) (uint64, error) {
	switch state {
	case slate.Standard2:
		return slate.SenderID, nil

	case slate.Invoice2:
		return slate.ReceiverID, nil

	default:
		return 0, fmt.Errorf("%w: can't finalize slate in state %v",
			slate.ErrStateError, state)
	}
}

// FinalizeTx completes a slate the counterparty returned. The final
// transaction is stored for PostTx, and the context is deleted.
func (o *Owner) FinalizeTx(ctx context.Context,
	s *slate.Slate) (_ *slate.Slate, err error) {

	defer func() { o.metrics.observe("finalize_tx", err) }()
	defer o.lockSlate(s.ID)()

	pid, err := finalizerOf(s.State)
	if err != nil {
		return nil, err
	}

	work := s.Copy()
	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		stored, err := store.FetchContext(work.ID, pid)
		if errors.Is(err, wallet.ErrNotFound) {
			return fmt.Errorf("%w: no context for %v",
				ErrUnknownSlate, work.ID)
		}
		if err != nil {
			return err
		}
		sctx := stored.Context
		defer sctx.Zero()

		if stored.Account != o.cfg.Account {
			return fmt.Errorf("%w: slate belongs to account %d",
				slate.ErrContextMismatch, stored.Account)
		}

		// The issuer of an invoice learns the fee from the payer.
		if sctx.Amount != work.Amount ||
			(!sctx.IsInvoice && sctx.Fee != work.Fee) {

			return fmt.Errorf("%w: amount or fee changed",
				slate.ErrContextMismatch)
		}
		if sctx.KernelFeatures != work.KernelFeatures ||
			sctx.LockHeight != work.LockHeight {

			return fmt.Errorf("%w: kernel features changed",
				slate.ErrContextMismatch)
		}

		entry, err := o.fetchEntry(store, work.ID)
		if err != nil {
			return err
		}
		if entry.IsCancelled() {
			return fmt.Errorf("%w: %v", ErrTxCancelled, work.ID)
		}

		if err := work.Finalize(sctx); err != nil {
			return err
		}

		excess, err := work.Excess()
		if err != nil {
			return err
		}
		entry.KernelExcess = fn.Some(excess)
		entry.Fee = fn.Some(work.Fee)
		entry.PaymentProof = fn.MapOption(
			func(info wallet.StoredProofInfo) wallet.StoredProofInfo {
				info.Proof = work.PaymentProof.UnwrapOr(
					info.Proof,
				)
				return info
			},
		)(entry.PaymentProof)

		return store.Batch(func(b wallet.Batch) error {
			if err := b.PutStoredTx(work.ID, work.Tx); err != nil {
				return err
			}
			if err := b.PutTxLogEntry(o.cfg.Account, entry); err != nil {
				return err
			}

			return b.DeleteContext(work.ID, pid)
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Finalized slate %v, ready to post", work.ID)

	return work, nil
}

// PostTx broadcasts the finalized transaction of the slate.
func (o *Owner) PostTx(ctx context.Context, id uuid.UUID,
	fluff bool) (err error) {

	defer func() { o.metrics.observe("post_tx", err) }()
	defer o.lockSlate(id)()

	var tx *mwtx.Transaction
	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		entry, err := o.fetchEntry(store, id)
		if err != nil {
			return err
		}
		if entry.IsCancelled() {
			return fmt.Errorf("%w: %v", ErrTxCancelled, id)
		}

		tx, err = store.FetchStoredTx(id)
		if errors.Is(err, wallet.ErrNotFound) {
			return fmt.Errorf("%w: slate %v not finalized",
				slate.ErrStateError, id)
		}

		return err
	})
	if err != nil {
		return err
	}

	if err := o.cfg.Chain.PostTx(ctx, tx, fluff); err != nil {
		return err
	}

	log.Infof("Posted transaction of slate %v (fluff=%v)", id, fluff)

	return nil
}

// CancelTx cancels a pending transaction: outputs it created are deleted,
// inputs it locked become spendable again, and its contexts are dropped.
func (o *Owner) CancelTx(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { o.metrics.observe("cancel_tx", err) }()
	defer o.lockSlate(id)()

	return o.withStore(ctx, func(store wallet.PersistentStore) error {
		entry, err := o.fetchEntry(store, id)
		if err != nil {
			return err
		}

		switch {
		case entry.Confirmed:
			return fmt.Errorf("%w: %v", ErrTxConfirmed, id)

		case entry.IsCancelled():
			return fmt.Errorf("%w: %v", ErrTxCancelled, id)
		}

		outputs, err := store.FetchOutputs(o.cfg.Account)
		if err != nil {
			return err
		}

		return store.Batch(func(b wallet.Batch) error {
			var restored, dropped int
			for i := range outputs {
				out := outputs[i]
				logID, ok := unpack(out.TxLogID)
				if !ok || logID != entry.ID {
					continue
				}

				switch out.Status {
				case wallet.Unconfirmed:
					err := b.DeleteOutput(
						o.cfg.Account, out.KeyID,
					)
					if err != nil {
						return err
					}
					dropped++

				case wallet.Locked:
					out.Status = wallet.Unspent
					out.TxLogID = fn.None[uint32]()
					err := b.PutOutput(o.cfg.Account, &out)
					if err != nil {
						return err
					}
					restored++
				}
			}

			entry.Type = entry.Type.Cancelled()
			if err := b.PutTxLogEntry(o.cfg.Account, entry); err != nil {
				return err
			}

			for _, pid := range []uint64{slate.SenderID,
				slate.ReceiverID} {

				if err := b.DeleteContext(id, pid); err != nil {
					return err
				}
			}

			log.Infof("Cancelled slate %v: %d inputs restored, %d "+
				"outputs dropped", id, restored, dropped)

			return nil
		})
	})
}
