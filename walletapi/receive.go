package walletapi

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/wallet"
)

// addReceiverOutput derives a fresh output key, adds the output for amount
// to the slate and logs it as an unconfirmed receive.
func (o *Owner) addReceiverOutput(store wallet.PersistentStore,
	b wallet.Batch, s *slate.Slate, rctx *slate.Context,
	height uint64) (*wallet.TxLogEntry, error) {

	key, err := o.nextOutputKey(b)
	if err != nil {
		return nil, err
	}

	err = s.AddTransactionElements(store.Keychain(), rctx, nil,
		[]slate.Element{{KeyID: key, Value: s.Amount}},
	)
	if err != nil {
		return nil, err
	}

	logID, err := b.NextTxLogID(o.cfg.Account)
	if err != nil {
		return nil, err
	}
	entry := &wallet.TxLogEntry{
		ID:                    logID,
		SlateID:               fn.Some(s.ID),
		Type:                  wallet.TxReceived,
		CreationTime:          o.cfg.Clock.Now(),
		NumOutputs:            len(rctx.Outputs),
		AmountCredited:        s.Amount,
		TTLCutoffHeight:       s.TTLCutoffHeight,
		KernelLookupMinHeight: fn.Some(height),
	}

	err = o.putNewOutputs(b, rctx.Outputs, height, logID)
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// IssueInvoiceTx creates an invoice slate requesting args.Amount. The
// receiver's output is stored unconfirmed and its context kept until the
// payer returns the slate.
func (o *Owner) IssueInvoiceTx(ctx context.Context,
	args IssueInvoiceTxArgs) (_ *slate.Slate, err error) {

	defer func() { o.metrics.observe("issue_invoice_tx", err) }()

	if err := slate.CheckAmount(args.Amount, 0); err != nil {
		return nil, err
	}

	height, err := o.chainHeight(ctx)
	if err != nil {
		return nil, err
	}

	s, err := slate.New(slate.Params{
		Amount:          args.Amount,
		Height:          height,
		TTLCutoffHeight: ttlCutoff(height, args.TTLBlocks),
		Invoice:         true,
	})
	if err != nil {
		return nil, err
	}

	rctx, err := slate.NewContext(s.ID, slate.ReceiverID, true)
	if err != nil {
		return nil, err
	}
	defer rctx.Zero()

	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		return store.Batch(func(b wallet.Batch) error {
			entry, err := o.addReceiverOutput(store, b, s, rctx, height)
			if err != nil {
				return err
			}

			err = s.AddParticipantInfo(rctx, args.Message)
			if err != nil {
				return err
			}

			if err := b.PutTxLogEntry(o.cfg.Account, entry); err != nil {
				return err
			}

			return b.PutContext(&wallet.StoredContext{
				Context: rctx,
				Account: o.cfg.Account,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Issued invoice %v for %d", s.ID, s.Amount)

	return s, nil
}

// ReceiveTx adds the receiver's output and signature to a new standard
// slate. If the sender asked for a payment proof, it's signed with the
// wallet's slatepack address. The receiver keeps no context: its work is
// done once the slate goes back.
func (o *Owner) ReceiveTx(ctx context.Context, s *slate.Slate,
	message fn.Option[string]) (_ *slate.Slate, err error) {

	defer func() { o.metrics.observe("receive_tx", err) }()
	defer o.lockSlate(s.ID)()

	if s.State != slate.Standard1 {
		return nil, fmt.Errorf("%w: can't receive slate in state %v",
			slate.ErrStateError, s.State)
	}
	if err := s.CheckTurn(slate.RoleReceiver); err != nil {
		return nil, err
	}
	if err := slate.CheckAmount(s.Amount, s.Fee); err != nil {
		return nil, err
	}

	height, err := o.chainHeight(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.CheckTTL(height); err != nil {
		return nil, err
	}

	work := s.Copy()
	rctx, err := slate.NewContext(work.ID, slate.ReceiverID, false)
	if err != nil {
		return nil, err
	}
	defer rctx.Zero()

	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		if err := o.checkNewSlate(store, work.ID); err != nil {
			return err
		}

		return store.Batch(func(b wallet.Batch) error {
			entry, err := o.addReceiverOutput(
				store, b, work, rctx, height,
			)
			if err != nil {
				return err
			}

			if err := work.AddParticipantInfo(rctx, message); err != nil {
				return err
			}

			if work.PaymentProof.IsSome() {
				key, err := address.DeriveKey(
					store.Keychain(), o.cfg.Account,
					address.DefaultIndex,
				)
				if err != nil {
					return err
				}
				if err := work.SignPaymentProof(key); err != nil {
					return err
				}
			}

			excess, err := work.Excess()
			if err != nil {
				return err
			}
			entry.KernelExcess = fn.Some(excess)

			return b.PutTxLogEntry(o.cfg.Account, entry)
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Received %d in slate %v", work.Amount, work.ID)

	return work, nil
}
