package walletapi

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/wallet"
)

// selectInputs runs coin selection over the account's eligible outputs.
func (o *Owner) selectInputs(store wallet.PersistentStore, amount,
	height uint64, args *InitTxArgs) (*selection, error) {

	outputs, err := store.FetchOutputs(o.cfg.Account)
	if err != nil {
		return nil, err
	}

	minConf := args.MinConfirmations.UnwrapOr(o.cfg.MinConfirmations)
	coins := eligibleCoins(outputs, height, minConf)

	return selectCoins(coins, amount, o.cfg.Fees, args.Fee, args.SelectAll)
}

// addPayerElements adds the selected inputs and the change output to the
// slate, signs the payer's contribution and records it: the inputs are
// locked, the change output is stored unconfirmed and a sent entry is
// logged. It returns the entry.
func (o *Owner) addPayerElements(store wallet.PersistentStore, b wallet.Batch,
	s *slate.Slate, pctx *slate.Context, sel *selection, height uint64,
	args *InitTxArgs) (*wallet.TxLogEntry, error) {

	var change []slate.Element
	if sel.change > 0 {
		key, err := o.nextOutputKey(b)
		if err != nil {
			return nil, err
		}
		change = append(change, slate.Element{
			KeyID: key, Value: sel.change,
		})
	}

	err := s.AddTransactionElements(
		store.Keychain(), pctx, inputElements(sel.inputs), change,
	)
	if err != nil {
		return nil, err
	}

	var proof fn.Option[wallet.StoredProofInfo]
	if recipient, ok := unpack(args.PaymentProofRecipient); ok {
		sender, _, err := address.Derive(
			store.Keychain(), o.cfg.Network, o.cfg.Account,
			address.DefaultIndex,
		)
		if err != nil {
			return nil, err
		}
		if err := s.RequestPaymentProof(sender, recipient); err != nil {
			return nil, err
		}

		pctx.PaymentProofIndex = fn.Some(uint32(address.DefaultIndex))
		proof = fn.Some(wallet.StoredProofInfo{
			Proof:              s.PaymentProof.UnsafeFromSome(),
			SenderAddressIndex: address.DefaultIndex,
		})
	}

	if err := s.AddParticipantInfo(pctx, args.Message); err != nil {
		return nil, err
	}

	logID, err := b.NextTxLogID(o.cfg.Account)
	if err != nil {
		return nil, err
	}
	entry := &wallet.TxLogEntry{
		ID:                    logID,
		SlateID:               fn.Some(s.ID),
		Type:                  wallet.TxSent,
		CreationTime:          o.cfg.Clock.Now(),
		NumInputs:             len(sel.inputs),
		NumOutputs:            len(pctx.Outputs),
		AmountCredited:        sumRefs(pctx.Outputs),
		AmountDebited:         sel.total,
		Fee:                   fn.Some(s.Fee),
		TTLCutoffHeight:       s.TTLCutoffHeight,
		KernelLookupMinHeight: fn.Some(height),
		PaymentProof:          proof,
	}
	if s.IsComplete() {
		excess, err := s.Excess()
		if err != nil {
			return nil, err
		}
		entry.KernelExcess = fn.Some(excess)
	}

	if err := b.PutTxLogEntry(o.cfg.Account, entry); err != nil {
		return nil, err
	}
	if err := o.lockInputs(b, sel.inputs, logID); err != nil {
		return nil, err
	}
	err = o.putNewOutputs(b, pctx.Outputs, height, logID)
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// InitSendTx creates a standard slate paying args.Amount. The inputs are
// selected and locked, and the sender context is stored until the slate
// comes back for finalization.
func (o *Owner) InitSendTx(ctx context.Context,
	args InitTxArgs) (_ *slate.Slate, err error) {

	defer func() { o.metrics.observe("init_send_tx", err) }()

	if err := slate.CheckAmount(args.Amount, 0); err != nil {
		return nil, err
	}

	height, err := o.chainHeight(ctx)
	if err != nil {
		return nil, err
	}

	var s *slate.Slate
	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		sel, err := o.selectInputs(store, args.Amount, height, &args)
		if err != nil {
			return err
		}

		s, err = slate.New(slate.Params{
			Amount:          args.Amount,
			Fee:             sel.fee,
			Height:          height,
			KernelFeatures:  args.KernelFeatures,
			LockHeight:      args.LockHeight,
			TTLCutoffHeight: ttlCutoff(height, args.TTLBlocks),
		})
		if err != nil {
			return err
		}

		sctx, err := slate.NewContext(s.ID, slate.SenderID, false)
		if err != nil {
			return err
		}
		defer sctx.Zero()

		return store.Batch(func(b wallet.Batch) error {
			_, err := o.addPayerElements(
				store, b, s, sctx, sel, height, &args,
			)
			if err != nil {
				return err
			}

			return b.PutContext(&wallet.StoredContext{
				Context: sctx,
				Account: o.cfg.Account,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Created send slate %v for %d with fee %d", s.ID, s.Amount,
		s.Fee)

	return s, nil
}

// ProcessInvoiceTx pays an invoice: it selects inputs for the invoiced
// amount, sets the fee and adds the payer's contribution. The issuer
// finalizes.
func (o *Owner) ProcessInvoiceTx(ctx context.Context, s *slate.Slate,
	args InitTxArgs) (_ *slate.Slate, err error) {

	defer func() { o.metrics.observe("process_invoice_tx", err) }()
	defer o.lockSlate(s.ID)()

	if s.State != slate.Invoice1 {
		return nil, fmt.Errorf("%w: can't pay slate in state %v",
			slate.ErrStateError, s.State)
	}
	if err := s.CheckTurn(slate.RoleSender); err != nil {
		return nil, err
	}
	if args.PaymentProofRecipient.IsSome() {
		return nil, fmt.Errorf("%w: payment proofs are only requested "+
			"by senders", slate.ErrStateError)
	}

	height, err := o.chainHeight(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.CheckTTL(height); err != nil {
		return nil, err
	}

	work := s.Copy()
	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		if err := o.checkNewSlate(store, work.ID); err != nil {
			return err
		}

		sel, err := o.selectInputs(store, work.Amount, height, &args)
		if err != nil {
			return err
		}
		if err := work.SetFee(sel.fee); err != nil {
			return err
		}

		pctx, err := slate.NewContext(work.ID, slate.SenderID, true)
		if err != nil {
			return err
		}
		defer pctx.Zero()

		return store.Batch(func(b wallet.Batch) error {
			_, err := o.addPayerElements(
				store, b, work, pctx, sel, height, &args,
			)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Paid invoice %v of %d with fee %d", work.ID, work.Amount,
		work.Fee)

	return work, nil
}

// unpack returns the value of an option in the comma ok form.
func unpack[A any](o fn.Option[A]) (A, bool) {
	var zero A
	return o.UnwrapOr(zero), o.IsSome()
}
