package walletapi

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/scanner"
	"github.com/mwcore/mwwallet/wallet"
)

// Scan reconciles the wallet with the chain. Without fromStart it resumes
// from the last scanned PMMR index.
func (o *Owner) Scan(ctx context.Context,
	fromStart bool) (_ *scanner.ScanResult, err error) {

	defer func() { o.metrics.observe("scan", err) }()

	var res *scanner.ScanResult
	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		res, err = o.scan(ctx, store, fromStart)
		return err
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// scan runs a chain scan with the store held.
func (o *Owner) scan(ctx context.Context, store wallet.PersistentStore,
	fromStart bool) (*scanner.ScanResult, error) {

	cfg := o.cfg.Scanner
	cfg.KeyRing = store.Keychain()
	cfg.Account = o.cfg.Account

	s, err := scanner.New(cfg)
	if err != nil {
		return nil, err
	}

	return s.ScanChain(ctx, o.cfg.Chain, store, o.cfg.Clock, fromStart)
}

// refresh scans past the last scanned index when asked to, so that the
// store reflects the chain before it's read.
func (o *Owner) refresh(ctx context.Context, store wallet.PersistentStore,
	refresh bool) error {

	if !refresh {
		return nil
	}

	_, err := o.scan(ctx, store, false)
	return err
}

// RetrieveOutputs returns the outputs of the account, in key order. Spent
// outputs are only included on request.
func (o *Owner) RetrieveOutputs(ctx context.Context, includeSpent,
	refresh bool) (_ []wallet.OutputData, err error) {

	defer func() { o.metrics.observe("retrieve_outputs", err) }()

	var outputs []wallet.OutputData
	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		if err := o.refresh(ctx, store, refresh); err != nil {
			return err
		}

		all, err := store.FetchOutputs(o.cfg.Account)
		if err != nil {
			return err
		}

		for i := range all {
			if all[i].Status == wallet.Spent && !includeSpent {
				continue
			}
			outputs = append(outputs, all[i])
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(outputs, func(i, j int) bool {
		return outputs[i].KeyID.String() < outputs[j].KeyID.String()
	})

	return outputs, nil
}

// RetrieveTxs returns the tx log of the account, or the entry of one slate,
// filtered and ordered by query.
func (o *Owner) RetrieveTxs(ctx context.Context, refresh bool,
	slateID fn.Option[uuid.UUID],
	query RetrieveTxQueryArgs) (_ []wallet.TxLogEntry, err error) {

	defer func() { o.metrics.observe("retrieve_txs", err) }()

	var txs []wallet.TxLogEntry
	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		if err := o.refresh(ctx, store, refresh); err != nil {
			return err
		}

		if id, ok := unpack(slateID); ok {
			entry, err := o.fetchEntry(store, id)
			if err != nil {
				return err
			}
			txs = []wallet.TxLogEntry{*entry}

			return nil
		}

		txs, err = store.FetchTxLog(o.cfg.Account)
		return err
	})
	if err != nil {
		return nil, err
	}

	return query.apply(txs), nil
}

// RetrieveSummaryInfo returns the balance of the account at the chain tip.
func (o *Owner) RetrieveSummaryInfo(ctx context.Context,
	refresh bool) (_ *wallet.Summary, err error) {

	defer func() { o.metrics.observe("retrieve_summary_info", err) }()

	height, err := o.chainHeight(ctx)
	if err != nil {
		return nil, err
	}

	var sum wallet.Summary
	err = o.withStore(ctx, func(store wallet.PersistentStore) error {
		if err := o.refresh(ctx, store, refresh); err != nil {
			return err
		}

		outputs, err := store.FetchOutputs(o.cfg.Account)
		if err != nil {
			return err
		}
		sum = wallet.Summarize(outputs, height)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &sum, nil
}
