package scanner

import (
	"context"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/wallet"
)

// ScanResult summarizes a chain scan.
type ScanResult struct {
	// Restored are the outputs found on chain that the wallet didn't
	// know.
	Restored []wallet.OutputData

	// Confirmed counts known outputs seen on chain for the first time.
	Confirmed int

	// Spent counts known outputs no longer in the UTXO set.
	Spent int

	// LastIndex is the highest PMMR index scanned.
	LastIndex uint64
}

// ScanChain pages through the UTXO set from the last scanned PMMR index,
// or from the start if fromStart is set, and reconciles the store with the
// wallet outputs found. Chain state is only read.
func (s *Scanner) ScanChain(ctx context.Context, chain wallet.ChainQuery,
	store wallet.PersistentStore, clk clock.Clock,
	fromStart bool) (*ScanResult, error) {

	tip, err := chain.GetChainTip(ctx)
	if err != nil {
		return nil, err
	}

	known, err := store.FetchOutputs(s.cfg.Account)
	if err != nil {
		return nil, err
	}
	txLog, err := store.FetchTxLog(s.cfg.Account)
	if err != nil {
		return nil, err
	}

	// Start past the highest index the wallet already used.
	horizon := s.cfg.GapLimit
	for i := range known {
		loc, err := known[i].KeyID.Locator()
		if err != nil {
			continue
		}
		next := horizonAfter(loc.Index, s.cfg.GapLimit)
		if next > horizon {
			horizon = next
		}
	}

	var start uint64
	if !fromStart {
		start, err = store.LastScannedIndex()
		if err != nil {
			return nil, err
		}
	}

	log.Infof("Scanning outputs from PMMR index %d at height %d", start,
		tip.Height)

	var (
		matches []Match
		last    = start
	)
	for {
		page, err := chain.GetOutputsByPMMRIndex(
			ctx, last, 0, s.cfg.PageSize,
		)
		if err != nil {
			return nil, err
		}

		var found []Match
		found, horizon, err = s.identify(ctx, page.Outputs, horizon)
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)

		if len(page.Outputs) == 0 ||
			page.LastRetrievedIndex <= last ||
			page.LastRetrievedIndex >= page.HighestIndex {

			if page.LastRetrievedIndex > last {
				last = page.LastRetrievedIndex
			}
			break
		}
		last = page.LastRetrievedIndex

		log.Debugf("Scanned up to PMMR index %d of %d, %d matches", last,
			page.HighestIndex, len(matches))
	}

	spent, err := s.spentOutputs(ctx, chain, known)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{LastIndex: last}
	err = store.Batch(func(b wallet.Batch) error {
		return s.reconcile(b, known, txLog, matches, spent, clk, res)
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Scan complete: %d restored, %d confirmed, %d spent",
		len(res.Restored), res.Confirmed, res.Spent)

	return res, nil
}

// spentOutputs returns the known confirmed outputs missing from the UTXO
// set.
func (s *Scanner) spentOutputs(ctx context.Context, chain wallet.ChainQuery,
	known []wallet.OutputData) (map[keychain.KeyID]struct{}, error) {

	var commits []pedersen.Commitment
	for i := range known {
		switch known[i].Status {
		case wallet.Unspent, wallet.Locked:
			commits = append(commits, known[i].Commit)
		}
	}
	if len(commits) == 0 {
		return nil, nil
	}

	onChain, err := chain.GetOutputsByCommit(ctx, commits)
	if err != nil {
		return nil, err
	}

	spent := make(map[keychain.KeyID]struct{})
	for i := range known {
		switch known[i].Status {
		case wallet.Unspent, wallet.Locked:
		default:
			continue
		}
		if _, ok := onChain[known[i].Commit]; !ok {
			spent[known[i].KeyID] = struct{}{}
		}
	}

	return spent, nil
}

// reconcile writes the scan findings.
func (s *Scanner) reconcile(b wallet.Batch, known []wallet.OutputData,
	txLog []wallet.TxLogEntry, matches []Match,
	spent map[keychain.KeyID]struct{}, clk clock.Clock,
	res *ScanResult) error {

	byKey := make(map[keychain.KeyID]*wallet.OutputData, len(known))
	for i := range known {
		byKey[known[i].KeyID] = &known[i]
	}
	entries := make(map[uint32]*wallet.TxLogEntry, len(txLog))
	for i := range txLog {
		entries[txLog[i].ID] = &txLog[i]
	}

	// confirm marks the entry that created a confirmed output.
	confirm := func(id uint32) error {
		entry, ok := entries[id]
		if !ok || entry.Confirmed || entry.IsCancelled() {
			return nil
		}
		entry.Confirmed = true
		entry.ConfirmationTime = fn.Some(clk.Now())

		return b.PutTxLogEntry(s.cfg.Account, entry)
	}

	var nextIndex uint32
	for _, m := range matches {
		if idx := horizonAfter(m.Index(), 0); idx > nextIndex {
			nextIndex = idx
		}

		out, ok := byKey[m.KeyID]
		if ok {
			if out.Status == wallet.Unspent ||
				out.Status == wallet.Locked {

				continue
			}

			out.Status = wallet.Unspent
			out.Height = m.Output.Height
			out.MMRIndex = fn.Some(m.Output.MMRIndex)
			if err := b.PutOutput(s.cfg.Account, out); err != nil {
				return err
			}
			if err := fn.MapOptionZ(out.TxLogID, confirm); err != nil {
				return err
			}
			res.Confirmed++

			continue
		}

		restored, err := s.restore(b, m, clk)
		if err != nil {
			return err
		}
		res.Restored = append(res.Restored, *restored)
	}

	// Locked outputs point at the entry spending them, which is now
	// confirmed as well.
	for id := range spent {
		out := byKey[id]
		wasLocked := out.Status == wallet.Locked
		out.Status = wallet.Spent
		if err := b.PutOutput(s.cfg.Account, out); err != nil {
			return err
		}
		if wasLocked {
			if err := fn.MapOptionZ(out.TxLogID, confirm); err != nil {
				return err
			}
		}
		res.Spent++
	}

	if nextIndex > 0 {
		if err := b.EnsureChildIndex(s.cfg.Account, nextIndex); err != nil {
			return err
		}
	}

	return b.PutLastScannedIndex(res.LastIndex)
}

// restore records an output the wallet didn't know, with a tx log entry
// crediting it.
func (s *Scanner) restore(b wallet.Batch, m Match,
	clk clock.Clock) (*wallet.OutputData, error) {

	logID, err := b.NextTxLogID(s.cfg.Account)
	if err != nil {
		return nil, err
	}

	entryType := wallet.TxReceived
	lockHeight := m.Output.Height
	if m.Output.IsCoinbase {
		entryType = wallet.ConfirmedCoinbase
		lockHeight += wallet.CoinbaseMaturity
	}

	now := clk.Now()
	entry := &wallet.TxLogEntry{
		ID:               logID,
		Type:             entryType,
		CreationTime:     now,
		ConfirmationTime: fn.Some(now),
		Confirmed:        true,
		NumOutputs:       1,
		AmountCredited:   m.Value,
	}
	if err := b.PutTxLogEntry(s.cfg.Account, entry); err != nil {
		return nil, err
	}

	out := &wallet.OutputData{
		KeyID:      m.KeyID,
		Commit:     m.Output.Commit,
		Value:      m.Value,
		Status:     wallet.Unspent,
		Height:     m.Output.Height,
		LockHeight: lockHeight,
		IsCoinbase: m.Output.IsCoinbase,
		TxLogID:    fn.Some(logID),
		MMRIndex:   fn.Some(m.Output.MMRIndex),
	}
	if err := b.PutOutput(s.cfg.Account, out); err != nil {
		return nil, err
	}

	log.Debugf("Restored output %v of value %d at height %d", out.Commit,
		out.Value, out.Height)

	return out, nil
}
