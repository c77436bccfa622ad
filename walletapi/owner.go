// Package walletapi implements the owner operations of the wallet: building,
// receiving and finalizing slates, and querying the wallet state. Every
// operation runs under the wallet lock, and operations on the same slate are
// serialized.
package walletapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/multimutex"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/prometheus/client_golang/prometheus"
)

// Owner runs the owner operations of one account.
type Owner struct {
	cfg Config

	// slateMtx serializes operations on the same slate.
	slateMtx *multimutex.Mutex[uuid.UUID]

	metrics *metrics
}

// New returns an Owner for the given config.
func New(cfg Config) (*Owner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	return &Owner{
		cfg:      cfg,
		slateMtx: multimutex.NewMutex[uuid.UUID](),
		metrics:  m,
	}, nil
}

// metrics counts owner operations by outcome.
type metrics struct {
	ops *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mwwallet",
			Subsystem: "owner",
			Name:      "operations_total",
			Help:      "Owner operations by name and result.",
		}, []string{"operation", "result"}),
	}
	if reg == nil {
		return m, nil
	}

	if err := reg.Register(m.ops); err != nil {
		return nil, fmt.Errorf("unable to register metrics: %w", err)
	}

	return m, nil
}

func (m *metrics) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
}

// withStore runs f under the wallet lock.
func (o *Owner) withStore(ctx context.Context,
	f func(wallet.PersistentStore) error) error {

	return wallet.WithWallet(ctx, o.cfg.Instance, f)
}

// lockSlate serializes operations on the slate id. The returned function
// unlocks it.
func (o *Owner) lockSlate(id uuid.UUID) func() {
	o.slateMtx.Lock(id)
	return func() {
		o.slateMtx.Unlock(id)
	}
}

// nextOutputKey reserves the key of a new output.
func (o *Owner) nextOutputKey(b wallet.Batch) (keychain.KeyID, error) {
	index, err := b.NextChildIndex(o.cfg.Account)
	if err != nil {
		return keychain.KeyID{}, err
	}

	return keychain.KeyLocator{
		Account: o.cfg.Account,
		Family:  keychain.KeyFamilyOutput,
		Index:   index,
	}.ID(), nil
}

// chainHeight returns the height of the chain tip.
func (o *Owner) chainHeight(ctx context.Context) (uint64, error) {
	tip, err := o.cfg.Chain.GetChainTip(ctx)
	if err != nil {
		return 0, err
	}

	return tip.Height, nil
}

// ttlCutoff turns a TTL in blocks into a cutoff height.
func ttlCutoff(height uint64, blocks fn.Option[uint64]) fn.Option[uint64] {
	return fn.MapOption(func(b uint64) uint64 {
		return height + b
	})(blocks)
}

// checkNewSlate fails if the wallet already has an entry for the slate.
func (o *Owner) checkNewSlate(store wallet.PersistentStore,
	id uuid.UUID) error {

	_, err := store.FetchTxLogBySlate(o.cfg.Account, id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %v", ErrDuplicateSlate, id)

	case errors.Is(err, wallet.ErrNotFound):
		return nil

	default:
		return err
	}
}

// fetchEntry returns the tx log entry of the slate.
func (o *Owner) fetchEntry(store wallet.PersistentStore,
	id uuid.UUID) (*wallet.TxLogEntry, error) {

	entry, err := store.FetchTxLogBySlate(o.cfg.Account, id)
	if errors.Is(err, wallet.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSlate, id)
	}

	return entry, err
}

// putNewOutputs records the outputs the local participant created in a
// slate as unconfirmed.
func (o *Owner) putNewOutputs(b wallet.Batch, refs []slate.OutputRef,
	height uint64, logID uint32) error {

	for _, ref := range refs {
		err := b.PutOutput(o.cfg.Account, &wallet.OutputData{
			KeyID:      ref.KeyID,
			Commit:     ref.Commit,
			Value:      ref.Value,
			Status:     wallet.Unconfirmed,
			Height:     height,
			LockHeight: height,
			TxLogID:    fn.Some(logID),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// lockInputs marks the selected outputs as locked by the entry spending
// them.
func (o *Owner) lockInputs(b wallet.Batch, inputs []wallet.OutputData,
	logID uint32) error {

	for i := range inputs {
		in := inputs[i]
		in.Status = wallet.Locked
		in.TxLogID = fn.Some(logID)
		if err := b.PutOutput(o.cfg.Account, &in); err != nil {
			return err
		}
	}

	return nil
}

// sumRefs returns the total value of the refs.
func sumRefs(refs []slate.OutputRef) uint64 {
	var total uint64
	for _, ref := range refs {
		total += ref.Value
	}

	return total
}
