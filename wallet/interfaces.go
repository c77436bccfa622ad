package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
)

// ChainQuery is the wallet's view of the chain, served by a node. Failures
// wrap ErrNodeCommunication.
type ChainQuery interface {
	// GetChainTip returns the latest block.
	GetChainTip(ctx context.Context) (ChainTip, error)

	// GetOutputsByCommit returns the confirmed unspent outputs among
	// commits. Missing commitments are absent from the result.
	GetOutputsByCommit(ctx context.Context,
		commits []pedersen.Commitment) (
		map[pedersen.Commitment]ChainOutput, error)

	// GetOutputsByPMMRIndex returns up to max unspent outputs with PMMR
	// indices in (start, end]. An end of zero means the tip.
	GetOutputsByPMMRIndex(ctx context.Context, start, end uint64,
		max int) (*OutputPage, error)

	// PostTx broadcasts the transaction. Fluff skips the dandelion stem
	// phase.
	PostTx(ctx context.Context, tx *mwtx.Transaction, fluff bool) error

	// GetKernel looks up a kernel by excess between the given heights.
	// Zero heights leave the range open.
	GetKernel(ctx context.Context, excess pedersen.Commitment,
		minHeight, maxHeight uint64) (fn.Option[KernelLocation], error)
}

// StoredContext is a negotiation context as persisted by the store.
type StoredContext struct {
	// Context is the secret negotiation state.
	Context *slate.Context

	// Account is the account the negotiation runs under.
	Account uint32
}

// PersistentStore holds the wallet state. Reads go straight to the store,
// writes are grouped in a Batch applied atomically. Failures wrap
// ErrBackend.
type PersistentStore interface {
	// Keychain returns the wallet's key ring.
	Keychain() keychain.SecretKeyRing

	// FetchOutputs returns every output of the account.
	FetchOutputs(account uint32) ([]OutputData, error)

	// FetchOutput returns the output located by id.
	FetchOutput(id keychain.KeyID) (*OutputData, error)

	// FetchTxLog returns every tx log entry of the account.
	FetchTxLog(account uint32) ([]TxLogEntry, error)

	// FetchTxLogBySlate returns the account's entry of the slate.
	FetchTxLogBySlate(account uint32, id uuid.UUID) (*TxLogEntry, error)

	// FetchContext returns the negotiation context of the local
	// participant of the slate.
	FetchContext(id uuid.UUID, participantID uint64) (*StoredContext,
		error)

	// FetchStoredTx returns the final transaction of the slate.
	FetchStoredTx(id uuid.UUID) (*mwtx.Transaction, error)

	// Accounts returns the known account paths.
	Accounts() ([]AccountPath, error)

	// LastScannedIndex returns the highest PMMR index the scanner
	// reconciled.
	LastScannedIndex() (uint64, error)

	// Batch runs f in a single write transaction. Nothing is written if
	// f returns an error.
	Batch(f func(Batch) error) error

	// Close releases the store.
	Close() error
}

// Batch is the write side of a PersistentStore.
type Batch interface {
	// PutOutput inserts or replaces an output.
	PutOutput(account uint32, out *OutputData) error

	// DeleteOutput removes an output.
	DeleteOutput(account uint32, id keychain.KeyID) error

	// NextTxLogID reserves a tx log id.
	NextTxLogID(account uint32) (uint32, error)

	// PutTxLogEntry inserts or replaces a tx log entry.
	PutTxLogEntry(account uint32, entry *TxLogEntry) error

	// NextChildIndex reserves the next output key index of the account.
	NextChildIndex(account uint32) (uint32, error)

	// EnsureChildIndex raises the next output key index of the account
	// to at least next. Restored outputs must never be derived again.
	EnsureChildIndex(account uint32, next uint32) error

	// PutContext stores a negotiation context.
	PutContext(ctx *StoredContext) error

	// DeleteContext removes a negotiation context.
	DeleteContext(id uuid.UUID, participantID uint64) error

	// PutStoredTx stores the final transaction of a slate.
	PutStoredTx(id uuid.UUID, tx *mwtx.Transaction) error

	// PutAccount stores an account path.
	PutAccount(path AccountPath) error

	// PutLastScannedIndex records scanner progress.
	PutLastScannedIndex(index uint64) error
}

// LCProvider manages the lifecycle of the wallet store: it creates, opens
// and closes it.
type LCProvider interface {
	// Open opens the wallet store.
	Open(ctx context.Context) (PersistentStore, error)
}
