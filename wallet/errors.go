package wallet

import "errors"

var (
	// ErrInsufficientFunds is returned when the spendable outputs don't
	// cover an amount plus its fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNodeCommunication is returned by ChainQuery implementations
	// when the node can't be reached or answers garbage.
	ErrNodeCommunication = errors.New("node communication failure")

	// ErrBackend is returned by PersistentStore implementations on
	// storage failures.
	ErrBackend = errors.New("wallet backend failure")

	// ErrNotFound is returned when a record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrNoProvider is returned when a wallet instance has no lifecycle
	// provider to open its store.
	ErrNoProvider = errors.New("no wallet lifecycle provider")

	// ErrWalletClosed is returned when locking a wallet whose store was
	// closed.
	ErrWalletClosed = errors.New("wallet closed")
)
