package walletapi

import "errors"

var (
	// ErrUnknownSlate is returned when the wallet has no record of a
	// slate.
	ErrUnknownSlate = errors.New("unknown slate")

	// ErrDuplicateSlate is returned when a slate the wallet already took
	// part in is received again.
	ErrDuplicateSlate = errors.New("slate already processed")

	// ErrTxConfirmed is returned when cancelling a confirmed transaction.
	ErrTxConfirmed = errors.New("transaction already confirmed")

	// ErrTxCancelled is returned when cancelling a transaction twice.
	ErrTxCancelled = errors.New("transaction already cancelled")

	// ErrMixnetDisabled is returned by Mix when no mix network is
	// configured.
	ErrMixnetDisabled = errors.New("mixnet not configured")

	// ErrOutputNotSwappable is returned when mixing an output the wallet
	// can't spend.
	ErrOutputNotSwappable = errors.New("output can't be swapped")

	// ErrForeignKey is returned when a coinbase is requested for a key
	// outside the account's output keys.
	ErrForeignKey = errors.New("key doesn't belong to the account")
)
