package slate

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned when the amount is zero or amount plus
	// fee overflows.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrStateError is returned when an operation is attempted out of
	// turn or on a terminal slate.
	ErrStateError = errors.New("slate state error")

	// ErrInvalidSignature is returned when a partial, message or final
	// signature doesn't verify. The negotiation can't recover from it.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidPaymentProof is returned when the receiver signature of a
	// payment proof is missing or doesn't verify.
	ErrInvalidPaymentProof = fmt.Errorf("payment proof: %w",
		ErrInvalidSignature)

	// ErrPaymentProofAddress is returned when a receiver is asked to sign
	// a payment proof addressed to somebody else.
	ErrPaymentProofAddress = errors.New("payment proof addressed to " +
		"another wallet")

	// ErrContextMismatch is returned when the local context doesn't
	// belong to the slate or participant it's used with.
	ErrContextMismatch = errors.New("context does not match slate")

	// ErrIncompleteSlate is returned when finalizing a slate that is
	// missing participant data.
	ErrIncompleteSlate = errors.New("slate is missing participant data")

	// ErrInvalidTransaction is returned when the finalized transaction
	// doesn't validate.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrTTLExpired is returned when a slate is processed past its TTL
	// cutoff height.
	ErrTTLExpired = errors.New("slate TTL expired")
)
