package mwtx

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mwcore/mwwallet/pedersen"
)

var (
	// ErrUnbalanced is returned when the commitments of a transaction
	// don't sum to its kernel excesses and offset.
	ErrUnbalanced = errors.New("transaction does not balance")

	// ErrInvalidOutput is returned when an output proof doesn't verify.
	ErrInvalidOutput = errors.New("invalid output")

	// ErrDuplicateCommitment is returned when a commitment appears twice
	// among the inputs or the outputs.
	ErrDuplicateCommitment = errors.New("duplicate commitment")

	// ErrFeeOverflow is returned when the kernel fees overflow.
	ErrFeeOverflow = errors.New("fee overflow")
)

// OutputFeatures distinguishes coinbase outputs from regular ones.
type OutputFeatures uint8

const (
	// OutputPlain is a regular output.
	OutputPlain OutputFeatures = 0

	// OutputCoinbase is a coinbase output, subject to the coinbase
	// maturity rule.
	OutputCoinbase OutputFeatures = 1
)

// String returns the canonical name of the features.
func (f OutputFeatures) String() string {
	switch f {
	case OutputPlain:
		return "Plain"
	case OutputCoinbase:
		return "Coinbase"
	default:
		return fmt.Sprintf("OutputFeatures(%d)", uint8(f))
	}
}

// ParseOutputFeatures maps a canonical name back onto the features.
func ParseOutputFeatures(s string) (OutputFeatures, error) {
	switch s {
	case "Plain":
		return OutputPlain, nil
	case "Coinbase":
		return OutputCoinbase, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFeatures, s)
	}
}

// Input spends a previously created output.
type Input struct {
	Features OutputFeatures      `json:"features"`
	Commit   pedersen.Commitment `json:"commit"`
}

// Output creates a new commitment, together with its proof.
type Output struct {
	Features OutputFeatures      `json:"features"`
	Commit   pedersen.Commitment `json:"commit"`
	Proof    pedersen.Proof      `json:"proof"`
}

// TxBody holds the inputs, outputs and kernels of a transaction.
type TxBody struct {
	Inputs  []Input    `json:"inputs"`
	Outputs []Output   `json:"outputs"`
	Kernels []TxKernel `json:"kernels"`
}

// Transaction is a MimbleWimble transaction: a body plus the kernel offset
// splitting the total excess so kernels can't be linked to their
// transaction once aggregated in a block.
type Transaction struct {
	Offset pedersen.BlindingFactor `json:"offset"`
	Body   TxBody                  `json:"body"`
}

// NewTransaction returns an empty transaction with a single unsigned kernel.
func NewTransaction(kernel TxKernel) *Transaction {
	return &Transaction{
		Body: TxBody{
			Kernels: []TxKernel{kernel},
		},
	}
}

// Copy returns a deep copy of the transaction.
func (tx *Transaction) Copy() *Transaction {
	if tx == nil {
		return nil
	}

	return &Transaction{
		Offset: tx.Offset,
		Body: TxBody{
			Inputs:  append([]Input(nil), tx.Body.Inputs...),
			Outputs: append([]Output(nil), tx.Body.Outputs...),
			Kernels: append([]TxKernel(nil), tx.Body.Kernels...),
		},
	}
}

// AddInput adds an input spending commit.
func (tx *Transaction) AddInput(features OutputFeatures,
	commit pedersen.Commitment) {

	tx.Body.Inputs = append(tx.Body.Inputs, Input{
		Features: features,
		Commit:   commit,
	})
	tx.sort()
}

// AddOutput adds an output.
func (tx *Transaction) AddOutput(out Output) {
	tx.Body.Outputs = append(tx.Body.Outputs, out)
	tx.sort()
}

// Kernel returns the first kernel of the transaction. Slates only ever
// build transactions with exactly one kernel.
func (tx *Transaction) Kernel() *TxKernel {
	if len(tx.Body.Kernels) == 0 {
		return nil
	}

	return &tx.Body.Kernels[0]
}

// Fee returns the sum of the kernel fees.
func (tx *Transaction) Fee() (uint64, error) {
	var fee uint64
	for _, k := range tx.Body.Kernels {
		if fee > math.MaxUint64-k.Fee {
			return 0, ErrFeeOverflow
		}
		fee += k.Fee
	}

	return fee, nil
}

// InputCommitments returns the commitments spent by the transaction.
func (tx *Transaction) InputCommitments() []pedersen.Commitment {
	commits := make([]pedersen.Commitment, 0, len(tx.Body.Inputs))
	for _, in := range tx.Body.Inputs {
		commits = append(commits, in.Commit)
	}

	return commits
}

// OutputCommitments returns the commitments created by the transaction.
func (tx *Transaction) OutputCommitments() []pedersen.Commitment {
	commits := make([]pedersen.Commitment, 0, len(tx.Body.Outputs))
	for _, out := range tx.Body.Outputs {
		commits = append(commits, out.Commit)
	}

	return commits
}

// HasInput returns true if the transaction spends commit.
func (tx *Transaction) HasInput(commit pedersen.Commitment) bool {
	for _, in := range tx.Body.Inputs {
		if in.Commit == commit {
			return true
		}
	}

	return false
}

// FindOutput returns the output with the given commitment.
func (tx *Transaction) FindOutput(commit pedersen.Commitment) (*Output, bool) {
	for i := range tx.Body.Outputs {
		if tx.Body.Outputs[i].Commit == commit {
			return &tx.Body.Outputs[i], true
		}
	}

	return nil, false
}

// sort orders inputs and outputs by commitment so that the body doesn't leak
// which participant contributed what.
func (tx *Transaction) sort() {
	sort.Slice(tx.Body.Inputs, func(i, j int) bool {
		return bytes.Compare(
			tx.Body.Inputs[i].Commit[:], tx.Body.Inputs[j].Commit[:],
		) < 0
	})
	sort.Slice(tx.Body.Outputs, func(i, j int) bool {
		return bytes.Compare(
			tx.Body.Outputs[i].Commit[:],
			tx.Body.Outputs[j].Commit[:],
		) < 0
	})
}

// VerifySums checks that sum(outputs) - sum(inputs) + fee*H equals
// sum(kernel excesses) + offset*G.
func (tx *Transaction) VerifySums() error {
	fee, err := tx.Fee()
	if err != nil {
		return err
	}

	positive := tx.OutputCommitments()
	if fee > 0 {
		feeCommit, err := pedersen.CommitValue(fee)
		if err != nil {
			return err
		}
		positive = append(positive, feeCommit)
	}

	negative := tx.InputCommitments()
	for _, k := range tx.Body.Kernels {
		negative = append(negative, k.Excess)
	}
	if !tx.Offset.IsZero() {
		offsetCommit, err := pedersen.Commit(0, tx.Offset)
		if err != nil {
			return err
		}
		negative = append(negative, offsetCommit)
	}

	ok, err := pedersen.Balanced(positive, negative)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnbalanced, err)
	}
	if !ok {
		return ErrUnbalanced
	}

	return nil
}

// Validate performs the stateless checks of a complete transaction: no
// duplicate commitments, valid output proofs, valid kernel signatures and
// balanced sums.
func (tx *Transaction) Validate() error {
	seen := make(map[pedersen.Commitment]struct{})
	for _, in := range tx.Body.Inputs {
		if _, ok := seen[in.Commit]; ok {
			return fmt.Errorf("%w: input %v", ErrDuplicateCommitment,
				in.Commit)
		}
		seen[in.Commit] = struct{}{}
	}
	for _, out := range tx.Body.Outputs {
		if _, ok := seen[out.Commit]; ok {
			return fmt.Errorf("%w: output %v",
				ErrDuplicateCommitment, out.Commit)
		}
		seen[out.Commit] = struct{}{}

		if err := out.Proof.Verify(out.Commit); err != nil {
			return fmt.Errorf("%w %v: %v", ErrInvalidOutput,
				out.Commit, err)
		}
	}

	for i := range tx.Body.Kernels {
		if err := tx.Body.Kernels[i].Verify(); err != nil {
			return err
		}
	}

	return tx.VerifySums()
}
