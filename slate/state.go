package slate

import "fmt"

// State is the negotiation state of a slate.
type State uint8

const (
	// StateUnknown is the zero value, it's never valid on a slate.
	StateUnknown State = iota

	// Standard1 is a send slate built by the sender, carrying its inputs,
	// change and public contribution.
	Standard1

	// Standard2 is a send slate the receiver added its output and partial
	// signature to.
	Standard2

	// Standard3 is a finalized send slate.
	Standard3

	// Invoice1 is an invoice built by the issuer, carrying its output and
	// public contribution.
	Invoice1

	// Invoice2 is an invoice the payer added inputs, change and partial
	// signature to.
	Invoice2

	// Invoice3 is a finalized invoice.
	Invoice3

	// Cancelled is the terminal failure state.
	Cancelled
)

// stateNames are the compact names used on the wire.
var stateNames = map[State]string{
	StateUnknown: "NA",
	Standard1:    "S1",
	Standard2:    "S2",
	Standard3:    "S3",
	Invoice1:     "I1",
	Invoice2:     "I2",
	Invoice3:     "I3",
	Cancelled:    "CA",
}

// String returns the compact name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("State(%d)", uint8(s))
}

// ParseState maps a compact name back onto the state.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}

	return StateUnknown, fmt.Errorf("unknown slate state %q", name)
}

// IsTerminal returns true if no further mutation of a slate in this state is
// permitted.
func (s State) IsTerminal() bool {
	return s == Standard3 || s == Invoice3 || s == Cancelled
}

// IsInvoice returns true for the states of the invoice flow.
func (s State) IsInvoice() bool {
	return s == Invoice1 || s == Invoice2 || s == Invoice3
}

// Role is the part a participant plays in the negotiation. The payer is
// always participant 0 and the payee participant 1, whichever of them
// initiated the slate.
type Role uint8

const (
	// RoleSender is the paying participant, providing the inputs and the
	// kernel offset.
	RoleSender Role = iota

	// RoleReceiver is the paid participant, providing the output.
	RoleReceiver

	// roleAny matches either role in the transition table.
	roleAny
)

// String returns a human readable name of the role.
func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "any"
	}
}

// Participant ids of the two party flows.
const (
	SenderID   uint64 = 0
	ReceiverID uint64 = 1
)

// RoleOf returns the role of the participant with the given id.
func RoleOf(participantID uint64) Role {
	if participantID == SenderID {
		return RoleSender
	}

	return RoleReceiver
}

// Op is an operation advancing a slate.
type Op uint8

const (
	// OpAddInfo adds a participant's public data.
	OpAddInfo Op = iota

	// OpFinalize aggregates the signatures.
	OpFinalize

	// OpCancel abandons the negotiation.
	OpCancel
)

// String returns a human readable name of the operation.
func (o Op) String() string {
	switch o {
	case OpAddInfo:
		return "add_participant_info"
	case OpFinalize:
		return "finalize"
	case OpCancel:
		return "cancel"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

type transition struct {
	from State
	op   Op
	role Role
}

// transitions is the complete set of permitted (state, operation, role)
// triples and the state each leads to. Adding info keeps the current state
// until the last participant has contributed.
var transitions = map[transition]State{
	{Standard1, OpAddInfo, RoleSender}:   Standard1,
	{Standard1, OpAddInfo, RoleReceiver}: Standard2,
	{Standard2, OpFinalize, RoleSender}:  Standard3,

	{Invoice1, OpAddInfo, RoleReceiver}: Invoice1,
	{Invoice1, OpAddInfo, RoleSender}:   Invoice2,
	{Invoice2, OpFinalize, RoleReceiver}: Invoice3,

	{Standard1, OpCancel, roleAny}: Cancelled,
	{Standard2, OpCancel, roleAny}: Cancelled,
	{Invoice1, OpCancel, roleAny}:  Cancelled,
	{Invoice2, OpCancel, roleAny}:  Cancelled,
}

// nextState consults the transition table. Any pair not in the table is a
// StateError.
func nextState(from State, op Op, role Role) (State, error) {
	if to, ok := transitions[transition{from, op, role}]; ok {
		return to, nil
	}
	if to, ok := transitions[transition{from, op, roleAny}]; ok {
		return to, nil
	}

	return StateUnknown, fmt.Errorf("%w: %v not permitted for %v in "+
		"state %v", ErrStateError, op, role, from)
}
