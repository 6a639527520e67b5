// Package serializer defines the pluggable state-representation strategies
// a room binds at join time.
//
// A strategy owns the room's canonical state: the room never mutates it
// directly, it only hands the strategy encoded snapshots and patches from
// the wire and reads the result back through State. Strategies are resolved
// by the serializer name the server announces in the join frame, via a
// Registry of factories.
//
// The concrete encoding algorithms (the fossil delta format, the schema
// binary format) are not implemented here. Strategies receive them as
// injected contracts (DeltaApplier, SchemaDecoder) and only own the plumbing
// around them.
package serializer

import "fmt"

// Serializer is the capability set a room requires from a state strategy.
// Exactly one instance is bound to a room at a time.
type Serializer interface {
	// Handshake consumes strategy-specific negotiation bytes that trailed
	// the session id and serializer name in the join frame. Strategies
	// without a negotiation need treat it as a no-op.
	Handshake(data []byte) error

	// SetState replaces canonical state wholesale from a full snapshot
	// payload.
	SetState(encoded []byte) error

	// Patch applies an incremental delta to the existing canonical state.
	// Strategies that require an established base return an
	// *InvalidPatchError when no prior SetState has committed one.
	Patch(encoded []byte) error

	// State returns the current canonical state. Whether the value is a
	// live reference or an immutable snapshot is strategy-specific.
	State() any

	// Teardown releases all strategy-owned resources. It is idempotent.
	Teardown()
}

// UnknownSerializerError reports a serializer name with no registry entry.
// It is fatal for the join attempt: no session is established.
type UnknownSerializerError struct {
	Name string
}

func (e *UnknownSerializerError) Error() string {
	return fmt.Sprintf("serializer: unknown serializer %q", e.Name)
}

// InvalidPatchError reports a patch a strategy cannot apply, typically
// because no snapshot has established a base. Canonical state is left at
// its last committed value.
type InvalidPatchError struct {
	Strategy string
	Reason   string
}

func (e *InvalidPatchError) Error() string {
	return fmt.Sprintf("serializer: %s: invalid patch: %s", e.Strategy, e.Reason)
}
