package serializer

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// NameFossilDelta is the wire name of the incremental-patch strategy.
const NameFossilDelta = "fossil-delta"

// DeltaApplier applies an incremental binary delta to a base snapshot and
// returns the patched bytes. The delta format itself (fossil) is outside
// this package; callers inject a real implementation.
type DeltaApplier func(base, delta []byte) ([]byte, error)

// FossilDelta is the incremental-patch strategy. It keeps the raw snapshot
// bytes as the patch base, applies deltas through the injected applier, and
// decodes the result with msgpack into the canonical state value.
type FossilDelta struct {
	apply DeltaApplier
	raw   []byte
	state any
}

// NewFossilDelta creates the strategy with the given delta applier. A nil
// applier leaves snapshots working but rejects every patch.
func NewFossilDelta(apply DeltaApplier) *FossilDelta {
	return &FossilDelta{apply: apply}
}

// Handshake is a no-op: fossil-delta has no negotiation payload.
func (f *FossilDelta) Handshake(data []byte) error {
	return nil
}

// SetState replaces the snapshot wholesale and decodes it.
func (f *FossilDelta) SetState(encoded []byte) error {
	var state any
	if err := msgpack.Unmarshal(encoded, &state); err != nil {
		return fmt.Errorf("serializer: %s: decode snapshot: %w", NameFossilDelta, err)
	}
	f.raw = append(f.raw[:0], encoded...)
	f.state = state
	return nil
}

// Patch applies a delta to the current snapshot base. Both the base and the
// decoded state are replaced only once the whole apply+decode succeeds, so
// a failed patch leaves canonical state at its last committed value.
func (f *FossilDelta) Patch(encoded []byte) error {
	if f.raw == nil {
		return &InvalidPatchError{Strategy: NameFossilDelta, Reason: "no snapshot base established"}
	}
	if f.apply == nil {
		return &InvalidPatchError{Strategy: NameFossilDelta, Reason: "no delta applier configured"}
	}

	patched, err := f.apply(f.raw, encoded)
	if err != nil {
		return fmt.Errorf("serializer: %s: apply delta: %w", NameFossilDelta, err)
	}
	var state any
	if err := msgpack.Unmarshal(patched, &state); err != nil {
		return fmt.Errorf("serializer: %s: decode patched snapshot: %w", NameFossilDelta, err)
	}

	f.raw = patched
	f.state = state
	return nil
}

// State returns the decoded canonical state, nil before the first snapshot.
func (f *FossilDelta) State() any {
	return f.state
}

// Teardown drops the snapshot base and decoded state.
func (f *FossilDelta) Teardown() {
	f.raw = nil
	f.state = nil
}
