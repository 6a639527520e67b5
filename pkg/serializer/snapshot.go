package serializer

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// NameFullSnapshot is the wire name of the full-snapshot strategy.
const NameFullSnapshot = "full"

// FullSnapshot is the simplest strategy: every state frame carries the
// complete encoded state and replaces the previous one. It has no
// incremental mode, so patch frames are rejected.
type FullSnapshot struct {
	state any
}

// NewFullSnapshot creates the strategy.
func NewFullSnapshot() *FullSnapshot {
	return &FullSnapshot{}
}

// Handshake is a no-op.
func (s *FullSnapshot) Handshake(data []byte) error {
	return nil
}

// SetState decodes and replaces the canonical state wholesale.
func (s *FullSnapshot) SetState(encoded []byte) error {
	var state any
	if err := msgpack.Unmarshal(encoded, &state); err != nil {
		return fmt.Errorf("serializer: %s: decode snapshot: %w", NameFullSnapshot, err)
	}
	s.state = state
	return nil
}

// Patch always fails: the strategy carries no base to patch against.
func (s *FullSnapshot) Patch(encoded []byte) error {
	return &InvalidPatchError{Strategy: NameFullSnapshot, Reason: "strategy is snapshot-only"}
}

// State returns the last decoded snapshot, nil before the first one.
func (s *FullSnapshot) State() any {
	return s.state
}

// Teardown drops the decoded state.
func (s *FullSnapshot) Teardown() {
	s.state = nil
}
