package room

import "errors"

// Sentinel errors for the room's failure taxonomy. Everything except the
// precondition violations surfaces through the error signal rather than a
// return value.
var (
	// ErrDecode wraps malformed frame content. The frame is dropped and
	// the connection stays open.
	ErrDecode = errors.New("room: frame decode error")

	// ErrProtocol wraps unexpected frame ordering or unrecognized opcodes.
	// Dropped with a warning; the connection stays open.
	ErrProtocol = errors.New("room: protocol error")

	// ErrNoSerializer is returned when state is read before any strategy
	// has been bound by a completed join.
	ErrNoSerializer = errors.New("room: no serializer bound")

	// ErrNotConnected is returned by operations that require a connection
	// before any connection exists.
	ErrNotConnected = errors.New("room: not connected")

	// ErrIDAssigned is returned when assigning an id to a room that
	// already has one.
	ErrIDAssigned = errors.New("room: id already assigned")
)
