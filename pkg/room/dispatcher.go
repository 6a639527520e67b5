package room

import (
	"fmt"

	"github.com/roomwire-dev/roomwire/pkg/protocol"
)

// dispatchPhase is the state of the two-phase frame classifier.
type dispatchPhase uint8

const (
	// awaitingOpcode: the next frame's first byte is an opcode.
	awaitingOpcode dispatchPhase = iota

	// awaitingPayload: the entire next frame is the payload for the
	// pending opcode.
	awaitingPayload
)

// dispatcher classifies every inbound frame for one connection. Control
// frames are handled within their own frame; state and data opcodes record a
// pending opcode and consume the following frame as payload. The pending
// opcode only exists in the awaitingPayload state, which rules out a stale
// marker surviving a phase change.
type dispatcher struct {
	room    *Room
	phase   dispatchPhase
	pending protocol.Opcode
}

func (d *dispatcher) reset() {
	d.phase = awaitingOpcode
	d.pending = 0
}

// dispatch processes one frame. Re-entered on every transport message.
// Runs only on the transport callback goroutine; the phase fields need no
// lock, but the finished flag is shared with Leave and is read under the
// room mutex.
func (d *dispatcher) dispatch(frame []byte) {
	d.room.mu.Lock()
	finished := d.room.finished
	d.room.mu.Unlock()
	if finished {
		// Stray frame after leave completed. The reset was total; drop it.
		return
	}

	if d.phase == awaitingPayload {
		op := d.pending
		d.reset()
		d.room.monitor.FrameReceived(op, len(frame))
		d.room.handlePayload(op, frame)
		return
	}

	op, err := protocol.ReadOpcode(frame)
	if err != nil {
		d.room.decodeError(0, fmt.Errorf("%w: empty frame", ErrDecode))
		return
	}
	d.room.monitor.FrameReceived(op, len(frame))

	switch op {
	case protocol.JoinRoom:
		d.room.handleJoin(frame)

	case protocol.JoinError:
		d.room.handleJoinError(frame)

	case protocol.LeaveRoom:
		d.room.handleLeaveFrame()

	case protocol.RoomState, protocol.RoomStatePatch, protocol.RoomData:
		d.phase = awaitingPayload
		d.pending = op

	default:
		// Recoverable: the frame is dropped, the connection stays open.
		d.room.protocolWarning(fmt.Errorf("%w: unrecognized opcode %d", ErrProtocol, uint8(op)))
	}
}
