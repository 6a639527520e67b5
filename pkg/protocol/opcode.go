package protocol

// Opcode is the single-byte tag identifying a frame's purpose.
type Opcode uint8

// Wire opcode values. Shared with the server; preserved exactly.
const (
	JoinRoom       Opcode = 10 // Join confirmed by server
	JoinError      Opcode = 11 // Join rejected by server
	LeaveRoom      Opcode = 12 // Consented leave
	RoomData       Opcode = 13 // Application message
	RoomState      Opcode = 14 // Full state snapshot
	RoomStatePatch Opcode = 15 // Incremental state patch
)

// String returns the string representation of the opcode.
func (op Opcode) String() string {
	switch op {
	case JoinRoom:
		return "JoinRoom"
	case JoinError:
		return "JoinError"
	case LeaveRoom:
		return "LeaveRoom"
	case RoomData:
		return "RoomData"
	case RoomState:
		return "RoomState"
	case RoomStatePatch:
		return "RoomStatePatch"
	default:
		return "Unknown"
	}
}

// Known reports whether op is a recognized opcode.
func (op Opcode) Known() bool {
	return op >= JoinRoom && op <= RoomStatePatch
}

// SelfContained reports whether frames tagged with op carry their payload in
// the same frame. Opcodes that are not self-contained announce a payload
// that arrives in the next frame.
func (op Opcode) SelfContained() bool {
	switch op {
	case JoinRoom, JoinError, LeaveRoom:
		return true
	default:
		return false
	}
}

// ReadOpcode reads the opcode byte at the start of a frame.
func ReadOpcode(frame []byte) (Opcode, error) {
	if len(frame) == 0 {
		return 0, ErrBufferTooShort
	}
	return Opcode(frame[0]), nil
}
