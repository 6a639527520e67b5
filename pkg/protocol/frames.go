package protocol

import "fmt"

// Join carries the fields of a decoded join frame. Handshake holds any
// trailing serializer-specific negotiation bytes; it is nil when the frame
// ends after the serializer name.
type Join struct {
	SessionID  string
	Serializer string
	Handshake  []byte
}

// ParseJoin decodes a join frame, opcode byte included.
func ParseJoin(frame []byte) (*Join, error) {
	d := NewDecoder(frame)
	op, err := d.ReadOpcode()
	if err != nil {
		return nil, err
	}
	if op != JoinRoom {
		return nil, fmt.Errorf("protocol: expected %s frame, got %s", JoinRoom, op)
	}

	j := &Join{}
	if j.SessionID, _, err = d.ReadString(); err != nil {
		return nil, fmt.Errorf("protocol: join session id: %w", err)
	}
	if j.Serializer, _, err = d.ReadString(); err != nil {
		return nil, fmt.Errorf("protocol: join serializer name: %w", err)
	}
	if !d.EOF() {
		j.Handshake = d.Rest()
	}
	return j, nil
}

// EncodeJoin encodes a join frame. The handshake bytes are appended raw;
// pass nil when the serializer has no negotiation payload.
func EncodeJoin(sessionID, serializer string, handshake []byte) []byte {
	e := NewEncoder()
	e.WriteOpcode(JoinRoom)
	e.WriteString(sessionID)
	e.WriteString(serializer)
	e.WriteBytes(handshake)
	return e.Bytes()
}

// ParseJoinError decodes a join error frame and returns its message.
func ParseJoinError(frame []byte) (string, error) {
	d := NewDecoder(frame)
	op, err := d.ReadOpcode()
	if err != nil {
		return "", err
	}
	if op != JoinError {
		return "", fmt.Errorf("protocol: expected %s frame, got %s", JoinError, op)
	}
	msg, _, err := d.ReadString()
	if err != nil {
		return "", fmt.Errorf("protocol: join error message: %w", err)
	}
	return msg, nil
}

// EncodeJoinError encodes a join error frame carrying message.
func EncodeJoinError(message string) []byte {
	e := NewEncoder()
	e.WriteOpcode(JoinError)
	e.WriteString(message)
	return e.Bytes()
}

// EncodeData encodes an outbound data frame: opcode, room id, then the
// already-encoded payload running to the end of the frame.
func EncodeData(roomID string, payload []byte) []byte {
	e := NewEncoder()
	e.WriteOpcode(RoomData)
	e.WriteString(roomID)
	e.WriteBytes(payload)
	return e.Bytes()
}

// ParseData decodes an inbound self-contained data frame into room id and
// opaque payload. Used by the server side; the client receives data payloads
// as bare frames following a RoomData opcode frame.
func ParseData(frame []byte) (string, []byte, error) {
	d := NewDecoder(frame)
	op, err := d.ReadOpcode()
	if err != nil {
		return "", nil, err
	}
	if op != RoomData {
		return "", nil, fmt.Errorf("protocol: expected %s frame, got %s", RoomData, op)
	}
	roomID, _, err := d.ReadString()
	if err != nil {
		return "", nil, fmt.Errorf("protocol: data room id: %w", err)
	}
	return roomID, d.Rest(), nil
}

// EncodeLeave encodes a leave frame. Leave carries no payload.
func EncodeLeave() []byte {
	return []byte{byte(LeaveRoom)}
}

// EncodeOpcodeOnly encodes the announcement half of a two-frame exchange:
// a frame holding nothing but the opcode. The payload travels in the next
// frame.
func EncodeOpcodeOnly(op Opcode) []byte {
	return []byte{byte(op)}
}
