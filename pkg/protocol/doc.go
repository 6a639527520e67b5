// Package protocol implements the binary wire protocol spoken between a
// room client and a room server.
//
// Every message exchanged over the transport is a frame: one opaque byte
// sequence delivered by one transport callback. The first byte of a control
// frame is an opcode identifying its purpose.
//
// # Opcodes
//
//   - JoinRoom (10): server confirms a join; carries session id, serializer
//     name and optional serializer handshake bytes
//   - JoinError (11): join rejected; carries an error message
//   - LeaveRoom (12): consented leave, in either direction
//   - RoomData (13): application message
//   - RoomState (14): full state snapshot
//   - RoomStatePatch (15): incremental state patch
//
// The numeric values are fixed by the protocol and shared with the server;
// they must not change.
//
// # Framing
//
// JoinRoom, JoinError and LeaveRoom are self-contained: opcode and payload
// travel in the same frame. RoomData, RoomState and RoomStatePatch are split
// across two frames: an opcode-only frame announces the type, and the entire
// next frame is its payload. The payload half carries no header at all, so
// its meaning is established solely by the preceding opcode frame.
//
// # Encoding
//
// Variable-length fields use the conventions of this package's Encoder and
// Decoder: strings and byte blobs are prefixed with an unsigned varint
// length (protobuf-style, 7 bits per byte with MSB continuation), and a
// trailing blob may simply run to the end of the frame.
//
// Join frame layout:
//
//	[opcode=10][sessionId: len-prefixed UTF-8][serializerName: len-prefixed UTF-8][handshake bytes...]
//
// Join error layout:
//
//	[opcode=11][message: len-prefixed UTF-8]
//
// Data frame layout (client to server):
//
//	[opcode=13][roomId: len-prefixed UTF-8][encoded payload...]
//
// The payload encoding itself (a binary map/array serialization) is opaque
// to this package; it is decoded by the caller.
package protocol
