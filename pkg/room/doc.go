// Package room implements the client endpoint of the room synchronization
// protocol: one logical connection to a remote room, a session negotiated at
// join time, and a local mirror of server-authoritative state kept current
// through snapshots and incremental patches.
//
// # Frame dispatch
//
// Every inbound transport frame passes through a two-state dispatcher:
//
//	AwaitingOpcode ──(JoinRoom/JoinError/LeaveRoom)──▶ handled in-frame
//	AwaitingOpcode ──(RoomState/RoomStatePatch/RoomData)──▶ AwaitingPayload(op)
//	AwaitingPayload(op) ──(any frame = payload)──▶ AwaitingOpcode
//
// Control frames are self-describing; state and data frames carry only an
// opaque blob whose meaning is established by the opcode frame preceding it.
// The pending opcode is part of the machine's state, never a stray field, so
// there is exactly one pending opcode or none.
//
// # Events
//
// Results surface through per-category signals: joined, state-changed,
// message, error and left. Dispatch is synchronous on the goroutine that
// delivers transport callbacks, so subscribers observe updates strictly in
// frame-arrival order and state-changed always sees post-mutation state.
//
// # Failure policy
//
// Malformed frames are dropped with an error signal; unexpected ordering is
// dropped with a protocol warning; the connection stays open in both cases.
// Unknown serializer names are fatal for the join attempt. The room never
// reconnects or rejoins on its own.
package room
