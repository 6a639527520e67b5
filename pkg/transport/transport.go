// Package transport defines the bidirectional byte-message channel a room
// runs over. Frames are opaque byte sequences; one callback invocation
// delivers exactly one frame, and no framing beyond that is assumed.
//
// The room core never dials, reconnects or secures the channel itself:
// connection policy belongs to the Connection implementation and its caller.
package transport

import "context"

// Callbacks are the slots a connection owner fills before opening. A
// Connection invokes OnMessage/OnClose/OnError from a single goroutine, in
// arrival order.
type Callbacks struct {
	// OnMessage delivers one inbound frame.
	OnMessage func(frame []byte)

	// OnOpen fires once the channel is established.
	OnOpen func()

	// OnClose fires when the channel closes, with an optional reason.
	OnClose func(reason string)

	// OnError reports a transport-level failure.
	OnError func(err error)
}

// Connection is an abstract bidirectional byte-message channel.
type Connection interface {
	// Bind installs the callbacks. Must be called before Open.
	Bind(cb Callbacks)

	// Open establishes the channel and starts delivering frames.
	Open(ctx context.Context) error

	// Send transmits one frame.
	Send(frame []byte) error

	// Close tears the channel down. Safe to call more than once.
	Close() error
}
