package room

import "github.com/roomwire-dev/roomwire/pkg/protocol"

// Monitor observes the frame pipeline. Implementations must be fast and
// non-blocking: hooks run inline on the frame-processing goroutine.
// The prometheus and otel implementations live in pkg/roommetrics and
// pkg/roomtrace.
type Monitor interface {
	// FrameReceived fires for every inbound frame with its classified
	// opcode. For a payload frame the opcode is the pending one.
	FrameReceived(op protocol.Opcode, size int)

	// DecodeError fires when a frame's content cannot be decoded.
	DecodeError(op protocol.Opcode, err error)

	// ProtocolError fires on unexpected ordering or unrecognized opcodes.
	ProtocolError(err error)

	// StateApplied fires after a snapshot or patch has been committed.
	StateApplied(op protocol.Opcode, size int)

	// MessageReceived fires after a data payload has been decoded.
	MessageReceived(size int)

	// Joined fires once the session is established.
	Joined(serializer string)

	// Left fires when the room is left, with the optional close reason.
	Left(reason string)
}

// NopMonitor is a Monitor that does nothing.
type NopMonitor struct{}

func (NopMonitor) FrameReceived(protocol.Opcode, int) {}
func (NopMonitor) DecodeError(protocol.Opcode, error) {}
func (NopMonitor) ProtocolError(error)                {}
func (NopMonitor) StateApplied(protocol.Opcode, int)  {}
func (NopMonitor) MessageReceived(int)                {}
func (NopMonitor) Joined(string)                      {}
func (NopMonitor) Left(string)                        {}

// multiMonitor fans hooks out to several monitors in order.
type multiMonitor []Monitor

func (m multiMonitor) FrameReceived(op protocol.Opcode, size int) {
	for _, mon := range m {
		mon.FrameReceived(op, size)
	}
}

func (m multiMonitor) DecodeError(op protocol.Opcode, err error) {
	for _, mon := range m {
		mon.DecodeError(op, err)
	}
}

func (m multiMonitor) ProtocolError(err error) {
	for _, mon := range m {
		mon.ProtocolError(err)
	}
}

func (m multiMonitor) StateApplied(op protocol.Opcode, size int) {
	for _, mon := range m {
		mon.StateApplied(op, size)
	}
}

func (m multiMonitor) MessageReceived(size int) {
	for _, mon := range m {
		mon.MessageReceived(size)
	}
}

func (m multiMonitor) Joined(serializer string) {
	for _, mon := range m {
		mon.Joined(serializer)
	}
}

func (m multiMonitor) Left(reason string) {
	for _, mon := range m {
		mon.Left(reason)
	}
}
