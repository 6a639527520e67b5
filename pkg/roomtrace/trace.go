// Package roomtrace provides an OpenTelemetry-backed room.Monitor that
// records a span per inbound frame and span events for the room lifecycle.
package roomtrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roomwire-dev/roomwire/pkg/protocol"
)

// Default tracer name for roomwire clients.
const defaultTracerName = "roomwire"

// Config configures the OpenTelemetry monitor.
type Config struct {
	// TracerName is the name of the tracer (default: "roomwire").
	TracerName string

	// Filter determines which opcodes to trace. Return true to trace the
	// frame, false to skip. If nil, all frames are traced.
	Filter func(op protocol.Opcode) bool

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// Option configures the OpenTelemetry monitor.
type Option func(*Config)

// WithTracerName sets the tracer name.
func WithTracerName(name string) Option {
	return func(c *Config) {
		c.TracerName = name
	}
}

// WithFrameFilter sets a filter function for frames.
func WithFrameFilter(filter func(op protocol.Opcode) bool) Option {
	return func(c *Config) {
		c.Filter = filter
	}
}

// Monitor implements room.Monitor with OpenTelemetry spans.
type Monitor struct {
	cfg Config
}

// New creates the monitor using the global tracer provider.
func New(opts ...Option) *Monitor {
	cfg := Config{
		TracerName: defaultTracerName,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.tracer = otel.Tracer(cfg.TracerName)
	return &Monitor{cfg: cfg}
}

func (m *Monitor) span(name string, attrs ...attribute.KeyValue) trace.Span {
	_, span := m.cfg.tracer.Start(context.Background(), name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
	return span
}

func (m *Monitor) FrameReceived(op protocol.Opcode, size int) {
	if m.cfg.Filter != nil && !m.cfg.Filter(op) {
		return
	}
	span := m.span("room.frame",
		attribute.String("room.frame.opcode", op.String()),
		attribute.Int("room.frame.size", size))
	span.End()
}

func (m *Monitor) DecodeError(op protocol.Opcode, err error) {
	span := m.span("room.decode_error",
		attribute.String("room.frame.opcode", op.String()))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

func (m *Monitor) ProtocolError(err error) {
	span := m.span("room.protocol_error")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

func (m *Monitor) StateApplied(op protocol.Opcode, size int) {
	span := m.span("room.state_applied",
		attribute.String("room.frame.opcode", op.String()),
		attribute.Int("room.payload.size", size))
	span.End()
}

func (m *Monitor) MessageReceived(size int) {
	span := m.span("room.message",
		attribute.Int("room.payload.size", size))
	span.End()
}

func (m *Monitor) Joined(serializer string) {
	span := m.span("room.joined",
		attribute.String("room.serializer", serializer))
	span.End()
}

func (m *Monitor) Left(reason string) {
	span := m.span("room.left",
		attribute.String("room.close.reason", reason))
	span.End()
}
