// Package roommetrics provides a Prometheus-backed room.Monitor.
package roommetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roomwire-dev/roomwire/pkg/protocol"
)

// Config configures the Prometheus monitor.
type Config struct {
	// Namespace is the metrics namespace (default: "roomwire").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for frame sizes, in bytes.
	// Default: exponential from 64B to 1MB.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures the Prometheus monitor.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the frame size histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registerer.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Monitor implements room.Monitor over Prometheus collectors.
type Monitor struct {
	framesReceived *prometheus.CounterVec
	frameBytes     *prometheus.CounterVec
	frameSize      *prometheus.HistogramVec
	decodeErrors   *prometheus.CounterVec
	protocolErrors prometheus.Counter
	stateUpdates   *prometheus.CounterVec
	messages       prometheus.Counter
	joins          *prometheus.CounterVec
	leaves         prometheus.Counter
}

// New creates the monitor and registers its collectors.
func New(opts ...Option) *Monitor {
	cfg := Config{
		Namespace: "roomwire",
		Registry:  prometheus.DefaultRegisterer,
		Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)

	return &Monitor{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "frames_received_total",
			Help:        "Inbound frames by classified opcode.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"opcode"}),
		frameBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "frame_bytes_received_total",
			Help:        "Inbound frame bytes by classified opcode.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"opcode"}),
		frameSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "frame_size_bytes",
			Help:        "Inbound frame size distribution by classified opcode.",
			Buckets:     cfg.Buckets,
			ConstLabels: cfg.ConstLabels,
		}, []string{"opcode"}),
		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "decode_errors_total",
			Help:        "Frames dropped because their content could not be decoded.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"opcode"}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "protocol_errors_total",
			Help:        "Frames dropped because of unexpected ordering or unknown opcodes.",
			ConstLabels: cfg.ConstLabels,
		}),
		stateUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "state_updates_total",
			Help:        "Committed state mutations by opcode (snapshot or patch).",
			ConstLabels: cfg.ConstLabels,
		}, []string{"opcode"}),
		messages: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "messages_received_total",
			Help:        "Decoded inbound data messages.",
			ConstLabels: cfg.ConstLabels,
		}),
		joins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "joins_total",
			Help:        "Completed joins by negotiated serializer.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"serializer"}),
		leaves: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "leaves_total",
			Help:        "Completed leaves.",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

func (m *Monitor) FrameReceived(op protocol.Opcode, size int) {
	m.framesReceived.WithLabelValues(op.String()).Inc()
	m.frameBytes.WithLabelValues(op.String()).Add(float64(size))
	m.frameSize.WithLabelValues(op.String()).Observe(float64(size))
}

func (m *Monitor) DecodeError(op protocol.Opcode, err error) {
	m.decodeErrors.WithLabelValues(op.String()).Inc()
}

func (m *Monitor) ProtocolError(err error) {
	m.protocolErrors.Inc()
}

func (m *Monitor) StateApplied(op protocol.Opcode, size int) {
	m.stateUpdates.WithLabelValues(op.String()).Inc()
}

func (m *Monitor) MessageReceived(size int) {
	m.messages.Inc()
}

func (m *Monitor) Joined(serializer string) {
	m.joins.WithLabelValues(serializer).Inc()
}

func (m *Monitor) Left(reason string) {
	m.leaves.Inc()
}
