package ws

import "time"

// Config holds tunables for a websocket connection.
type Config struct {
	// DialTimeout is the maximum time for the websocket handshake.
	// Default: 10 seconds.
	DialTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PongWait is the time without a pong after which the connection is
	// considered dead. Default: 60 seconds.
	PongWait time.Duration

	// PingPeriod is the time between keepalive pings. Must be below
	// PongWait. Default: 54 seconds.
	PingPeriod time.Duration

	// MaxMessageSize is the maximum size of an inbound frame.
	// Default: 1MB.
	MaxMessageSize int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 1024 * 1024,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
