package socket

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultBacklog is the listen queue depth used when Config.Backlog is not positive.
	DefaultBacklog = 128
	// DefaultConnectTimeout bounds a blocking connect.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultMaxFrameSize caps a single length-prefixed frame.
	DefaultMaxFrameSize = 16 << 20

	maxFrameSizeLimit = 1<<32 - 1
)

// Config carries the tunables shared by Conn, Listener and PacketConn.
type Config struct {
	// Backlog is the listen queue depth. Values <= 0 mean DefaultBacklog.
	Backlog int
	// ConnectTimeout bounds a blocking connect. 0 waits until the context is done.
	ConnectTimeout time.Duration
	// NonBlocking creates sockets in non-blocking mode.
	NonBlocking bool

	ReuseAddress      bool
	KeepAlive         bool
	NoDelay           bool
	Broadcast         bool
	ReceiveBufferSize int
	SendBufferSize    int

	// PreferFamily orders resolved candidates.
	PreferFamily Family
	// Reconnect allows Conn.Reset to return a Failed or Closed client to Idle.
	Reconnect bool
	// MaxFrameSize caps frames read by ReceiveFrame.
	MaxFrameSize int

	Logger  *zap.Logger
	Metrics *Metrics
	Meter   metric.Meter
	Tracer  trace.Tracer
}

// DefaultConfig returns the conservative defaults: blocking mode, no
// reuse-address and a 10s connect timeout.
func DefaultConfig() *Config {
	return &Config{
		Backlog:        DefaultBacklog,
		ConnectTimeout: DefaultConnectTimeout,
		MaxFrameSize:   DefaultMaxFrameSize,
	}
}

// VerifyConfig checks c for values no socket can honor.
func VerifyConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout %s is negative", c.ConnectTimeout)
	}
	if c.ReceiveBufferSize < 0 || c.SendBufferSize < 0 {
		return fmt.Errorf("buffer sizes must not be negative")
	}
	if c.MaxFrameSize < 0 || uint64(c.MaxFrameSize) > maxFrameSizeLimit {
		return fmt.Errorf("max frame size %d out of range", c.MaxFrameSize)
	}
	switch c.PreferFamily {
	case FamilyAny, FamilyIPv4, FamilyIPv6:
	default:
		return fmt.Errorf("unknown address family %d", c.PreferFamily)
	}
	return nil
}

// orDefault returns a private copy of c with zero values filled in.
func (c *Config) orDefault() *Config {
	if c == nil {
		return DefaultConfig()
	}
	cc := *c
	if cc.Backlog <= 0 {
		cc.Backlog = DefaultBacklog
	}
	if cc.MaxFrameSize == 0 {
		cc.MaxFrameSize = DefaultMaxFrameSize
	}
	return &cc
}
