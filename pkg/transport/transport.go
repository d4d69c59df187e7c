// Package transport carries discrete messages over socket connections.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/srediag/plugin-socket/pkg/lifecycle"
	"github.com/srediag/plugin-socket/pkg/socket"
)

// Transport defines the interface for message transports.
type Transport interface {
	// Start the transport (e.g., connect).
	Start() error
	// Stop the transport and clean up resources.
	Stop() error
	// Send one message.
	Send(data []byte) error
	// Receive the next message.
	Receive() ([]byte, error)
}

// ErrNotRunning is returned by Send and Receive before Start or after Stop.
var ErrNotRunning = errors.New("transport: not running")

// Config configures a StreamTransport that dials its peer.
type Config struct {
	// Network is a protocol name accepted by socket.Dial, "tcp" by default.
	Network string
	// Address is the peer, "host:port".
	Address string
	// Socket configures the underlying connection. Nil means socket.DefaultConfig.
	Socket *socket.Config
	// MaxRetries bounds reconnect attempts in Start. 0 tries once.
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *zap.Logger
}

// DefaultConfig returns a Config for a TCP peer at address with five retries.
func DefaultConfig(address string) Config {
	return Config{
		Network:         "tcp",
		Address:         address,
		MaxRetries:      5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// VerifyConfig checks c.
func VerifyConfig(c Config) error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.InitialInterval < 0 || c.MaxInterval < 0 {
		return errors.New("retry intervals must not be negative")
	}
	if c.Socket != nil {
		return socket.VerifyConfig(c.Socket)
	}
	return nil
}

// StreamTransport sends and receives length-prefixed frames over one stream
// connection.
type StreamTransport struct {
	cfg   Config
	log   *socket.Log
	state lifecycle.Tracker

	mu   sync.Mutex
	conn *socket.Conn
}

var (
	_ Transport           = (*StreamTransport)(nil)
	_ lifecycle.Component = (*StreamTransport)(nil)
)

// New returns a stopped transport that dials cfg.Address on Start.
func New(cfg Config) (*StreamTransport, error) {
	if err := VerifyConfig(cfg); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	return &StreamTransport{cfg: cfg, log: socket.NewLog("transport", cfg.Logger)}, nil
}

// NewAccepted wraps a connection accepted by a server. The transport is
// already running and Start fails on it.
func NewAccepted(c *socket.Conn) *StreamTransport {
	t := &StreamTransport{
		cfg:  Config{Address: c.RemoteAddr().String()},
		log:  socket.NewLog("transport", nil),
		conn: c,
	}
	t.state.Set(lifecycle.Running)
	return t
}

// Start dials the peer, retrying refused or unreachable peers with
// exponential backoff.
func (t *StreamTransport) Start() error {
	return t.StartContext(context.Background())
}

// StartContext is Start bounded by ctx.
func (t *StreamTransport) StartContext(ctx context.Context) error {
	if err := t.state.Transition(lifecycle.Stopped, lifecycle.Starting); err != nil {
		return err
	}
	eb := backoff.NewExponentialBackOff()
	if t.cfg.InitialInterval > 0 {
		eb.InitialInterval = t.cfg.InitialInterval
	}
	if t.cfg.MaxInterval > 0 {
		eb.MaxInterval = t.cfg.MaxInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, t.cfg.MaxRetries), ctx)

	var conn *socket.Conn
	err := backoff.RetryNotify(func() error {
		c, err := socket.Dial(ctx, t.cfg.Network, t.cfg.Address, t.cfg.Socket)
		if err != nil {
			switch socket.KindOf(err) {
			case socket.ResolutionError, socket.UnsupportedOption, socket.PermissionDenied:
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}, b, func(err error, d time.Duration) {
		t.log.Infof("dial %s: %v, retrying in %s", t.cfg.Address, err, d)
	})
	if err != nil {
		t.state.Set(lifecycle.Stopped)
		return fmt.Errorf("transport: start: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.state.Set(lifecycle.Running)
	t.log.Debugf("connected to %s", conn.RemoteAddr())
	return nil
}

func (t *StreamTransport) current() (*socket.Conn, error) {
	if t.state.Load() != lifecycle.Running {
		return nil, ErrNotRunning
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotRunning
	}
	return t.conn, nil
}

// Send writes data as one frame.
func (t *StreamTransport) Send(data []byte) error {
	c, err := t.current()
	if err != nil {
		return err
	}
	return c.SendFrame(data)
}

// Receive reads the next frame. io.EOF reports that the peer finished sending.
func (t *StreamTransport) Receive() ([]byte, error) {
	c, err := t.current()
	if err != nil {
		return nil, err
	}
	return c.ReceiveFrame()
}

// Conn returns the underlying connection, nil when stopped.
func (t *StreamTransport) Conn() *socket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// State returns the lifecycle state.
func (t *StreamTransport) State() lifecycle.State { return t.state.Load() }

// Stop closes the connection. A blocked Receive returns a Closed error.
func (t *StreamTransport) Stop() error {
	if err := t.state.Transition(lifecycle.Running, lifecycle.Stopping); err != nil {
		if t.state.Load() == lifecycle.Stopped {
			return nil
		}
		return err
	}
	t.mu.Lock()
	c := t.conn
	t.conn = nil
	t.mu.Unlock()
	var err error
	if c != nil {
		err = c.Close()
	}
	t.state.Set(lifecycle.Stopped)
	return err
}
