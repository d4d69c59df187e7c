package socket

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/srediag/plugin-socket/internal/platform"
	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// State is the lifecycle position of a Conn.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
	// StateFailed is terminal unless Config.Reconnect allows Reset.
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateConnected:  "connected",
	StateClosing:    "closing",
	StateClosed:     "closed",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Conn is a connection-oriented endpoint with an explicit lifecycle:
//
//	Idle -> Connecting -> Connected -> Closing -> Closed
//	          \-> Failed
//
// Send and Receive are only valid while Connected. A Conn is not safe for
// concurrent use, with one exception: Close may be called from any goroutine
// and makes a blocked Send, Receive or Connect return Closed.
type Conn struct {
	mu sync.Mutex

	cfg     *Config
	proto   Protocol
	h       *Handle
	state   State
	lastErr error

	local, remote Address
	readShut      bool
	writeShut     bool
	nonblock      bool
	pending       []optionValue

	log     *logger
	tel     *telemetry
	metrics *Metrics
}

// NewConn returns an Idle TCP Conn. A nil cfg means DefaultConfig.
func NewConn(cfg *Config) *Conn {
	c, _ := NewProtocolConn(ProtocolTCP, cfg)
	return c
}

// NewProtocolConn returns an Idle Conn for proto. Datagram protocols give a
// connected datagram socket with a fixed peer. Protocols without a transport
// give UnsupportedOption.
func NewProtocolConn(proto Protocol, cfg *Config) (*Conn, error) {
	if proto.Transport() == ProtocolUnknown {
		return nil, sockerr.New(sockerr.UnsupportedOption, "socket", "protocol "+proto.String()+" is not supported")
	}
	cfg = cfg.orDefault()
	return &Conn{
		cfg:      cfg,
		proto:    proto,
		nonblock: cfg.NonBlocking,
		log:      newLogger("socket.conn", cfg.Logger),
		tel:      newTelemetry(cfg),
		metrics:  cfg.Metrics,
	}, nil
}

func newAcceptedConn(h *Handle, remote Address, cfg *Config, log *logger, tel *telemetry) *Conn {
	c := &Conn{
		cfg:     cfg,
		proto:   h.Protocol(),
		h:       h,
		state:   StateConnected,
		remote:  remote,
		log:     log,
		tel:     tel,
		metrics: cfg.Metrics,
	}
	if local, err := h.LocalAddr(); err == nil {
		c.local = local
	}
	c.metrics.opened()
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that moved the Conn to Failed, or the last I/O
// failure seen while Connected.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Conn) Protocol() Protocol { return c.proto }

// LocalAddr returns the local address once a connection has been attempted.
func (c *Conn) LocalAddr() Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// RemoteAddr returns the peer address once a connection has been attempted.
func (c *Conn) RemoteAddr() Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Handle returns the underlying socket, or nil while Idle.
func (c *Conn) Handle() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h
}

// Connect connects an Idle Conn to addr. The wait is bounded by
// Config.ConnectTimeout and the ctx deadline, whichever is earlier.
// Cancelling ctx aborts the attempt with Closed.
//
// On failure the Conn moves to Failed and the error is kept in LastError. In
// non-blocking mode a pending handshake returns WouldBlock, the Conn stays
// Connecting and FinishConnect completes it.
func (c *Conn) Connect(ctx context.Context, addr Address) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.state != StateIdle {
		s := c.state
		c.mu.Unlock()
		return errInvalidState("connect", s)
	}
	if !addr.IsValid() {
		c.mu.Unlock()
		return sockerr.New(sockerr.ResolutionError, "connect", "invalid address")
	}
	h, err := c.open(addr.Family())
	if err != nil {
		c.failLocked(err)
		c.mu.Unlock()
		return err
	}
	c.h = h
	c.state = StateConnecting
	c.remote = addr
	nonblock := c.nonblock
	c.mu.Unlock()

	start := time.Now()
	ctx, span := c.tel.start(ctx, "connect", addrAttr("net.peer", addr), attribute.String("protocol", c.proto.String()))
	defer func() {
		c.tel.end(ctx, span, "connect", err)
		if !IsWouldBlock(err) {
			c.tel.connected(ctx, start, addr, err)
			c.metrics.connection("client", err)
		}
		c.metrics.failed(err)
	}()

	timeout := c.cfg.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d <= 0 {
			err = sockerr.Wrap(sockerr.Timeout, "connect", ctx.Err())
			c.settle(h, err)
			return err
		} else if timeout <= 0 || d < timeout {
			timeout = d
		}
	}

	c.log.debugf("connect %s timeout=%s nonblock=%t", addr, timeout, nonblock)
	stop := context.AfterFunc(ctx, func() { _ = h.Close() })
	err = h.Connect(addr, timeout)
	if !stop() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = sockerr.WithAddr(sockerr.Wrap(sockerr.Timeout, "connect", ctx.Err()), addr.String())
		} else {
			err = sockerr.WithAddr(sockerr.Wrap(sockerr.Closed, "connect", ctx.Err()), addr.String())
		}
	}
	return c.settle(h, err)
}

// open creates and configures the descriptor for a new attempt. Called with c.mu held.
func (c *Conn) open(family Family) (*Handle, error) {
	h, err := NewHandle(family, c.proto)
	if err != nil {
		return nil, err
	}
	opts := append(socketOptions(c.cfg, c.proto.sockType(), false), c.pending...)
	if err := applyOptions(h, opts); err != nil {
		_ = h.Close()
		return nil, err
	}
	if c.nonblock {
		if err := h.SetNonBlocking(true); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	return h, nil
}

// settle records the outcome of a connect attempt on h.
func (c *Conn) settle(h *Handle, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.h != h || c.state == StateClosing || c.state == StateClosed {
		if err == nil {
			err = sockerr.New(sockerr.Closed, "connect", "closed during connect")
		}
		return err
	}
	switch {
	case err == nil:
		c.connectedLocked()
	case IsWouldBlock(err) && c.nonblock:
		c.log.tracef("connect %s in progress", c.remote)
	default:
		c.failLocked(err)
	}
	return err
}

func (c *Conn) connectedLocked() {
	c.state = StateConnected
	c.lastErr = nil
	if local, err := c.h.LocalAddr(); err == nil {
		c.local = local
	}
	c.metrics.opened()
	c.log.debugf("connected %s -> %s", c.local, c.remote)
}

func (c *Conn) failLocked(err error) {
	c.state = StateFailed
	c.lastErr = err
	c.log.debugf("connect %s failed: %v", c.remote, err)
}

// FinishConnect completes a non-blocking Connect. It returns nil once
// Connected, WouldBlock while the handshake is pending, or the failure that
// moved the Conn to Failed.
func (c *Conn) FinishConnect() error {
	c.mu.Lock()
	if c.state != StateConnecting {
		s := c.state
		c.mu.Unlock()
		return errInvalidState("connect", s)
	}
	h := c.h
	c.mu.Unlock()

	err := h.FinishConnect()
	if err != nil && IsWouldBlock(err) {
		return err
	}
	c.metrics.connection("client", err)
	c.metrics.failed(err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.h != h || c.state != StateConnecting {
		return sockerr.New(sockerr.Closed, "connect", "closed during connect")
	}
	if err != nil {
		c.failLocked(sockerr.WithAddr(err, c.remote.String()))
		return c.lastErr
	}
	c.connectedLocked()
	return nil
}

// Close releases the connection. The first call moves the Conn through
// Closing to Closed; later calls return nil. Closing a Failed Conn releases
// its descriptor and leaves it Failed.
func (c *Conn) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return nil
	case StateFailed:
		h := c.h
		c.mu.Unlock()
		if h != nil {
			return h.Close()
		}
		return nil
	}
	prev := c.state
	c.state = StateClosing
	h := c.h
	c.mu.Unlock()

	var err error
	if h != nil {
		err = h.Close()
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	if prev == StateConnected {
		c.metrics.closed()
	}
	c.log.debugf("closed %s -> %s (was %s)", c.local, c.remote, prev)
	return err
}

// Reset returns a Failed or Closed Conn to Idle so Connect can be called
// again. It requires Config.Reconnect.
func (c *Conn) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.Reconnect {
		return sockerr.New(sockerr.InvalidState, "reset", "reconnect is disabled")
	}
	if c.state != StateFailed && c.state != StateClosed {
		return errInvalidState("reset", c.state)
	}
	if c.h != nil {
		_ = c.h.Close()
		c.h = nil
	}
	c.state = StateIdle
	c.lastErr = nil
	c.local, c.remote = Address{}, Address{}
	c.readShut, c.writeShut = false, false
	return nil
}

// io returns the handle for a transfer, or InvalidState when the Conn is not
// Connected or that direction is shut down.
func (c *Conn) io(op string, write bool) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil, errInvalidState(op, c.state)
	}
	if write && c.writeShut {
		return nil, sockerr.New(sockerr.InvalidState, op, "write side is shut down")
	}
	if !write && c.readShut {
		return nil, sockerr.New(sockerr.InvalidState, op, "read side is shut down")
	}
	return c.h, nil
}

func (c *Conn) ioFailed(err error) {
	if err == nil || IsWouldBlock(err) || err == io.EOF {
		return
	}
	c.metrics.failed(err)
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// Send writes p and returns the count the OS accepted, which may be short.
func (c *Conn) Send(p []byte) (int, error) {
	h, err := c.io("send", true)
	if err != nil {
		return 0, err
	}
	n, err := h.Send(p)
	c.metrics.sent(n)
	c.ioFailed(err)
	return n, err
}

// SendAll writes all of p. In non-blocking mode it waits for writability
// between short writes.
func (c *Conn) SendAll(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := c.Send(p[written:])
		written += n
		if err == nil {
			continue
		}
		if !IsWouldBlock(err) {
			return written, err
		}
		h, herr := c.io("send", true)
		if herr != nil {
			return written, herr
		}
		if _, werr := h.Wait(EventWrite, -1); werr != nil {
			return written, werr
		}
	}
	return written, nil
}

// Write implements io.Writer with SendAll semantics.
func (c *Conn) Write(p []byte) (int, error) { return c.SendAll(p) }

// Receive reads into p. It returns (0, io.EOF) once the peer has shut down
// its write side.
func (c *Conn) Receive(p []byte) (int, error) {
	h, err := c.io("recv", false)
	if err != nil {
		return 0, err
	}
	n, err := h.Receive(p)
	c.metrics.received(n)
	c.ioFailed(err)
	return n, err
}

// Read implements io.Reader.
func (c *Conn) Read(p []byte) (int, error) { return c.Receive(p) }

// ReceiveAll reads until end of stream and returns everything received.
func (c *Conn) ReceiveAll() ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if _, err := buf.ReadFrom(c); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.B...), nil
}

// SendFrame writes p as one length-prefixed frame.
func (c *Conn) SendFrame(p []byte) error {
	return WriteFrame(c, p)
}

// ReceiveFrame reads one length-prefixed frame no larger than Config.MaxFrameSize.
func (c *Conn) ReceiveFrame() ([]byte, error) {
	return ReadFrame(c, c.cfg.MaxFrameSize)
}

// Shutdown disables reads, writes or both. Shutting down both directions
// closes the Conn.
func (c *Conn) Shutdown(dir Direction) error {
	c.mu.Lock()
	if c.state != StateConnected {
		s := c.state
		c.mu.Unlock()
		return errInvalidState("shutdown", s)
	}
	h := c.h
	c.mu.Unlock()

	if err := h.Shutdown(dir); err != nil && !sockerr.Is(err, sockerr.InvalidState) {
		return err
	}

	c.mu.Lock()
	switch dir {
	case ShutdownRead:
		c.readShut = true
	case ShutdownWrite:
		c.writeShut = true
	default:
		c.readShut, c.writeShut = true, true
	}
	both := c.readShut && c.writeShut
	c.mu.Unlock()
	if both {
		return c.Close()
	}
	return nil
}

// SetNonBlocking switches the Conn between blocking and non-blocking mode.
// The mode is remembered while Idle and applied on Connect.
func (c *Conn) SetNonBlocking(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosing, StateClosed:
		return sockerr.New(sockerr.Closed, "setnonblock", "use of closed connection")
	}
	c.nonblock = on
	if c.h != nil && !c.h.Closed() {
		return c.h.SetNonBlocking(on)
	}
	return nil
}

// SetOption sets o. While Idle the option is validated and applied when the
// socket is created.
func (c *Conn) SetOption(o Option, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		if err := platform.CheckOption("setsockopt", c.proto.sockType(), o); err != nil {
			return err
		}
		c.pending = append(c.pending, optionValue{o, value})
		return nil
	case StateConnecting, StateConnected:
		return c.h.SetOption(o, value)
	}
	return errInvalidState("setsockopt", c.state)
}

// GetOption reads o from the socket. While Idle only options set with
// SetOption can be read back.
func (c *Conn) GetOption(o Option) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		if err := platform.CheckOption("getsockopt", c.proto.sockType(), o); err != nil {
			return 0, err
		}
		for i := len(c.pending) - 1; i >= 0; i-- {
			if c.pending[i].opt == o {
				return c.pending[i].value, nil
			}
		}
		return 0, errInvalidState("getsockopt", c.state)
	case StateConnecting, StateConnected:
		return c.h.GetOption(o)
	}
	return 0, errInvalidState("getsockopt", c.state)
}

// Wait waits for readiness while Connecting or Connected. See Handle.Wait.
func (c *Conn) Wait(ev Event, timeout time.Duration) (Event, error) {
	c.mu.Lock()
	if c.state != StateConnecting && c.state != StateConnected {
		s := c.state
		c.mu.Unlock()
		return 0, errInvalidState("wait", s)
	}
	h := c.h
	c.mu.Unlock()
	return h.Wait(ev, timeout)
}
