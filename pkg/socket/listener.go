package socket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// Listener owns a bound, listening stream socket and yields accepted Conns.
type Listener struct {
	h       *Handle
	addr    Address
	backlog int
	cfg     *Config
	closed  atomic.Bool

	log *logger
	tel *telemetry
}

// Listen creates a stream socket, applies cfg's options, binds addr and starts
// listening. A port of 0 picks an ephemeral port; Addr reports it. The
// descriptor is released on every failure path.
func Listen(ctx context.Context, addr Address, cfg *Config) (l *Listener, err error) {
	return ListenProtocol(ctx, ProtocolTCP, addr, cfg)
}

// ListenProtocol is Listen for an application protocol carried over TCP.
func ListenProtocol(ctx context.Context, proto Protocol, addr Address, cfg *Config) (l *Listener, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.orDefault()
	if proto.Transport() != ProtocolTCP {
		return nil, sockerr.New(sockerr.UnsupportedOption, "listen", "protocol "+proto.String()+" is not connection-oriented")
	}
	if !addr.IsValid() {
		return nil, sockerr.New(sockerr.ResolutionError, "listen", "invalid address")
	}
	tel := newTelemetry(cfg)
	ctx, span := tel.start(ctx, "listen", addrAttr("net.sock.host", addr))
	defer func() { tel.end(ctx, span, "listen", err) }()

	h, err := NewHandle(addr.Family(), proto)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = h.Close()
			cfg.Metrics.failed(err)
		}
	}()
	if err = applyOptions(h, socketOptions(cfg, h.fd.Type(), true)); err != nil {
		return nil, err
	}
	if err = h.Bind(addr); err != nil {
		return nil, err
	}
	if err = h.Listen(cfg.Backlog); err != nil {
		return nil, sockerr.WithAddr(err, addr.String())
	}
	if cfg.NonBlocking {
		if err = h.SetNonBlocking(true); err != nil {
			return nil, err
		}
	}
	bound, err := h.LocalAddr()
	if err != nil {
		return nil, err
	}
	l = &Listener{
		h:       h,
		addr:    bound,
		backlog: cfg.Backlog,
		cfg:     cfg,
		log:     newLogger("socket.listener", cfg.Logger),
		tel:     tel,
	}
	l.log.infof("listening on %s backlog=%d", bound, cfg.Backlog)
	return l, nil
}

// ListenAddr resolves address ("host:port", host may be empty) for binding
// and listens on the first candidate.
func ListenAddr(ctx context.Context, address string, cfg *Config) (*Listener, error) {
	return ListenProtocolAddr(ctx, ProtocolTCP, address, cfg)
}

// ListenProtocolAddr is ListenAddr for proto. A missing port falls back to
// the protocol's well-known service port.
func ListenProtocolAddr(ctx context.Context, proto Protocol, address string, cfg *Config) (*Listener, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	host, port, err := splitHostPort(address)
	if err != nil {
		return nil, err
	}
	c := cfg.orDefault()
	addrs, err := DefaultResolver.Resolve(ctx, host, port, Hints{Family: c.PreferFamily, Protocol: proto})
	if err != nil {
		return nil, err
	}
	return ListenProtocol(ctx, proto, addrs.First(), cfg)
}

// Addr returns the bound address with the actual port.
func (l *Listener) Addr() Address { return l.addr }

// Backlog returns the listen queue depth requested.
func (l *Listener) Backlog() int { return l.backlog }

// Handle returns the listening socket.
func (l *Listener) Handle() *Handle { return l.h }

// Accept returns the next queued connection, in the order the OS queued them.
// In non-blocking mode an empty queue gives WouldBlock. After Close it gives
// Closed.
func (l *Listener) Accept() (*Conn, error) {
	if l.closed.Load() {
		return nil, sockerr.New(sockerr.Closed, "accept", "listener closed")
	}
	h, peer, err := l.h.Accept()
	if err != nil {
		if l.closed.Load() || IsClosed(err) {
			return nil, sockerr.WithAddr(sockerr.New(sockerr.Closed, "accept", "listener closed"), l.addr.String())
		}
		if !IsWouldBlock(err) {
			l.cfg.Metrics.connection("server", err)
			l.cfg.Metrics.failed(err)
			l.log.warnf("accept on %s: %v", l.addr, err)
		}
		return nil, sockerr.WithAddr(err, l.addr.String())
	}
	l.cfg.Metrics.connection("server", nil)
	l.tel.accepted(context.Background())
	c := newAcceptedConn(h, peer, l.cfg, newLogger("socket.conn", l.cfg.Logger), l.tel)
	l.log.debugf("accepted %s on %s", peer, l.addr)
	return c, nil
}

// SetNonBlocking switches Accept between blocking and non-blocking mode.
func (l *Listener) SetNonBlocking(on bool) error { return l.h.SetNonBlocking(on) }

// Wait waits until a connection is ready to accept or timeout elapses.
func (l *Listener) Wait(timeout time.Duration) (bool, error) {
	ev, err := l.h.Wait(EventRead, timeout)
	return ev&EventRead != 0, err
}

// Close stops listening. Accepted Conns are not affected. Only the first call
// has an effect.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.log.infof("closing listener %s", l.addr)
	return l.h.Close()
}
