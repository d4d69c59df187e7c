package socket

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// Connect creates a TCP Conn and connects it to addr. On failure the Conn is
// released and the connect error returned. In non-blocking mode a pending
// handshake returns the Connecting Conn together with WouldBlock.
func Connect(ctx context.Context, addr Address, cfg *Config) (*Conn, error) {
	c := NewConn(cfg)
	if err := c.Connect(ctx, addr); err != nil {
		if IsWouldBlock(err) {
			return c, err
		}
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Dial resolves address and connects to the candidates in order until one
// succeeds. network is a protocol name ("tcp", "udp", "http", "ssh"...);
// when address has no port the protocol's well-known service port is used.
//
// Resolution failures give ResolutionError. When every candidate fails the
// last connect error is returned.
func Dial(ctx context.Context, network, address string, cfg *Config) (*Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	proto := ProtocolFromName(network)
	if proto.Transport() == ProtocolUnknown {
		return nil, sockerr.New(sockerr.UnsupportedOption, "dial", "unsupported network "+network)
	}
	host, port, err := splitHostPort(address)
	if err != nil {
		return nil, err
	}
	if port == "" && proto.service() == "" {
		return nil, &sockerr.Error{Kind: sockerr.ResolutionError, Op: "dial", Addr: address, Detail: "missing port"}
	}
	c := cfg.orDefault()
	addrs, err := DefaultResolver.Resolve(ctx, host, port, Hints{Family: c.PreferFamily, Protocol: proto})
	if err != nil {
		return nil, err
	}

	var last error
	for addr := range addrs.All() {
		conn, err := NewProtocolConn(proto, cfg)
		if err != nil {
			return nil, err
		}
		err = conn.Connect(ctx, addr)
		if err == nil {
			return conn, nil
		}
		if IsWouldBlock(err) {
			return conn, err
		}
		_ = conn.Close()
		internalLogger.debugf("dial %s: candidate %s failed: %v", address, addr, err)
		last = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, last
}

// Redial reconnects c to the first reachable address in addrs, retrying with
// b between rounds. c must have been created with Config.Reconnect; a Failed
// or Closed c is Reset before each attempt. Errors other than connect-class
// failures stop the retries.
func Redial(ctx context.Context, c *Conn, addrs []Address, b backoff.BackOff) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.cfg.Reconnect {
		return sockerr.New(sockerr.InvalidState, "redial", "reconnect is disabled")
	}
	if len(addrs) == 0 {
		return sockerr.New(sockerr.ResolutionError, "redial", "no addresses")
	}
	attempt := 0
	op := func() error {
		attempt++
		var last error
		for _, addr := range addrs {
			s := c.State()
			if s == StateConnected {
				return nil
			}
			if s == StateFailed || s == StateClosed {
				if err := c.Reset(); err != nil {
					return backoff.Permanent(err)
				}
			}
			err := c.Connect(ctx, addr)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			last = err
		}
		c.log.infof("redial attempt %d failed: %v", attempt, last)
		return last
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func retryable(err error) bool {
	switch KindOf(err) {
	case sockerr.ConnectionRefused, sockerr.NetworkUnreachable, sockerr.Timeout, sockerr.Closed, sockerr.IOError:
		return true
	}
	return false
}
