// Package adapter connects the socket layer to the rest of a host process:
// its network entry points, health reporting and telemetry providers.
package adapter

import (
	"context"
	"fmt"

	"github.com/srediag/plugin-socket/pkg/server"
	"github.com/srediag/plugin-socket/pkg/sockerr"
	"github.com/srediag/plugin-socket/pkg/socket"
)

// NetworkAdapter opens stream connections and listeners by address string.
type NetworkAdapter interface {
	Dial(ctx context.Context, address string) (*socket.Conn, error)
	Listen(ctx context.Context, address string) (*socket.Listener, error)
	Serve(ctx context.Context, address string, h server.Handler) (*server.Server, error)
}

// SocketAdapter is a NetworkAdapter over pkg/socket.
type SocketAdapter struct {
	// Network is a protocol name accepted by socket.ProtocolFromName. Empty means tcp.
	Network string
	Socket  *socket.Config
	Server  server.Config
}

var _ NetworkAdapter = (*SocketAdapter)(nil)

// NewSocketAdapter returns a tcp adapter with default configs.
func NewSocketAdapter() *SocketAdapter {
	return &SocketAdapter{
		Network: "tcp",
		Socket:  socket.DefaultConfig(),
		Server:  server.DefaultConfig(),
	}
}

func (a *SocketAdapter) network() string {
	if a.Network == "" {
		return "tcp"
	}
	return a.Network
}

// Dial resolves address and connects to the first reachable candidate.
func (a *SocketAdapter) Dial(ctx context.Context, address string) (*socket.Conn, error) {
	return socket.Dial(ctx, a.network(), address, a.Socket)
}

// Listen resolves address, given as host:port, and binds a listener on the
// first candidate. The host may be a name or empty for all interfaces.
func (a *SocketAdapter) Listen(ctx context.Context, address string) (*socket.Listener, error) {
	proto := socket.ProtocolFromName(a.network())
	if proto.Transport() != socket.ProtocolTCP {
		return nil, sockerr.New(sockerr.UnsupportedOption, "listen", "stream listener needs a tcp protocol, got "+a.network())
	}
	return socket.ListenProtocolAddr(ctx, proto, address, a.Socket)
}

// Serve listens on address and starts a server running h. The caller stops
// the returned server.
func (a *SocketAdapter) Serve(ctx context.Context, address string, h server.Handler) (*server.Server, error) {
	l, err := a.Listen(ctx, address)
	if err != nil {
		return nil, err
	}
	cfg := a.Server
	if cfg.Logger == nil && a.Socket != nil {
		cfg.Logger = a.Socket.Logger
	}
	s, err := server.New(l, h, cfg)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("adapter: start server: %w", err)
	}
	return s, nil
}
