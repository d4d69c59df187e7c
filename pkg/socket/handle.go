package socket

import (
	"io"
	"time"

	"github.com/srediag/plugin-socket/internal/platform"
	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// Direction selects the half of a connection to shut down.
type Direction = platform.Direction

const (
	ShutdownRead  = platform.ShutRead
	ShutdownWrite = platform.ShutWrite
	ShutdownBoth  = platform.ShutBoth
)

// Event is a readiness mask used by Wait.
type Event = platform.Event

const (
	EventRead  = platform.EventRead
	EventWrite = platform.EventWrite
)

// Handle is an open OS socket plus the protocol it was created for. Once
// closed every operation fails with Closed.
//
// Conn, Listener and PacketConn own a Handle each; it is exposed for callers
// that drive their own readiness loop.
type Handle struct {
	fd    *platform.FD
	proto Protocol
}

// NewHandle creates an unbound socket for family and proto. Protocols without
// a stream or datagram transport (raw, icmp, sctp) give UnsupportedOption.
func NewHandle(family Family, proto Protocol) (*Handle, error) {
	if proto.Transport() == ProtocolUnknown {
		return nil, sockerr.New(sockerr.UnsupportedOption, "socket", "protocol "+proto.String()+" is not supported")
	}
	if family == FamilyAny {
		family = FamilyIPv4
	}
	fd, err := platform.Socket(family, proto.sockType())
	if err != nil {
		return nil, err
	}
	return &Handle{fd: fd, proto: proto}, nil
}

func (h *Handle) Protocol() Protocol { return h.proto }
func (h *Handle) Family() Family     { return h.fd.Family() }

// Fd returns the OS descriptor. It must not be used after Close.
func (h *Handle) Fd() uintptr { return h.fd.Sysfd() }

func (h *Handle) Closed() bool      { return h.fd.Closed() }
func (h *Handle) NonBlocking() bool { return h.fd.NonBlocking() }

// SetNonBlocking switches the handle between blocking and non-blocking mode.
func (h *Handle) SetNonBlocking(on bool) error { return h.fd.SetNonblock(on) }

func (h *Handle) Bind(addr Address) error {
	return sockerr.WithAddr(h.fd.Bind(addr.AddrPort()), addr.String())
}

func (h *Handle) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return h.fd.Listen(backlog)
}

// Accept returns the next queued connection and its peer address. Accepted
// handles start in blocking mode.
func (h *Handle) Accept() (*Handle, Address, error) {
	fd, peer, err := h.fd.Accept()
	if err != nil {
		return nil, Address{}, err
	}
	return &Handle{fd: fd, proto: h.proto}, AddressFrom(peer), nil
}

// Connect starts a connection to addr, waiting at most timeout in blocking mode.
func (h *Handle) Connect(addr Address, timeout time.Duration) error {
	return sockerr.WithAddr(h.fd.Connect(addr.AddrPort(), timeout), addr.String())
}

// FinishConnect checks a pending non-blocking connect once.
func (h *Handle) FinishConnect() error { return h.fd.FinishConnect() }

func (h *Handle) Send(p []byte) (int, error) { return h.fd.Send(p) }

func (h *Handle) SendTo(p []byte, addr Address) (int, error) {
	n, err := h.fd.SendTo(p, addr.AddrPort())
	return n, sockerr.WithAddr(err, addr.String())
}

// Receive reads into p. On a stream socket the orderly end of the peer's data
// is reported as (0, io.EOF).
func (h *Handle) Receive(p []byte) (int, error) {
	if len(p) == 0 {
		if h.fd.Closed() {
			return 0, sockerr.New(sockerr.Closed, "recv", "use of closed socket")
		}
		return 0, nil
	}
	n, err := h.fd.Recv(p)
	if err != nil {
		return 0, err
	}
	if n == 0 && h.fd.Type() == platform.Stream {
		return 0, io.EOF
	}
	return n, nil
}

// ReceiveFrom reads one datagram and reports its source.
func (h *Handle) ReceiveFrom(p []byte) (int, Address, error) {
	n, from, err := h.fd.RecvFrom(p)
	if err != nil {
		return 0, Address{}, err
	}
	return n, AddressFrom(from), nil
}

func (h *Handle) Shutdown(dir Direction) error { return h.fd.Shutdown(dir) }

// SetOption sets o. Options that do not apply to the protocol give UnsupportedOption.
func (h *Handle) SetOption(o Option, value int) error { return h.fd.SetOption(o, value) }

func (h *Handle) GetOption(o Option) (int, error) { return h.fd.GetOption(o) }

func (h *Handle) LocalAddr() (Address, error) {
	ap, err := h.fd.LocalAddr()
	if err != nil {
		return Address{}, err
	}
	return AddressFrom(ap), nil
}

func (h *Handle) RemoteAddr() (Address, error) {
	ap, err := h.fd.PeerAddr()
	if err != nil {
		return Address{}, err
	}
	return AddressFrom(ap), nil
}

// Wait blocks until one of the events in ev is ready or timeout elapses and
// returns the ready subset. Zero polls once; a negative timeout waits forever.
func (h *Handle) Wait(ev Event, timeout time.Duration) (Event, error) {
	return h.fd.Wait(ev, timeout)
}

// Close releases the descriptor. Only the first call has an effect.
func (h *Handle) Close() error { return h.fd.Close() }
