package socket

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// PacketConn is a bound datagram socket.
type PacketConn struct {
	h       *Handle
	addr    Address
	cfg     *Config
	closed  atomic.Bool
	log     *logger
	metrics *Metrics
}

// ListenPacket creates a UDP socket bound to addr. Port 0 picks an ephemeral
// port. The descriptor is released on every failure path.
func ListenPacket(ctx context.Context, addr Address, cfg *Config) (pc *PacketConn, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.orDefault()
	if !addr.IsValid() {
		return nil, sockerr.New(sockerr.ResolutionError, "listen", "invalid address")
	}
	tel := newTelemetry(cfg)
	ctx, span := tel.start(ctx, "listen_packet", addrAttr("net.sock.host", addr))
	defer func() { tel.end(ctx, span, "listen_packet", err) }()

	h, err := NewHandle(addr.Family(), ProtocolUDP)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = h.Close()
		}
	}()
	if err = applyOptions(h, socketOptions(cfg, h.fd.Type(), true)); err != nil {
		return nil, err
	}
	if err = h.Bind(addr); err != nil {
		return nil, err
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
	return &PacketConn{
		h:       h,
		addr:    bound,
		cfg:     cfg,
		log:     newLogger("socket.packet", cfg.Logger),
		metrics: cfg.Metrics,
	}, nil
}

func (pc *PacketConn) LocalAddr() Address { return pc.addr }
func (pc *PacketConn) Handle() *Handle    { return pc.h }

// SendTo sends p as one datagram to addr.
func (pc *PacketConn) SendTo(p []byte, addr Address) (int, error) {
	n, err := pc.h.SendTo(p, addr)
	pc.metrics.sent(n)
	pc.metrics.failed(err)
	return n, err
}

// ReceiveFrom reads one datagram into p. Bytes beyond len(p) are discarded.
func (pc *PacketConn) ReceiveFrom(p []byte) (int, Address, error) {
	n, from, err := pc.h.ReceiveFrom(p)
	pc.metrics.received(n)
	pc.metrics.failed(err)
	return n, from, err
}

// SetBroadcast allows sending to broadcast addresses.
func (pc *PacketConn) SetBroadcast(on bool) error {
	return pc.h.SetOption(Broadcast, boolInt(on))
}

// Broadcast sends p to the IPv4 limited broadcast address on port. The socket
// must be IPv4 and have broadcast enabled.
func (pc *PacketConn) Broadcast(p []byte, port uint16) (int, error) {
	if pc.h.Family() != FamilyIPv4 {
		return 0, sockerr.New(sockerr.UnsupportedOption, "broadcast", "broadcast requires an ipv4 socket")
	}
	return pc.SendTo(p, AddressOf(netip.AddrFrom4([4]byte{255, 255, 255, 255}), port))
}

// JoinGroup subscribes to the multicast group on the interface with address
// ifaddr, or the default interface when ifaddr is the zero value.
func (pc *PacketConn) JoinGroup(group, ifaddr netip.Addr) error {
	if !group.IsMulticast() {
		return sockerr.New(sockerr.UnsupportedOption, "join", group.String()+" is not a multicast address")
	}
	pc.log.debugf("join %s on %s", group, pc.addr)
	return pc.h.fd.JoinGroup(group, ifaddr)
}

// SetMulticastInterface sends multicast datagrams out of the interface with
// IPv4 address ifaddr.
func (pc *PacketConn) SetMulticastInterface(ifaddr netip.Addr) error {
	return pc.h.fd.SetMulticastInterface(ifaddr)
}

func (pc *PacketConn) SetOption(o Option, value int) error { return pc.h.SetOption(o, value) }
func (pc *PacketConn) GetOption(o Option) (int, error)     { return pc.h.GetOption(o) }
func (pc *PacketConn) SetNonBlocking(on bool) error        { return pc.h.SetNonBlocking(on) }

// Wait waits for readiness. See Handle.Wait.
func (pc *PacketConn) Wait(ev Event, timeout time.Duration) (Event, error) {
	return pc.h.Wait(ev, timeout)
}

// Close releases the socket. Only the first call has an effect.
func (pc *PacketConn) Close() error {
	if !pc.closed.CompareAndSwap(false, true) {
		return nil
	}
	return pc.h.Close()
}
