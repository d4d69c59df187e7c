//go:build windows

package platform

import (
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/srediag/plugin-socket/pkg/sockerr"
)

var (
	modws2_32   = windows.NewLazySystemDLL("ws2_32.dll")
	procAccept  = modws2_32.NewProc("accept")
	procIoctl   = modws2_32.NewProc("ioctlsocket")
	procWSAPoll = modws2_32.NewProc("WSAPoll")

	startupOnce sync.Once
	startupErr  error
)

const (
	fionbio = 0x8004667e
	soError = 0x1007

	pollRDNORM = 0x0100
	pollRDBAND = 0x0200
	pollWRNORM = 0x0010
	pollERR    = 0x0001
	pollHUP    = 0x0002
	pollNVAL   = 0x0004
)

type wsaPollFD struct {
	fd      windows.Handle
	events  int16
	revents int16
}

func startup() error {
	startupOnce.Do(func() {
		var d windows.WSAData
		if err := windows.WSAStartup(uint32(0x202), &d); err != nil {
			startupErr = mapErrno("startup", err)
		}
	})
	return startupErr
}

// FD owns one winsock handle.
//
// Blocking mode issues plain blocking winsock calls. Non-blocking mode flips
// FIONBIO so calls return WSAEWOULDBLOCK. Closing the handle from another
// goroutine aborts blocked calls, which then report Closed.
type FD struct {
	h        windows.Handle
	family   Family
	typ      SockType
	nonblock atomic.Bool
	closed   atomic.Bool
}

// Socket creates a TCP (Stream) or UDP (Datagram) socket of the given family.
func Socket(family Family, typ SockType) (*FD, error) {
	if err := startup(); err != nil {
		return nil, err
	}
	domain := windows.AF_INET
	if family == IPv6 {
		domain = windows.AF_INET6
	}
	st, proto := windows.SOCK_STREAM, windows.IPPROTO_TCP
	if typ == Datagram {
		st, proto = windows.SOCK_DGRAM, windows.IPPROTO_UDP
	}
	h, err := windows.Socket(domain, st, proto)
	if err != nil {
		return nil, mapErrno("socket", err)
	}
	return newFD(h, family, typ), nil
}

func newFD(h windows.Handle, family Family, typ SockType) *FD {
	_ = windows.SetHandleInformation(h, windows.HANDLE_FLAG_INHERIT, 0)
	fd := &FD{h: h, family: family, typ: typ}
	runtime.SetFinalizer(fd, (*FD).Close)
	return fd
}

// Family returns the address family the socket was created with.
func (fd *FD) Family() Family { return fd.family }

// Type returns the socket type.
func (fd *FD) Type() SockType { return fd.typ }

// Sysfd returns the raw handle. It is only meaningful while the FD is open.
func (fd *FD) Sysfd() uintptr { return uintptr(fd.h) }

// Closed reports whether Close has been called.
func (fd *FD) Closed() bool { return fd.closed.Load() }

// NonBlocking reports the current mode.
func (fd *FD) NonBlocking() bool { return fd.nonblock.Load() }

// SetNonblock switches between blocking and non-blocking mode.
func (fd *FD) SetNonblock(on bool) error {
	if fd.closed.Load() {
		return errClosed("setnonblock")
	}
	if err := fd.ioctlNonblock(on); err != nil {
		return err
	}
	fd.nonblock.Store(on)
	return nil
}

func (fd *FD) ioctlNonblock(on bool) error {
	var arg uint32
	if on {
		arg = 1
	}
	r, _, e := procIoctl.Call(uintptr(fd.h), uintptr(fionbio), uintptr(unsafe.Pointer(&arg)))
	if r != 0 {
		return fd.mapErr("setnonblock", e)
	}
	return nil
}

// Close releases the handle. Calls after the first are no-ops.
func (fd *FD) Close() error {
	if !fd.closed.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(fd, nil)
	if err := windows.Closesocket(fd.h); err != nil {
		return sockerr.Wrap(sockerr.IOError, "close", err)
	}
	return nil
}

// Bind assigns a local address.
func (fd *FD) Bind(addr netip.AddrPort) error {
	if fd.closed.Load() {
		return errClosed("bind")
	}
	sa, err := fd.sockaddr("bind", addr)
	if err != nil {
		return err
	}
	if err := windows.Bind(fd.h, sa); err != nil {
		return bindErr(fd.mapErr("bind", err))
	}
	return nil
}

// Listen puts a bound stream socket into listening mode.
func (fd *FD) Listen(backlog int) error {
	if fd.closed.Load() {
		return errClosed("listen")
	}
	if err := windows.Listen(fd.h, backlog); err != nil {
		return fd.mapErr("listen", err)
	}
	return nil
}

// Accept takes the next queued connection.
func (fd *FD) Accept() (*FD, netip.AddrPort, error) {
	if fd.closed.Load() {
		return nil, netip.AddrPort{}, errClosed("accept")
	}
	for {
		var rsa windows.RawSockaddrAny
		l := int32(unsafe.Sizeof(rsa))
		r, _, e := procAccept.Call(uintptr(fd.h), uintptr(unsafe.Pointer(&rsa)), uintptr(unsafe.Pointer(&l)))
		ns := windows.Handle(r)
		if ns == windows.InvalidHandle {
			if e == windows.WSAECONNRESET {
				continue
			}
			return nil, netip.AddrPort{}, fd.mapErr("accept", e)
		}
		nfd := newFD(ns, fd.family, fd.typ)
		// Accepted sockets inherit FIONBIO from the listener.
		if fd.nonblock.Load() {
			if err := nfd.ioctlNonblock(false); err != nil {
				_ = nfd.Close()
				return nil, netip.AddrPort{}, err
			}
		}
		var peer netip.AddrPort
		if sa, err := rsa.Sockaddr(); err == nil {
			peer = fromSockaddr(sa)
		}
		return nfd, peer, nil
	}
}

// Connect starts a connection to addr. In blocking mode it waits for the
// handshake up to timeout (0 waits indefinitely). In non-blocking mode a
// pending handshake yields WouldBlock and FinishConnect completes it.
func (fd *FD) Connect(addr netip.AddrPort, timeout time.Duration) error {
	if fd.closed.Load() {
		return errClosed("connect")
	}
	sa, err := fd.sockaddr("connect", addr)
	if err != nil {
		return err
	}
	if fd.nonblock.Load() {
		err := windows.Connect(fd.h, sa)
		if err == nil {
			return nil
		}
		return fd.mapErr("connect", err)
	}
	if timeout <= 0 {
		if err := windows.Connect(fd.h, sa); err != nil {
			return fd.mapErr("connect", err)
		}
		return nil
	}
	if err := fd.ioctlNonblock(true); err != nil {
		return err
	}
	defer func() { _ = fd.ioctlNonblock(false) }()
	if err := windows.Connect(fd.h, sa); err != nil {
		if err != windows.WSAEWOULDBLOCK {
			return fd.mapErr("connect", err)
		}
	} else {
		return nil
	}
	deadline := time.Now().Add(timeout)
	for {
		ready, err := fd.Wait(EventWrite, time.Until(deadline))
		if err != nil {
			return err
		}
		if ready != 0 {
			return fd.connectResult()
		}
		if !time.Now().Before(deadline) {
			return sockerr.New(sockerr.Timeout, "connect", "connection timed out")
		}
	}
}

// FinishConnect checks a pending non-blocking connect once.
func (fd *FD) FinishConnect() error {
	ready, err := fd.Wait(EventWrite, 0)
	if err != nil {
		return err
	}
	if ready == 0 {
		return sockerr.New(sockerr.WouldBlock, "connect", "connection in progress")
	}
	return fd.connectResult()
}

func (fd *FD) connectResult() error {
	v, err := windows.GetsockoptInt(fd.h, windows.SOL_SOCKET, soError)
	if err != nil {
		return fd.mapErr("connect", err)
	}
	if v != 0 {
		return fd.mapErr("connect", windows.Errno(v))
	}
	return nil
}

// Send writes p and returns how many bytes winsock accepted.
func (fd *FD) Send(p []byte) (int, error) {
	if fd.closed.Load() {
		return 0, errClosed("send")
	}
	if len(p) == 0 {
		return 0, nil
	}
	var sent uint32
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	if err := windows.WSASend(fd.h, &buf, 1, &sent, 0, nil, nil); err != nil {
		return 0, fd.mapErr("send", err)
	}
	return int(sent), nil
}

// SendTo sends one datagram to addr.
func (fd *FD) SendTo(p []byte, addr netip.AddrPort) (int, error) {
	if fd.closed.Load() {
		return 0, errClosed("sendto")
	}
	sa, err := fd.sockaddr("sendto", addr)
	if err != nil {
		return 0, err
	}
	if err := windows.Sendto(fd.h, p, 0, sa); err != nil {
		return 0, fd.mapErr("sendto", err)
	}
	return len(p), nil
}

// Recv reads into p. A zero count with a nil error is the orderly end of stream.
func (fd *FD) Recv(p []byte) (int, error) {
	if fd.closed.Load() {
		return 0, errClosed("recv")
	}
	if len(p) == 0 {
		return 0, nil
	}
	var (
		got   uint32
		flags uint32
	)
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	if err := windows.WSARecv(fd.h, &buf, 1, &got, &flags, nil, nil); err != nil {
		if err == windows.WSAESHUTDOWN || err == windows.WSAEDISCON {
			return 0, nil
		}
		return 0, fd.mapErr("recv", err)
	}
	return int(got), nil
}

// RecvFrom reads one datagram and its source address.
func (fd *FD) RecvFrom(p []byte) (int, netip.AddrPort, error) {
	if fd.closed.Load() {
		return 0, netip.AddrPort{}, errClosed("recvfrom")
	}
	n, from, err := windows.Recvfrom(fd.h, p, 0)
	if err != nil {
		return 0, netip.AddrPort{}, fd.mapErr("recvfrom", err)
	}
	return n, fromSockaddr(from), nil
}

// Shutdown disables one or both directions.
func (fd *FD) Shutdown(dir Direction) error {
	if fd.closed.Load() {
		return errClosed("shutdown")
	}
	how := windows.SHUT_RDWR
	switch dir {
	case ShutRead:
		how = windows.SHUT_RD
	case ShutWrite:
		how = windows.SHUT_WR
	}
	if err := windows.Shutdown(fd.h, how); err != nil {
		return fd.mapErr("shutdown", err)
	}
	return nil
}

func optLevelName(o Option) (int, int) {
	switch o {
	case OptReuseAddress:
		return windows.SOL_SOCKET, windows.SO_REUSEADDR
	case OptKeepAlive:
		return windows.SOL_SOCKET, windows.SO_KEEPALIVE
	case OptReceiveBuffer:
		return windows.SOL_SOCKET, windows.SO_RCVBUF
	case OptSendBuffer:
		return windows.SOL_SOCKET, windows.SO_SNDBUF
	case OptNoDelay:
		return windows.IPPROTO_TCP, windows.TCP_NODELAY
	default:
		return windows.SOL_SOCKET, windows.SO_BROADCAST
	}
}

// SetOption sets a recognized option. Boolean options treat any non-zero value as on.
func (fd *FD) SetOption(o Option, value int) error {
	if err := CheckOption("setsockopt", fd.typ, o); err != nil {
		return err
	}
	if fd.closed.Load() {
		return errClosed("setsockopt")
	}
	if isBoolOption(o) && value != 0 {
		value = 1
	}
	level, name := optLevelName(o)
	if err := windows.SetsockoptInt(fd.h, level, name, value); err != nil {
		return fd.mapErr("setsockopt", err)
	}
	return nil
}

// GetOption reads a recognized option. Boolean options are normalized to 0 or 1.
func (fd *FD) GetOption(o Option) (int, error) {
	if err := CheckOption("getsockopt", fd.typ, o); err != nil {
		return 0, err
	}
	if fd.closed.Load() {
		return 0, errClosed("getsockopt")
	}
	level, name := optLevelName(o)
	v, err := windows.GetsockoptInt(fd.h, level, name)
	if err != nil {
		return 0, fd.mapErr("getsockopt", err)
	}
	if isBoolOption(o) && v != 0 {
		v = 1
	}
	return v, nil
}

// JoinGroup subscribes a datagram socket to an IPv4 multicast group. An invalid
// ifaddr selects the default interface.
func (fd *FD) JoinGroup(group, ifaddr netip.Addr) error {
	if fd.typ != Datagram {
		return sockerr.New(sockerr.UnsupportedOption, "join", "multicast requires a datagram socket")
	}
	if !group.Unmap().Is4() {
		return sockerr.New(sockerr.UnsupportedOption, "join", "ipv6 multicast is not supported on windows")
	}
	if fd.closed.Load() {
		return errClosed("join")
	}
	mreq := &windows.IPMreq{Multiaddr: group.Unmap().As4()}
	if ifaddr.IsValid() && ifaddr.Unmap().Is4() {
		mreq.Interface = ifaddr.Unmap().As4()
	}
	if err := windows.SetsockoptIPMreq(fd.h, windows.IPPROTO_IP, windows.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return fd.mapErr("join", err)
	}
	return nil
}

// SetMulticastInterface selects the IPv4 interface, by address, that outgoing
// multicast datagrams leave through.
func (fd *FD) SetMulticastInterface(ifaddr netip.Addr) error {
	if fd.typ != Datagram || !ifaddr.Unmap().Is4() {
		return sockerr.New(sockerr.UnsupportedOption, "multicast-if", "needs a datagram socket and an ipv4 interface address")
	}
	if fd.closed.Load() {
		return errClosed("multicast-if")
	}
	if err := windows.SetsockoptInet4Addr(fd.h, windows.IPPROTO_IP, windows.IP_MULTICAST_IF, ifaddr.Unmap().As4()); err != nil {
		return fd.mapErr("multicast-if", err)
	}
	return nil
}

// LocalAddr returns the bound address.
func (fd *FD) LocalAddr() (netip.AddrPort, error) {
	if fd.closed.Load() {
		return netip.AddrPort{}, errClosed("getsockname")
	}
	sa, err := windows.Getsockname(fd.h)
	if err != nil {
		return netip.AddrPort{}, fd.mapErr("getsockname", err)
	}
	return fromSockaddr(sa), nil
}

// PeerAddr returns the connected peer address.
func (fd *FD) PeerAddr() (netip.AddrPort, error) {
	if fd.closed.Load() {
		return netip.AddrPort{}, errClosed("getpeername")
	}
	sa, err := windows.Getpeername(fd.h)
	if err != nil {
		return netip.AddrPort{}, fd.mapErr("getpeername", err)
	}
	return fromSockaddr(sa), nil
}

// Wait blocks until the socket is ready for one of the events in ev or the
// timeout elapses. A zero timeout polls once and a negative one waits forever.
// It returns the ready subset, which is empty on timeout.
func (fd *FD) Wait(ev Event, timeout time.Duration) (Event, error) {
	var events int16
	if ev&EventRead != 0 {
		events |= pollRDNORM
	}
	if ev&EventWrite != 0 {
		events |= pollWRNORM
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if fd.closed.Load() {
			return 0, errClosed("wait")
		}
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
		}
		pfd := wsaPollFD{fd: fd.h, events: events}
		r, _, e := procWSAPoll.Call(uintptr(unsafe.Pointer(&pfd)), 1, uintptr(waitMillis(remaining)))
		if int32(r) < 0 {
			return 0, fd.mapErr("wait", e)
		}
		if r > 0 {
			if pfd.revents&pollNVAL != 0 {
				return 0, errClosed("wait")
			}
			var ready Event
			if pfd.revents&(pollRDNORM|pollRDBAND|pollHUP|pollERR) != 0 && ev&EventRead != 0 {
				ready |= EventRead
			}
			if pfd.revents&(pollWRNORM|pollERR|pollHUP) != 0 && ev&EventWrite != 0 {
				ready |= EventWrite
			}
			return ready, nil
		}
		if timeout == 0 || (timeout > 0 && !time.Now().Before(deadline)) {
			return 0, nil
		}
	}
}

func (fd *FD) sockaddr(op string, addr netip.AddrPort) (windows.Sockaddr, error) {
	ip := addr.Addr()
	port := int(addr.Port())
	if fd.family == IPv4 {
		ip = ip.Unmap()
		if !ip.Is4() {
			return nil, sockerr.New(sockerr.IOError, op, "address family mismatch: "+addr.String())
		}
		return &windows.SockaddrInet4{Port: port, Addr: ip.As4()}, nil
	}
	return &windows.SockaddrInet6{Port: port, Addr: ip.As16()}, nil
}

func fromSockaddr(sa windows.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *windows.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *windows.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

func (fd *FD) mapErr(op string, err error) error {
	if fd.closed.Load() {
		return errClosed(op)
	}
	return mapErrno(op, err)
}
