//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package platform

import (
	"errors"
	"net/netip"
	"os"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// FD owns one native socket descriptor.
//
// The descriptor is always non-blocking at the OS level and registered with the
// Go runtime poller through an *os.File. Blocking mode parks the goroutine on the
// poller until the socket is ready; non-blocking mode tries once and reports
// WouldBlock. Closing the file wakes every parked call.
type FD struct {
	file     *os.File
	rc       syscall.RawConn
	sysfd    int
	family   Family
	typ      SockType
	nonblock atomic.Bool
	closed   atomic.Bool
}

// Socket creates a TCP (Stream) or UDP (Datagram) socket of the given family.
func Socket(family Family, typ SockType) (*FD, error) {
	domain := unix.AF_INET
	if family == IPv6 {
		domain = unix.AF_INET6
	}
	st, proto := unix.SOCK_STREAM, unix.IPPROTO_TCP
	if typ == Datagram {
		st, proto = unix.SOCK_DGRAM, unix.IPPROTO_UDP
	}
	syscall.ForkLock.RLock()
	s, err := unix.Socket(domain, st, proto)
	if err == nil {
		unix.CloseOnExec(s)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, mapErrno("socket", err)
	}
	return newFD(s, family, typ)
}

func newFD(s int, family Family, typ SockType) (*FD, error) {
	if err := unix.SetNonblock(s, true); err != nil {
		_ = unix.Close(s)
		return nil, mapErrno("socket", err)
	}
	f := os.NewFile(uintptr(s), "socket:"+strconv.Itoa(s))
	rc, err := f.SyscallConn()
	if err != nil {
		_ = f.Close()
		return nil, sockerr.Wrap(sockerr.IOError, "socket", err)
	}
	return &FD{file: f, rc: rc, sysfd: s, family: family, typ: typ}, nil
}

// Family returns the address family the socket was created with.
func (fd *FD) Family() Family { return fd.family }

// Type returns the socket type.
func (fd *FD) Type() SockType { return fd.typ }

// Sysfd returns the raw descriptor. It is only meaningful while the FD is open.
func (fd *FD) Sysfd() uintptr { return uintptr(fd.sysfd) }

// Closed reports whether Close has been called.
func (fd *FD) Closed() bool { return fd.closed.Load() }

// NonBlocking reports the current mode.
func (fd *FD) NonBlocking() bool { return fd.nonblock.Load() }

// SetNonblock switches between blocking and non-blocking mode.
func (fd *FD) SetNonblock(on bool) error {
	if fd.closed.Load() {
		return errClosed("setnonblock")
	}
	fd.nonblock.Store(on)
	return nil
}

// Close releases the descriptor. Calls after the first are no-ops.
func (fd *FD) Close() error {
	if !fd.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := fd.file.Close(); err != nil {
		return sockerr.Wrap(sockerr.IOError, "close", err)
	}
	return nil
}

// control runs f against the live descriptor.
func (fd *FD) control(op string, f func(s int) error) error {
	if fd.closed.Load() {
		return errClosed(op)
	}
	var ferr error
	if err := fd.rc.Control(func(s uintptr) { ferr = f(int(s)) }); err != nil {
		return fd.pollErr(op, err)
	}
	if ferr != nil {
		return fd.mapErr(op, ferr)
	}
	return nil
}

// Bind assigns a local address.
func (fd *FD) Bind(addr netip.AddrPort) error {
	sa, err := fd.sockaddr("bind", addr)
	if err != nil {
		return err
	}
	err = fd.control("bind", func(s int) error { return unix.Bind(s, sa) })
	return bindErr(err)
}

// Listen puts a bound stream socket into listening mode.
func (fd *FD) Listen(backlog int) error {
	return fd.control("listen", func(s int) error { return unix.Listen(s, backlog) })
}

// Accept takes the next queued connection.
func (fd *FD) Accept() (*FD, netip.AddrPort, error) {
	if fd.closed.Load() {
		return nil, netip.AddrPort{}, errClosed("accept")
	}
	var (
		ns   int
		rsa  unix.Sockaddr
		aerr error
	)
	err := fd.rc.Read(func(s uintptr) bool {
		for {
			syscall.ForkLock.RLock()
			ns, rsa, aerr = unix.Accept(int(s))
			if aerr == nil {
				unix.CloseOnExec(ns)
			}
			syscall.ForkLock.RUnlock()
			switch aerr {
			case unix.EINTR, unix.ECONNABORTED:
				continue
			case unix.EAGAIN:
				return fd.nonblock.Load()
			}
			return true
		}
	})
	if err != nil {
		return nil, netip.AddrPort{}, fd.pollErr("accept", err)
	}
	if aerr != nil {
		return nil, netip.AddrPort{}, fd.mapErr("accept", aerr)
	}
	nfd, err := newFD(ns, fd.family, fd.typ)
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	return nfd, fromSockaddr(rsa), nil
}

// Connect starts a connection to addr. In blocking mode it waits for the
// handshake up to timeout (0 waits indefinitely). In non-blocking mode a
// pending handshake yields WouldBlock and FinishConnect completes it.
func (fd *FD) Connect(addr netip.AddrPort, timeout time.Duration) error {
	sa, err := fd.sockaddr("connect", addr)
	if err != nil {
		return err
	}
	var cerr error
	err = fd.control("connect", func(s int) error {
		for {
			cerr = unix.Connect(s, sa)
			if cerr != unix.EINTR {
				return nil
			}
		}
	})
	if err != nil {
		return err
	}
	switch cerr {
	case nil, unix.EISCONN:
		return nil
	case unix.EINPROGRESS, unix.EALREADY:
	default:
		return fd.mapErr("connect", cerr)
	}
	if fd.nonblock.Load() {
		return sockerr.New(sockerr.WouldBlock, "connect", "connection in progress")
	}
	if timeout > 0 {
		if err := fd.file.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return sockerr.Wrap(sockerr.IOError, "connect", err)
		}
		defer func() { _ = fd.file.SetWriteDeadline(time.Time{}) }()
	}
	var result error
	err = fd.rc.Write(func(s uintptr) bool {
		var done bool
		done, result = connectResult(int(s))
		return done
	})
	if err != nil {
		return fd.pollErr("connect", err)
	}
	return result
}

// FinishConnect checks a pending non-blocking connect once.
func (fd *FD) FinishConnect() error {
	var (
		done   bool
		result error
	)
	if err := fd.control("connect", func(s int) error {
		done, result = connectResult(s)
		return nil
	}); err != nil {
		return err
	}
	if !done {
		return sockerr.New(sockerr.WouldBlock, "connect", "connection in progress")
	}
	return result
}

// connectResult reports whether a pending connect has finished and how.
func connectResult(s int) (bool, error) {
	v, err := unix.GetsockoptInt(s, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return true, mapErrno("connect", err)
	}
	switch e := unix.Errno(v); e {
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return false, nil
	case 0, unix.EISCONN:
		if _, err := unix.Getpeername(s); err != nil {
			if err == unix.ENOTCONN {
				return false, nil
			}
			return true, mapErrno("connect", err)
		}
		return true, nil
	default:
		return true, mapErrno("connect", e)
	}
}

// Send writes p and returns how many bytes the kernel accepted.
func (fd *FD) Send(p []byte) (int, error) {
	return fd.write("send", func(s int) (int, error) { return unix.Write(s, p) })
}

// SendTo sends one datagram to addr.
func (fd *FD) SendTo(p []byte, addr netip.AddrPort) (int, error) {
	sa, err := fd.sockaddr("sendto", addr)
	if err != nil {
		return 0, err
	}
	return fd.write("sendto", func(s int) (int, error) {
		if err := unix.Sendto(s, p, 0, sa); err != nil {
			return 0, err
		}
		return len(p), nil
	})
}

func (fd *FD) write(op string, f func(s int) (int, error)) (int, error) {
	if fd.closed.Load() {
		return 0, errClosed(op)
	}
	var (
		n    int
		werr error
	)
	err := fd.rc.Write(func(s uintptr) bool {
		for {
			n, werr = f(int(s))
			if werr != unix.EINTR {
				break
			}
		}
		return werr != unix.EAGAIN || fd.nonblock.Load()
	})
	if err != nil {
		return 0, fd.pollErr(op, err)
	}
	if werr != nil {
		return 0, fd.mapErr(op, werr)
	}
	return n, nil
}

// Recv reads into p. A zero count with a nil error is the orderly end of stream.
func (fd *FD) Recv(p []byte) (int, error) {
	n, _, err := fd.read("recv", func(s int) (int, unix.Sockaddr, error) {
		n, err := unix.Read(s, p)
		return n, nil, err
	})
	return n, err
}

// RecvFrom reads one datagram and its source address.
func (fd *FD) RecvFrom(p []byte) (int, netip.AddrPort, error) {
	n, from, err := fd.read("recvfrom", func(s int) (int, unix.Sockaddr, error) {
		return unix.Recvfrom(s, p, 0)
	})
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, fromSockaddr(from), nil
}

func (fd *FD) read(op string, f func(s int) (int, unix.Sockaddr, error)) (int, unix.Sockaddr, error) {
	if fd.closed.Load() {
		return 0, nil, errClosed(op)
	}
	var (
		n    int
		from unix.Sockaddr
		rerr error
	)
	err := fd.rc.Read(func(s uintptr) bool {
		for {
			n, from, rerr = f(int(s))
			if rerr != unix.EINTR {
				break
			}
		}
		return rerr != unix.EAGAIN || fd.nonblock.Load()
	})
	if err != nil {
		return 0, nil, fd.pollErr(op, err)
	}
	if rerr != nil {
		return 0, nil, fd.mapErr(op, rerr)
	}
	return n, from, nil
}

// Shutdown disables one or both directions.
func (fd *FD) Shutdown(dir Direction) error {
	how := unix.SHUT_RDWR
	switch dir {
	case ShutRead:
		how = unix.SHUT_RD
	case ShutWrite:
		how = unix.SHUT_WR
	}
	return fd.control("shutdown", func(s int) error { return unix.Shutdown(s, how) })
}

func optLevelName(o Option) (int, int) {
	switch o {
	case OptReuseAddress:
		return unix.SOL_SOCKET, unix.SO_REUSEADDR
	case OptKeepAlive:
		return unix.SOL_SOCKET, unix.SO_KEEPALIVE
	case OptReceiveBuffer:
		return unix.SOL_SOCKET, unix.SO_RCVBUF
	case OptSendBuffer:
		return unix.SOL_SOCKET, unix.SO_SNDBUF
	case OptNoDelay:
		return unix.IPPROTO_TCP, unix.TCP_NODELAY
	default:
		return unix.SOL_SOCKET, unix.SO_BROADCAST
	}
}

// SetOption sets a recognized option. Boolean options treat any non-zero value as on.
func (fd *FD) SetOption(o Option, value int) error {
	if err := CheckOption("setsockopt", fd.typ, o); err != nil {
		return err
	}
	if isBoolOption(o) && value != 0 {
		value = 1
	}
	level, name := optLevelName(o)
	return fd.control("setsockopt", func(s int) error { return unix.SetsockoptInt(s, level, name, value) })
}

// GetOption reads a recognized option. Boolean options are normalized to 0 or 1.
func (fd *FD) GetOption(o Option) (int, error) {
	if err := CheckOption("getsockopt", fd.typ, o); err != nil {
		return 0, err
	}
	level, name := optLevelName(o)
	var v int
	err := fd.control("getsockopt", func(s int) error {
		var err error
		v, err = unix.GetsockoptInt(s, level, name)
		return err
	})
	if err != nil {
		return 0, err
	}
	if isBoolOption(o) && v != 0 {
		v = 1
	}
	return v, nil
}

// JoinGroup subscribes a datagram socket to a multicast group. An invalid
// ifaddr selects the default interface.
func (fd *FD) JoinGroup(group, ifaddr netip.Addr) error {
	if fd.typ != Datagram {
		return sockerr.New(sockerr.UnsupportedOption, "join", "multicast requires a datagram socket")
	}
	if group.Unmap().Is4() {
		mreq := &unix.IPMreq{Multiaddr: group.Unmap().As4()}
		if ifaddr.IsValid() && ifaddr.Unmap().Is4() {
			mreq.Interface = ifaddr.Unmap().As4()
		}
		return fd.control("join", func(s int) error {
			return unix.SetsockoptIPMreq(s, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
		})
	}
	mreq := &unix.IPv6Mreq{Multiaddr: group.As16()}
	return fd.control("join", func(s int) error {
		return unix.SetsockoptIPv6Mreq(s, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq)
	})
}

// SetMulticastInterface selects the IPv4 interface, by address, that outgoing
// multicast datagrams leave through.
func (fd *FD) SetMulticastInterface(ifaddr netip.Addr) error {
	if fd.typ != Datagram || !ifaddr.Unmap().Is4() {
		return sockerr.New(sockerr.UnsupportedOption, "multicast-if", "needs a datagram socket and an ipv4 interface address")
	}
	return fd.control("multicast-if", func(s int) error {
		return unix.SetsockoptInet4Addr(s, unix.IPPROTO_IP, unix.IP_MULTICAST_IF, ifaddr.Unmap().As4())
	})
}

// LocalAddr returns the bound address.
func (fd *FD) LocalAddr() (netip.AddrPort, error) {
	var sa unix.Sockaddr
	err := fd.control("getsockname", func(s int) error {
		var err error
		sa, err = unix.Getsockname(s)
		return err
	})
	if err != nil {
		return netip.AddrPort{}, err
	}
	return fromSockaddr(sa), nil
}

// PeerAddr returns the connected peer address.
func (fd *FD) PeerAddr() (netip.AddrPort, error) {
	var sa unix.Sockaddr
	err := fd.control("getpeername", func(s int) error {
		var err error
		sa, err = unix.Getpeername(s)
		return err
	})
	if err != nil {
		return netip.AddrPort{}, err
	}
	return fromSockaddr(sa), nil
}

// Wait blocks until the socket is ready for one of the events in ev or the
// timeout elapses. A zero timeout polls once and a negative one waits forever.
// It returns the ready subset, which is empty on timeout.
func (fd *FD) Wait(ev Event, timeout time.Duration) (Event, error) {
	var events int16
	if ev&EventRead != 0 {
		events |= unix.POLLIN
	}
	if ev&EventWrite != 0 {
		events |= unix.POLLOUT
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
		}
		pfd := []unix.PollFd{{Events: events}}
		var n int
		err := fd.control("wait", func(s int) error {
			pfd[0].Fd = int32(s)
			var err error
			n, err = unix.Poll(pfd, waitMillis(remaining))
			if err == unix.EINTR {
				n, err = 0, nil
			}
			return err
		})
		if err != nil {
			return 0, err
		}
		if n > 0 {
			re := pfd[0].Revents
			if re&unix.POLLNVAL != 0 {
				return 0, errClosed("wait")
			}
			var ready Event
			if re&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 && ev&EventRead != 0 {
				ready |= EventRead
			}
			if re&(unix.POLLOUT|unix.POLLERR) != 0 && ev&EventWrite != 0 {
				ready |= EventWrite
			}
			return ready, nil
		}
		if timeout == 0 || (timeout > 0 && !time.Now().Before(deadline)) {
			return 0, nil
		}
	}
}

func (fd *FD) sockaddr(op string, addr netip.AddrPort) (unix.Sockaddr, error) {
	ip := addr.Addr()
	port := int(addr.Port())
	if fd.family == IPv4 {
		ip = ip.Unmap()
		if !ip.Is4() {
			return nil, sockerr.New(sockerr.IOError, op, "address family mismatch: "+addr.String())
		}
		return &unix.SockaddrInet4{Port: port, Addr: ip.As4()}, nil
	}
	return &unix.SockaddrInet6{Port: port, Addr: ip.As16()}, nil
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

// pollErr classifies failures reported by the runtime poller itself.
func (fd *FD) pollErr(op string, err error) error {
	switch {
	case fd.closed.Load():
		return errClosed(op)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return sockerr.Wrap(sockerr.Timeout, op, err)
	}
	return sockerr.Wrap(sockerr.IOError, op, err)
}

func (fd *FD) mapErr(op string, err error) error {
	if fd.closed.Load() {
		return errClosed(op)
	}
	return mapErrno(op, err)
}
