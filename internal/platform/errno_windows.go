//go:build windows

package platform

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// mapErrno converts a winsock error into the taxonomy, keeping the code as cause.
func mapErrno(op string, err error) error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return sockerr.Wrap(sockerr.IOError, op, err)
	}
	return &sockerr.Error{Kind: errnoKind(errno), Op: op, Detail: errno.Error(), Err: errno}
}

func errnoKind(errno syscall.Errno) sockerr.Kind {
	switch errno {
	case windows.WSAEWOULDBLOCK, windows.WSAEINPROGRESS, windows.WSAEALREADY:
		return sockerr.WouldBlock
	case windows.WSAEADDRINUSE:
		return sockerr.AddressInUse
	case windows.WSAEACCES:
		return sockerr.PermissionDenied
	case windows.WSAEADDRNOTAVAIL:
		return sockerr.BindError
	case windows.WSAECONNREFUSED:
		return sockerr.ConnectionRefused
	case windows.WSAENETUNREACH, windows.WSAEHOSTUNREACH, windows.WSAENETDOWN, windows.WSAEHOSTDOWN:
		return sockerr.NetworkUnreachable
	case windows.WSAETIMEDOUT:
		return sockerr.Timeout
	case windows.WSAECONNRESET, windows.WSAECONNABORTED, windows.WSAENOTSOCK, windows.WSAEINTR,
		windows.WSAESHUTDOWN, windows.WSAEDISCON:
		return sockerr.Closed
	case windows.WSAENOTCONN, windows.WSAEISCONN:
		return sockerr.InvalidState
	case windows.WSAENOPROTOOPT, windows.WSAEOPNOTSUPP, windows.WSAEPROTONOSUPPORT, windows.WSAEAFNOSUPPORT:
		return sockerr.UnsupportedOption
	}
	return sockerr.IOError
}
