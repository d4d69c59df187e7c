//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package platform

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// mapErrno converts an errno into the taxonomy, keeping the errno as cause.
func mapErrno(op string, err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return sockerr.Wrap(sockerr.IOError, op, err)
	}
	return &sockerr.Error{Kind: errnoKind(errno), Op: op, Detail: errno.Error(), Err: errno}
}

func errnoKind(errno unix.Errno) sockerr.Kind {
	switch errno {
	case unix.EAGAIN, unix.EINPROGRESS, unix.EALREADY:
		return sockerr.WouldBlock
	case unix.EADDRINUSE:
		return sockerr.AddressInUse
	case unix.EACCES, unix.EPERM:
		return sockerr.PermissionDenied
	case unix.EADDRNOTAVAIL:
		return sockerr.BindError
	case unix.ECONNREFUSED:
		return sockerr.ConnectionRefused
	case unix.ENETUNREACH, unix.EHOSTUNREACH, unix.ENETDOWN, unix.EHOSTDOWN:
		return sockerr.NetworkUnreachable
	case unix.ETIMEDOUT:
		return sockerr.Timeout
	case unix.ECONNRESET, unix.ECONNABORTED, unix.EPIPE, unix.EBADF, unix.ESHUTDOWN:
		return sockerr.Closed
	case unix.ENOTCONN, unix.EISCONN:
		return sockerr.InvalidState
	case unix.ENOPROTOOPT, unix.EOPNOTSUPP, unix.EPROTONOSUPPORT, unix.EAFNOSUPPORT:
		return sockerr.UnsupportedOption
	}
	return sockerr.IOError
}
