// Package platform is the socket Platform Adapter: one normalized set of primitives
// over the native socket API. platform_unix.go and platform_windows.go provide the
// same functions and FD methods; the variant is chosen by build tag.
//
// Every error returned here is a *sockerr.Error. Raw platform codes only survive as
// the wrapped cause.
package platform

import (
	"errors"
	"net/netip"
	"time"

	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// Family is an address family.
type Family int

const (
	IPv4 Family = iota + 1
	IPv6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	}
	return "unspec"
}

// FamilyOf returns the family of a.
func FamilyOf(a netip.Addr) Family {
	if a.Unmap().Is4() {
		return IPv4
	}
	return IPv6
}

// SockType is the socket-level transport.
type SockType int

const (
	Stream SockType = iota + 1
	Datagram
)

func (t SockType) String() string {
	if t == Datagram {
		return "udp"
	}
	return "tcp"
}

// Direction selects which half of a full-duplex socket to shut down.
type Direction int

const (
	ShutRead Direction = iota + 1
	ShutWrite
	ShutBoth
)

// Event is a readiness mask for Wait.
type Event int

const (
	EventRead Event = 1 << iota
	EventWrite
)

// Option is a recognized socket option.
type Option int

const (
	OptReuseAddress Option = iota + 1
	OptKeepAlive
	OptReceiveBuffer
	OptSendBuffer
	OptNoDelay
	OptBroadcast
)

var optionNames = map[Option]string{
	OptReuseAddress:  "reuse-address",
	OptKeepAlive:     "keep-alive",
	OptReceiveBuffer: "receive-buffer",
	OptSendBuffer:    "send-buffer",
	OptNoDelay:       "no-delay",
	OptBroadcast:     "broadcast",
}

func (o Option) String() string {
	if n, ok := optionNames[o]; ok {
		return n
	}
	return "unknown"
}

// CheckOption rejects options a socket of type typ cannot carry.
func CheckOption(op string, typ SockType, o Option) error {
	switch o {
	case OptReuseAddress, OptKeepAlive, OptReceiveBuffer, OptSendBuffer:
		if o == OptKeepAlive && typ != Stream {
			return sockerr.New(sockerr.UnsupportedOption, op, "keep-alive requires a stream socket")
		}
		return nil
	case OptNoDelay:
		if typ != Stream {
			return sockerr.New(sockerr.UnsupportedOption, op, "no-delay requires a stream socket")
		}
		return nil
	case OptBroadcast:
		if typ != Datagram {
			return sockerr.New(sockerr.UnsupportedOption, op, "broadcast requires a datagram socket")
		}
		return nil
	}
	return sockerr.New(sockerr.UnsupportedOption, op, "option "+o.String())
}

// pollSlice bounds each blocking poll in Wait so a concurrent Close is noticed.
const pollSlice = 50 * time.Millisecond

func errClosed(op string) error {
	return sockerr.New(sockerr.Closed, op, "use of closed socket")
}

func waitMillis(d time.Duration) int {
	if d > pollSlice || d < 0 {
		d = pollSlice
	}
	return int(d / time.Millisecond)
}

func isBoolOption(o Option) bool {
	return o != OptReceiveBuffer && o != OptSendBuffer
}

// bindErr keeps AddressInUse, PermissionDenied and Closed and folds every
// other bind failure into BindError.
func bindErr(err error) error {
	if err == nil {
		return nil
	}
	var e *sockerr.Error
	if !errors.As(err, &e) {
		return sockerr.Wrap(sockerr.BindError, "bind", err)
	}
	switch e.Kind {
	case sockerr.AddressInUse, sockerr.PermissionDenied, sockerr.Closed:
		return err
	}
	c := *e
	c.Kind = sockerr.BindError
	return &c
}
