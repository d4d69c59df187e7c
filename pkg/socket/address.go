package socket

import (
	"net/netip"

	"github.com/srediag/plugin-socket/internal/platform"
	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// Family is an address family. FamilyAny expresses no preference.
type Family = platform.Family

const (
	FamilyAny  Family = 0
	FamilyIPv4        = platform.IPv4
	FamilyIPv6        = platform.IPv6
)

// Address is an immutable IP endpoint. IPv4-mapped IPv6 addresses are stored as
// plain IPv4.
type Address struct {
	ap netip.AddrPort
}

// AddressFrom converts a netip.AddrPort.
func AddressFrom(ap netip.AddrPort) Address {
	return Address{ap: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

// AddressOf builds an Address from an IP and a port.
func AddressOf(ip netip.Addr, port uint16) Address {
	return Address{ap: netip.AddrPortFrom(ip.Unmap(), port)}
}

// ParseAddress parses a literal "ip:port" or "[ipv6]:port".
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, &sockerr.Error{Kind: sockerr.ResolutionError, Op: "parse", Addr: s, Err: err}
	}
	return AddressFrom(ap), nil
}

// MustParseAddress is ParseAddress that panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) AddrPort() netip.AddrPort { return a.ap }
func (a Address) IP() netip.Addr           { return a.ap.Addr() }
func (a Address) Port() uint16             { return a.ap.Port() }
func (a Address) IsValid() bool            { return a.ap.IsValid() }
func (a Address) IsIPv6() bool             { return a.ap.Addr().Is6() }
func (a Address) String() string           { return a.ap.String() }

// Family reports IPv4 or IPv6, or FamilyAny for the zero Address.
func (a Address) Family() Family {
	if !a.ap.Addr().IsValid() {
		return FamilyAny
	}
	return platform.FamilyOf(a.ap.Addr())
}

// WithPort returns a copy of a with the port replaced.
func (a Address) WithPort(port uint16) Address {
	return Address{ap: netip.AddrPortFrom(a.ap.Addr(), port)}
}
