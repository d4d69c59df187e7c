package socket

import (
	"context"
	"iter"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/singleflight"

	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// Hints steer resolution.
type Hints struct {
	// Family is the preferred family. Candidates of that family come first.
	Family Family
	// Protocol selects the network for service-name lookups. Zero means TCP.
	Protocol Protocol
	// Strict drops candidates of any other family.
	Strict bool
}

// Resolver turns host and service strings into candidate Addresses.
// Concurrent lookups of the same host share one query.
type Resolver struct {
	r     *net.Resolver
	group singleflight.Group
	log   *logger
}

// DefaultResolver uses the system resolver.
var DefaultResolver = NewResolver(nil)

// NewResolver wraps r. A nil r means net.DefaultResolver.
func NewResolver(r *net.Resolver) *Resolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Resolver{r: r, log: internalLogger.with("resolver")}
}

// Resolve is DefaultResolver.Resolve.
func Resolve(ctx context.Context, host, service string, hints Hints) (*Addresses, error) {
	return DefaultResolver.Resolve(ctx, host, service, hints)
}

// Resolve looks host up and pairs every address with the port service names.
// service is a decimal port or a service name such as "http"; empty means the
// protocol's well-known service, or port 0. An empty host gives the
// unspecified address of the preferred family. Every failure is a
// ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, host, service string, hints Hints) (*Addresses, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	proto := hints.Protocol
	if proto == ProtocolUnknown {
		proto = ProtocolTCP
	}
	port, err := r.port(ctx, proto, service)
	if err != nil {
		return nil, err
	}

	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	var ips []netip.Addr
	switch {
	case host == "":
		if hints.Family == FamilyIPv6 {
			ips = []netip.Addr{netip.IPv6Unspecified()}
		} else {
			ips = []netip.Addr{netip.IPv4Unspecified()}
		}
	default:
		if ip, perr := netip.ParseAddr(host); perr == nil {
			ips = []netip.Addr{ip}
			break
		}
		v, err, shared := r.group.Do("ip/"+host, func() (interface{}, error) {
			return r.r.LookupNetIP(ctx, "ip", host)
		})
		if err != nil {
			return nil, &sockerr.Error{Kind: sockerr.ResolutionError, Op: "resolve", Addr: host, Err: err}
		}
		ips = v.([]netip.Addr)
		r.log.tracef("resolved %s to %d addresses shared=%t", host, len(ips), shared)
	}

	seen := mapset.NewThreadUnsafeSet[netip.Addr]()
	cands := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		ip = ip.Unmap()
		if hints.Strict && hints.Family != FamilyAny && FamilyOfIP(ip) != hints.Family {
			continue
		}
		if seen.Add(ip) {
			cands = append(cands, ip)
		}
	}
	if len(cands) == 0 {
		return nil, &sockerr.Error{Kind: sockerr.ResolutionError, Op: "resolve", Addr: host,
			Detail: "no " + hints.Family.String() + " address"}
	}
	return &Addresses{ips: cands, port: port, prefer: hints.Family}, nil
}

func (r *Resolver) port(ctx context.Context, proto Protocol, service string) (uint16, error) {
	if service == "" {
		service = proto.service()
		if service == "" {
			return 0, nil
		}
	}
	if n, err := strconv.ParseUint(service, 10, 16); err == nil {
		return uint16(n), nil
	}
	p, err := r.r.LookupPort(ctx, proto.Network(), service)
	if err != nil {
		return 0, &sockerr.Error{Kind: sockerr.ResolutionError, Op: "resolve", Addr: service,
			Detail: "unknown service", Err: err}
	}
	return uint16(p), nil
}

// FamilyOfIP reports the family of ip, treating IPv4-mapped addresses as IPv4.
func FamilyOfIP(ip netip.Addr) Family {
	if !ip.IsValid() {
		return FamilyAny
	}
	if ip.Unmap().Is4() {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// Addresses is a finite, restartable sequence of resolution candidates.
type Addresses struct {
	ips    []netip.Addr
	port   uint16
	prefer Family
}

// All yields candidates of the preferred family first, then the rest, each
// group in resolver order. The order is worked out while iterating, so
// breaking early is cheap; ranging again starts from the first candidate.
func (a *Addresses) All() iter.Seq[Address] {
	return func(yield func(Address) bool) {
		if a == nil {
			return
		}
		if a.prefer == FamilyAny {
			for _, ip := range a.ips {
				if !yield(AddressOf(ip, a.port)) {
					return
				}
			}
			return
		}
		for _, first := range []bool{true, false} {
			for _, ip := range a.ips {
				if (FamilyOfIP(ip) == a.prefer) != first {
					continue
				}
				if !yield(AddressOf(ip, a.port)) {
					return
				}
			}
		}
	}
}

// Len returns the number of candidates.
func (a *Addresses) Len() int {
	if a == nil {
		return 0
	}
	return len(a.ips)
}

// First returns the best candidate, or the zero Address when there is none.
func (a *Addresses) First() Address {
	for addr := range a.All() {
		return addr
	}
	return Address{}
}

// Slice collects All into a slice.
func (a *Addresses) Slice() []Address {
	return slices.Collect(a.All())
}

// splitHostPort splits "host:port", "[v6]:port", "host" or a bare IPv6
// literal. A missing port gives an empty port string.
func splitHostPort(address string) (string, string, error) {
	if address == "" {
		return "", "", nil
	}
	if _, err := netip.ParseAddr(strings.Trim(address, "[]")); err == nil {
		return strings.Trim(address, "[]"), "", nil
	}
	if !strings.Contains(address, ":") {
		return address, "", nil
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", "", &sockerr.Error{Kind: sockerr.ResolutionError, Op: "resolve", Addr: address, Err: err}
	}
	return host, port, nil
}
