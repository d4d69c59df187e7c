package socket

import (
	"context"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
	"pgregory.net/rapid"
)

func TestResolveLiteral(t *testing.T) {
	addrs, err := Resolve(context.Background(), "127.0.0.1", "8080", Hints{})
	require.NoError(t, err)
	require.Equal(t, 1, addrs.Len())
	assert.Equal(t, MustParseAddress("127.0.0.1:8080"), addrs.First())

	addrs, err = Resolve(context.Background(), "[::1]", "http", Hints{})
	require.NoError(t, err)
	assert.Equal(t, MustParseAddress("[::1]:80"), addrs.First())
	assert.True(t, addrs.First().IsIPv6())
}

func TestResolveLocalhost(t *testing.T) {
	addrs, err := Resolve(context.Background(), "localhost", "9000", Hints{Family: FamilyIPv4, Strict: true})
	require.NoError(t, err)
	require.NotZero(t, addrs.Len())
	for a := range addrs.All() {
		assert.Equal(t, FamilyIPv4, a.Family())
		assert.Equal(t, uint16(9000), a.Port())
	}
}

func TestResolveEmptyHost(t *testing.T) {
	addrs, err := Resolve(context.Background(), "", "0", Hints{})
	require.NoError(t, err)
	assert.Equal(t, netip.IPv4Unspecified(), addrs.First().IP())

	addrs, err = Resolve(context.Background(), "", "0", Hints{Family: FamilyIPv6})
	require.NoError(t, err)
	assert.Equal(t, netip.IPv6Unspecified(), addrs.First().IP())
}

func TestResolveServiceFromProtocol(t *testing.T) {
	addrs, err := Resolve(context.Background(), "127.0.0.1", "", Hints{Protocol: ProtocolSSH})
	require.NoError(t, err)
	assert.Equal(t, uint16(22), addrs.First().Port())

	addrs, err = Resolve(context.Background(), "127.0.0.1", "", Hints{})
	require.NoError(t, err)
	assert.Zero(t, addrs.First().Port())
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve(context.Background(), "127.0.0.1", "no-such-service-here", Hints{})
	assert.Equal(t, ResolutionError, KindOf(err), "got %v", err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = Resolve(ctx, "host.invalid", "80", Hints{})
	assert.Equal(t, ResolutionError, KindOf(err), "got %v", err)

	_, err = Resolve(context.Background(), "127.0.0.1", "80", Hints{Family: FamilyIPv6, Strict: true})
	assert.Equal(t, ResolutionError, KindOf(err), "got %v", err)
}

func TestAddressesOrder(t *testing.T) {
	v4a := netip.MustParseAddr("192.0.2.1")
	v6a := netip.MustParseAddr("2001:db8::1")
	v4b := netip.MustParseAddr("192.0.2.2")
	v6b := netip.MustParseAddr("2001:db8::2")
	addrs := &Addresses{ips: []netip.Addr{v4a, v6a, v4b, v6b}, port: 53, prefer: FamilyIPv6}

	var got []netip.Addr
	for a := range addrs.All() {
		got = append(got, a.IP())
	}
	assert.Equal(t, []netip.Addr{v6a, v6b, v4a, v4b}, got)

	for a := range addrs.All() {
		assert.Equal(t, v6a, a.IP())
		break
	}
	assert.Equal(t, v6a, addrs.First().IP())
	assert.Len(t, addrs.Slice(), 4)

	addrs.prefer = FamilyAny
	assert.Equal(t, v4a, addrs.First().IP())

	var empty *Addresses
	assert.Zero(t, empty.Len())
	assert.False(t, empty.First().IsValid())
}

func TestResolveIPv6Loopback(t *testing.T) {
	if !nettest.SupportsIPv6() {
		t.Skip("ipv6 is not available")
	}
	ln, err := Listen(context.Background(), MustParseAddress("[::1]:0"), nil)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	assert.Equal(t, FamilyIPv6, ln.Addr().Family())

	c, err := Dial(context.Background(), "tcp", ln.Addr().String(), nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	assert.True(t, c.RemoteAddr().IsIPv6())
}

func TestResolveProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.SliceOfN(rapid.Byte(), 4, 4).Draw(t, "ip")
		port := rapid.Uint16().Draw(t, "port")
		ip := netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
		addrs, err := Resolve(context.Background(), ip.String(), strconv.Itoa(int(port)), Hints{})
		if err != nil {
			t.Fatalf("resolve %s: %v", ip, err)
		}
		a := addrs.First()
		if a.Family() != FamilyIPv4 || a.Port() != port || a.IP() != ip {
			t.Fatalf("got %s, want %s:%d", a, ip, port)
		}
	})
}

func TestSplitHostPort(t *testing.T) {
	cases := []struct{ in, host, port string }{
		{"127.0.0.1:80", "127.0.0.1", "80"},
		{"[::1]:443", "::1", "443"},
		{"::1", "::1", ""},
		{"example.com", "example.com", ""},
		{"example.com:ssh", "example.com", "ssh"},
		{":8080", "", "8080"},
	}
	for _, c := range cases {
		host, port, err := splitHostPort(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.host, host, c.in)
		assert.Equal(t, c.port, port, c.in)
	}
}
