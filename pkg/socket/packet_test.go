package socket

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketConn(t *testing.T) {
	a, err := ListenPacket(context.Background(), loopback, nil)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	b, err := ListenPacket(context.Background(), loopback, nil)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	n, err := a.SendTo([]byte("datagram"), b.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	ready, err := b.Wait(EventRead, time.Second)
	require.NoError(t, err)
	assert.Equal(t, EventRead, ready)

	buf := make([]byte, 64)
	n, from, err := b.ReceiveFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "datagram", string(buf[:n]))
	assert.Equal(t, a.LocalAddr(), from)

	// empty datagrams are delivered as such, not as end of stream
	_, err = a.SendTo(nil, b.LocalAddr())
	require.NoError(t, err)
	n, _, err = b.ReceiveFrom(buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, b.SetNonBlocking(true))
	_, _, err = b.ReceiveFrom(buf)
	assert.True(t, IsWouldBlock(err), "got %v", err)
}

func TestPacketOptions(t *testing.T) {
	pc, err := ListenPacket(context.Background(), loopback, nil)
	require.NoError(t, err)
	defer func() { _ = pc.Close() }()

	require.NoError(t, pc.SetBroadcast(true))
	v, err := pc.GetOption(Broadcast)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	assert.Equal(t, UnsupportedOption, KindOf(pc.SetOption(NoDelay, 1)))
	assert.Equal(t, UnsupportedOption, KindOf(pc.JoinGroup(netip.MustParseAddr("10.0.0.1"), netip.Addr{})))

	require.NoError(t, pc.Close())
	require.NoError(t, pc.Close())
	_, err = pc.SendTo([]byte("x"), pc.LocalAddr())
	assert.True(t, IsClosed(err))
}

func TestPacketBroadcastFamily(t *testing.T) {
	pc, err := ListenPacket(context.Background(), MustParseAddress("[::1]:0"), nil)
	if err != nil {
		t.Skipf("ipv6 loopback unavailable: %v", err)
	}
	defer func() { _ = pc.Close() }()
	_, err = pc.Broadcast([]byte("x"), 9)
	assert.Equal(t, UnsupportedOption, KindOf(err))
}

func TestPacketMulticast(t *testing.T) {
	group := netip.MustParseAddr("239.255.42.99")
	lo := netip.MustParseAddr("127.0.0.1")

	recv, err := ListenPacket(context.Background(), MustParseAddress("0.0.0.0:0"), nil)
	require.NoError(t, err)
	defer func() { _ = recv.Close() }()
	if err := recv.JoinGroup(group, lo); err != nil {
		t.Skipf("cannot join %s on loopback: %v", group, err)
	}

	send, err := ListenPacket(context.Background(), loopback, nil)
	require.NoError(t, err)
	defer func() { _ = send.Close() }()
	if err := send.SetMulticastInterface(lo); err != nil {
		t.Skipf("cannot route multicast over loopback: %v", err)
	}
	if _, err := send.SendTo([]byte("to the group"), AddressOf(group, recv.LocalAddr().Port())); err != nil {
		t.Skipf("no multicast route: %v", err)
	}

	ready, err := recv.Wait(EventRead, time.Second)
	require.NoError(t, err)
	if ready&EventRead == 0 {
		t.Skip("multicast datagram not looped back on this host")
	}
	buf := make([]byte, 64)
	n, from, err := recv.ReceiveFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "to the group", string(buf[:n]))
	assert.Equal(t, send.LocalAddr().Port(), from.Port())

	assert.Equal(t, UnsupportedOption, KindOf(send.SetMulticastInterface(netip.IPv6Loopback())))
}
