package socket

import (
	"context"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDial(t *testing.T) {
	ln, err := Listen(context.Background(), loopback, nil)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	for _, network := range []string{"tcp", "HTTP", "mqtt"} {
		c, err := Dial(context.Background(), network, ln.Addr().String(), nil)
		require.NoError(t, err, network)
		srv, err := ln.Accept()
		require.NoError(t, err)
		assert.Equal(t, ProtocolFromName(network), c.Protocol())
		assert.NoError(t, c.Close())
		assert.NoError(t, srv.Close())
	}
}

func TestDialLocalhostName(t *testing.T) {
	ln, err := Listen(context.Background(), loopback, nil)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	cfg := DefaultConfig()
	cfg.PreferFamily = FamilyIPv4
	c, err := Dial(context.Background(), "tcp", "localhost:"+strconv.Itoa(int(ln.Addr().Port())), cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	assert.Equal(t, ln.Addr(), c.RemoteAddr())
}

func TestDialUDP(t *testing.T) {
	pc, err := ListenPacket(context.Background(), loopback, nil)
	require.NoError(t, err)
	defer func() { _ = pc.Close() }()

	c, err := Dial(context.Background(), "udp", pc.LocalAddr().String(), nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	_, err = c.Send([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, from, err := pc.ReceiveFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, c.LocalAddr(), from)
}

func TestDialErrors(t *testing.T) {
	_, err := Dial(context.Background(), "icmp", "127.0.0.1:1", nil)
	assert.Equal(t, UnsupportedOption, KindOf(err))

	_, err = Dial(context.Background(), "tcp", "127.0.0.1", nil)
	assert.Equal(t, ResolutionError, KindOf(err))

	ln, err := Listen(context.Background(), loopback, nil)
	require.NoError(t, err)
	addr := ln.Addr()
	require.NoError(t, ln.Close())
	_, err = Dial(context.Background(), "tcp", addr.String(), nil)
	assert.Equal(t, ConnectionRefused, KindOf(err))
}

func TestRedial(t *testing.T) {
	dead, err := Listen(context.Background(), loopback, nil)
	require.NoError(t, err)
	deadAddr := dead.Addr()
	require.NoError(t, dead.Close())

	ln, err := Listen(context.Background(), loopback, nil)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	cfg := DefaultConfig()
	cfg.Reconnect = true
	c := NewConn(cfg)
	defer func() { _ = c.Close() }()

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 3)
	require.NoError(t, Redial(context.Background(), c, []Address{deadAddr, ln.Addr()}, b))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, ln.Addr(), c.RemoteAddr())

	srv, err := ln.Accept()
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()
	require.NoError(t, srv.Close())
	n, err := c.Receive(make([]byte, 1))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRedialGivesUp(t *testing.T) {
	dead, err := Listen(context.Background(), loopback, nil)
	require.NoError(t, err)
	addr := dead.Addr()
	require.NoError(t, dead.Close())

	assert.Equal(t, InvalidState, KindOf(Redial(context.Background(), NewConn(nil), []Address{addr}, &backoff.StopBackOff{})))

	cfg := DefaultConfig()
	cfg.Reconnect = true
	c := NewConn(cfg)
	err = Redial(context.Background(), c, []Address{addr}, backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2))
	assert.Equal(t, ConnectionRefused, KindOf(err))
	assert.Equal(t, StateFailed, c.State())
	assert.NoError(t, c.Close())
}
