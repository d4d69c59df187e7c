package transport

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/plugin-socket/pkg/lifecycle"
	"github.com/srediag/plugin-socket/pkg/server"
	"github.com/srediag/plugin-socket/pkg/socket"
)

// frameEcho returns every received frame to the sender.
var frameEcho = server.HandlerFunc(func(ctx context.Context, c *socket.Conn) {
	tr := NewAccepted(c)
	defer func() { _ = tr.Stop() }()
	for {
		msg, err := tr.Receive()
		if err != nil {
			return
		}
		if err := tr.Send(msg); err != nil {
			return
		}
	}
})

func startServer(t *testing.T) *server.Server {
	ln, err := socket.Listen(context.Background(), socket.MustParseAddress("127.0.0.1:0"), nil)
	require.NoError(t, err)
	srv, err := server.New(ln, frameEcho, server.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestStreamTransport(t *testing.T) {
	srv := startServer(t)

	tr, err := New(DefaultConfig(srv.Addr().String()))
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Send([]byte("early")), ErrNotRunning)

	require.NoError(t, tr.Start())
	assert.Equal(t, lifecycle.Running, tr.State())
	assert.Error(t, tr.Start())

	for _, msg := range []string{"one", "", "three"} {
		require.NoError(t, tr.Send([]byte(msg)))
		got, err := tr.Receive()
		require.NoError(t, err)
		assert.Equal(t, msg, string(got))
	}

	require.NoError(t, tr.Stop())
	require.NoError(t, tr.Stop())
	assert.Nil(t, tr.Conn())
	_, err = tr.Receive()
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStreamTransportPeerClose(t *testing.T) {
	srv := startServer(t)
	tr, err := New(DefaultConfig(srv.Addr().String()))
	require.NoError(t, err)
	require.NoError(t, tr.Start())
	defer func() { _ = tr.Stop() }()

	require.NoError(t, tr.Conn().Shutdown(socket.ShutdownWrite))
	_, err = tr.Receive()
	assert.True(t, errors.Is(err, io.EOF) || socket.IsClosed(err), "got %v", err)
}

func TestStartGivesUp(t *testing.T) {
	ln, err := socket.Listen(context.Background(), socket.MustParseAddress("127.0.0.1:0"), nil)
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := DefaultConfig(addr)
	cfg.MaxRetries = 2
	cfg.InitialInterval = time.Millisecond
	tr, err := New(cfg)
	require.NoError(t, err)
	err = tr.Start()
	require.Error(t, err)
	assert.Equal(t, socket.ConnectionRefused, socket.KindOf(err))
	assert.Equal(t, lifecycle.Stopped, tr.State())

	cfg = DefaultConfig("127.0.0.1")
	tr, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, socket.ResolutionError, socket.KindOf(tr.Start()))
}

func TestVerifyConfig(t *testing.T) {
	assert.Error(t, VerifyConfig(Config{}))
	cfg := DefaultConfig("127.0.0.1:1")
	cfg.Socket = &socket.Config{ConnectTimeout: -1}
	assert.Error(t, VerifyConfig(cfg))
	_, err := New(cfg)
	assert.Error(t, err)
}
