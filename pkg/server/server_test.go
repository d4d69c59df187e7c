package server

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/plugin-socket/pkg/lifecycle"
	"github.com/srediag/plugin-socket/pkg/socket"
)

type ServerTestSuite struct {
	suite.Suite
	srv *Server
}

func (s *ServerTestSuite) start(h Handler, cfg Config) *Server {
	ln, err := socket.Listen(context.Background(), socket.MustParseAddress("127.0.0.1:0"), nil)
	s.Require().NoError(err)
	srv, err := New(ln, h, cfg)
	s.Require().NoError(err)
	s.Require().NoError(srv.Start(context.Background()))
	s.srv = srv
	return srv
}

func (s *ServerTestSuite) TearDownTest() {
	if s.srv != nil {
		s.NoError(s.srv.Stop())
		s.Equal(lifecycle.Stopped, s.srv.State())
		s.srv = nil
	}
}

func (s *ServerTestSuite) TestEcho() {
	srv := s.start(EchoHandler, DefaultConfig())
	s.Equal(lifecycle.Running, srv.State())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := socket.Connect(context.Background(), srv.Addr(), nil)
			if !s.NoError(err) {
				return
			}
			defer func() { _ = c.Close() }()
			_, err = c.SendAll([]byte("ping"))
			s.NoError(err)
			s.NoError(c.Shutdown(socket.ShutdownWrite))
			got, err := c.ReceiveAll()
			s.NoError(err)
			s.Equal("ping", string(got))
		}()
	}
	wg.Wait()
}

func (s *ServerTestSuite) TestStopClosesLiveConns() {
	started := make(chan struct{}, 1)
	h := HandlerFunc(func(ctx context.Context, c *socket.Conn) {
		started <- struct{}{}
		_, _ = c.Receive(make([]byte, 1))
	})
	srv := s.start(h, DefaultConfig())

	c, err := socket.Connect(context.Background(), srv.Addr(), nil)
	s.Require().NoError(err)
	defer func() { _ = c.Close() }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		s.FailNow("handler did not start")
	}
	s.Equal(1, srv.Active())

	s.Require().NoError(srv.Stop())
	s.srv = nil
	s.Equal(0, srv.Active())

	n, err := c.Receive(make([]byte, 1))
	s.Zero(n)
	if err != io.EOF {
		s.True(socket.IsClosed(err), "got %v", err)
	}
}

func (s *ServerTestSuite) TestRateLimited() {
	cfg := DefaultConfig()
	cfg.AcceptRate = 1000
	cfg.AcceptBurst = 1
	srv := s.start(EchoHandler, cfg)

	c, err := socket.Connect(context.Background(), srv.Addr(), nil)
	s.Require().NoError(err)
	defer func() { _ = c.Close() }()
	s.Require().NoError(c.SendFrame([]byte("frame")))
	s.Require().NoError(c.Shutdown(socket.ShutdownWrite))
	got, err := c.ReceiveFrame()
	s.Require().NoError(err)
	s.Equal("frame", string(got))
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, EchoHandler, DefaultConfig())
	assert.Error(t, err)

	ln, err := socket.Listen(context.Background(), socket.MustParseAddress("127.0.0.1:0"), nil)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	cfg := DefaultConfig()
	cfg.Workers = 0
	_, err = New(ln, EchoHandler, cfg)
	assert.Error(t, err)

	srv, err := New(ln, EchoHandler, DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, srv.Stop())
	assert.Equal(t, lifecycle.Stopped, srv.State())
}

func TestConnQueue(t *testing.T) {
	q := newConnQueue(4)
	a, b := socket.NewConn(nil), socket.NewConn(nil)
	require.NoError(t, q.put(a))
	require.NoError(t, q.put(b))
	assert.Equal(t, int64(2), q.len())

	got, err := q.pop()
	require.NoError(t, err)
	assert.Same(t, a, got)

	left := q.dispose()
	assert.Equal(t, []*socket.Conn{b}, left)
	assert.Error(t, q.put(a))
	_, err = q.pop()
	assert.Error(t, err)
}

func TestStopWithoutStartClosesListener(t *testing.T) {
	ln, err := socket.Listen(context.Background(), socket.MustParseAddress("127.0.0.1:0"), nil)
	require.NoError(t, err)
	srv, err := New(ln, EchoHandler, DefaultConfig())
	require.NoError(t, err)

	var c lifecycle.Component = srv
	require.NoError(t, c.Stop())
	assert.True(t, ln.Handle().Closed())
	assert.Equal(t, lifecycle.Stopped, c.State())
	assert.NoError(t, c.Stop())
}
