// Package server runs an accept loop over a socket.Listener and serves each
// accepted connection on a bounded worker pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/srediag/plugin-socket/pkg/lifecycle"
	"github.com/srediag/plugin-socket/pkg/socket"
)

// Handler serves one accepted connection. The server closes the connection
// when ServeConn returns. ctx is cancelled when the server stops.
type Handler interface {
	ServeConn(ctx context.Context, c *socket.Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *socket.Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, c *socket.Conn) { f(ctx, c) }

// Config tunes a Server.
type Config struct {
	// Workers caps concurrently served connections.
	Workers int
	// QueueSize is the initial capacity of the accept-to-dispatch queue.
	QueueSize int64
	// AcceptRate limits accepted connections per second. 0 means unlimited.
	AcceptRate float64
	// AcceptBurst is the burst allowed above AcceptRate.
	AcceptBurst int
	Logger      *zap.Logger
}

// DefaultConfig returns a Config with 64 workers and no accept limit.
func DefaultConfig() Config {
	return Config{
		Workers:     64,
		QueueSize:   128,
		AcceptBurst: 16,
	}
}

// VerifyConfig checks c.
func VerifyConfig(c Config) error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	if c.AcceptRate < 0 {
		return fmt.Errorf("accept rate must not be negative")
	}
	if c.AcceptRate > 0 && c.AcceptBurst <= 0 {
		return fmt.Errorf("accept burst must be positive when accept rate is set")
	}
	return nil
}

// Server accepts connections from a Listener and hands each to the Handler.
type Server struct {
	l   *socket.Listener
	h   Handler
	cfg Config
	log *socket.Log

	state   lifecycle.Tracker
	queue   *connQueue
	pool    *ants.Pool
	conns   cmap.ConcurrentMap[string, *socket.Conn]
	limiter *rate.Limiter

	cancel context.CancelFunc
	loops  sync.WaitGroup
	served sync.WaitGroup
}

// New returns a stopped Server for l. The server owns l from here on and
// closes it in Stop.
func New(l *socket.Listener, h Handler, cfg Config) (*Server, error) {
	if l == nil || h == nil {
		return nil, errors.New("server: listener and handler are required")
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s := &Server{
		l:     l,
		h:     h,
		cfg:   cfg,
		log:   socket.NewLog("server", cfg.Logger),
		conns: cmap.New[*socket.Conn](),
	}
	if cfg.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	}
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() socket.Address { return s.l.Addr() }

// State returns the lifecycle state.
func (s *Server) State() lifecycle.State { return s.state.Load() }

// Active returns the number of connections being served.
func (s *Server) Active() int { return s.conns.Count() }

// Start launches the accept loop and the dispatcher and returns immediately.
func (s *Server) Start(ctx context.Context) error {
	if err := s.state.Transition(lifecycle.Stopped, lifecycle.Starting); err != nil {
		return err
	}
	pool, err := ants.NewPool(s.cfg.Workers,
		ants.WithLogger(poolLogger{s.log}),
		ants.WithPanicHandler(func(p interface{}) {
			s.log.Errorf("handler panic: %v", p)
		}))
	if err != nil {
		s.state.Set(lifecycle.Stopped)
		return fmt.Errorf("server: create pool: %w", err)
	}
	s.pool = pool
	s.queue = newConnQueue(s.cfg.QueueSize)

	ctx, s.cancel = context.WithCancel(ctx)
	s.loops.Add(2)
	go s.acceptLoop(ctx)
	go s.dispatch(ctx)

	s.state.Set(lifecycle.Running)
	s.log.Infof("serving on %s with %d workers", s.l.Addr(), s.cfg.Workers)
	return nil
}

// Serve is Start followed by Stop once ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.loops.Done()
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}
		c, err := s.l.Accept()
		if err != nil {
			switch {
			case ctx.Err() != nil || socket.IsClosed(err):
				return
			case socket.IsWouldBlock(err):
				if _, werr := s.l.Wait(50 * time.Millisecond); werr != nil && socket.IsClosed(werr) {
					return
				}
			default:
				s.log.Warnf("accept: %v", err)
				time.Sleep(5 * time.Millisecond)
			}
			continue
		}
		if err := s.queue.put(c); err != nil {
			_ = c.Close()
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context) {
	defer s.loops.Done()
	for {
		c, err := s.queue.pop()
		if err != nil {
			return
		}
		id := uuid.NewString()
		s.conns.Set(id, c)
		s.served.Add(1)
		err = s.pool.Submit(func() {
			defer s.served.Done()
			defer s.finish(id, c)
			s.log.Debugf("session %s from %s", id, c.RemoteAddr())
			s.h.ServeConn(ctx, c)
		})
		if err != nil {
			s.served.Done()
			s.finish(id, c)
			s.log.Warnf("dropping connection from %s: %v", c.RemoteAddr(), err)
		}
	}
}

func (s *Server) finish(id string, c *socket.Conn) {
	s.conns.Remove(id)
	if err := c.Close(); err != nil {
		s.log.Debugf("session %s close: %v", id, err)
	}
}

// Stop closes the listener, drops queued connections, closes live ones and
// waits for every handler to return. On a server that never started it only
// closes the listener.
func (s *Server) Stop() error {
	if err := s.state.Transition(lifecycle.Running, lifecycle.Stopping); err != nil {
		if s.state.Load() == lifecycle.Stopped {
			return s.l.Close()
		}
		return err
	}
	s.cancel()
	err := s.l.Close()
	for _, c := range s.queue.dispose() {
		_ = c.Close()
	}
	s.loops.Wait()
	s.conns.IterCb(func(_ string, c *socket.Conn) {
		_ = c.Close()
	})
	s.served.Wait()
	s.pool.Release()
	s.state.Set(lifecycle.Stopped)
	s.log.Infof("stopped %s", s.l.Addr())
	return err
}

var _ lifecycle.Component = (*Server)(nil)

type poolLogger struct {
	l *socket.Log
}

func (p poolLogger) Printf(format string, args ...interface{}) { p.l.Warnf(format, args...) }
