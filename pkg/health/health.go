// Package health exposes liveness and readiness endpoints for processes that
// serve sockets.
package health

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/srediag/plugin-socket/pkg/socket"
)

// Config tunes the checks registered by New.
type Config struct {
	// MaxGoroutines fails liveness above this count. 0 disables the check.
	MaxGoroutines int
	// FDBudget fails liveness when the process holds more open descriptors.
	// 0 disables the check.
	FDBudget int32
	// DialTimeout bounds each readiness dial to a watched listener.
	DialTimeout time.Duration
	// Registerer, when set, exports check results as gauges.
	Registerer prometheus.Registerer
	Namespace  string
}

func DefaultConfig() Config {
	return Config{
		MaxGoroutines: 10000,
		DialTimeout:   time.Second,
	}
}

// Verify checks c.
func (c Config) Verify() error {
	if c.MaxGoroutines < 0 {
		return fmt.Errorf("max goroutines must not be negative")
	}
	if c.FDBudget < 0 {
		return fmt.Errorf("fd budget must not be negative")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	return nil
}

// Checker is a healthcheck.Handler serving /live and /ready.
type Checker struct {
	healthcheck.Handler
	cfg Config

	mu       sync.Mutex
	statuses map[string]error
}

// New returns a Checker with the liveness checks cfg enables.
func New(cfg Config) (*Checker, error) {
	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	var h healthcheck.Handler
	if cfg.Registerer != nil {
		h = healthcheck.NewMetricsHandler(cfg.Registerer, cfg.Namespace)
	} else {
		h = healthcheck.NewHandler()
	}
	c := &Checker{Handler: h, cfg: cfg, statuses: make(map[string]error)}
	if cfg.MaxGoroutines > 0 {
		h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(cfg.MaxGoroutines))
	}
	if cfg.FDBudget > 0 {
		h.AddLivenessCheck("fd-budget", FDBudgetCheck(cfg.FDBudget))
	}
	return c, nil
}

// Watch adds a readiness check that fails once l is closed or stops
// accepting connections.
func (c *Checker) Watch(name string, l *socket.Listener) {
	c.AddReadinessCheck(name, ListenerCheck(l, c.cfg.DialTimeout))
}

// Report records the status of a named component. A nil status is healthy.
// The first report for a name registers its readiness check.
func (c *Checker) Report(name string, status error) {
	c.mu.Lock()
	_, seen := c.statuses[name]
	c.statuses[name] = status
	c.mu.Unlock()
	if seen {
		return
	}
	c.AddReadinessCheck(name, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.statuses[name]
	})
}

// FDBudgetCheck fails when this process has more than max open descriptors.
// Platforms where the count is unavailable always pass.
func FDBudgetCheck(max int32) healthcheck.Check {
	return func() error {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return nil
		}
		n, err := p.NumFDs()
		if err != nil {
			return nil
		}
		if n > max {
			return fmt.Errorf("too many open descriptors (%d > %d)", n, max)
		}
		return nil
	}
}

// ListenerCheck dials l's address. Unspecified addresses are dialed over
// loopback.
func ListenerCheck(l *socket.Listener, timeout time.Duration) healthcheck.Check {
	return func() error {
		if l.Handle().Closed() {
			return errors.New("listener closed")
		}
		addr := l.Addr()
		ip := addr.IP()
		if ip.IsUnspecified() {
			if ip.Is4() {
				ip = netip.AddrFrom4([4]byte{127, 0, 0, 1})
			} else {
				ip = netip.IPv6Loopback()
			}
		}
		return healthcheck.TCPDialCheck(netip.AddrPortFrom(ip, addr.Port()).String(), timeout)()
	}
}
