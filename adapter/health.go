package adapter

import (
	"errors"
	"strings"

	"github.com/srediag/plugin-socket/pkg/health"
)

// HealthAdapter forwards component health to a monitoring backend.
type HealthAdapter interface {
	ReportHealth(component string, status string) error
}

// CheckerAdapter reports into a health.Checker, where each component becomes
// a readiness check. "ok", "healthy" and "up" are healthy; any other status
// fails the check with the status as its message.
type CheckerAdapter struct {
	Checker *health.Checker
}

var _ HealthAdapter = (*CheckerAdapter)(nil)

func (a *CheckerAdapter) ReportHealth(component string, status string) error {
	if a.Checker == nil {
		return errors.New("adapter: no health checker")
	}
	if component == "" {
		return errors.New("adapter: empty component name")
	}
	switch strings.ToLower(status) {
	case "ok", "healthy", "up":
		a.Checker.Report(component, nil)
	default:
		a.Checker.Report(component, errors.New(status))
	}
	return nil
}
