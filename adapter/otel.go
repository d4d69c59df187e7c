package adapter

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/plugin-socket/pkg/socket"
)

// ScopeName is the instrumentation scope used for meters and tracers.
const ScopeName = "github.com/srediag/plugin-socket"

// OTelAdapter hands OpenTelemetry providers to socket configs.
type OTelAdapter struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Instrument returns a copy of cfg whose meter and tracer come from the
// adapter's providers. Nil providers leave the field untouched.
func (a OTelAdapter) Instrument(cfg *socket.Config) *socket.Config {
	var c socket.Config
	if cfg != nil {
		c = *cfg
	} else {
		c = *socket.DefaultConfig()
	}
	if a.MeterProvider != nil {
		c.Meter = a.MeterProvider.Meter(ScopeName)
	}
	if a.TracerProvider != nil {
		c.Tracer = a.TracerProvider.Tracer(ScopeName)
	}
	return &c
}
