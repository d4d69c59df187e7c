package socket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/plugin-socket/pkg/socket"

// telemetry bundles the OpenTelemetry instruments of one socket. Without a
// Meter or Tracer in Config the noop providers are used.
type telemetry struct {
	tracer   trace.Tracer
	connects metric.Int64Counter
	accepts  metric.Int64Counter
	errs     metric.Int64Counter
	duration metric.Float64Histogram
}

func newTelemetry(cfg *Config) *telemetry {
	meter := cfg.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	t := &telemetry{tracer: tracer}
	// instrument constructors only fail on invalid names; fall back to noop.
	var err error
	if t.connects, err = meter.Int64Counter("socket.connects",
		metric.WithDescription("Outbound connection attempts.")); err != nil {
		t.connects = metricnoop.Int64Counter{}
	}
	if t.accepts, err = meter.Int64Counter("socket.accepts",
		metric.WithDescription("Accepted inbound connections.")); err != nil {
		t.accepts = metricnoop.Int64Counter{}
	}
	if t.errs, err = meter.Int64Counter("socket.errors",
		metric.WithDescription("Failed socket operations by kind.")); err != nil {
		t.errs = metricnoop.Int64Counter{}
	}
	if t.duration, err = meter.Float64Histogram("socket.connect.duration",
		metric.WithDescription("Time spent establishing outbound connections."),
		metric.WithUnit("s")); err != nil {
		t.duration = metricnoop.Float64Histogram{}
	}
	return t
}

func (t *telemetry) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "socket."+op, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
}

// end finishes span, recording err on it and in the error counter.
func (t *telemetry) end(ctx context.Context, span trace.Span, op string, err error) {
	if err != nil && !IsWouldBlock(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.errs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("kind", KindOf(err).String()),
		))
	}
	span.End()
}

func (t *telemetry) connected(ctx context.Context, start time.Time, addr Address, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	attrs := metric.WithAttributes(
		attribute.String("family", addr.Family().String()),
		attribute.String("result", result),
	)
	t.connects.Add(ctx, 1, attrs)
	t.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (t *telemetry) accepted(ctx context.Context) {
	t.accepts.Add(ctx, 1)
}

func addrAttr(key string, a Address) attribute.KeyValue {
	return attribute.String(key, a.String())
}
