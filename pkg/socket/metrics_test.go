package socket

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func counterValue(t *testing.T, c prometheus.Metric) float64 {
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	if m.GetGauge() != nil {
		return m.GetGauge().GetValue()
	}
	return m.GetCounter().GetValue()
}

func TestMetrics(t *testing.T) {
	m := NewMetrics("test")
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	cfg := DefaultConfig()
	cfg.Metrics = m
	ln, err := Listen(context.Background(), loopback, cfg)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	client, err := Connect(context.Background(), ln.Addr(), cfg)
	require.NoError(t, err)
	server, err := ln.Accept()
	require.NoError(t, err)

	assert.Equal(t, 2.0, counterValue(t, m.Active))
	_, err = client.SendAll([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = server.Receive(buf)
	require.NoError(t, err)

	assert.Equal(t, 4.0, counterValue(t, m.BytesSent))
	assert.GreaterOrEqual(t, counterValue(t, m.BytesReceived), 1.0)
	assert.Equal(t, 1.0, counterValue(t, m.Connections.WithLabelValues("client", "ok")))
	assert.Equal(t, 1.0, counterValue(t, m.Connections.WithLabelValues("server", "ok")))

	require.NoError(t, client.Close())
	require.NoError(t, server.Close())
	assert.Equal(t, 0.0, counterValue(t, m.Active))

	addr := ln.Addr()
	require.NoError(t, ln.Close())
	_, err = Connect(context.Background(), addr, cfg)
	require.Error(t, err)
	assert.Equal(t, 1.0, counterValue(t, m.Errors.WithLabelValues("connection refused")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.opened()
		m.sent(3)
		m.failed(assert.AnError)
		m.connection("client", nil)
	})
}

func TestTelemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	cfg := DefaultConfig()
	cfg.Meter = mp.Meter("test")
	cfg.Tracer = tp.Tracer("test")

	ln, err := Listen(context.Background(), loopback, cfg)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	client, err := Connect(context.Background(), ln.Addr(), cfg)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	names := map[string]bool{}
	for _, s := range rec.Ended() {
		names[s.Name()] = true
	}
	assert.True(t, names["socket.listen"])
	assert.True(t, names["socket.connect"])

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var connects int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "socket.connects" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				connects += dp.Value
			}
		}
	}
	assert.Equal(t, int64(1), connects)
}
