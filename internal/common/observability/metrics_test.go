package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNoop_RecordsWithoutPanicking(t *testing.T) {
	obs := NewNoop()

	ctx, span := obs.StartSpan(context.Background(), "mengla.query", attribute.String("action", "hot"))
	assert.NotNil(t, ctx)
	span.End()

	assert.NotPanics(t, func() {
		obs.RecordQuery(ctx, "hot", "resolved", 120*time.Millisecond)
		obs.Shutdown()
	})
}

func TestNew_ExportsSpansToProcessor(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	obs := New("mengla-gateway-test", WithSpanProcessor(recorder), WithoutMetricsExport())
	defer obs.Shutdown()

	_, span := obs.StartSpan(context.Background(), "mengla.dispatch", attribute.String("mengla.action", "high"))
	assert.True(t, span.IsRecording())
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "mengla.dispatch", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("mengla.action", "high"))

	obs.RecordQuery(context.Background(), "high", "cache_hit", time.Millisecond)
}

func TestNew_ExportsQueryMetricsThroughPrometheus(t *testing.T) {
	obs := New("mengla-gateway-test")
	defer obs.Shutdown()
	require.NotNil(t, obs.meterProvider)

	obs.RecordQuery(context.Background(), "hot", "resolved", time.Second)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var found int
	for _, mf := range families {
		if mf.GetName() != "mengla_queries_total" {
			continue
		}
		found++
		require.Len(t, mf.GetMetric(), 1)
		labels := map[string]string{}
		for _, lp := range mf.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		assert.Equal(t, "hot", labels["action"])
		assert.Equal(t, "resolved", labels["outcome"])
	}
	assert.Equal(t, 1, found)
}

func TestNewSpanExporter(t *testing.T) {
	exp, err := NewSpanExporter("stdout")
	require.NoError(t, err)
	assert.NotNil(t, exp)
	require.NoError(t, exp.Shutdown(context.Background()))

	for _, name := range []string{"", "none"} {
		exp, err := NewSpanExporter(name)
		require.NoError(t, err)
		assert.Nil(t, exp)
	}

	_, err = NewSpanExporter("zipkin")
	assert.Error(t, err)
}
