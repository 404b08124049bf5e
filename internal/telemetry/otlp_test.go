package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/util"
)

func recordingExporter(t *testing.T) (*OTLPExporter, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(recorder),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return NewOTLPExporterWithProvider(provider), recorder
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestOTLPExporterEmitsClientSpan(t *testing.T) {
	exp, recorder := recordingExporter(t)
	ev := sampleEvent()

	require.NoError(t, exp.Export(context.Background(), ev))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, "client", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Equal(t, ev.StartedAt, span.StartTime())
	assert.Equal(t, ev.EndedAt, span.EndTime())
	assert.Equal(t, codes.Unset, span.Status().Code)

	attrs := attrMap(span.Attributes())
	assert.Equal(t, "203.0.113.7", attrs[AttrPeerIP].AsString())
	assert.Equal(t, int64(51234), attrs[AttrPeerPort].AsInt64())
	assert.Equal(t, "Terraria279", attrs[AttrVersion].AsString())
	assert.Equal(t, "279", attrs[AttrRelease].AsString())
	assert.Equal(t, "Guide", attrs[AttrPlayerName].AsString())
	assert.Equal(t, "hunter2", attrs[AttrPassword].AsString())
	assert.True(t, attrs[AttrPasswordRequested].AsBool())
	assert.Equal(t, "completed", attrs[AttrOutcome].AsString())

	_, hasUUID := attrs[AttrPlayerUUID]
	assert.False(t, hasUUID, "uncaptured fields are omitted")
	_, hasReason := attrs[AttrTerminationReason]
	assert.False(t, hasReason)
}

func TestOTLPExporterMarksProtocolErrors(t *testing.T) {
	exp, recorder := recordingExporter(t)
	ev := events.Event{
		ID:         "bad",
		RemoteAddr: "198.51.100.2",
		RemotePort: 4000,
		Outcome:    events.OutcomeProtocolError,
		Reason:     events.ReasonBadSignature,
		StartedAt:  sampleEvent().StartedAt,
		EndedAt:    sampleEvent().EndedAt,
	}

	require.NoError(t, exp.Export(context.Background(), ev))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "bad_signature", attrs[AttrTerminationReason].AsString())
	assert.Equal(t, "protocol_error", attrs[AttrOutcome].AsString())

	require.NoError(t, exp.Shutdown(context.Background()))
}

func TestNewResourceCarriesServiceName(t *testing.T) {
	res := newResource("", util.SystemInfo{Hostname: "sensor-1", Architecture: "amd64"})

	attrs := attrMap(res.Attributes())
	assert.Equal(t, config.DefaultServiceName, attrs["service.name"].AsString())
	assert.Equal(t, "sensor-1", attrs["host.name"].AsString())
	assert.Equal(t, "amd64", attrs["host.arch"].AsString())
}

func TestNewOTLPExporterFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Telemetry
	cfg.Endpoint = "http://127.0.0.1:4318/v1/traces"
	cfg.Headers = map[string]string{"x-api-key": "secret"}

	exp, err := NewOTLPExporter(context.Background(), cfg, util.SystemInfo{})
	require.NoError(t, err)
	assert.Equal(t, "otlp", exp.Name())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = exp.Shutdown(ctx)
}
