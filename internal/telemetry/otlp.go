package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/util"
)

const (
	tracerName = "github.com/bottled-honey/bottled-honey/internal/telemetry"
	spanName   = "client"
)

// Span attribute keys.
const (
	AttrPeerIP            = attribute.Key("net.peer.ip")
	AttrPeerPort          = attribute.Key("net.peer.port")
	AttrVersion           = attribute.Key("version")
	AttrRelease           = attribute.Key("release")
	AttrPlayerName        = attribute.Key("player_name")
	AttrPlayerUUID        = attribute.Key("player_uuid")
	AttrPasswordRequested = attribute.Key("password_requested")
	AttrPassword          = attribute.Key("password")
	AttrOutcome           = attribute.Key("outcome")
	AttrTerminationReason = attribute.Key("termination_reason")
	AttrSessionID         = attribute.Key("session.id")
	AttrPacketCount       = attribute.Key("packet_count")
)

// capturedAttrs maps captured fields to span attributes.
var capturedAttrs = map[string]attribute.Key{
	events.FieldVersion:         AttrVersion,
	events.FieldRelease:         AttrRelease,
	events.FieldPlayerName:      AttrPlayerName,
	events.FieldPlayerUUID:      AttrPlayerUUID,
	events.FieldPasswordAttempt: AttrPassword,
}

// OTLPExporter emits one "client" span per capture over OTLP/HTTP.
type OTLPExporter struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOTLPExporter creates an exporter sending to cfg.Endpoint with the
// configured headers. Every span is sampled.
func NewOTLPExporter(ctx context.Context, cfg config.TelemetryConfig, host util.SystemInfo) (*OTLPExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.Endpoint)}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	if cfg.ExportTimeoutSec > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(cfg.ExportTimeout()))
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(cfg.ServiceName, host)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return NewOTLPExporterWithProvider(provider), nil
}

// NewOTLPExporterWithProvider wraps an existing tracer provider.
func NewOTLPExporterWithProvider(provider *sdktrace.TracerProvider) *OTLPExporter {
	return &OTLPExporter{
		provider: provider,
		tracer:   provider.Tracer(tracerName),
	}
}

func newResource(service string, host util.SystemInfo) *resource.Resource {
	if service == "" {
		service = config.DefaultServiceName
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(service),
		semconv.ServiceVersion(AppVersion),
	}
	if host.Hostname != "" {
		attrs = append(attrs, semconv.HostName(host.Hostname))
	}
	if host.Architecture != "" {
		attrs = append(attrs, attribute.String("host.arch", host.Architecture))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func (e *OTLPExporter) Name() string { return "otlp" }

// Export records the capture as a span covering the connection lifetime.
func (e *OTLPExporter) Export(ctx context.Context, event events.Event) error {
	_, span := e.tracer.Start(ctx, spanName,
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(event.StartedAt),
		trace.WithAttributes(SpanAttributes(event)...),
	)
	if event.Outcome == events.OutcomeProtocolError {
		span.SetStatus(codes.Error, string(event.Reason))
	}
	span.End(trace.WithTimestamp(event.EndedAt))
	return nil
}

// Shutdown flushes pending spans.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

// SpanAttributes returns the attributes recorded for a capture. Fields the
// client never sent are omitted.
func SpanAttributes(event events.Event) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrSessionID.String(event.ID),
		AttrPeerIP.String(event.RemoteAddr),
		AttrPeerPort.Int(event.RemotePort),
		AttrPasswordRequested.Bool(event.PasswordRequested),
		AttrOutcome.String(string(event.Outcome)),
		AttrPacketCount.Int(event.PacketCount),
	}
	if event.Reason != events.ReasonNone {
		attrs = append(attrs, AttrTerminationReason.String(string(event.Reason)))
	}
	for _, name := range event.FieldNames() {
		if key, ok := capturedAttrs[name]; ok {
			attrs = append(attrs, key.String(event.Fields[name]))
		}
	}
	return attrs
}
