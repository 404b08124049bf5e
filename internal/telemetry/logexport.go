package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/events"
)

// LogExporter writes every capture to the structured log.
type LogExporter struct {
	logger zerolog.Logger
}

// NewLogExporter creates a log exporter on the global logger.
func NewLogExporter() *LogExporter {
	return NewLogExporterWithLogger(log.Logger)
}

// NewLogExporterWithLogger creates a log exporter on the given logger.
func NewLogExporterWithLogger(logger zerolog.Logger) *LogExporter {
	return &LogExporter{logger: logger.With().Str("component", "capture").Logger()}
}

func (e *LogExporter) Name() string { return "log" }

func (e *LogExporter) Export(_ context.Context, event events.Event) error {
	entry := e.logger.Info().
		Str("session", event.ID).
		Str("remote_addr", event.RemoteAddr).
		Int("remote_port", event.RemotePort).
		Bool("password_requested", event.PasswordRequested).
		Str("outcome", string(event.Outcome)).
		Int("packets", event.PacketCount).
		Dur("duration", event.Duration())
	if event.Reason != events.ReasonNone {
		entry = entry.Str("termination_reason", string(event.Reason))
	}
	for _, name := range event.FieldNames() {
		entry = entry.Str(name, event.Fields[name])
	}
	entry.Msg("capture")
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error { return nil }
