package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/events"
)

// natsConn is the part of *nats.Conn the exporter uses.
type natsConn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	IsConnected() bool
	Drain() error
}

// NATSExporter publishes each capture to a NATS subject.
type NATSExporter struct {
	subject  string
	conn     natsConn
	metadata map[string]interface{}
}

// NewNATSExporter connects to cfg.URL. The connection reconnects forever.
func NewNATSExporter(cfg config.NATSConfig, metadata map[string]interface{}) (*NATSExporter, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	log.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("NATS connected")
	return newNATSExporter(cfg.Subject, nc, metadata), nil
}

func newNATSExporter(subject string, conn natsConn, metadata map[string]interface{}) *NATSExporter {
	return &NATSExporter{subject: subject, conn: conn, metadata: metadata}
}

func (e *NATSExporter) Name() string { return "nats" }

// Export publishes the capture and flushes it to the server.
func (e *NATSExporter) Export(ctx context.Context, event events.Event) error {
	if !e.conn.IsConnected() {
		return ErrNotConnected
	}

	data, err := encodeMessage(e.metadata, event)
	if err != nil {
		return fmt.Errorf("failed to marshal NATS message: %w", err)
	}

	if err := e.conn.Publish(e.subject, data); err != nil {
		return fmt.Errorf("NATS publish to %s failed: %w", e.subject, err)
	}
	return e.conn.FlushWithContext(ctx)
}

// Shutdown drains pending messages and closes the connection.
func (e *NATSExporter) Shutdown(context.Context) error {
	return e.conn.Drain()
}
