package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottled-honey/bottled-honey/internal/config"
)

type fakeNATSConn struct {
	connected  bool
	publishErr error
	subjects   []string
	payloads   [][]byte
	flushes    int
	drained    bool
}

func (c *fakeNATSConn) Publish(subj string, data []byte) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.subjects = append(c.subjects, subj)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeNATSConn) FlushWithContext(context.Context) error {
	c.flushes++
	return nil
}

func (c *fakeNATSConn) IsConnected() bool { return c.connected }

func (c *fakeNATSConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATSExporterPublishes(t *testing.T) {
	conn := &fakeNATSConn{connected: true}
	exp := newNATSExporter("honeypot.terraria.captures", conn, map[string]interface{}{"service": "bottled_honey"})

	require.NoError(t, exp.Export(context.Background(), sampleEvent()))

	require.Len(t, conn.payloads, 1)
	assert.Equal(t, "honeypot.terraria.captures", conn.subjects[0])
	assert.Equal(t, 1, conn.flushes)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(conn.payloads[0], &doc))
	assert.Equal(t, "bottled_honey", doc["service"])
	assert.Equal(t, "session-1", doc["payload"].(map[string]interface{})["id"])

	require.NoError(t, exp.Shutdown(context.Background()))
	assert.True(t, conn.drained)
}

func TestNATSExporterErrors(t *testing.T) {
	conn := &fakeNATSConn{}
	exp := newNATSExporter("captures", conn, nil)
	assert.ErrorIs(t, exp.Export(context.Background(), sampleEvent()), ErrNotConnected)

	conn.connected = true
	conn.publishErr = errors.New("permissions violation")
	assert.ErrorContains(t, exp.Export(context.Background(), sampleEvent()), "permissions violation")
	assert.Zero(t, conn.flushes)
}

func TestNewNATSExporterUnreachable(t *testing.T) {
	cfg := config.DefaultConfig().NATS
	cfg.URL = "nats://127.0.0.1:1"
	_, err := NewNATSExporter(cfg, nil)
	assert.Error(t, err)
}
