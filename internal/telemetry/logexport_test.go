package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottled-honey/bottled-honey/internal/events"
)

func TestLogExporter(t *testing.T) {
	var buf bytes.Buffer
	exp := NewLogExporterWithLogger(zerolog.New(&buf))

	ev := sampleEvent()
	ev.Outcome = events.OutcomeDisconnected
	ev.Reason = events.ReasonShutdown
	require.NoError(t, exp.Export(context.Background(), ev))
	require.NoError(t, exp.Shutdown(context.Background()))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "capture", line["message"])
	assert.Equal(t, "capture", line["component"])
	assert.Equal(t, "203.0.113.7", line["remote_addr"])
	assert.Equal(t, "disconnected", line["outcome"])
	assert.Equal(t, "shutdown", line["termination_reason"])
	assert.Equal(t, "Guide", line["player_name"])
	assert.Equal(t, "hunter2", line["password_attempt"])
	assert.Equal(t, "log", exp.Name())
}
