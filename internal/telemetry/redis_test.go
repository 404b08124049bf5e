package telemetry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/events"
)

func newTestRedisExporter(t *testing.T, limit int) (*RedisExporter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	cfg := config.DefaultConfig().Redis
	cfg.Enabled = true
	cfg.Addr = srv.Addr()
	cfg.RecentLimit = limit

	exp, err := NewRedisExporter(context.Background(), cfg, map[string]interface{}{"hostname": "sensor-1"})
	require.NoError(t, err)
	t.Cleanup(func() { exp.Shutdown(context.Background()) })
	return exp, srv
}

func TestRedisExporterWritesCaptureAndCounters(t *testing.T) {
	exp, srv := newTestRedisExporter(t, 10)
	ctx := context.Background()

	require.NoError(t, exp.Export(ctx, sampleEvent()))
	require.NoError(t, exp.Export(ctx, sampleEvent()))

	recent, err := srv.List("bottled_honey:captures:recent")
	require.NoError(t, err)
	require.Len(t, recent, 2)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(recent[0]), &doc))
	assert.Equal(t, "sensor-1", doc["hostname"])

	assert.Equal(t, "2", srv.HGet("bottled_honey:sightings", "203.0.113.7"))
	assert.Equal(t, "2", srv.HGet("bottled_honey:outcomes", "completed"))

	score, err := srv.ZScore("bottled_honey:player_names", "Guide")
	require.NoError(t, err)
	assert.Equal(t, 2.0, score)

	score, err = srv.ZScore("bottled_honey:passwords", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, 2.0, score)
}

func TestRedisExporterTrimsRecentList(t *testing.T) {
	exp, srv := newTestRedisExporter(t, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, exp.Export(context.Background(), sampleEvent()))
	}

	recent, err := srv.List(exp.Key(RedisKeyRecent))
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestRedisExporterSkipsUncapturedFields(t *testing.T) {
	exp, srv := newTestRedisExporter(t, 10)

	ev := events.Event{ID: "x", RemoteAddr: "198.51.100.9", Outcome: events.OutcomeTimeout, Reason: events.ReasonTimeout}
	require.NoError(t, exp.Export(context.Background(), ev))

	assert.Equal(t, "1", srv.HGet(exp.Key(RedisKeySightings), "198.51.100.9"))
	assert.False(t, srv.Exists(exp.Key(RedisKeyNames)))
	assert.False(t, srv.Exists(exp.Key(RedisKeyPasswords)))
}

func TestRedisExporterConnectFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	cfg := config.DefaultConfig().Redis
	cfg.Addr = addr
	_, err := NewRedisExporter(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "sightings", (&RedisExporter{}).Key("sightings"))
	assert.Equal(t, "hp:sightings", (&RedisExporter{prefix: "hp"}).Key("sightings"))
}
