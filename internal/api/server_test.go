package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/db"
	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/health"
	"github.com/bottled-honey/bottled-honey/internal/network"
)

type fakeCaptures struct {
	captures   []events.Event
	lastFilter db.CaptureFilter
	pruned     time.Time
	err        error
}

func (f *fakeCaptures) Query(_ context.Context, filter db.CaptureFilter) ([]events.Event, error) {
	f.lastFilter = filter
	return f.captures, f.err
}

func (f *fakeCaptures) Get(_ context.Context, id string) (events.Event, bool, error) {
	for _, ev := range f.captures {
		if ev.ID == id {
			return ev, true, nil
		}
	}
	return events.Event{}, false, f.err
}

func (f *fakeCaptures) Stats(context.Context, int) (db.Stats, error) {
	return db.Stats{Total: len(f.captures), ByOutcome: map[string]int{"completed": len(f.captures)}}, f.err
}

func (f *fakeCaptures) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	f.pruned = cutoff
	return 3, f.err
}

func newTestServer(t *testing.T, captures CaptureSource) (*Server, *network.ConnectionRegistry, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.API.RateLimitRPS = 0
	cfg.Logging.Directory = t.TempDir()
	cfg.MQTT.Password = "broker-secret"
	cfg.Telemetry.Headers = map[string]string{"x-api-key": "otel-secret"}

	registry := network.NewConnectionRegistry()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bottled_honey_connections_total 1\n"))
	})

	s := NewServer(Dependencies{
		Config:      cfg,
		Connections: registry,
		Captures:    captures,
		Metrics:     metrics,
	})
	return s, registry, cfg
}

func doRequest(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func sampleCapture(id string) events.Event {
	return events.Event{
		ID:         id,
		RemoteAddr: "203.0.113.7",
		RemotePort: 51234,
		Fields:     map[string]string{events.FieldPlayerName: "Guide"},
		Outcome:    events.OutcomeCompleted,
		StartedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		EndedAt:    time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC),
	}
}

func TestPing(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec, body := doRequest(t, s, "GET", "/api/public/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "bottled_honey", body["service"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestInfo(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec, body := doRequest(t, s, "GET", "/api/public/info")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.DefaultAddress, body["honeypot_addr"])
	assert.Equal(t, Version, body["version"])
}

func TestConnections(t *testing.T) {
	s, registry, _ := newTestServer(t, nil)

	server, client := net.Pipe()
	defer client.Close()
	conn := network.NewConnection("live-1", server, 0)
	defer conn.Close()
	registry.Register(conn)

	rec, body := doRequest(t, s, "GET", "/api/monitor/connections")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["total"])

	rec, _ = doRequest(t, s, "POST", "/api/control/connections/live-1/close")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, conn.Draining())

	rec, _ = doRequest(t, s, "POST", "/api/control/connections/missing/close")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCaptures(t *testing.T) {
	captures := &fakeCaptures{captures: []events.Event{sampleCapture("a"), sampleCapture("b")}}
	s, _, _ := newTestServer(t, captures)

	rec, body := doRequest(t, s, "GET", "/api/monitor/captures?limit=5&outcome=completed&remote_addr=203.0.113.7&since=2024-05-01T00:00:00Z")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])
	assert.Equal(t, 5, captures.lastFilter.Limit)
	assert.Equal(t, events.OutcomeCompleted, captures.lastFilter.Outcome)
	assert.Equal(t, "203.0.113.7", captures.lastFilter.RemoteAddr)
	assert.False(t, captures.lastFilter.Since.IsZero())

	rec, body = doRequest(t, s, "GET", "/api/monitor/captures/b")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b", body["id"])
	assert.Equal(t, "Guide", body["fields"].(map[string]interface{})["player_name"])

	rec, _ = doRequest(t, s, "GET", "/api/monitor/captures/zzz")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCapturesBadQuery(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeCaptures{})

	for _, q := range []string{"limit=0", "limit=abc", "outcome=exploded", "since=yesterday"} {
		t.Run(q, func(t *testing.T) {
			rec, body := doRequest(t, s, "GET", "/api/monitor/captures?"+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCapturesLimitIsCapped(t *testing.T) {
	captures := &fakeCaptures{}
	s, _, _ := newTestServer(t, captures)

	rec, body := doRequest(t, s, "GET", "/api/monitor/captures?limit=50000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxQueryLimit, captures.lastFilter.Limit)
	assert.Equal(t, []interface{}{}, body["captures"])
}

func TestCapturesStorageDisabled(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec, _ := doRequest(t, s, "GET", "/api/monitor/captures")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = doRequest(t, s, "POST", "/api/control/prune")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCapturesStoreError(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeCaptures{err: errors.New("disk I/O error")})

	rec, _ := doRequest(t, s, "GET", "/api/monitor/captures")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, _ = doRequest(t, s, "GET", "/api/monitor/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStats(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeCaptures{captures: []events.Event{sampleCapture("a")}})

	rec, body := doRequest(t, s, "GET", "/api/monitor/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["active_connections"])
	captures := body["captures"].(map[string]interface{})
	assert.Equal(t, 1.0, captures["total"])
}

type fakeHealth struct {
	overall health.Status
}

func (f fakeHealth) Overall() health.Status { return f.overall }

func (f fakeHealth) Results() map[string]health.CheckResult {
	return map[string]health.CheckResult{
		"disk_utilization": {Name: "disk_utilization", Status: f.overall, Message: "disk usage at 97.0%"},
	}
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec, _ := doRequest(t, s, http.MethodGet, "/api/monitor/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.health = fakeHealth{overall: health.StatusWarning}
	rec, body := doRequest(t, s, http.MethodGet, "/api/monitor/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "warning", body["status"])
	assert.Contains(t, body["checks"], "disk_utilization")

	s.health = fakeHealth{overall: health.StatusCritical}
	rec, body = doRequest(t, s, http.MethodGet, "/api/monitor/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "critical", body["status"])
}

func TestPrune(t *testing.T) {
	captures := &fakeCaptures{}
	s, _, cfg := newTestServer(t, captures)

	rec, body := doRequest(t, s, "POST", "/api/control/prune")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, body["removed"])
	assert.WithinDuration(t, time.Now().Add(-cfg.Storage.Retention()), captures.pruned, time.Minute)

	cfg.Storage.RetentionDays = 0
	rec, _ = doRequest(t, s, "POST", "/api/control/prune")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigIsRedacted(t *testing.T) {
	s, _, cfg := newTestServer(t, nil)
	cfg.Webhook.URL = "https://discord.com/api/webhooks/1/hook-secret"

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/monitor/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "broker-secret")
	assert.NotContains(t, rec.Body.String(), "otel-secret")
	assert.NotContains(t, rec.Body.String(), "hook-secret")
	assert.Contains(t, rec.Body.String(), "x-api-key")
	assert.Equal(t, "broker-secret", cfg.MQTT.Password, "live config is untouched")
	assert.Equal(t, "otel-secret", cfg.Telemetry.Headers["x-api-key"])
}

func TestLogEntries(t *testing.T) {
	s, _, cfg := newTestServer(t, nil)

	lines := `{"level":"info","time":"2024-05-01T12:00:00Z","message":"server listening","addr":"0.0.0.0:7777"}
not json
{"level":"warn","time":"2024-05-01T12:00:01Z","message":"event queue full, capture dropped"}
`
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Logging.Directory, "bottled_honey_2024-04-30.log"), []byte(`{"message":"old"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Logging.Directory, "bottled_honey_2024-05-01.log"), []byte(lines), 0644))

	rec, body := doRequest(t, s, "GET", "/api/monitor/logs?count=2")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])

	entries := body["entries"].([]interface{})
	assert.Equal(t, "not json", entries[0].(map[string]interface{})["message"])
	last := entries[1].(map[string]interface{})
	assert.Equal(t, "warn", last["level"])
	assert.Equal(t, "event queue full, capture dropped", last["message"])
}

func TestMetricsAndNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec, _ := doRequest(t, s, "GET", "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bottled_honey_connections_total")

	rec, body := doRequest(t, s, "GET", "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "endpoint not found", body["error"])
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()

	assert.True(t, rl.allow("10.0.0.1", now))
	assert.True(t, rl.allow("10.0.0.1", now))
	assert.False(t, rl.allow("10.0.0.1", now), "burst of two exhausted")
	assert.True(t, rl.allow("10.0.0.2", now), "buckets are per client")
	assert.True(t, rl.allow("10.0.0.1", now.Add(time.Second)))
}

func TestRateLimiterMiddleware(t *testing.T) {
	s, _, cfg := newTestServer(t, nil)
	cfg.API.RateLimitRPS = 1
	s = NewServer(Dependencies{Config: cfg, Connections: network.NewConnectionRegistry()})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec, _ := doRequest(t, s, "GET", "/api/public/ping")
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestStartAndStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.Address = "127.0.0.1:0"
	s := NewServer(Dependencies{Config: cfg, Connections: network.NewConnectionRegistry()})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStartBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.DefaultConfig()
	cfg.API.Address = ln.Addr().String()
	s := NewServer(Dependencies{Config: cfg, Connections: network.NewConnectionRegistry()})

	err = s.Start(context.Background())
	var bindErr *network.BindError
	assert.ErrorAs(t, err, &bindErr)
}
