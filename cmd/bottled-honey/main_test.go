package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/db"
	"github.com/bottled-honey/bottled-honey/internal/util"
)

func TestOpenSinks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Enabled = true
	cfg.Storage.Path = filepath.Join(t.TempDir(), "captures.db")

	s, err := openSinks(context.Background(), cfg, util.SystemInfo{Hostname: "sensor-1"})
	require.NoError(t, err)
	require.NotNil(t, s.store)
	defer s.store.Close()

	var names []string
	for _, exp := range s.exporters {
		names = append(names, exp.Name())
	}
	assert.Equal(t, []string{"sqlite", "log"}, names)
	assert.Nil(t, s.mqtt)
}

func TestOpenSinksSkipsUnreachableNetworkSinks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telemetry.LogEvents = false
	cfg.NATS.Enabled = true
	cfg.NATS.URL = "nats://127.0.0.1:1"
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	s, err := openSinks(context.Background(), cfg, util.SystemInfo{})
	require.NoError(t, err)
	assert.Empty(t, s.exporters)
}

func TestOfflineCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captures.db")
	store, err := db.OpenCaptureStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.Equal(t, 0, run([]string{"captures", "-db", path, "-n", "5"}))
	assert.Equal(t, 0, run([]string{"stats", "-db", path}))
	assert.Equal(t, 1, run([]string{"stats", "-db", filepath.Join(t.TempDir(), "missing.db")}))
	assert.Equal(t, 0, run([]string{"version"}))
}

func TestServeRejectsBadFlags(t *testing.T) {
	assert.Equal(t, 2, run([]string{"serve", "-p", "not-a-number"}))
}
