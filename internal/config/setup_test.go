package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSetupWizard(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	cfg := DefaultConfig()
	cfg.SetPath(path)

	answers := strings.Join([]string{
		"127.0.0.1:7777", // address
		"0.5",            // password chance
		"reject",         // policy
		"",               // max connections
		"",               // otel endpoint
		"yes",            // sqlite
		"",               // db path
		"7",              // retention
		"no",             // mqtt
		"n",              // nats
		"",               // redis
		"",               // webhook
		"yes",            // api
		"",               // api address
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, RunSetupWizard(cfg, strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Configuration saved")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", loaded.Honeypot.Address)
	assert.Equal(t, 0.5, loaded.Honeypot.PasswordChance)
	assert.Equal(t, "reject", loaded.Honeypot.PasswordPolicy)
	assert.True(t, loaded.Storage.Enabled)
	assert.Equal(t, 7, loaded.Storage.RetentionDays)
	assert.False(t, loaded.MQTT.Enabled)
	assert.True(t, loaded.API.Enabled)
	assert.Equal(t, DefaultAPIAddress, loaded.API.Address)
}

func TestRunSetupWizardRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))

	// Address without a port, everything else at defaults.
	var out bytes.Buffer
	err := RunSetupWizard(cfg, strings.NewReader("nowhere\n"), &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "honeypot.address")
}
