package config

import (
	"bytes"
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestParseHeaders(t *testing.T) {
	testCases := []struct {
		in   string
		want map[string]string
	}{
		{"", map[string]string{}},
		{"a=1", map[string]string{"a": "1"}},
		{"a=1,b=2", map[string]string{"a": "1", "b": "2"}},
		{"a=1,broken,b=x=y", map[string]string{"a": "1", "b": "x=y"}},
		{"=nokey,c=", map[string]string{"c": ""}},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, ParseHeaders(tc.in), "input %q", tc.in)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.Headers = map[string]string{"keep": "me"}

	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvAddress:        "127.0.0.1:7777",
		EnvPasswordChance: "0.5",
		EnvOTelEndpoint:   "http://collector:4318",
		EnvOTelHeaders:    "authorization=Bearer x",
		EnvLogLevel:       "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.Honeypot.Address)
	assert.Equal(t, 0.5, cfg.Honeypot.PasswordChance)
	assert.Equal(t, "http://collector:4318", cfg.Telemetry.Endpoint)
	assert.Equal(t, map[string]string{"keep": "me", "authorization": "Bearer x"}, cfg.Telemetry.Headers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnvInvalidChance(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{EnvPasswordChance: "often"}))
	assert.Error(t, err)
}

func TestApplyEnvIgnoresEmpty(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{EnvAddress: ""})))
	assert.Equal(t, DefaultAddress, cfg.Honeypot.Address)
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags("serve", []string{
		"-p", "0.1",
		"--otel-endpoint", "https://otel.example:4318",
		"--otel-headers", "k=v",
		"-password-policy", "reject",
		"-interactive",
		"0.0.0.0:7777",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.True(t, f.Interactive)
	assert.Equal(t, "0.0.0.0:7777", f.Address)
	assert.True(t, f.IsSet("p"))
	assert.False(t, f.IsSet("config"))

	cfg := DefaultConfig()
	cfg.Honeypot.Address = "127.0.0.1:1"
	cfg.ApplyFlags(f)

	assert.Equal(t, "0.0.0.0:7777", cfg.Honeypot.Address)
	assert.Equal(t, 0.1, cfg.Honeypot.PasswordChance)
	assert.Equal(t, "reject", cfg.Honeypot.PasswordPolicy)
	assert.Equal(t, "https://otel.example:4318", cfg.Telemetry.Endpoint)
	assert.Equal(t, "v", cfg.Telemetry.Headers["k"])
}

func TestFlagsOverrideEnvOnlyWhenSet(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{EnvPasswordChance: "0.75"})))

	f, err := ParseFlags("serve", nil, &bytes.Buffer{})
	require.NoError(t, err)
	cfg.ApplyFlags(f)

	assert.Equal(t, 0.75, cfg.Honeypot.PasswordChance)
}

func TestParseFlagsErrors(t *testing.T) {
	_, err := ParseFlags("serve", []string{"a:1", "b:2"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = ParseFlags("serve", []string{"-p", "lots"}, &bytes.Buffer{})
	assert.Error(t, err)

	var out bytes.Buffer
	_, err = ParseFlags("serve", []string{"-h"}, &out)
	assert.True(t, errors.Is(err, flag.ErrHelp))
	assert.Contains(t, out.String(), "otel-endpoint")
}
