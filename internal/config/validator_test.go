package config

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func hasError(r *ValidationResult, field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidateHoneypot(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"chance above one", func(c *Config) { c.Honeypot.PasswordChance = 1.5 }, "honeypot.password_chance"},
		{"negative chance", func(c *Config) { c.Honeypot.PasswordChance = -0.1 }, "honeypot.password_chance"},
		{"nan chance", func(c *Config) { c.Honeypot.PasswordChance = math.NaN() }, "honeypot.password_chance"},
		{"address without port", func(c *Config) { c.Honeypot.Address = "0.0.0.0" }, "honeypot.address"},
		{"bad port", func(c *Config) { c.Honeypot.Address = "0.0.0.0:99999" }, "honeypot.address"},
		{"unknown policy", func(c *Config) { c.Honeypot.PasswordPolicy = "maybe" }, "honeypot.password_policy"},
		{"zero idle timeout", func(c *Config) { c.Honeypot.IdleTimeoutSec = 0 }, "honeypot.idle_timeout_sec"},
		{"tiny frames", func(c *Config) { c.Honeypot.MaxFrameSize = 16 }, "honeypot.max_frame_size"},
		{"huge frames", func(c *Config) { c.Honeypot.MaxFrameSize = 1 << 20 }, "honeypot.max_frame_size"},
		{"negative linger", func(c *Config) { c.Honeypot.LingerSec = -1 }, "honeypot.linger_sec"},
		{"relative endpoint", func(c *Config) { c.Telemetry.Endpoint = "collector:4318" }, "telemetry.endpoint"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker_url"},
		{"nats without subject", func(c *Config) { c.NATS.Enabled = true; c.NATS.Subject = "" }, "nats.subject"},
		{"redis bad addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "redis" }, "redis.addr"},
		{"webhook without url", func(c *Config) { c.Webhook.Enabled = true }, "webhook.url"},
		{"webhook bad filter", func(c *Config) {
			c.Webhook.Enabled = true
			c.Webhook.URL = "https://discord.com/api/webhooks/1/abc"
			c.Webhook.Notify = "everything"
		}, "webhook.notify"},
		{"storage without path", func(c *Config) { c.Storage.Enabled = true; c.Storage.Path = " " }, "storage.path"},
		{"api bad addr", func(c *Config) { c.API.Enabled = true; c.API.Address = "nope" }, "api.address"},
		{"health zero interval", func(c *Config) { c.Health.CheckIntervalSec = 0 }, "health.check_interval_sec"},
		{"health disk percent", func(c *Config) { c.Health.DiskWarnPercent = 120 }, "health.disk_warn_percent"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			result := Validate(cfg)
			assert.False(t, result.IsValid())
			assert.True(t, hasError(result, tc.field), "errors: %v", result.Errors)
		})
	}
}

func TestValidateAcceptsBoundaries(t *testing.T) {
	for _, p := range []float64{0, 1} {
		cfg := DefaultConfig()
		cfg.Honeypot.PasswordChance = p
		assert.True(t, Validate(cfg).IsValid())
	}

	cfg := DefaultConfig()
	cfg.Telemetry.Endpoint = "https://otel.example.com/v1/traces"
	cfg.Honeypot.Address = "127.0.0.1:0"
	assert.True(t, Validate(cfg).IsValid())
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Honeypot.Address = "0.0.0.0:777"
	cfg.Honeypot.MaxConnections = 0
	cfg.Logging.Level = "loud"

	result := Validate(cfg)
	assert.True(t, result.IsValid())
	assert.Len(t, result.Warnings, 3)
}

func TestValidationErrorString(t *testing.T) {
	err := ValidationError{Field: "honeypot.address", Message: "bad"}
	assert.Equal(t, "config validation error [honeypot.address]: bad", err.Error())
}
