package config

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// minFrameSize leaves room for the handshake strings plus framing.
const minFrameSize = 64

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateHoneypot(&cfg.Honeypot, result)
	validateTelemetry(&cfg.Telemetry, result)
	validateExporters(cfg, result)
	validateAPI(&cfg.API, result)
	validateHealth(&cfg.Health, result)

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		result.AddWarning("logging.level", fmt.Sprintf("unknown log level %q, using info", cfg.Logging.Level))
	}

	return result
}

func validateHoneypot(h *HoneypotConfig, result *ValidationResult) {
	validateHostPort(h.Address, "honeypot.address", result)

	if h.PasswordChance < 0 || h.PasswordChance > 1 || math.IsNaN(h.PasswordChance) {
		result.AddError("honeypot.password_chance",
			fmt.Sprintf("must be between 0.0 and 1.0, got %v", h.PasswordChance))
	}

	switch h.PasswordPolicy {
	case "", "accept", "reject":
	default:
		result.AddError("honeypot.password_policy",
			fmt.Sprintf("unknown policy %q (want accept or reject)", h.PasswordPolicy))
	}

	if h.IdleTimeoutSec < 1 {
		result.AddError("honeypot.idle_timeout_sec", "idle timeout must be at least 1 second")
	}
	if h.PasswordTimeoutSec < 1 {
		result.AddError("honeypot.password_timeout_sec", "password timeout must be at least 1 second")
	} else if h.PasswordTimeoutSec < h.IdleTimeoutSec {
		result.AddWarning("honeypot.password_timeout_sec",
			"password timeout is shorter than the idle timeout, people type slower than clients")
	}
	if h.GraceTimeoutMS < 0 {
		result.AddError("honeypot.grace_timeout_ms", "grace timeout cannot be negative")
	}
	if h.LingerSec < 0 {
		result.AddError("honeypot.linger_sec", "linger cannot be negative")
	}

	if h.MaxFrameSize < minFrameSize || h.MaxFrameSize > 0xFFFF {
		result.AddError("honeypot.max_frame_size",
			fmt.Sprintf("must be between %d and %d, got %d", minFrameSize, 0xFFFF, h.MaxFrameSize))
	}
	if h.MaxConnections < 0 {
		result.AddError("honeypot.max_connections", "cannot be negative (0 means unlimited)")
	} else if h.MaxConnections == 0 {
		result.AddWarning("honeypot.max_connections", "no cap on concurrent connections")
	}
	if h.PlayerSlot < 0 || h.PlayerSlot > 254 {
		result.AddError("honeypot.player_slot", fmt.Sprintf("invalid player slot %d", h.PlayerSlot))
	}
}

func validateTelemetry(t *TelemetryConfig, result *ValidationResult) {
	if t.Endpoint != "" {
		u, err := url.Parse(t.Endpoint)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			result.AddError("telemetry.endpoint",
				fmt.Sprintf("expected an http(s) URL, got %q", t.Endpoint))
		}
	}
	if strings.TrimSpace(t.ServiceName) == "" {
		result.AddError("telemetry.service_name", "service name is required")
	}
	if t.ExportTimeoutSec < 1 {
		result.AddError("telemetry.export_timeout_sec", "export timeout must be at least 1 second")
	}
	if t.QueueSize < 1 {
		result.AddError("telemetry.queue_size", "queue size must be at least 1")
	}
}

func validateExporters(cfg *Config, result *ValidationResult) {
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
		if strings.TrimSpace(cfg.MQTT.Topic) == "" {
			result.AddError("mqtt.topic", "MQTT topic is required when enabled")
		}
		if cfg.MQTT.UseTLS && (cfg.MQTT.CertFile == "") != (cfg.MQTT.KeyFile == "") {
			result.AddError("mqtt.cert_file", "client certificate and key must be set together")
		}
	}

	if cfg.NATS.Enabled {
		if strings.TrimSpace(cfg.NATS.URL) == "" {
			result.AddError("nats.url", "NATS URL is required when enabled")
		}
		if strings.TrimSpace(cfg.NATS.Subject) == "" {
			result.AddError("nats.subject", "NATS subject is required when enabled")
		}
	}

	if cfg.Redis.Enabled {
		validateHostPort(cfg.Redis.Addr, "redis.addr", result)
		if cfg.Redis.RecentLimit < 1 {
			result.AddError("redis.recent_limit", "recent limit must be at least 1")
		}
	}

	if cfg.Webhook.Enabled {
		u, err := url.Parse(cfg.Webhook.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			result.AddError("webhook.url", "an http(s) webhook URL is required when enabled")
		}
		switch cfg.Webhook.Notify {
		case "passwords", "players", "all":
		default:
			result.AddError("webhook.notify",
				fmt.Sprintf("unknown filter %q (want passwords, players or all)", cfg.Webhook.Notify))
		}
	}

	if cfg.Storage.Enabled {
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			result.AddError("storage.path", "database path is required when enabled")
		}
		if cfg.Storage.RetentionDays < 0 {
			result.AddError("storage.retention_days", "retention cannot be negative (0 keeps everything)")
		}
		if cfg.Storage.RetentionDays > 0 && cfg.Storage.PruneIntervalSec < 60 {
			result.AddWarning("storage.prune_interval_sec",
				"prune interval less than 60s may cause excessive database work")
		}
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validateHostPort(a.Address, "api.address", result)
	if a.TLSEnabled {
		if strings.TrimSpace(a.TLSCertFile) == "" {
			result.AddError("api.tls_cert_file", "TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(a.TLSKeyFile) == "" {
			result.AddError("api.tls_key_file", "TLS key file is required when TLS is enabled")
		}
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateHealth(h *HealthConfig, result *ValidationResult) {
	if !h.Enabled {
		return
	}
	if h.CheckIntervalSec < 1 {
		result.AddError("health.check_interval_sec", "must be at least 1 second")
	}
	if h.HeartbeatIntervalSec < 0 {
		result.AddError("health.heartbeat_interval_sec", "must not be negative")
	}
	if h.DiskWarnPercent <= 0 || h.DiskWarnPercent > 100 {
		result.AddError("health.disk_warn_percent", "must be in (0, 100]")
	}
}

func validateHostPort(addr, field string, result *ValidationResult) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		result.AddError(field, fmt.Sprintf("expected ip:port, got %q", addr))
		return
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		result.AddWarning(field, fmt.Sprintf("host %q is not an IP address and will be resolved", host))
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %s (must be 0-65535)", portStr))
		return
	}
	if port > 0 && port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
