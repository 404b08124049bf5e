// Package config handles configuration loading, validation, and persistence
// for the bottled-honey honeypot.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigFile   = "bottled_honey.json"
	DefaultAddress      = "0.0.0.0:7777"
	DefaultAPIAddress   = "127.0.0.1:9777"
	DefaultServiceName  = "bottled_honey"
	DefaultMaxFrameSize = 5 * 1024
)

// Config is the root configuration structure for bottled-honey.
type Config struct {
	path string

	Honeypot  HoneypotConfig  `json:"honeypot"`
	Telemetry TelemetryConfig `json:"telemetry"`
	MQTT      MQTTConfig      `json:"mqtt"`
	NATS      NATSConfig      `json:"nats"`
	Redis     RedisConfig     `json:"redis"`
	Webhook   WebhookConfig   `json:"webhook"`
	Storage   StorageConfig   `json:"storage"`
	API       APIConfig       `json:"api"`
	Health    HealthConfig    `json:"health"`
	Logging   LoggingConfig   `json:"logging"`
}

// HoneypotConfig contains the decoy listener settings.
type HoneypotConfig struct {
	Address string `json:"address"`

	// Password gate
	PasswordChance float64 `json:"password_chance"`
	PasswordPolicy string  `json:"password_policy"`

	// Deadlines
	IdleTimeoutSec     int `json:"idle_timeout_sec"`
	PasswordTimeoutSec int `json:"password_timeout_sec"`
	GraceTimeoutMS     int `json:"grace_timeout_ms"`
	LingerSec          int `json:"linger_sec"`

	// Limits
	MaxFrameSize   int `json:"max_frame_size"`
	MaxConnections int `json:"max_connections"`
	PlayerSlot     int `json:"player_slot"`
}

// IdleTimeout is the read deadline outside the password prompt.
func (h HoneypotConfig) IdleTimeout() time.Duration {
	return time.Duration(h.IdleTimeoutSec) * time.Second
}

// PasswordTimeout is the read deadline while a password is pending.
func (h HoneypotConfig) PasswordTimeout() time.Duration {
	return time.Duration(h.PasswordTimeoutSec) * time.Second
}

// GraceTimeout is the read deadline once the player name is known.
func (h HoneypotConfig) GraceTimeout() time.Duration {
	return time.Duration(h.GraceTimeoutMS) * time.Millisecond
}

// Linger is how long a completed connection is held open.
func (h HoneypotConfig) Linger() time.Duration {
	return time.Duration(h.LingerSec) * time.Second
}

// TelemetryConfig holds the OTLP trace exporter and event pipeline settings.
type TelemetryConfig struct {
	Endpoint         string            `json:"endpoint"`
	Headers          map[string]string `json:"headers"`
	ServiceName      string            `json:"service_name"`
	ExportTimeoutSec int               `json:"export_timeout_sec"`
	QueueSize        int               `json:"queue_size"`
	LogEvents        bool              `json:"log_events"`
}

// ExportTimeout bounds a single exporter call.
func (t TelemetryConfig) ExportTimeout() time.Duration {
	return time.Duration(t.ExportTimeoutSec) * time.Second
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Topic     string `json:"topic"`
}

// NATSConfig holds NATS publisher settings.
type NATSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Subject string `json:"subject"`
	Name    string `json:"name"`
}

// RedisConfig holds Redis sink settings.
type RedisConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr"`
	Password    string `json:"password"`
	DB          int    `json:"db"`
	KeyPrefix   string `json:"key_prefix"`
	RecentLimit int    `json:"recent_limit"`
}

// WebhookConfig holds the Discord-compatible alert webhook settings.
type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	// Notify selects which captures alert: "passwords", "players" or "all".
	Notify   string `json:"notify"`
	Username string `json:"username"`
}

// StorageConfig holds the SQLite capture store settings.
type StorageConfig struct {
	Enabled          bool   `json:"enabled"`
	Path             string `json:"path"`
	RetentionDays    int    `json:"retention_days"`
	PruneIntervalSec int    `json:"prune_interval_sec"`
}

// Retention is how long captures are kept; zero keeps them forever.
func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// PruneInterval is how often expired captures are removed.
func (s StorageConfig) PruneInterval() time.Duration {
	return time.Duration(s.PruneIntervalSec) * time.Second
}

// APIConfig holds the monitor API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Address        string   `json:"address"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// HealthConfig holds the periodic self-check settings.
type HealthConfig struct {
	Enabled              bool    `json:"enabled"`
	CheckIntervalSec     int     `json:"check_interval_sec"`
	HeartbeatIntervalSec int     `json:"heartbeat_interval_sec"`
	DiskWarnPercent      float64 `json:"disk_warn_percent"`
}

// CheckInterval is how often the health checks run.
func (h HealthConfig) CheckInterval() time.Duration {
	return time.Duration(h.CheckIntervalSec) * time.Second
}

// HeartbeatInterval is how often a status heartbeat is emitted.
func (h HealthConfig) HeartbeatInterval() time.Duration {
	return time.Duration(h.HeartbeatIntervalSec) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Honeypot: HoneypotConfig{
			Address:            DefaultAddress,
			PasswordChance:     0.0,
			PasswordPolicy:     "accept",
			IdleTimeoutSec:     3,
			PasswordTimeoutSec: 30,
			GraceTimeoutMS:     1000,
			LingerSec:          0,
			MaxFrameSize:       DefaultMaxFrameSize,
			MaxConnections:     1024,
		},
		Telemetry: TelemetryConfig{
			ServiceName:      DefaultServiceName,
			ExportTimeoutSec: 10,
			QueueSize:        1024,
			LogEvents:        true,
		},
		MQTT: MQTTConfig{
			Port:     1883,
			ClientID: "bottled-honey",
			Topic:    "bottled_honey/captures",
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "honeypot.terraria.captures",
			Name:    "bottled-honey",
		},
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			KeyPrefix:   "bottled_honey",
			RecentLimit: 1000,
		},
		Webhook: WebhookConfig{
			Notify:   "passwords",
			Username: "bottled-honey",
		},
		Storage: StorageConfig{
			Path:             filepath.Join("data", "captures.db"),
			RetentionDays:    30,
			PruneIntervalSec: 3600,
		},
		API: APIConfig{
			Address:      DefaultAPIAddress,
			RateLimitRPS: 20,
			TLSCertFile:  filepath.Join("certs", "api.crt"),
			TLSKeyFile:   filepath.Join("certs", "api.key"),
		},
		Health: HealthConfig{
			Enabled:              true,
			CheckIntervalSec:     60,
			HeartbeatIntervalSec: 300,
			DiskWarnPercent:      80,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads configuration from a JSON file, overlaying it on the defaults.
// An empty path returns the defaults. A missing file is created with the
// defaults so it can be edited afterwards.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("config file not found, creating default")
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no file path")
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// SetPath changes where Save writes to.
func (c *Config) SetPath(path string) {
	c.path = path
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
