package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunSetupWizard walks through the settings most deployments change and
// saves the result to the config path.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          bottled-honey - config setup        ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "── Honeypot ──")

	cfg.Honeypot.Address = promptString(reader, out, "Bind address (ip:port)", cfg.Honeypot.Address)
	cfg.Honeypot.PasswordChance = promptFloat(reader, out, "Password chance (0.0 - 1.0)", cfg.Honeypot.PasswordChance)
	if cfg.Honeypot.PasswordChance > 0 {
		cfg.Honeypot.PasswordPolicy = promptString(reader, out, "After a password attempt (accept/reject)", cfg.Honeypot.PasswordPolicy)
	}
	cfg.Honeypot.MaxConnections = promptInt(reader, out, "Max concurrent connections (0 = unlimited)", cfg.Honeypot.MaxConnections)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── OpenTelemetry ──")

	cfg.Telemetry.Endpoint = promptString(reader, out, "OTLP/HTTP endpoint (blank to disable)", cfg.Telemetry.Endpoint)
	if cfg.Telemetry.Endpoint != "" {
		if h := promptString(reader, out, "Extra headers (key=val,key=val)", ""); h != "" {
			cfg.Telemetry.Headers = mergeHeaders(cfg.Telemetry.Headers, ParseHeaders(h))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Exporters ──")

	cfg.Storage.Enabled = promptBool(reader, out, "Store captures in SQLite", cfg.Storage.Enabled)
	if cfg.Storage.Enabled {
		cfg.Storage.Path = promptString(reader, out, "Database path", cfg.Storage.Path)
		cfg.Storage.RetentionDays = promptInt(reader, out, "Retention in days (0 = forever)", cfg.Storage.RetentionDays)
	}

	cfg.MQTT.Enabled = promptBool(reader, out, "Publish captures to MQTT", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = promptString(reader, out, "MQTT broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = promptInt(reader, out, "MQTT broker port", cfg.MQTT.Port)
		cfg.MQTT.Topic = promptString(reader, out, "MQTT topic", cfg.MQTT.Topic)
	}

	cfg.NATS.Enabled = promptBool(reader, out, "Publish captures to NATS", cfg.NATS.Enabled)
	if cfg.NATS.Enabled {
		cfg.NATS.URL = promptString(reader, out, "NATS URL", cfg.NATS.URL)
		cfg.NATS.Subject = promptString(reader, out, "NATS subject", cfg.NATS.Subject)
	}

	cfg.Redis.Enabled = promptBool(reader, out, "Record captures in Redis", cfg.Redis.Enabled)
	if cfg.Redis.Enabled {
		cfg.Redis.Addr = promptString(reader, out, "Redis address", cfg.Redis.Addr)
	}

	cfg.Webhook.Enabled = promptBool(reader, out, "Send alerts to a Discord webhook", cfg.Webhook.Enabled)
	if cfg.Webhook.Enabled {
		cfg.Webhook.URL = promptString(reader, out, "Webhook URL", cfg.Webhook.URL)
		cfg.Webhook.Notify = promptString(reader, out, "Alert on (passwords/players/all)", cfg.Webhook.Notify)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Monitor API ──")

	cfg.API.Enabled = promptBool(reader, out, "Enable monitor API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Address = promptString(reader, out, "API listen address", cfg.API.Address)
	}

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  ! [%s] %s\n", w.Field, w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Configuration saved to %s\n", cfg.Path())
	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptFloat(reader *bufio.Reader, out io.Writer, prompt string, defaultVal float64) float64 {
	fmt.Fprintf(out, "  %s [%g]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.ParseFloat(input, 64)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %g\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
