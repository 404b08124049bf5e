package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by ApplyEnv.
const (
	EnvAddress        = "ADDRESS"
	EnvPasswordChance = "PASSWORD_CHANCE"
	EnvOTelEndpoint   = "OTEL_ENDPOINT"
	EnvOTelHeaders    = "OTEL_HEADERS"
	EnvLogLevel       = "LOG_LEVEL"
)

// LookupFunc resolves an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables on the configuration. A nil
// lookup reads the process environment.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup(EnvAddress); ok && v != "" {
		c.Honeypot.Address = v
	}
	if v, ok := lookup(EnvPasswordChance); ok && v != "" {
		p, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPasswordChance, v, err)
		}
		c.Honeypot.PasswordChance = p
	}
	if v, ok := lookup(EnvOTelEndpoint); ok && v != "" {
		c.Telemetry.Endpoint = v
	}
	if v, ok := lookup(EnvOTelHeaders); ok && v != "" {
		c.Telemetry.Headers = mergeHeaders(c.Telemetry.Headers, ParseHeaders(v))
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Flags holds the command line overrides for the serve command.
type Flags struct {
	ConfigPath     string
	Address        string
	PasswordChance float64
	PasswordPolicy string
	OTelEndpoint   string
	OTelHeaders    string
	LogLevel       string
	Interactive    bool

	set map[string]bool
}

// ParseFlags parses serve arguments. The first positional argument, if any,
// is the bind address.
func ParseFlags(name string, args []string, output io.Writer) (*Flags, error) {
	f := &Flags{set: make(map[string]bool)}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] [address]\n\n", name)
		fmt.Fprintln(fs.Output(), "  address   ip:port the honeypot binds to (env ADDRESS)")
		fmt.Fprintln(fs.Output())
		fs.PrintDefaults()
	}

	fs.StringVar(&f.ConfigPath, "config", "", "path to a JSON config file")
	fs.Float64Var(&f.PasswordChance, "p", 0, "chance a password is requested after connecting, 0.0 to 1.0 (env PASSWORD_CHANCE)")
	fs.StringVar(&f.PasswordPolicy, "password-policy", "", "what to do after a password attempt: accept or reject")
	fs.StringVar(&f.OTelEndpoint, "otel-endpoint", "", "OpenTelemetry endpoint to send traces to (env OTEL_ENDPOINT)")
	fs.StringVar(&f.OTelHeaders, "otel-headers", "", "extra OpenTelemetry headers as key=val,key=val (env OTEL_HEADERS)")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	fs.BoolVar(&f.Interactive, "interactive", false, "read operator commands from stdin while serving")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(fl *flag.Flag) {
		f.set[fl.Name] = true
	})

	switch fs.NArg() {
	case 0:
	case 1:
		f.Address = fs.Arg(0)
		f.set["address"] = true
	default:
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args()[1:], " "))
	}

	return f, nil
}

// IsSet reports whether a flag was given on the command line.
func (f *Flags) IsSet(name string) bool {
	return f.set[name]
}

// ApplyFlags overlays explicitly set flags on the configuration.
func (c *Config) ApplyFlags(f *Flags) {
	if f == nil {
		return
	}
	if f.IsSet("address") {
		c.Honeypot.Address = f.Address
	}
	if f.IsSet("p") {
		c.Honeypot.PasswordChance = f.PasswordChance
	}
	if f.IsSet("password-policy") {
		c.Honeypot.PasswordPolicy = f.PasswordPolicy
	}
	if f.IsSet("otel-endpoint") {
		c.Telemetry.Endpoint = f.OTelEndpoint
	}
	if f.IsSet("otel-headers") {
		c.Telemetry.Headers = mergeHeaders(c.Telemetry.Headers, ParseHeaders(f.OTelHeaders))
	}
	if f.IsSet("log-level") {
		c.Logging.Level = f.LogLevel
	}
}

// ParseHeaders parses "key=val,key=val". Entries without '=' are skipped and
// keys cannot contain '='; values are kept as written.
func ParseHeaders(s string) map[string]string {
	headers := make(map[string]string)
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		headers[k] = v
	}
	return headers
}

func mergeHeaders(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
