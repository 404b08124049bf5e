// bottled-honey - a decoy Terraria server.
//
// bottled-honey accepts Terraria clients, walks them through the opening
// of the connection handshake, records what they disclose (client version,
// password attempts, player name, client UUID) and exports one capture per
// connection to the configured sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/api"
	"github.com/bottled-honey/bottled-honey/internal/cli"
	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/db"
	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/handshake"
	"github.com/bottled-honey/bottled-honey/internal/health"
	"github.com/bottled-honey/bottled-honey/internal/network"
	"github.com/bottled-honey/bottled-honey/internal/scheduler"
	"github.com/bottled-honey/bottled-honey/internal/telemetry"
	"github.com/bottled-honey/bottled-honey/internal/util"
)

const (
	AppName = "bottled-honey"
	Banner  = `
  _           _   _   _          _     _
 | |__   ___ | |_| |_| | ___  __| |   | |__   ___  _ __   ___ _   _
 | '_ \ / _ \| __| __| |/ _ \/ _' |   | '_ \ / _ \| '_ \ / _ \ | | |
 | |_) | (_) | |_| |_| |  __/ (_| |   | | | | (_) | | | |  __/ |_| |
 |_.__/ \___/ \__|\__|_|\___|\__,_|___|_| |_|\___/|_| |_|\___|\__, |
                                 |_____|                      |___/  v%s
 Terraria honeypot
`

	// shutdownTimeout bounds the drain of live connections and sinks.
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 {
		switch args[0] {
		case "serve", "init", "captures", "stats", "version":
			cmd, args = args[0], args[1:]
		case "help", "-h", "-help", "--help":
			printUsage()
			return 0
		}
	}

	switch cmd {
	case "init":
		return runInit(args)
	case "captures":
		return runCaptures(args)
	case "stats":
		return runStats(args)
	case "version":
		fmt.Printf("%s %s (%s/%s)\n", AppName, telemetry.AppVersion, runtime.GOOS, runtime.GOARCH)
		return 0
	default:
		return runServe(args)
	}
}

func printUsage() {
	fmt.Printf("Usage: %s [command] [flags]\n\n", AppName)
	fmt.Println("Commands:")
	fmt.Println("  serve      run the honeypot (default)")
	fmt.Println("  init       interactively write a config file")
	fmt.Println("  captures   print recent captures from the capture database")
	fmt.Println("  stats      print capture statistics")
	fmt.Println("  version    print the version")
	fmt.Println()
	fmt.Printf("Run '%s serve -h' for the serve flags.\n", AppName)
}

// loadConfig resolves the configuration: defaults, then the file, then the
// environment, then flags. It reconfigures the logger from the result.
func loadConfig(flags *config.Flags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	cfg.ApplyFlags(flags)

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    cfg.Logging.Console,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return nil, fmt.Errorf("configuration validation failed with %d error(s)", len(validation.Errors))
	}
	return cfg, nil
}

func runServe(args []string) int {
	flags, err := config.ParseFlags(AppName, args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	fmt.Printf(Banner, telemetry.AppVersion)
	fmt.Println()

	cfg, err := loadConfig(flags)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", telemetry.AppVersion).
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting bottled-honey")

	opts, err := network.OptionsFromConfig(cfg.Honeypot)
	if err != nil {
		log.Error().Err(err).Msg("invalid honeypot settings")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(cfg.Telemetry.QueueSize)
	metrics := telemetry.NewMetrics()
	metrics.WatchBus(bus)
	pipeline := telemetry.NewPipeline(bus, metrics, cfg.Telemetry.ExportTimeout())

	sinks, err := openSinks(ctx, cfg, sysInfo)
	if err != nil {
		log.Error().Err(err).Msg("failed to open capture sinks")
		return 1
	}
	for _, exp := range sinks.exporters {
		if err := pipeline.Add(exp); err != nil {
			log.Warn().Err(err).Msg("failed to register exporter")
		}
	}
	log.Info().Strs("exporters", pipeline.Names()).Msg("capture pipeline ready")
	bus.Start()

	listener := network.NewTCPListener(opts, handshake.NewTimeSeededRand(), bus, metrics)
	if err := listener.Listen(ctx); err != nil {
		var bindErr *network.BindError
		if errors.As(err, &bindErr) {
			log.Error().Err(bindErr.Err).Str("addr", bindErr.Addr).Msg("cannot bind honeypot address")
		} else {
			log.Error().Err(err).Msg("failed to start listener")
		}
		shutdownPipeline(bus, pipeline)
		return 1
	}

	captures := sinks.store

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("tcp listener: %w", err)
		}
	}()

	var publisher health.StatusPublisher
	if sinks.mqtt != nil {
		publisher = sinks.mqtt
	}
	healthMgr := health.NewManager(cfg, listener.Registry(), bus, publisher)
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if cfg.API.Enabled {
		deps := api.Dependencies{
			Config:      cfg,
			Connections: listener.Registry(),
			Health:      healthMgr,
			Metrics:     metrics.Handler(),
		}
		if captures != nil {
			deps.Captures = captures
		}
		apiServer := api.NewServer(deps)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("monitor API stopped (non-fatal)")
			}
		}()
	}

	if captures != nil {
		sched := scheduler.NewScheduler(cfg.Storage, captures)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(ctx)
		}()
	}

	if flags.Interactive {
		var store cli.Captures
		if captures != nil {
			store = captures
		}
		console := cli.NewCLI(cfg, listener.Registry(), store, quit)
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		exitCode = 1
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	shutdownPipeline(bus, pipeline)
	log.Info().Msg("bottled-honey stopped")
	return exitCode
}

// shutdownPipeline flushes queued captures and closes every sink.
func shutdownPipeline(bus *events.Bus, pipeline *telemetry.Pipeline) {
	bus.Stop(shutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := pipeline.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("capture sinks did not shut down cleanly")
	}
}

// sinks are the exporters opened for a serve run. store and mqtt are also
// used outside the pipeline.
type sinks struct {
	exporters []telemetry.Exporter
	store     *db.CaptureStore
	mqtt      *telemetry.MQTTExporter
}

// openSinks creates every configured exporter. Only a capture database that
// cannot be opened is fatal; network sinks that are unreachable at startup
// are skipped.
func openSinks(ctx context.Context, cfg *config.Config, sysInfo util.SystemInfo) (*sinks, error) {
	s := &sinks{}
	metadata := telemetry.HostMetadata(cfg.Telemetry.ServiceName, sysInfo)

	if cfg.Storage.Enabled {
		store, err := db.OpenCaptureStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		s.store = store
		s.exporters = append(s.exporters, store)
	}

	if cfg.Telemetry.LogEvents {
		s.exporters = append(s.exporters, telemetry.NewLogExporter())
	}

	if cfg.Telemetry.Endpoint != "" {
		exp, err := telemetry.NewOTLPExporter(ctx, cfg.Telemetry, sysInfo)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize OTLP exporter, traces disabled")
		} else {
			s.exporters = append(s.exporters, exp)
		}
	}

	if cfg.MQTT.Enabled {
		exp, err := telemetry.NewMQTTExporter(cfg.MQTT, metadata)
		if err == nil {
			connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = exp.Connect(connectCtx)
			cancel()
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			s.mqtt = exp
			s.exporters = append(s.exporters, exp)
		}
	}

	if cfg.NATS.Enabled {
		exp, err := telemetry.NewNATSExporter(cfg.NATS, metadata)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize NATS, publishing disabled")
		} else {
			s.exporters = append(s.exporters, exp)
		}
	}

	if cfg.Redis.Enabled {
		exp, err := telemetry.NewRedisExporter(ctx, cfg.Redis, metadata)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize Redis, sink disabled")
		} else {
			s.exporters = append(s.exporters, exp)
		}
	}

	if cfg.Webhook.Enabled {
		exp, err := telemetry.NewWebhookExporter(cfg.Webhook, sysInfo.Hostname)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize webhook, alerts disabled")
		} else {
			s.exporters = append(s.exporters, exp)
		}
	}

	return s, nil
}

func runInit(args []string) int {
	fs := flag.NewFlagSet(AppName+" init", flag.ContinueOnError)
	path := fs.String("config", config.DefaultConfigFile, "path of the config file to write")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*path)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}
	if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("setup wizard failed")
		return 1
	}
	return 0
}

// openStore opens the capture database named by the configuration for the
// offline commands.
func openStore(name string, args []string) (*db.CaptureStore, int, error) {
	fs := flag.NewFlagSet(AppName+" "+name, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a JSON config file")
	dbPath := fs.String("db", "", "capture database path (overrides the config)")
	limit := fs.Int("n", 20, "number of rows to print")
	if err := fs.Parse(args); err != nil {
		return nil, 0, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, 0, err
	}
	path := cfg.Storage.Path
	if *dbPath != "" {
		path = *dbPath
	}
	if _, err := os.Stat(path); err != nil {
		return nil, 0, fmt.Errorf("capture database %s: %w", path, err)
	}

	store, err := db.OpenCaptureStore(path)
	if err != nil {
		return nil, 0, err
	}
	return store, *limit, nil
}

func runCaptures(args []string) int {
	store, limit, err := openStore("captures", args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		log.Error().Err(err).Msg("failed to open capture database")
		return 1
	}
	defer store.Close()

	captures, err := store.Recent(context.Background(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to read captures")
		return 1
	}
	cli.PrintCaptures(os.Stdout, captures)
	return 0
}

func runStats(args []string) int {
	store, limit, err := openStore("stats", args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		log.Error().Err(err).Msg("failed to open capture database")
		return 1
	}
	defer store.Close()

	stats, err := store.Stats(context.Background(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to compute statistics")
		return 1
	}
	cli.PrintStats(os.Stdout, stats)
	return 0
}
