// Command dnswardd runs the dnsward resolving proxy: it loads a JSON
// configuration, brings up the supervisor, and serves until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/elkhorn-labs/dnsward/internal/config"
	"github.com/elkhorn-labs/dnsward/internal/logging"
	"github.com/elkhorn-labs/dnsward/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	port       int
	noTCP      bool
	jsonLogs   bool
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to JSON configuration file")
	flag.IntVar(&f.port, "port", 0, "Override listen port")
	flag.BoolVar(&f.noTCP, "no-tcp", false, "Disable TCP listener")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.ServerConfiguration, f cliFlags) {
	if f.port != 0 {
		cfg.Port = f.port
	}
	if f.noTCP {
		cfg.EnableTCP = false
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	path := config.ResolveConfigPath(flags.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("dnsward starting",
		"config", path,
		"port", cfg.Port,
		"tcp", cfg.EnableTCP,
		"secondary_upstream", cfg.SecondaryUpstream,
	)

	sup := supervisor.New(logger)
	if err := sup.Start(*cfg); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info("dnsward shutting down")
	if err := sup.Stop(); err != nil {
		return fmt.Errorf("failed to stop supervisor: %w", err)
	}
	return nil
}
