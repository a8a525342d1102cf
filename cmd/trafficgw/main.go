// Package main is the entry point for the traffic gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		fmt.Fprintf(os.Stderr, "trafficgw: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags. Environment variables provide the
// defaults.
func parseFlags(fs *flag.FlagSet, args []string) cliFlags {
	var flags cliFlags
	fs.StringVar(&flags.configPath, "config",
		getEnvOrDefault("TRAFFICGW_CONFIG_PATH", "configs/trafficgw.yaml"), "Path to configuration file")
	fs.StringVar(&flags.logLevel, "log-level",
		getEnvOrDefault("TRAFFICGW_LOG_LEVEL", ""), "Log level override (debug, info, warn, error)")
	fs.StringVar(&flags.logFormat, "log-format",
		getEnvOrDefault("TRAFFICGW_LOG_FORMAT", ""), "Log format override (json, console)")
	fs.BoolVar(&flags.showVersion, "version", false, "Show version information")
	_ = fs.Parse(args)

	return flags
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("trafficgw version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// run loads the configuration, starts the gateway and blocks until ctx is
// cancelled.
func run(ctx context.Context, flags cliFlags) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg, flags)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting trafficgw",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	app, err := initApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := app.start(ctx); err != nil {
		app.shutdown(logger)
		return err
	}
	watcher := startConfigWatcher(ctx, app, flags.configPath, logger)

	<-ctx.Done()
	logger.Info("received shutdown signal")

	if watcher != nil {
		_ = watcher.Stop()
	}
	app.shutdown(logger)

	return nil
}
