package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/vyrodovalexey/trafficgw/internal/config"
	"github.com/vyrodovalexey/trafficgw/internal/gateway"
	"github.com/vyrodovalexey/trafficgw/internal/observability"
	ratestats "github.com/vyrodovalexey/trafficgw/internal/ratelimit/stats"
	"github.com/vyrodovalexey/trafficgw/internal/server"
)

// shutdownTimeout bounds the graceful shutdown.
const shutdownTimeout = 30 * time.Second

// application holds all application components.
type application struct {
	gateway *gateway.Gateway
	server  *server.Server
	metrics *observability.Metrics
	tracer  *observability.Tracer
	config  *config.GatewayConfig
}

// loadConfig loads and validates the configuration.
func loadConfig(path string) (*config.GatewayConfig, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger creates the logger. Flags override the configured level and
// format.
func initLogger(cfg *config.GatewayConfig, flags cliFlags) (observability.Logger, error) {
	logCfg := observability.LogConfig{
		Level:  cfg.Spec.Observability.Logging.Level,
		Format: cfg.Spec.Observability.Logging.Format,
	}
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}
	return observability.NewLogger(logCfg)
}

// initApplication builds every component from cfg.
func initApplication(
	ctx context.Context,
	cfg *config.GatewayConfig,
	logger observability.Logger,
) (*application, error) {
	metrics := observability.NewMetrics("trafficgw")
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer, err := initTracer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	statsCfg := cfg.Spec.RateLimit.Stats
	sink, err := ratestats.New(ctx, ratestats.Config{
		Type:     statsCfg.Type,
		Address:  statsCfg.Redis.Address,
		Password: statsCfg.Redis.Password,
		DB:       statsCfg.Redis.DB,
		Prefix:   statsCfg.Redis.Prefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stats sink: %w", err)
	}

	gw, err := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithTracer(tracer),
		gateway.WithStatsSink(sink),
	)
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithAddress(listenAddress(cfg)),
	}
	if cfg.Spec.Observability.Metrics.IsEnabled() {
		opts = append(opts, server.WithMetrics(metrics, cfg.Spec.Observability.Metrics.Path))
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Metadata.Name),
		observability.Int("services", len(cfg.Spec.Services)),
		observability.Int("routing_rules", len(cfg.Spec.RoutingRules)),
		observability.Int("rate_limit_rules", len(cfg.Spec.RateLimitRules)),
		observability.String("stats_sink", statsCfg.Type),
	)

	return &application{
		gateway: gw,
		server:  server.New(gw, opts...),
		metrics: metrics,
		tracer:  tracer,
		config:  cfg,
	}, nil
}

// initTracer initializes the tracer.
func initTracer(ctx context.Context, cfg *config.GatewayConfig) (*observability.Tracer, error) {
	tracing := cfg.Spec.Observability.Tracing
	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  tracing.ServiceName,
		OTLPEndpoint: tracing.OTLPEndpoint,
		SamplingRate: tracing.SamplingRate,
		Enabled:      tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	return tracer, nil
}

func listenAddress(cfg *config.GatewayConfig) string {
	return net.JoinHostPort(cfg.Spec.Listen.Address, strconv.Itoa(cfg.Spec.Listen.Port))
}

// start starts the gateway loops and then the listener.
func (a *application) start(ctx context.Context) error {
	if err := a.gateway.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// shutdown stops the listener first so no request reaches a stopped
// gateway.
func (a *application) shutdown(logger observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Stop(ctx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}
	if a.gateway.IsRunning() {
		if err := a.gateway.Stop(ctx); err != nil {
			logger.Error("failed to stop gateway gracefully", observability.Error(err))
		}
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("trafficgw stopped")
}

// startConfigWatcher reloads the gateway whenever the configuration file
// changes. A watcher that cannot be created only disables hot reload.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.GatewayConfig) {
		logger.Info("configuration changed, reloading")
		if reloadErr := app.gateway.Reload(newCfg); reloadErr != nil {
			logger.Error("failed to reload configuration", observability.Error(reloadErr))
		}
	},
		config.WithLogger(logger),
		config.WithErrorCallback(func(error) {
			app.metrics.RecordConfigReload(false)
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}

	return watcher
}
