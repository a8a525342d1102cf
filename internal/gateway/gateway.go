package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/trafficgw/internal/backend"
	"github.com/vyrodovalexey/trafficgw/internal/config"
	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/ratelimit"
	ratestats "github.com/vyrodovalexey/trafficgw/internal/ratelimit/stats"
	"github.com/vyrodovalexey/trafficgw/internal/router"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway composes the router, load balancer, rate limiter and health
// checker over one backend registry.
type Gateway struct {
	registry *backend.Registry
	lb       *backend.LoadBalancer
	limiter  *ratelimit.Manager
	router   *router.Router
	health   *backend.HealthChecker
	pool     *backend.ConnectionPool
	client   *http.Client
	buffer   *metricsBuffer
	stats    ratestats.Sink

	clientIPs atomic.Pointer[ratelimit.ClientIPResolver]

	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time

	mu             sync.RWMutex
	name           string
	forwardTimeout time.Duration
	maxBodyBytes   int64

	state     atomic.Int32
	startTime time.Time
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics for the gateway.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// WithTracer sets the tracer for the gateway.
func WithTracer(tracer *observability.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = tracer
	}
}

// WithStatsSink sets the sink rate limit decisions are mirrored into. The
// gateway closes it on Stop.
func WithStatsSink(sink ratestats.Sink) Option {
	return func(g *Gateway) {
		g.stats = sink
	}
}

// WithHTTPClient sets the client used to forward requests and probe
// backends.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

// New creates a gateway from cfg. The configuration must already carry
// defaults; LoadConfig and DefaultConfig apply them.
func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	g := &Gateway{
		logger: observability.NopLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	algorithm, err := backend.ParseAlgorithm(cfg.Spec.LoadBalancer.Algorithm)
	if err != nil {
		return nil, err
	}

	if g.client == nil {
		poolCfg := backend.DefaultPoolConfig()
		poolCfg.ResponseHeaderTimeout = cfg.Spec.Forwarding.Timeout.Duration()
		g.pool = backend.NewConnectionPool(poolCfg)
		g.client = g.pool.Client()
	}
	if g.stats == nil {
		g.stats = ratestats.NewMemorySink()
	}

	g.registry = backend.NewRegistry(
		backend.WithRegistryLogger(g.logger),
		backend.WithRegistryMetrics(g.metrics),
	)
	g.lb, err = backend.NewLoadBalancer(g.registry, algorithm,
		backend.WithLoadBalancerLogger(g.logger),
		backend.WithLoadBalancerMetrics(g.metrics),
	)
	if err != nil {
		return nil, err
	}
	g.limiter = ratelimit.NewManager(
		ratelimit.WithManagerLogger(g.logger),
		ratelimit.WithManagerMetrics(g.metrics),
		ratelimit.WithSweepInterval(cfg.Spec.RateLimit.SweepInterval.Duration()),
		ratelimit.WithRetention(cfg.Spec.RateLimit.Retention.Duration()),
	)
	g.router = router.New(router.WithLogger(g.logger))
	g.health = backend.NewHealthChecker(g.registry,
		backend.WithHealthCheckLogger(g.logger),
		backend.WithHealthCheckMetrics(g.metrics),
		backend.WithHealthCheckClient(g.client),
		backend.WithHealthCheckInterval(cfg.Spec.HealthCheck.Interval.Duration()),
		backend.WithHealthCheckTimeout(cfg.Spec.HealthCheck.Timeout.Duration()),
	)
	g.buffer = newMetricsBuffer(cfg.Spec.MetricsBufferSize)

	if err := g.apply(cfg); err != nil {
		return nil, err
	}

	g.state.Store(int32(StateStopped))

	return g, nil
}

// Start starts the health-check and sweep loops.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("gateway is not in stopped state")
	}

	g.health.Start(ctx)
	g.limiter.Start(ctx)

	g.mu.Lock()
	g.startTime = g.now()
	name := g.name
	g.mu.Unlock()

	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("name", name),
		observability.Int("services", g.registry.Len()),
		observability.Int("routing_rules", len(g.router.Rules())),
		observability.Int("rate_limit_rules", len(g.limiter.Rules())),
	)

	return nil
}

// Stop stops the background loops and releases idle connections. When ctx
// expires first the gateway stays in StateStopping until the loops exit and
// ctx.Err() is returned.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("gateway is not running")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.health.Stop()
		g.limiter.Stop()
	}()

	select {
	case <-done:
		return g.finishStop()
	case <-ctx.Done():
		g.logger.Warn("gateway stop timed out waiting for background loops")
		go func() {
			<-done
			if err := g.finishStop(); err != nil {
				g.logger.Warn("gateway stop failed", observability.Error(err))
			}
		}()
		return ctx.Err()
	}
}

func (g *Gateway) finishStop() error {
	if g.pool != nil {
		g.pool.CloseIdleConnections()
	}
	var err error
	if closeErr := g.stats.Close(); closeErr != nil {
		err = fmt.Errorf("failed to close stats sink: %w", closeErr)
	}

	g.state.Store(int32(StateStopped))
	g.logger.Info("gateway stopped")

	return err
}

// State returns the current state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning reports whether the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Reload applies a new configuration: services are upserted and absent ones
// removed, routing rules are replaced and rate limit rules are re-added,
// keeping the state of rules whose limits did not change. An invalid
// configuration is rejected as a whole.
func (g *Gateway) Reload(cfg *config.GatewayConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is required")
	}

	if err := config.ValidateConfig(cfg); err != nil {
		g.metrics.RecordConfigReload(false)
		return err
	}

	algorithm, err := backend.ParseAlgorithm(cfg.Spec.LoadBalancer.Algorithm)
	if err != nil {
		g.metrics.RecordConfigReload(false)
		return err
	}

	if err := g.apply(cfg); err != nil {
		g.metrics.RecordConfigReload(false)
		return err
	}
	if err := g.lb.SetAlgorithm(algorithm); err != nil {
		return err
	}

	g.metrics.RecordConfigReload(true)
	g.logger.Info("gateway configuration reloaded",
		observability.String("name", cfg.Metadata.Name),
	)
	return nil
}

// apply brings the components in line with cfg. Rules are checked before
// anything changes so a bad rule leaves the running configuration intact.
func (g *Gateway) apply(cfg *config.GatewayConfig) error {
	limits := make([]ratelimit.Rule, 0, len(cfg.Spec.RateLimitRules))
	for _, rc := range cfg.Spec.RateLimitRules {
		rule := rateLimitRule(rc)
		if err := checkRateLimitRule(rule); err != nil {
			return fmt.Errorf("rate limit rule %s: %w", rc.ID, err)
		}
		limits = append(limits, rule)
	}

	resolver, err := ratelimit.NewClientIPResolver(cfg.Spec.Forwarding.TrustedProxies)
	if err != nil {
		return err
	}

	routes := make([]router.Rule, 0, len(cfg.Spec.RoutingRules))
	for _, rc := range cfg.Spec.RoutingRules {
		routes = append(routes, routingRule(rc))
	}
	if err := g.router.LoadRules(routes); err != nil {
		return err
	}

	keep := make(map[string]bool, len(cfg.Spec.Services))
	for _, sc := range cfg.Spec.Services {
		if _, err := g.registry.Add(serviceSpec(sc)); err != nil {
			return err
		}
		keep[sc.ID] = true
	}
	for _, svc := range g.registry.List() {
		if !keep[svc.ID()] {
			g.registry.Remove(svc.ID())
		}
	}

	keepRules := make(map[string]bool, len(limits))
	var errs []error
	for _, rule := range limits {
		if err := g.limiter.AddRule(rule); err != nil {
			errs = append(errs, err)
			continue
		}
		keepRules[rule.ID] = true
	}
	for _, rule := range g.limiter.Rules() {
		if !keepRules[rule.ID] {
			g.limiter.RemoveRule(rule.ID)
		}
	}

	g.clientIPs.Store(resolver)

	g.mu.Lock()
	g.name = cfg.Metadata.Name
	g.forwardTimeout = cfg.Spec.Forwarding.Timeout.Duration()
	g.maxBodyBytes = cfg.Spec.Forwarding.MaxBodyBytes
	g.mu.Unlock()

	return errors.Join(errs...)
}

// checkRateLimitRule validates a rule and compiles its key expression
// without registering it.
func checkRateLimitRule(rule ratelimit.Rule) error {
	if rule.KeyExtractor == "" {
		rule.KeyExtractor = ratelimit.KeySourceIP
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	_, err := ratelimit.NewKeyExtractor(rule.KeyExtractor, rule.KeyExpression, nil)
	return err
}

// Registry returns the backend registry.
func (g *Gateway) Registry() *backend.Registry {
	return g.registry
}

// LoadBalancer returns the load balancer.
func (g *Gateway) LoadBalancer() *backend.LoadBalancer {
	return g.lb
}

// RateLimiter returns the rate limit manager.
func (g *Gateway) RateLimiter() *ratelimit.Manager {
	return g.limiter
}

// Router returns the router.
func (g *Gateway) Router() *router.Router {
	return g.router
}

// HealthChecker returns the health checker.
func (g *Gateway) HealthChecker() *backend.HealthChecker {
	return g.health
}

// MaxBodyBytes returns the request body limit.
func (g *Gateway) MaxBodyBytes() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.maxBodyBytes
}

func (g *Gateway) timeout() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.forwardTimeout
}
