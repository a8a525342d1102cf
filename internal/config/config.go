package config

import (
	"time"
)

// Document identity.
const (
	DefaultAPIVersion = "trafficgw.io/v1"
	DefaultKind       = "TrafficGateway"
)

// Default values applied by ApplyDefaults.
const (
	DefaultListenPort          = 8080
	DefaultAlgorithm           = "round_robin"
	DefaultForwardTimeout      = 30 * time.Second
	DefaultMaxBodyBytes        = 10 << 20
	DefaultHealthInterval      = 10 * time.Second
	DefaultHealthTimeout       = 5 * time.Second
	DefaultSweepInterval       = 5 * time.Minute
	DefaultRetention           = 10 * time.Minute
	DefaultMetricsBufferSize   = 10000
	DefaultStatsType           = "memory"
	DefaultStatsPrefix         = "trafficgw:stats"
	DefaultScheme              = "http"
	DefaultWeight              = 1
	DefaultMaxConnections      = 100
	DefaultBreakerThreshold    = 0.5
	DefaultHealthCheckPath     = "/health"
	DefaultServiceHealthPeriod = 30 * time.Second
	DefaultKeyExtractor        = "ip"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultMetricsPath         = "/metrics"
	DefaultServiceName         = "trafficgw"
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	APIVersion string      `yaml:"apiVersion" json:"apiVersion"`
	Kind       string      `yaml:"kind" json:"kind"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata"`
	Spec       GatewaySpec `yaml:"spec" json:"spec"`
}

// Metadata identifies a gateway instance.
type Metadata struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// GatewaySpec holds the gateway settings, its backends and its rules.
type GatewaySpec struct {
	Listen            ListenConfig          `yaml:"listen" json:"listen"`
	LoadBalancer      LoadBalancerConfig    `yaml:"loadBalancer" json:"loadBalancer"`
	Forwarding        ForwardingConfig      `yaml:"forwarding" json:"forwarding"`
	HealthCheck       HealthCheckConfig     `yaml:"healthCheck" json:"healthCheck"`
	RateLimit         RateLimitConfig       `yaml:"rateLimit" json:"rateLimit"`
	MetricsBufferSize int                   `yaml:"metricsBufferSize" json:"metricsBufferSize"`
	Services          []ServiceConfig       `yaml:"services" json:"services"`
	RateLimitRules    []RateLimitRuleConfig `yaml:"rateLimitRules" json:"rateLimitRules"`
	RoutingRules      []RoutingRuleConfig   `yaml:"routingRules" json:"routingRules"`
	Observability     ObservabilityConfig   `yaml:"observability" json:"observability"`
}

// ListenConfig is the front door listen address.
type ListenConfig struct {
	Address string `yaml:"address" json:"address"`
	Port    int    `yaml:"port" json:"port"`
}

// LoadBalancerConfig selects the balancing algorithm.
type LoadBalancerConfig struct {
	Algorithm string `yaml:"algorithm" json:"algorithm"`
}

// ForwardingConfig controls request forwarding to backends.
type ForwardingConfig struct {
	Timeout      Duration `yaml:"timeout" json:"timeout"`
	MaxBodyBytes int64    `yaml:"maxBodyBytes" json:"maxBodyBytes"`
	// TrustedProxies lists the CIDRs or addresses whose X-Forwarded-For is
	// honoured when resolving the client address.
	TrustedProxies []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
}

// HealthCheckConfig controls the health-check loop.
type HealthCheckConfig struct {
	Interval Duration `yaml:"interval" json:"interval"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
}

// RateLimitConfig controls rate limit state retention and decision stats.
type RateLimitConfig struct {
	SweepInterval Duration    `yaml:"sweepInterval" json:"sweepInterval"`
	Retention     Duration    `yaml:"retention" json:"retention"`
	Stats         StatsConfig `yaml:"stats" json:"stats"`
}

// StatsConfig selects where decision statistics are recorded.
type StatsConfig struct {
	Type  string      `yaml:"type" json:"type"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig is the connection for the Redis statistics sink.
type RedisConfig struct {
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// ServiceConfig describes one backend service.
type ServiceConfig struct {
	ID                      string   `yaml:"id" json:"id"`
	Name                    string   `yaml:"name" json:"name"`
	Address                 string   `yaml:"address" json:"address"`
	Scheme                  string   `yaml:"scheme" json:"scheme"`
	Weight                  int      `yaml:"weight" json:"weight"`
	MaxConnections          int      `yaml:"maxConnections" json:"maxConnections"`
	CircuitBreakerThreshold float64  `yaml:"circuitBreakerThreshold" json:"circuitBreakerThreshold"`
	HealthCheckPath         string   `yaml:"healthCheckPath" json:"healthCheckPath"`
	HealthCheckInterval     Duration `yaml:"healthCheckInterval" json:"healthCheckInterval"`
}

// RateLimitRuleConfig describes one rate limit rule.
type RateLimitRuleConfig struct {
	ID            string   `yaml:"id" json:"id"`
	Algorithm     string   `yaml:"algorithm" json:"algorithm"`
	Requests      int      `yaml:"requests" json:"requests"`
	Window        Duration `yaml:"window" json:"window"`
	KeyExtractor  string   `yaml:"keyExtractor" json:"keyExtractor"`
	KeyExpression string   `yaml:"keyExpression,omitempty" json:"keyExpression,omitempty"`
	Enabled       *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Priority      int      `yaml:"priority" json:"priority"`
}

// IsEnabled reports whether the rule is enabled. Rules are enabled unless
// explicitly disabled.
func (r *RateLimitRuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// RoutingRuleConfig describes one routing rule.
type RoutingRuleConfig struct {
	ID       string         `yaml:"id" json:"id"`
	Name     string         `yaml:"name" json:"name"`
	Match    MatchConfig    `yaml:"match" json:"match"`
	Targets  []string       `yaml:"targets" json:"targets"`
	Priority int            `yaml:"priority" json:"priority"`
	Weights  map[string]int `yaml:"weights,omitempty" json:"weights,omitempty"`
	Enabled  *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the rule is enabled. Rules are enabled unless
// explicitly disabled.
func (r *RoutingRuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// MatchConfig holds the request conditions of a routing rule. Empty
// conditions always hold.
type MatchConfig struct {
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Query   map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled reports whether the metrics endpoint is served.
func (m *MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
}

// DefaultConfig returns a configuration with every default applied and no
// services or rules.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *GatewayConfig) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Kind == "" {
		cfg.Kind = DefaultKind
	}

	spec := &cfg.Spec
	if spec.Listen.Port == 0 {
		spec.Listen.Port = DefaultListenPort
	}
	if spec.LoadBalancer.Algorithm == "" {
		spec.LoadBalancer.Algorithm = DefaultAlgorithm
	}
	setDuration(&spec.Forwarding.Timeout, DefaultForwardTimeout)
	if spec.Forwarding.MaxBodyBytes == 0 {
		spec.Forwarding.MaxBodyBytes = DefaultMaxBodyBytes
	}
	setDuration(&spec.HealthCheck.Interval, DefaultHealthInterval)
	setDuration(&spec.HealthCheck.Timeout, DefaultHealthTimeout)
	setDuration(&spec.RateLimit.SweepInterval, DefaultSweepInterval)
	setDuration(&spec.RateLimit.Retention, DefaultRetention)
	if spec.RateLimit.Stats.Type == "" {
		spec.RateLimit.Stats.Type = DefaultStatsType
	}
	if spec.RateLimit.Stats.Redis.Prefix == "" {
		spec.RateLimit.Stats.Redis.Prefix = DefaultStatsPrefix
	}
	if spec.MetricsBufferSize == 0 {
		spec.MetricsBufferSize = DefaultMetricsBufferSize
	}

	for i := range spec.Services {
		applyServiceDefaults(&spec.Services[i])
	}
	for i := range spec.RateLimitRules {
		if spec.RateLimitRules[i].KeyExtractor == "" {
			spec.RateLimitRules[i].KeyExtractor = DefaultKeyExtractor
		}
	}

	obs := &spec.Observability
	if obs.Logging.Level == "" {
		obs.Logging.Level = DefaultLogLevel
	}
	if obs.Logging.Format == "" {
		obs.Logging.Format = DefaultLogFormat
	}
	if obs.Metrics.Path == "" {
		obs.Metrics.Path = DefaultMetricsPath
	}
	if obs.Tracing.ServiceName == "" {
		obs.Tracing.ServiceName = DefaultServiceName
	}
}

// ApplyServiceDefaults fills unset fields of a single service description.
// It is used for services registered through the admin API.
func ApplyServiceDefaults(svc *ServiceConfig) {
	applyServiceDefaults(svc)
}

func applyServiceDefaults(svc *ServiceConfig) {
	if svc.Name == "" {
		svc.Name = svc.ID
	}
	if svc.Scheme == "" {
		svc.Scheme = DefaultScheme
	}
	if svc.Weight == 0 {
		svc.Weight = DefaultWeight
	}
	if svc.MaxConnections == 0 {
		svc.MaxConnections = DefaultMaxConnections
	}
	if svc.CircuitBreakerThreshold == 0 {
		svc.CircuitBreakerThreshold = DefaultBreakerThreshold
	}
	if svc.HealthCheckPath == "" && svc.Scheme != "grpc" {
		svc.HealthCheckPath = DefaultHealthCheckPath
	}
	setDuration(&svc.HealthCheckInterval, DefaultServiceHealthPeriod)
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}
