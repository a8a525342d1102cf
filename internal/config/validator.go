package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/vyrodovalexey/trafficgw/internal/ratelimit"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// Accepted enumeration values.
var (
	validAlgorithms = map[string]bool{
		"round_robin":          true,
		"weighted_round_robin": true,
		"least_connections":    true,
		"least_response_time":  true,
		"hash_based":           true,
		"random":               true,
	}

	validRateAlgorithms = map[string]bool{
		"fixed_window":   true,
		"sliding_window": true,
		"token_bucket":   true,
		"leaky_bucket":   true,
	}

	validKeyExtractors = map[string]bool{
		"ip":      true,
		"user":    true,
		"api_key": true,
		"custom":  true,
	}

	validSchemes = map[string]bool{
		"http":  true,
		"https": true,
		"grpc":  true,
	}

	validStatsTypes = map[string]bool{
		"memory": true,
		"redis":  true,
	}

	validLogFormats = map[string]bool{
		"json":    true,
		"console": true,
	}
)

// Validator validates gateway configuration.
type Validator struct {
	err *util.ValidationError
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a gateway configuration. It returns nil or a
// *util.ValidationError listing every offending field.
func ValidateConfig(cfg *GatewayConfig) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.err = util.NewValidationError("invalid gateway configuration")

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.err
	}

	v.validateRoot(cfg)
	v.validateSpec(&cfg.Spec)

	if v.err.HasErrors() {
		return v.err
	}
	return nil
}

// ValidateService validates a single service description at path.
func ValidateService(svc *ServiceConfig, path string) error {
	v := NewValidator()
	v.err = util.NewValidationError("invalid service")
	v.validateService(svc, path)
	if v.err.HasErrors() {
		return v.err
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	if path == "" {
		path = "."
	}
	v.err.AddField(path, message)
}

func (v *Validator) addErr(path string, err error) {
	if err != nil {
		v.addError(path, err.Error())
	}
}

func (v *Validator) validateRoot(cfg *GatewayConfig) {
	if cfg.APIVersion != DefaultAPIVersion {
		v.addError("apiVersion", fmt.Sprintf("unsupported apiVersion %q, expected %q", cfg.APIVersion, DefaultAPIVersion))
	}
	if cfg.Kind != DefaultKind {
		v.addError("kind", fmt.Sprintf("unsupported kind %q, expected %q", cfg.Kind, DefaultKind))
	}
}

func (v *Validator) validateSpec(spec *GatewaySpec) {
	v.addErr("spec.listen.port", util.ValidatePort(spec.Listen.Port))

	if !validAlgorithms[spec.LoadBalancer.Algorithm] {
		v.addError("spec.loadBalancer.algorithm", fmt.Sprintf("unknown algorithm %q", spec.LoadBalancer.Algorithm))
	}

	v.addErr("spec.forwarding.timeout", util.ValidatePositiveDuration(spec.Forwarding.Timeout.Duration()))
	if spec.Forwarding.MaxBodyBytes < 0 {
		v.addError("spec.forwarding.maxBodyBytes", "must not be negative")
	}
	for i, proxy := range spec.Forwarding.TrustedProxies {
		v.addErr(fmt.Sprintf("spec.forwarding.trustedProxies[%d]", i), ratelimit.ValidateTrustedProxy(proxy))
	}
	v.addErr("spec.healthCheck.interval", util.ValidatePositiveDuration(spec.HealthCheck.Interval.Duration()))
	v.addErr("spec.healthCheck.timeout", util.ValidatePositiveDuration(spec.HealthCheck.Timeout.Duration()))
	v.addErr("spec.rateLimit.sweepInterval", util.ValidatePositiveDuration(spec.RateLimit.SweepInterval.Duration()))
	v.addErr("spec.rateLimit.retention", util.ValidatePositiveDuration(spec.RateLimit.Retention.Duration()))
	v.validateStats(&spec.RateLimit.Stats)

	if spec.MetricsBufferSize <= 0 {
		v.addError("spec.metricsBufferSize", "must be positive")
	}

	serviceIDs := v.validateServices(spec.Services)
	v.validateRateLimitRules(spec.RateLimitRules)
	v.validateRoutingRules(spec.RoutingRules, serviceIDs)
	v.validateObservability(&spec.Observability)
}

func (v *Validator) validateStats(stats *StatsConfig) {
	if !validStatsTypes[stats.Type] {
		v.addError("spec.rateLimit.stats.type", fmt.Sprintf("unknown stats type %q", stats.Type))
		return
	}
	if stats.Type == "redis" {
		v.addErr("spec.rateLimit.stats.redis.address", util.ValidateNonEmpty(stats.Redis.Address, "redis address"))
		if stats.Redis.DB < 0 {
			v.addError("spec.rateLimit.stats.redis.db", "must not be negative")
		}
	}
}

func (v *Validator) validateServices(services []ServiceConfig) map[string]bool {
	ids := make(map[string]bool, len(services))
	for i := range services {
		svc := &services[i]
		path := fmt.Sprintf("spec.services[%d]", i)
		v.validateService(svc, path)
		if svc.ID != "" {
			if ids[svc.ID] {
				v.addError(path+".id", fmt.Sprintf("duplicate service id %q", svc.ID))
			}
			ids[svc.ID] = true
		}
	}
	return ids
}

func (v *Validator) validateService(svc *ServiceConfig, path string) {
	v.addErr(path+".id", util.ValidateNonEmpty(svc.ID, "id"))
	v.addErr(path+".address", util.ValidateNonEmpty(svc.Address, "address"))
	if !validSchemes[svc.Scheme] {
		v.addError(path+".scheme", fmt.Sprintf("unknown scheme %q", svc.Scheme))
	}
	v.addErr(path+".weight", util.ValidateWeight(svc.Weight))
	if svc.MaxConnections <= 0 {
		v.addError(path+".maxConnections", "must be positive")
	}
	if svc.CircuitBreakerThreshold <= 0 || svc.CircuitBreakerThreshold > 1 {
		v.addError(path+".circuitBreakerThreshold", "must be in (0, 1]")
	}
	if svc.Scheme != "grpc" && svc.HealthCheckPath != "" && !strings.HasPrefix(svc.HealthCheckPath, "/") {
		v.addError(path+".healthCheckPath", "must start with /")
	}
	v.addErr(path+".healthCheckInterval", util.ValidatePositiveDuration(svc.HealthCheckInterval.Duration()))
}

func (v *Validator) validateRateLimitRules(rules []RateLimitRuleConfig) {
	ids := make(map[string]bool, len(rules))
	for i := range rules {
		rule := &rules[i]
		path := fmt.Sprintf("spec.rateLimitRules[%d]", i)

		if err := util.ValidateNonEmpty(rule.ID, "id"); err != nil {
			v.addErr(path+".id", err)
		} else if ids[rule.ID] {
			v.addError(path+".id", fmt.Sprintf("duplicate rate limit rule id %q", rule.ID))
		}
		ids[rule.ID] = true

		if !validRateAlgorithms[rule.Algorithm] {
			v.addError(path+".algorithm", fmt.Sprintf("unknown algorithm %q", rule.Algorithm))
		}
		if rule.Requests <= 0 {
			v.addError(path+".requests", "must be positive")
		}
		v.addErr(path+".window", util.ValidatePositiveDuration(rule.Window.Duration()))
		if rule.Algorithm == "leaky_bucket" && rule.Requests > 0 && rule.Window.Duration() < time.Duration(rule.Requests) {
			v.addError(path+".window", "leaky bucket window must be at least one nanosecond per request")
		}

		if !validKeyExtractors[rule.KeyExtractor] {
			v.addError(path+".keyExtractor", fmt.Sprintf("unknown key extractor %q", rule.KeyExtractor))
		}
		if rule.KeyExtractor == "custom" && strings.TrimSpace(rule.KeyExpression) == "" {
			v.addError(path+".keyExpression", "required when keyExtractor is custom")
		}
	}
}

func (v *Validator) validateRoutingRules(rules []RoutingRuleConfig, serviceIDs map[string]bool) {
	ids := make(map[string]bool, len(rules))
	for i := range rules {
		rule := &rules[i]
		path := fmt.Sprintf("spec.routingRules[%d]", i)

		if err := util.ValidateNonEmpty(rule.ID, "id"); err != nil {
			v.addErr(path+".id", err)
		} else if ids[rule.ID] {
			v.addError(path+".id", fmt.Sprintf("duplicate routing rule id %q", rule.ID))
		}
		ids[rule.ID] = true

		v.validateMatch(&rule.Match, path+".match")

		if len(rule.Targets) == 0 {
			v.addError(path+".targets", "at least one target is required")
		}
		targets := make(map[string]bool, len(rule.Targets))
		for j, target := range rule.Targets {
			if !serviceIDs[target] {
				v.addError(fmt.Sprintf("%s.targets[%d]", path, j), fmt.Sprintf("unknown service %q", target))
			}
			targets[target] = true
		}
		for target, weight := range rule.Weights {
			if !targets[target] {
				v.addError(path+".weights."+target, "weight for a service that is not a target")
			}
			v.addErr(path+".weights."+target, util.ValidateWeight(weight))
		}
	}
}

func (v *Validator) validateMatch(match *MatchConfig, path string) {
	if match.Method != "" {
		v.addErr(path+".method", util.ValidateHTTPMethod(match.Method))
	}
	if strings.Count(match.Path, "*") > 1 {
		v.addError(path+".path", "at most one * wildcard is allowed")
	}
	for name := range match.Headers {
		v.addErr(path+".headers."+name, util.ValidateHeaderName(name))
	}
	for name := range match.Query {
		if name == "" {
			v.addError(path+".query", "query parameter name cannot be empty")
		}
	}
}

func (v *Validator) validateObservability(obs *ObservabilityConfig) {
	if _, err := parseLogLevel(obs.Logging.Level); err != nil {
		v.addError("spec.observability.logging.level", fmt.Sprintf("unknown level %q", obs.Logging.Level))
	}
	if !validLogFormats[obs.Logging.Format] {
		v.addError("spec.observability.logging.format", fmt.Sprintf("unknown format %q", obs.Logging.Format))
	}
	if !strings.HasPrefix(obs.Metrics.Path, "/") {
		v.addError("spec.observability.metrics.path", "must start with /")
	}
	if obs.Tracing.SamplingRate < 0 || obs.Tracing.SamplingRate > 1 {
		v.addError("spec.observability.tracing.samplingRate", "must be in [0, 1]")
	}
}

func parseLogLevel(level string) (string, error) {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(level), nil
	default:
		return "", fmt.Errorf("unknown level %q", level)
	}
}
