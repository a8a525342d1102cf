package gateway

import (
	"github.com/vyrodovalexey/trafficgw/internal/backend"
	"github.com/vyrodovalexey/trafficgw/internal/config"
	"github.com/vyrodovalexey/trafficgw/internal/ratelimit"
	"github.com/vyrodovalexey/trafficgw/internal/router"
)

// serviceSpec converts a service configuration into a backend description.
func serviceSpec(sc config.ServiceConfig) backend.Spec {
	config.ApplyServiceDefaults(&sc)
	return backend.Spec{
		ID:                      sc.ID,
		Name:                    sc.Name,
		Address:                 sc.Address,
		Scheme:                  sc.Scheme,
		Weight:                  sc.Weight,
		MaxConnections:          sc.MaxConnections,
		CircuitBreakerThreshold: sc.CircuitBreakerThreshold,
		HealthCheckPath:         sc.HealthCheckPath,
		HealthCheckInterval:     sc.HealthCheckInterval.Duration(),
	}
}

// rateLimitRule converts a rate limit rule configuration.
func rateLimitRule(rc config.RateLimitRuleConfig) ratelimit.Rule {
	return ratelimit.Rule{
		ID:            rc.ID,
		Algorithm:     ratelimit.Algorithm(rc.Algorithm),
		Requests:      rc.Requests,
		Window:        rc.Window.Duration(),
		KeyExtractor:  ratelimit.KeySource(rc.KeyExtractor),
		KeyExpression: rc.KeyExpression,
		Enabled:       rc.IsEnabled(),
		Priority:      rc.Priority,
	}
}

// routingRule converts a routing rule configuration.
func routingRule(rc config.RoutingRuleConfig) router.Rule {
	return router.Rule{
		ID:   rc.ID,
		Name: rc.Name,
		Match: router.Match{
			Method:  rc.Match.Method,
			Path:    rc.Match.Path,
			Headers: rc.Match.Headers,
			Query:   rc.Match.Query,
		},
		Targets:  rc.Targets,
		Priority: rc.Priority,
		Weights:  rc.Weights,
		Enabled:  rc.IsEnabled(),
	}
}

// ServiceSpecFromConfig converts and defaults a service configuration. The
// admin API uses it to register services at runtime.
func ServiceSpecFromConfig(sc config.ServiceConfig) backend.Spec {
	return serviceSpec(sc)
}
