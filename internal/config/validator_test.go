package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/trafficgw/internal/util"
)

func validConfig() *GatewayConfig {
	cfg := &GatewayConfig{
		Spec: GatewaySpec{
			Services: []ServiceConfig{
				{ID: "a", Address: "127.0.0.1:8081"},
				{ID: "b", Address: "127.0.0.1:8082"},
			},
			RateLimitRules: []RateLimitRuleConfig{
				{ID: "per-ip", Algorithm: "sliding_window", Requests: 10, Window: Duration(time.Minute)},
			},
			RoutingRules: []RoutingRuleConfig{
				{ID: "all", Match: MatchConfig{Path: "/*"}, Targets: []string{"a", "b"}},
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidateConfig_Valid(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateConfig(validConfig()))
	assert.NoError(t, ValidateConfig(DefaultConfig()))
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrConfigInvalid))
}

func TestValidateConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cfg *GatewayConfig)
		field  string
	}{
		{
			name:   "wrong kind",
			mutate: func(cfg *GatewayConfig) { cfg.Kind = "Gateway" },
			field:  "kind",
		},
		{
			name:   "bad port",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.Listen.Port = 70000 },
			field:  "spec.listen.port",
		},
		{
			name:   "unknown algorithm",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.LoadBalancer.Algorithm = "fastest" },
			field:  "spec.loadBalancer.algorithm",
		},
		{
			name:   "redis without address",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.RateLimit.Stats.Type = "redis" },
			field:  "spec.rateLimit.stats.redis.address",
		},
		{
			name:   "bad trusted proxy",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.Forwarding.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"} },
			field:  "spec.forwarding.trustedProxies[1]",
		},
		{
			name: "leaky bucket window shorter than capacity",
			mutate: func(cfg *GatewayConfig) {
				cfg.Spec.RateLimitRules[0].Algorithm = "leaky_bucket"
				cfg.Spec.RateLimitRules[0].Requests = 1000
				cfg.Spec.RateLimitRules[0].Window = Duration(500 * time.Nanosecond)
			},
			field: "spec.rateLimitRules[0].window",
		},
		{
			name:   "duplicate service",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.Services[1].ID = "a" },
			field:  "spec.services[1].id",
		},
		{
			name:   "bad scheme",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.Services[0].Scheme = "ftp" },
			field:  "spec.services[0].scheme",
		},
		{
			name:   "weight out of range",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.Services[0].Weight = 101 },
			field:  "spec.services[0].weight",
		},
		{
			name:   "threshold out of range",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.Services[0].CircuitBreakerThreshold = 1.5 },
			field:  "spec.services[0].circuitBreakerThreshold",
		},
		{
			name:   "rate rule without window",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.RateLimitRules[0].Window = 0 },
			field:  "spec.rateLimitRules[0].window",
		},
		{
			name:   "rate rule unknown algorithm",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.RateLimitRules[0].Algorithm = "gcra" },
			field:  "spec.rateLimitRules[0].algorithm",
		},
		{
			name:   "custom extractor without expression",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.RateLimitRules[0].KeyExtractor = "custom" },
			field:  "spec.rateLimitRules[0].keyExpression",
		},
		{
			name:   "two wildcards",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.RoutingRules[0].Match.Path = "/*/x/*" },
			field:  "spec.routingRules[0].match.path",
		},
		{
			name:   "unknown target",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.RoutingRules[0].Targets = []string{"a", "zzz"} },
			field:  "spec.routingRules[0].targets[1]",
		},
		{
			name:   "no targets",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.RoutingRules[0].Targets = nil },
			field:  "spec.routingRules[0].targets",
		},
		{
			name:   "weight for non-target",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.RoutingRules[0].Weights = map[string]int{"c": 1} },
			field:  "spec.routingRules[0].weights.c",
		},
		{
			name:   "bad method",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.RoutingRules[0].Match.Method = "FETCH" },
			field:  "spec.routingRules[0].match.method",
		},
		{
			name:   "sampling rate",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.Observability.Tracing.SamplingRate = 2 },
			field:  "spec.observability.tracing.samplingRate",
		},
		{
			name:   "log level",
			mutate: func(cfg *GatewayConfig) { cfg.Spec.Observability.Logging.Level = "loud" },
			field:  "spec.observability.logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			require.Error(t, err)

			var verr *util.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestValidateConfig_AggregatesErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Spec.Listen.Port = -1
	cfg.Spec.Services[0].Address = ""
	cfg.Spec.RateLimitRules[0].Requests = 0

	var verr *util.ValidationError
	require.True(t, errors.As(ValidateConfig(cfg), &verr))
	assert.Len(t, verr.Fields, 3)
}

func TestValidateService(t *testing.T) {
	t.Parallel()

	svc := ServiceConfig{ID: "x", Address: "10.0.0.1:80"}
	ApplyServiceDefaults(&svc)
	assert.NoError(t, ValidateService(&svc, "service"))
	assert.Equal(t, "x", svc.Name)

	svc.Address = ""
	err := ValidateService(&svc, "service")
	var verr *util.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "service.address")
}
