package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/trafficgw/internal/util"
)

func TestLoadConfig_File(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "gateway.yaml"))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(cfg))

	assert.Equal(t, "edge", cfg.Metadata.Name)
	assert.Equal(t, 9090, cfg.Spec.Listen.Port)
	assert.Equal(t, "weighted_round_robin", cfg.Spec.LoadBalancer.Algorithm)
	assert.Equal(t, 2*time.Second, cfg.Spec.Forwarding.Timeout.Duration())
	assert.Equal(t, int64(DefaultMaxBodyBytes), cfg.Spec.Forwarding.MaxBodyBytes)

	require.Len(t, cfg.Spec.Services, 3)
	assert.Equal(t, "users-1", cfg.Spec.Services[0].Name)
	assert.Equal(t, "http", cfg.Spec.Services[0].Scheme)
	assert.Equal(t, DefaultHealthCheckPath, cfg.Spec.Services[0].HealthCheckPath)
	assert.Equal(t, "/ready", cfg.Spec.Services[1].HealthCheckPath)
	assert.Equal(t, "grpc", cfg.Spec.Services[2].Scheme)
	assert.Empty(t, cfg.Spec.Services[2].HealthCheckPath)

	require.Len(t, cfg.Spec.RateLimitRules, 2)
	assert.Equal(t, "ip", cfg.Spec.RateLimitRules[0].KeyExtractor)
	assert.True(t, cfg.Spec.RateLimitRules[0].IsEnabled())
	assert.False(t, cfg.Spec.RateLimitRules[1].IsEnabled())

	require.Len(t, cfg.Spec.RoutingRules, 2)
	assert.Equal(t, map[string]string{"X-Tenant": "acme"}, cfg.Spec.RoutingRules[0].Match.Headers)
	assert.Equal(t, 3, cfg.Spec.RoutingRules[0].Weights["users-2"])
}

func TestLoadConfig_EnvSubstitution(t *testing.T) {
	t.Setenv("TRAFFICGW_TEST_PORT", "7070")

	cfg, err := LoadConfig(filepath.Join("testdata", "gateway.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Spec.Listen.Port)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrConfigInvalid))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *GatewayConfig)
	}{
		{
			name: "empty document gets defaults",
			yaml: "",
			check: func(t *testing.T, cfg *GatewayConfig) {
				assert.Equal(t, DefaultAPIVersion, cfg.APIVersion)
				assert.Equal(t, DefaultKind, cfg.Kind)
				assert.Equal(t, DefaultListenPort, cfg.Spec.Listen.Port)
				assert.Equal(t, DefaultAlgorithm, cfg.Spec.LoadBalancer.Algorithm)
				assert.Equal(t, DefaultSweepInterval, cfg.Spec.RateLimit.SweepInterval.Duration())
				assert.Equal(t, DefaultRetention, cfg.Spec.RateLimit.Retention.Duration())
				assert.Equal(t, DefaultMetricsBufferSize, cfg.Spec.MetricsBufferSize)
				assert.True(t, cfg.Spec.Observability.Metrics.IsEnabled())
			},
		},
		{
			name:    "unknown field rejected",
			yaml:    "spec:\n  listn: {port: 1}\n",
			wantErr: true,
		},
		{
			name:    "malformed duration",
			yaml:    "spec:\n  forwarding: {timeout: soon}\n",
			wantErr: true,
		},
		{
			name: "escaped dollar",
			yaml: "metadata:\n  name: \"cost$$100\"\n",
			check: func(t *testing.T, cfg *GatewayConfig) {
				assert.Equal(t, "cost$100", cfg.Metadata.Name)
			},
		},
		{
			name: "unset variable without default is empty",
			yaml: "metadata:\n  name: \"${TRAFFICGW_SURELY_UNSET_VAR}\"\n",
			check: func(t *testing.T, cfg *GatewayConfig) {
				assert.Empty(t, cfg.Metadata.Name)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := LoadConfigFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, util.ErrConfigInvalid))
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`null`)))
	assert.Zero(t, d.Duration())

	assert.Error(t, d.UnmarshalJSON([]byte(`"ninety"`)))

	out, err := Duration(5 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"5s"`, string(out))
}
