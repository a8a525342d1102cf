package ratelimit

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Cases for ClientIPResolver
// ============================================================================

func TestClientIPResolver_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		trusted []string
		remote  string
		xff     string
		want    string
	}{
		{
			name:   "no trusted proxies ignores forwarded for",
			remote: "10.0.0.1:51234",
			xff:    "203.0.113.9",
			want:   "10.0.0.1",
		},
		{
			name:    "untrusted peer ignores forwarded for",
			trusted: []string{"192.168.0.0/16"},
			remote:  "10.0.0.1:51234",
			xff:     "203.0.113.9",
			want:    "10.0.0.1",
		},
		{
			name:    "trusted peer uses last untrusted hop",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.0.0.1:51234",
			xff:     "198.51.100.4, 203.0.113.9, 10.0.0.7",
			want:    "203.0.113.9",
		},
		{
			name:    "trusted single address",
			trusted: []string{"10.0.0.1"},
			remote:  "10.0.0.1:51234",
			xff:     "203.0.113.9",
			want:    "203.0.113.9",
		},
		{
			name:    "all hops trusted falls back to peer",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.0.0.1:51234",
			xff:     "10.1.1.1, 10.2.2.2",
			want:    "10.0.0.1",
		},
		{
			name:    "trusted peer without header",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.0.0.1:51234",
			want:    "10.0.0.1",
		},
		{
			name:    "ipv6 trusted peer",
			trusted: []string{"2001:db8::/32"},
			remote:  "[2001:db8::1]:8080",
			xff:     "203.0.113.9",
			want:    "203.0.113.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewClientIPResolver(tt.trusted)
			require.NoError(t, err)

			headers := http.Header{}
			if tt.xff != "" {
				headers.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, r.Resolve(tt.remote, headers))
		})
	}
}

func TestClientIPResolver_NilTrustsNobody(t *testing.T) {
	t.Parallel()

	var r *ClientIPResolver
	headers := http.Header{"X-Forwarded-For": {"203.0.113.9"}}

	assert.Equal(t, "10.0.0.1", r.Resolve("10.0.0.1:1", headers))
	assert.Equal(t, "unknown", r.Resolve("", headers))
}

func TestNewClientIPResolver_InvalidProxy(t *testing.T) {
	t.Parallel()

	_, err := NewClientIPResolver([]string{"10.0.0.0/8", "not-an-ip"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-an-ip")

	assert.NoError(t, ValidateTrustedProxy("::1"))
	assert.Error(t, ValidateTrustedProxy("10.0.0.0/33"))
}

func TestManager_SpoofedForwardedForSharesKey(t *testing.T) {
	t.Parallel()

	m := NewManager()
	require.NoError(t, m.AddRule(newRule("per-ip", AlgorithmFixedWindow, 3, time.Minute)))

	var resolver *ClientIPResolver
	allowed := 0
	for i := range 20 {
		headers := http.Header{"X-Forwarded-For": {"203.0.113." + strconv.Itoa(i)}}
		d := Descriptor{
			Headers:    headers,
			RemoteAddr: "10.0.0.1:51234",
			ClientIP:   resolver.Resolve("10.0.0.1:51234", headers),
		}
		key := m.ExtractKey("per-ip", d)
		require.Equal(t, "10.0.0.1", key)
		if m.CheckRateLimit("per-ip", key, base).Allowed {
			allowed++
		}
	}

	assert.Equal(t, 3, allowed)
	assert.Equal(t, 1, m.TrackedKeys())
}
