package backend

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec(id string) Spec {
	return Spec{
		ID:                      id,
		Name:                    id,
		Address:                 "127.0.0.1:8080",
		Scheme:                  SchemeHTTP,
		Weight:                  1,
		MaxConnections:          10,
		CircuitBreakerThreshold: 0.5,
		HealthCheckPath:         "/health",
		HealthCheckInterval:     time.Second,
	}
}

// ============================================================================
// Test Cases for Status
// ============================================================================

func TestStatus_StringAndParse(t *testing.T) {
	t.Parallel()

	for _, status := range []Status{StatusHealthy, StatusUnhealthy, StatusDraining, StatusMaintenance} {
		parsed, err := ParseStatus(status.String())
		require.NoError(t, err)
		assert.Equal(t, status, parsed)
	}

	_, err := ParseStatus("sleeping")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Status(42).String())
}

func TestStatus_JSON(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(struct {
		Status Status `json:"status"`
	}{StatusDraining})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"draining"}`, string(out))

	var in struct {
		Status Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"maintenance"}`), &in))
	assert.Equal(t, StatusMaintenance, in.Status)
}

// ============================================================================
// Test Cases for Service
// ============================================================================

func TestService_NewStartsHealthy(t *testing.T) {
	t.Parallel()

	svc := NewService(testSpec("a"))
	assert.Equal(t, StatusHealthy, svc.Status())
	assert.True(t, svc.IsAvailable())
	assert.Zero(t, svc.FailureRate())
	assert.True(t, svc.LastCheck().IsZero())
	assert.Equal(t, "http://127.0.0.1:8080", svc.URL())
}

func TestService_URL(t *testing.T) {
	t.Parallel()

	spec := testSpec("a")
	spec.Scheme = SchemeHTTPS
	assert.Equal(t, "https://127.0.0.1:8080", NewService(spec).URL())

	spec.Scheme = SchemeGRPC
	assert.Equal(t, "127.0.0.1:8080", NewService(spec).URL())

	spec.Scheme = ""
	assert.Equal(t, "http://127.0.0.1:8080", NewService(spec).URL())
}

func TestService_RunningMeanAndFailureRate(t *testing.T) {
	t.Parallel()

	svc := NewService(testSpec("a"))
	svc.recordResult(10*time.Millisecond, true)
	svc.recordResult(20*time.Millisecond, false)
	svc.recordResult(30*time.Millisecond, true)

	assert.Equal(t, int64(3), svc.TotalRequests())
	assert.Equal(t, int64(1), svc.FailedRequests())
	assert.InDelta(t, 1.0/3.0, svc.FailureRate(), 1e-9)
	assert.Equal(t, 20*time.Millisecond, svc.AvgResponseTime())
}

func TestService_IsAvailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(svc *Service)
		want   bool
	}{
		{name: "fresh", mutate: func(*Service) {}, want: true},
		{name: "unhealthy", mutate: func(s *Service) { s.SetStatus(StatusUnhealthy) }, want: false},
		{name: "draining", mutate: func(s *Service) { s.SetStatus(StatusDraining) }, want: false},
		{name: "maintenance", mutate: func(s *Service) { s.SetStatus(StatusMaintenance) }, want: false},
		{
			name: "at connection limit",
			mutate: func(s *Service) {
				for range 10 {
					s.acquire()
				}
			},
			want: false,
		},
		{
			name: "failure rate at threshold",
			mutate: func(s *Service) {
				s.recordResult(time.Millisecond, true)
				s.recordResult(time.Millisecond, false)
			},
			want: false,
		},
		{
			name: "failure rate below threshold",
			mutate: func(s *Service) {
				s.recordResult(time.Millisecond, true)
				s.recordResult(time.Millisecond, true)
				s.recordResult(time.Millisecond, false)
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := NewService(testSpec("a"))
			tt.mutate(svc)
			assert.Equal(t, tt.want, svc.IsAvailable())
		})
	}
}

func TestService_ReleaseNeverNegative(t *testing.T) {
	t.Parallel()

	svc := NewService(testSpec("a"))
	svc.release()
	assert.Equal(t, int64(0), svc.Connections())

	svc.acquire()
	svc.release()
	svc.release()
	assert.Equal(t, int64(0), svc.Connections())
}

func TestService_ConcurrentCounters(t *testing.T) {
	t.Parallel()

	svc := NewService(testSpec("a"))
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.acquire()
			svc.recordResult(time.Millisecond, true)
			svc.release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), svc.Connections())
	assert.Equal(t, int64(50), svc.TotalRequests())
	assert.Equal(t, time.Millisecond, svc.AvgResponseTime())
}

func TestService_Snapshot(t *testing.T) {
	t.Parallel()

	svc := NewService(testSpec("a"))
	svc.acquire()
	svc.recordResult(5*time.Millisecond, false)

	snap := svc.Snapshot()
	assert.Equal(t, "a", snap.ID)
	assert.Equal(t, int64(1), snap.Connections)
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, 1.0, snap.FailureRate)
	assert.False(t, snap.Available)
	assert.Equal(t, StatusHealthy, snap.Status)
}
