package backend

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status of a backend service.
type Status int32

const (
	// StatusHealthy indicates the service passes health checks.
	StatusHealthy Status = iota
	// StatusUnhealthy indicates the last health check failed.
	StatusUnhealthy
	// StatusDraining indicates the service is being taken out of rotation.
	StatusDraining
	// StatusMaintenance indicates the service is administratively disabled.
	StatusMaintenance
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusDraining:
		return "draining"
	case StatusMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "healthy":
		return StatusHealthy, nil
	case "unhealthy":
		return StatusUnhealthy, nil
	case "draining":
		return StatusDraining, nil
	case "maintenance":
		return StatusMaintenance, nil
	default:
		return StatusUnhealthy, fmt.Errorf("unknown service status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Supported service schemes.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeGRPC  = "grpc"
)

// Spec is the static description of a backend service.
type Spec struct {
	ID                      string
	Name                    string
	Address                 string
	Scheme                  string
	Weight                  int
	MaxConnections          int
	CircuitBreakerThreshold float64
	HealthCheckPath         string
	HealthCheckInterval     time.Duration
}

// Service is a registered backend service: its Spec plus live counters.
// All methods are safe for concurrent use.
type Service struct {
	id   string
	spec atomic.Pointer[Spec]

	status         atomic.Int32
	connections    atomic.Int64
	totalRequests  atomic.Int64
	failedRequests atomic.Int64
	lastCheck      atomic.Int64

	latencyMu  sync.Mutex
	avgLatency time.Duration
}

// NewService creates a service record. New services start healthy; the
// first health probe corrects this.
func NewService(spec Spec) *Service {
	s := &Service{id: spec.ID}
	s.spec.Store(&spec)
	s.status.Store(int32(StatusHealthy))
	return s
}

// ID returns the service identifier.
func (s *Service) ID() string {
	return s.id
}

// Spec returns a copy of the static description.
func (s *Service) Spec() Spec {
	return *s.spec.Load()
}

func (s *Service) setSpec(spec Spec) {
	spec.ID = s.id
	s.spec.Store(&spec)
}

// URL returns the base URL of the service. grpc services have no URL
// form and report their plain address.
func (s *Service) URL() string {
	spec := s.spec.Load()
	if spec.Scheme == SchemeGRPC {
		return spec.Address
	}
	scheme := spec.Scheme
	if scheme == "" {
		scheme = SchemeHTTP
	}
	return scheme + "://" + spec.Address
}

// Status returns the current health status.
func (s *Service) Status() Status {
	return Status(s.status.Load())
}

// SetStatus sets the health status.
func (s *Service) SetStatus(status Status) {
	s.status.Store(int32(status))
}

// compareAndSetStatus transitions from one status to another only if the
// status is still from.
func (s *Service) compareAndSetStatus(from, to Status) bool {
	return s.status.CompareAndSwap(int32(from), int32(to))
}

// Connections returns the number of requests currently held against the service.
func (s *Service) Connections() int64 {
	return s.connections.Load()
}

func (s *Service) acquire() {
	s.connections.Add(1)
}

// release decrements the connection count without going below zero.
func (s *Service) release() {
	for {
		cur := s.connections.Load()
		if cur <= 0 {
			return
		}
		if s.connections.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// TotalRequests returns the number of completed requests.
func (s *Service) TotalRequests() int64 {
	return s.totalRequests.Load()
}

// FailedRequests returns the number of failed requests.
func (s *Service) FailedRequests() int64 {
	return s.failedRequests.Load()
}

// FailureRate returns failed/total, or 0 before the first request.
func (s *Service) FailureRate() float64 {
	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()
	total := s.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(s.failedRequests.Load()) / float64(total)
}

// AvgResponseTime returns the running mean response time.
func (s *Service) AvgResponseTime() time.Duration {
	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()
	return s.avgLatency
}

// recordResult folds one completed request into the counters.
func (s *Service) recordResult(latency time.Duration, success bool) {
	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()

	n := s.totalRequests.Add(1)
	if !success {
		s.failedRequests.Add(1)
	}
	s.avgLatency = time.Duration((float64(s.avgLatency)*float64(n-1) + float64(latency)) / float64(n))
}

// LastCheck returns the time of the last health probe, or the zero time.
func (s *Service) LastCheck() time.Time {
	ns := s.lastCheck.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Service) markChecked(t time.Time) {
	s.lastCheck.Store(t.UnixNano())
}

// IsAvailable reports whether the service may receive a new request: it is
// healthy, below its connection limit, and its failure rate is below its
// circuit breaker threshold.
func (s *Service) IsAvailable() bool {
	if s.Status() != StatusHealthy {
		return false
	}
	spec := s.spec.Load()
	if s.Connections() >= int64(spec.MaxConnections) {
		return false
	}
	return s.FailureRate() < spec.CircuitBreakerThreshold
}

// ServiceStats is a point-in-time snapshot of a service.
type ServiceStats struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Address         string        `json:"address"`
	Scheme          string        `json:"scheme"`
	Weight          int           `json:"weight"`
	MaxConnections  int           `json:"maxConnections"`
	Status          Status        `json:"status"`
	Available       bool          `json:"available"`
	Connections     int64         `json:"connections"`
	TotalRequests   int64         `json:"totalRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	FailureRate     float64       `json:"failureRate"`
	AvgResponseTime time.Duration `json:"avgResponseTimeNs"`
	LastCheck       time.Time     `json:"lastCheck"`
}

// Snapshot returns the current stats of the service.
func (s *Service) Snapshot() ServiceStats {
	spec := s.Spec()
	return ServiceStats{
		ID:              s.id,
		Name:            spec.Name,
		Address:         spec.Address,
		Scheme:          spec.Scheme,
		Weight:          spec.Weight,
		MaxConnections:  spec.MaxConnections,
		Status:          s.Status(),
		Available:       s.IsAvailable(),
		Connections:     s.Connections(),
		TotalRequests:   s.TotalRequests(),
		FailedRequests:  s.FailedRequests(),
		FailureRate:     s.FailureRate(),
		AvgResponseTime: s.AvgResponseTime(),
		LastCheck:       s.LastCheck(),
	}
}
