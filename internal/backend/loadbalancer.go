package backend

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
)

// Algorithm names a load balancing strategy.
type Algorithm string

// Load balancing algorithms.
const (
	AlgorithmRoundRobin         Algorithm = "round_robin"
	AlgorithmWeightedRoundRobin Algorithm = "weighted_round_robin"
	AlgorithmLeastConnections   Algorithm = "least_connections"
	AlgorithmLeastResponseTime  Algorithm = "least_response_time"
	AlgorithmHashBased          Algorithm = "hash_based"
	AlgorithmRandom             Algorithm = "random"
)

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(name); a {
	case AlgorithmRoundRobin, AlgorithmWeightedRoundRobin, AlgorithmLeastConnections,
		AlgorithmLeastResponseTime, AlgorithmHashBased, AlgorithmRandom:
		return a, nil
	default:
		return "", fmt.Errorf("unknown load balancing algorithm %q", name)
	}
}

// SelectRequest describes the request a backend is selected for.
type SelectRequest struct {
	Path     string
	Method   string
	ClientID string
	// Rule is the routing rule ID, used only for metrics.
	Rule string
	// Candidates restricts selection to these service IDs, in this order.
	// Nil means every registered service.
	Candidates []string
	// Weights overrides service weights for weighted_round_robin.
	Weights map[string]int
}

// LoadBalancer selects one available service per request.
type LoadBalancer struct {
	mu        sync.Mutex
	registry  *Registry
	algorithm Algorithm
	counter   uint64
	logger    observability.Logger
	metrics   *observability.Metrics
}

// LoadBalancerOption is a functional option for configuring the load balancer.
type LoadBalancerOption func(*LoadBalancer)

// WithLoadBalancerLogger sets the logger for the load balancer.
func WithLoadBalancerLogger(logger observability.Logger) LoadBalancerOption {
	return func(lb *LoadBalancer) {
		lb.logger = logger
	}
}

// WithLoadBalancerMetrics sets the metrics for the load balancer.
func WithLoadBalancerMetrics(metrics *observability.Metrics) LoadBalancerOption {
	return func(lb *LoadBalancer) {
		lb.metrics = metrics
	}
}

// NewLoadBalancer creates a load balancer over registry.
func NewLoadBalancer(registry *Registry, algorithm Algorithm, opts ...LoadBalancerOption) (*LoadBalancer, error) {
	if _, err := ParseAlgorithm(string(algorithm)); err != nil {
		return nil, err
	}

	lb := &LoadBalancer{
		registry:  registry,
		algorithm: algorithm,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(lb)
	}

	return lb, nil
}

// Algorithm returns the active algorithm.
func (lb *LoadBalancer) Algorithm() Algorithm {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.algorithm
}

// SetAlgorithm switches the active algorithm.
func (lb *LoadBalancer) SetAlgorithm(algorithm Algorithm) error {
	if _, err := ParseAlgorithm(string(algorithm)); err != nil {
		return err
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.algorithm = algorithm
	return nil
}

// SelectService picks an available service for req and counts a connection
// against it. It returns nil when no candidate is available. Every non-nil
// result must be paired with ReleaseConnection.
func (lb *LoadBalancer) SelectService(req SelectRequest) *Service {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	candidates := lb.candidates(req.Candidates)
	if len(candidates) == 0 {
		lb.metrics.RecordNoBackend(req.Rule)
		lb.logger.Debug("no available backend",
			observability.String("rule", req.Rule),
			observability.Strings("candidates", req.Candidates),
		)
		return nil
	}

	var svc *Service
	switch lb.algorithm {
	case AlgorithmWeightedRoundRobin:
		svc = lb.weightedRoundRobin(candidates, req.Weights)
	case AlgorithmLeastConnections:
		svc = leastConnections(candidates)
	case AlgorithmLeastResponseTime:
		svc = leastResponseTime(candidates)
	case AlgorithmHashBased:
		svc = hashBased(candidates, req.Path, req.ClientID)
	case AlgorithmRandom:
		svc = candidates[secureRandomInt(len(candidates))]
	default:
		svc = lb.roundRobin(candidates)
	}

	svc.acquire()
	lb.metrics.RecordSelection(string(lb.algorithm), svc.ID())
	lb.metrics.SetBackendConnections(svc.ID(), svc.Connections())

	return svc
}

// candidates returns the available services, restricted to ids when given.
func (lb *LoadBalancer) candidates(ids []string) []*Service {
	healthy := lb.registry.Healthy()
	if ids == nil {
		return healthy
	}

	byID := make(map[string]*Service, len(healthy))
	for _, svc := range healthy {
		byID[svc.ID()] = svc
	}

	out := make([]*Service, 0, len(ids))
	for _, id := range ids {
		if svc, ok := byID[id]; ok {
			out = append(out, svc)
		}
	}
	return out
}

func (lb *LoadBalancer) next() uint64 {
	idx := lb.counter
	lb.counter++
	return idx
}

func (lb *LoadBalancer) roundRobin(candidates []*Service) *Service {
	return candidates[lb.next()%uint64(len(candidates))]
}

// weightedRoundRobin repeats each candidate max(1, weight) times and walks
// the expanded list with the shared counter.
func (lb *LoadBalancer) weightedRoundRobin(candidates []*Service, weights map[string]int) *Service {
	expanded := make([]*Service, 0, len(candidates))
	for _, svc := range candidates {
		weight, ok := weights[svc.ID()]
		if !ok {
			weight = svc.Spec().Weight
		}
		for range max(1, weight) {
			expanded = append(expanded, svc)
		}
	}
	return expanded[lb.next()%uint64(len(expanded))]
}

func leastConnections(candidates []*Service) *Service {
	best := candidates[0]
	for _, svc := range candidates[1:] {
		if svc.Connections() < best.Connections() {
			best = svc
		}
	}
	return best
}

func leastResponseTime(candidates []*Service) *Service {
	best := candidates[0]
	bestLatency := best.AvgResponseTime()
	for _, svc := range candidates[1:] {
		if latency := svc.AvgResponseTime(); latency < bestLatency {
			best, bestLatency = svc, latency
		}
	}
	return best
}

// hashBased maps path and client onto the candidate list. The mapping is
// only stable while the candidate list is unchanged.
func hashBased(candidates []*Service, path, client string) *Service {
	if client == "" {
		client = "unknown"
	}
	h := xxhash.Sum64String(path + "|" + client)
	return candidates[h%uint64(len(candidates))]
}

// ReleaseConnection returns a connection taken by SelectService. The count
// never goes below zero.
func (lb *LoadBalancer) ReleaseConnection(id string) {
	svc, ok := lb.registry.Get(id)
	if !ok {
		return
	}
	svc.release()
	lb.metrics.SetBackendConnections(id, svc.Connections())
}

// UpdateServiceMetrics records the outcome of a completed request.
func (lb *LoadBalancer) UpdateServiceMetrics(id string, latency time.Duration, success bool) {
	svc, ok := lb.registry.Get(id)
	if !ok {
		return
	}
	svc.recordResult(latency, success)
}

// Stats returns a snapshot of every registered service.
func (lb *LoadBalancer) Stats() []ServiceStats {
	services := lb.registry.List()
	out := make([]ServiceStats, 0, len(services))
	for _, svc := range services {
		out = append(out, svc.Snapshot())
	}
	return out
}

// secureRandomInt returns a uniform integer in [0, n).
func secureRandomInt(n int) int {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int(binary.LittleEndian.Uint64(b[:]) % uint64(n)) //nolint:gosec // result < n
}
