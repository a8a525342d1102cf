package backend

import (
	"sync"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// Registry holds the backend services known to the gateway, in
// registration order.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
	order    []string
	logger   observability.Logger
	metrics  *observability.Metrics
}

// RegistryOption is a functional option for configuring the registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for the registry.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRegistryMetrics sets the metrics for the registry.
func WithRegistryMetrics(metrics *observability.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		services: make(map[string]*Service),
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Add registers a service, or replaces the description of an existing one
// with the same ID. Replacing keeps the live counters and status.
func (r *Registry) Add(spec Spec) (*Service, error) {
	if spec.ID == "" {
		return nil, util.NewConfigError("id", "service id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.services[spec.ID]; ok {
		existing.setSpec(spec)
		r.logger.Debug("service updated", observability.String("backend", spec.ID))
		return existing, nil
	}

	svc := NewService(spec)
	r.services[spec.ID] = svc
	r.order = append(r.order, spec.ID)
	r.metrics.SetBackendHealth(spec.ID, true)

	r.logger.Info("service registered",
		observability.String("backend", spec.ID),
		observability.String("address", spec.Address),
		observability.String("scheme", spec.Scheme),
	)

	return svc, nil
}

// Remove deregisters a service. It reports whether the service existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[id]; !ok {
		return false
	}

	delete(r.services, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.metrics.DeleteBackend(id)

	r.logger.Info("service removed", observability.String("backend", id))
	return true
}

// Get returns the service with the given ID.
func (r *Registry) Get(id string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[id]
	return svc, ok
}

// List returns all services in registration order.
func (r *Registry) List() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Service, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id])
	}
	return out
}

// Healthy returns the available services in registration order.
func (r *Registry) Healthy() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Service, 0, len(r.order))
	for _, id := range r.order {
		if svc := r.services[id]; svc.IsAvailable() {
			out = append(out, svc)
		}
	}
	return out
}

// SetStatus sets the status of a service, typically to drain it or put it
// in maintenance.
func (r *Registry) SetStatus(id string, status Status) error {
	svc, ok := r.Get(id)
	if !ok {
		return util.WrapError(util.ErrNotFound, "service "+id)
	}

	prev := svc.Status()
	svc.SetStatus(status)
	r.metrics.SetBackendHealth(id, status == StatusHealthy)

	if prev != status {
		r.logger.Info("service status changed",
			observability.String("backend", id),
			observability.String("from", prev.String()),
			observability.String("to", status.String()),
		)
	}
	return nil
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
