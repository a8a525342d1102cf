package backend

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
)

// Health check default configuration constants.
const (
	// DefaultHealthCheckTimeout is the default timeout for one probe.
	DefaultHealthCheckTimeout = 5 * time.Second

	// DefaultHealthCheckInterval is the default base tick of the check loop.
	DefaultHealthCheckInterval = 10 * time.Second
)

// HealthStatusFunc is called when a probe changes a service's status.
type HealthStatusFunc func(id string, status Status)

// HealthChecker periodically probes registered services and moves them
// between healthy and unhealthy. Probe failures are never returned as
// errors; they only change status.
type HealthChecker struct {
	registry       *Registry
	client         *http.Client
	interval       time.Duration
	timeout        time.Duration
	logger         observability.Logger
	metrics        *observability.Metrics
	onStatusChange HealthStatusFunc
	now            func() time.Time

	grpcMu    sync.Mutex
	grpcConns map[string]*grpc.ClientConn

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// HealthCheckOption is a functional option for configuring the health checker.
type HealthCheckOption func(*HealthChecker)

// WithHealthCheckLogger sets the logger for the health checker.
func WithHealthCheckLogger(logger observability.Logger) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.logger = logger
	}
}

// WithHealthCheckMetrics sets the metrics for the health checker.
func WithHealthCheckMetrics(metrics *observability.Metrics) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.metrics = metrics
	}
}

// WithHealthCheckClient sets the HTTP client used for http and https probes.
func WithHealthCheckClient(client *http.Client) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.client = client
	}
}

// WithHealthCheckInterval sets the base tick of the check loop.
func WithHealthCheckInterval(interval time.Duration) HealthCheckOption {
	return func(hc *HealthChecker) {
		if interval > 0 {
			hc.interval = interval
		}
	}
}

// WithHealthCheckTimeout sets the timeout for a single probe.
func WithHealthCheckTimeout(timeout time.Duration) HealthCheckOption {
	return func(hc *HealthChecker) {
		if timeout > 0 {
			hc.timeout = timeout
		}
	}
}

// WithHealthStatusCallback sets a callback invoked on status transitions.
func WithHealthStatusCallback(fn HealthStatusFunc) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.onStatusChange = fn
	}
}

// NewHealthChecker creates a health checker over registry.
func NewHealthChecker(registry *Registry, opts ...HealthCheckOption) *HealthChecker {
	hc := &HealthChecker{
		registry:  registry,
		client:    NewConnectionPool(DefaultPoolConfig()).Client(),
		interval:  DefaultHealthCheckInterval,
		timeout:   DefaultHealthCheckTimeout,
		logger:    observability.NopLogger(),
		now:       time.Now,
		grpcConns: make(map[string]*grpc.ClientConn),
	}

	for _, opt := range opts {
		opt(hc)
	}

	return hc
}

// Start starts the check loop. It returns immediately.
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.running {
		return
	}
	hc.running = true
	hc.stopCh = make(chan struct{})
	hc.stoppedCh = make(chan struct{})

	go hc.run(ctx, hc.stopCh, hc.stoppedCh)
}

// Stop stops the check loop and waits for in-flight probes to finish.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	stopCh, stoppedCh := hc.stopCh, hc.stoppedCh
	hc.mu.Unlock()

	close(stopCh)
	<-stoppedCh
	hc.closeAllGRPCConns()
}

// IsRunning returns true if the check loop is running.
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.running
}

func (hc *HealthChecker) run(ctx context.Context, stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	hc.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			hc.tick(ctx)
		}
	}
}

// tick runs one iteration, recovering from panics so the loop survives.
func (hc *HealthChecker) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			hc.logger.Error("panic in health check loop",
				observability.Any("panic", r),
				observability.String("stack", string(debug.Stack())),
			)
		}
	}()
	hc.CheckDue(ctx)
}

// CheckDue probes, concurrently, every service whose own interval has
// elapsed since its last probe, and waits for the probes to finish.
func (hc *HealthChecker) CheckDue(ctx context.Context) {
	now := hc.now()
	var due []*Service
	for _, svc := range hc.registry.List() {
		if !probeable(svc) {
			continue
		}
		last := svc.LastCheck()
		if !last.IsZero() && now.Sub(last) < svc.Spec().HealthCheckInterval {
			continue
		}
		due = append(due, svc)
	}
	hc.probeAll(ctx, due, now)
}

// CheckAll probes every probeable service regardless of its interval.
func (hc *HealthChecker) CheckAll(ctx context.Context) {
	var all []*Service
	for _, svc := range hc.registry.List() {
		if probeable(svc) {
			all = append(all, svc)
		}
	}
	hc.probeAll(ctx, all, hc.now())
}

func probeable(svc *Service) bool {
	status := svc.Status()
	return status == StatusHealthy || status == StatusUnhealthy
}

func (hc *HealthChecker) probeAll(ctx context.Context, services []*Service, now time.Time) {
	var wg sync.WaitGroup
	for _, svc := range services {
		svc.markChecked(now)
		wg.Add(1)
		go func(s *Service) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					hc.logger.Error("panic in health probe",
						observability.String("backend", s.ID()),
						observability.Any("panic", r),
					)
				}
			}()
			hc.checkService(ctx, s)
		}(svc)
	}
	wg.Wait()
}

func (hc *HealthChecker) checkService(ctx context.Context, svc *Service) {
	if ctx.Err() != nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	var err error
	if svc.Spec().Scheme == SchemeGRPC {
		err = hc.probeGRPC(probeCtx, svc)
	} else {
		err = hc.probeHTTP(probeCtx, svc)
	}

	// A cancelled parent context means shutdown, not a failed backend.
	if ctx.Err() != nil {
		return
	}

	hc.metrics.RecordHealthProbe(svc.ID(), err == nil)
	if err == nil {
		hc.transition(svc, StatusUnhealthy, StatusHealthy, nil)
	} else {
		hc.transition(svc, StatusHealthy, StatusUnhealthy, err)
	}
}

// probeHTTP issues GET scheme://address+path; any 2xx is healthy.
func (hc *HealthChecker) probeHTTP(ctx context.Context, svc *Service) error {
	url := svc.URL() + svc.Spec().HealthCheckPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// probeGRPC calls grpc.health.v1 Check; only SERVING is healthy.
func (hc *HealthChecker) probeGRPC(ctx context.Context, svc *Service) error {
	addr := svc.Spec().Address

	conn, err := hc.getGRPCConn(addr)
	if err != nil {
		return err
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		hc.closeGRPCConn(addr)
		return err
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health status %s", resp.GetStatus())
	}
	return nil
}

// transition moves svc from one status to another. A service that was
// drained or put in maintenance while the probe ran is left alone.
func (hc *HealthChecker) transition(svc *Service, from, to Status, cause error) {
	if !svc.compareAndSetStatus(from, to) {
		return
	}

	hc.metrics.SetBackendHealth(svc.ID(), to == StatusHealthy)

	if to == StatusHealthy {
		hc.logger.Info("backend became healthy",
			observability.String("backend", svc.ID()),
		)
	} else {
		hc.logger.Warn("backend became unhealthy",
			observability.String("backend", svc.ID()),
			observability.Error(cause),
		)
	}

	if hc.onStatusChange != nil {
		hc.onStatusChange(svc.ID(), to)
	}
}

// getGRPCConn returns a pooled gRPC connection for the address.
func (hc *HealthChecker) getGRPCConn(addr string) (*grpc.ClientConn, error) {
	hc.grpcMu.Lock()
	defer hc.grpcMu.Unlock()

	if conn, ok := hc.grpcConns[addr]; ok {
		state := conn.GetState()
		if state != connectivity.Shutdown && state != connectivity.TransientFailure {
			return conn, nil
		}
		_ = conn.Close()
		delete(hc.grpcConns, addr)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	hc.grpcConns[addr] = conn
	return conn, nil
}

func (hc *HealthChecker) closeGRPCConn(addr string) {
	hc.grpcMu.Lock()
	defer hc.grpcMu.Unlock()

	if conn, ok := hc.grpcConns[addr]; ok {
		if err := conn.Close(); err != nil {
			hc.logger.Warn("failed to close gRPC connection",
				observability.String("addr", addr),
				observability.Error(err),
			)
		}
		delete(hc.grpcConns, addr)
	}
}

func (hc *HealthChecker) closeAllGRPCConns() {
	hc.grpcMu.Lock()
	defer hc.grpcMu.Unlock()

	for addr, conn := range hc.grpcConns {
		_ = conn.Close()
		delete(hc.grpcConns, addr)
	}
}
