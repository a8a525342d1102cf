// Package backend manages the pool of backend services a gateway forwards
// to.
//
// # Registry
//
// The Registry holds one Service record per backend, in registration
// order. A Service carries its static description (address, scheme,
// weight, capacity) and live counters (connections, requests, failures,
// running mean latency) updated with atomics.
//
//	registry := backend.NewRegistry()
//	svc, err := registry.Add(backend.Spec{ID: "users-1", Address: "10.0.0.1:8080"})
//
// A service is available when it is healthy, below its connection limit,
// and its failure rate is below its circuit breaker threshold. Registry.Healthy
// returns the available services; it is the only candidate source used by
// the load balancer and the health checker.
//
// # Load Balancing
//
// LoadBalancer picks one available service per request using one of six
// algorithms: round_robin, weighted_round_robin, least_connections,
// least_response_time, hash_based and random.
//
//	lb, err := backend.NewLoadBalancer(registry, backend.AlgorithmLeastConnections)
//	svc := lb.SelectService(backend.SelectRequest{Path: "/users", ClientID: "10.1.2.3"})
//	if svc != nil {
//	    defer lb.ReleaseConnection(svc.ID())
//	}
//
// hash_based maps the same path and client to the same service only while
// the candidate set is unchanged; adding or removing a service remaps keys.
//
// # Health Checking
//
// HealthChecker probes every service on a single ticker, honoring each
// service's own interval. http and https services are probed with GET on
// their health check path; grpc services with grpc.health.v1. Draining and
// maintenance services are never probed.
package backend
