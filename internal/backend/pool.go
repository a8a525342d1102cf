package backend

import (
	"net"
	"net/http"
	"time"
)

// PoolConfig contains transport settings for the HTTP client shared by
// forwarding and health probes.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       0,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		DialTimeout:           10 * time.Second,
	}
}

// ConnectionPool owns an HTTP transport and client. The client has no
// overall timeout; callers bound each request with its context.
type ConnectionPool struct {
	transport *http.Transport
	client    *http.Client
}

// NewConnectionPool creates a new connection pool.
func NewConnectionPool(cfg PoolConfig) *ConnectionPool {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}

	return &ConnectionPool{
		transport: transport,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Client returns the HTTP client.
func (p *ConnectionPool) Client() *http.Client {
	return p.client
}

// CloseIdleConnections closes idle connections.
func (p *ConnectionPool) CloseIdleConnections() {
	p.transport.CloseIdleConnections()
}
