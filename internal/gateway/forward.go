package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/trafficgw/internal/backend"
	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// Forwarding headers.
const (
	HeaderRequestID       = "X-Request-ID"
	HeaderForwardedFor    = "X-Forwarded-For"
	HeaderForwardedProto  = "X-Forwarded-Proto"
	HeaderForwardedHost   = "X-Forwarded-Host"
	HeaderBackendID       = "X-Backend-ID"
	HeaderGatewayRuleName = "X-Gateway-Rule"
)

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ForwardRequest sends req to svc and returns the backend response. The
// request is bounded by the forwarding timeout. Transport failures and
// timeouts count as a backend failure and are returned as
// *util.BackendError; 5xx responses count as a failure but are returned
// normally. Requests are never retried.
func (g *Gateway) ForwardRequest(ctx context.Context, svc *backend.Service, req *Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ruleID := util.RuleFromContext(ctx)

	ctx, span := g.tracer.StartSpan(ctx, "gateway.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("trafficgw.backend", svc.ID()),
			attribute.String("trafficgw.rule", ruleID),
		),
	)
	defer span.End()

	if svc.Spec().Scheme == backend.SchemeGRPC {
		err := util.NewBackendError(svc.ID(), "grpc services cannot receive forwarded http requests")
		g.recordRejected(req, svc.ID(), ruleID, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if timeout := g.timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := g.buildBackendRequest(ctx, svc, req)
	if err != nil {
		g.recordRejected(req, svc.ID(), ruleID, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, util.NewBackendErrorWithCause(svc.ID(), "failed to build request", err)
	}

	start := g.now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		latency := g.now().Sub(start)
		g.recordForward(req, svc.ID(), ruleID, 0, latency, 0, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend request failed")

		g.logger.WithContext(ctx).Warn("backend request failed",
			observability.String("backend", svc.ID()),
			observability.Duration("latency", latency),
			observability.Error(err),
		)
		return nil, util.NewBackendErrorWithCause(svc.ID(), "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	latency := g.now().Sub(start)
	if err != nil {
		g.recordForward(req, svc.ID(), ruleID, resp.StatusCode, latency, int64(len(body)), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read backend response")
		return nil, util.NewBackendErrorWithCause(svc.ID(), "failed to read response", err)
	}

	g.recordForward(req, svc.ID(), ruleID, resp.StatusCode, latency, int64(len(body)), nil)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, fmt.Sprintf("backend returned %d", resp.StatusCode))
	}

	headers := resp.Header.Clone()
	if headers == nil {
		headers = make(http.Header)
	}
	for _, h := range hopHeaders {
		headers.Del(h)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
		BackendID:  svc.ID(),
		Latency:    latency,
	}, nil
}

func (g *Gateway) buildBackendRequest(ctx context.Context, svc *backend.Service, req *Request) (*http.Request, error) {
	target := svc.URL() + req.Path
	if encoded := req.Query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header = req.Headers.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}
	for _, h := range hopHeaders {
		httpReq.Header.Del(h)
	}

	if clientIP := peerIP(req.RemoteAddr); clientIP != "" {
		if prior := httpReq.Header.Get(HeaderForwardedFor); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		httpReq.Header.Set(HeaderForwardedFor, clientIP)
	}
	if req.TLS {
		httpReq.Header.Set(HeaderForwardedProto, "https")
	} else {
		httpReq.Header.Set(HeaderForwardedProto, "http")
	}
	if req.Host != "" {
		httpReq.Header.Set(HeaderForwardedHost, req.Host)
	}
	httpReq.Header.Set(HeaderRequestID, req.ID)

	observability.InjectTraceContext(ctx, httpReq)

	return httpReq, nil
}

// recordForward updates the service counters, the request record buffer
// and the Prometheus metrics for one forwarded request.
func (g *Gateway) recordForward(
	req *Request,
	backendID, ruleID string,
	status int,
	latency time.Duration,
	respSize int64,
	err error,
) {
	record := g.newRecord(req, backendID, ruleID, status, latency, respSize, err)
	g.lb.UpdateServiceMetrics(backendID, latency, record.Succeeded())
	g.buffer.add(record)
	g.metrics.RecordRequest(req.Method, ruleID, backendID, status, latency, respSize)
}

// recordRejected records a request that failed before it was sent. The
// backend's own metrics are left alone.
func (g *Gateway) recordRejected(req *Request, backendID, ruleID string, err error) {
	g.buffer.add(g.newRecord(req, backendID, ruleID, 0, 0, 0, err))
	g.metrics.RecordRequest(req.Method, ruleID, backendID, 0, 0, 0)
}

func (g *Gateway) newRecord(
	req *Request,
	backendID, ruleID string,
	status int,
	latency time.Duration,
	respSize int64,
	err error,
) RequestMetrics {
	record := RequestMetrics{
		ID:           uuid.NewString(),
		BackendID:    backendID,
		RuleID:       ruleID,
		Method:       req.Method,
		Path:         req.Path,
		StatusCode:   status,
		Latency:      latency,
		RequestSize:  int64(len(req.Body)),
		ResponseSize: respSize,
		Timestamp:    g.now(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	return record
}

// peerIP strips the port from a peer address.
func peerIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return strings.Trim(remoteAddr, "[]")
}
