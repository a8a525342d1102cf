package gateway

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// Handle runs the full pipeline for req: rate limit checks over the active
// rules, routing, backend selection and forwarding. The selected backend's
// connection is always released. Rate limit headers of the most
// restrictive rule are added to the response.
func (g *Gateway) Handle(ctx context.Context, req *Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx = util.ContextWithRequestID(ctx, req.ID)

	ctx, span := g.tracer.StartSpan(ctx, "gateway.handle",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("trafficgw.request_id", req.ID),
		),
	)
	defer span.End()

	g.metrics.IncrementActiveRequests()
	defer g.metrics.DecrementActiveRequests()

	limit, err := g.CheckRateLimits(ctx, g.limiter.ActiveRuleIDs(), req)
	if err != nil {
		span.SetStatus(codes.Error, "rate limited")
		return nil, err
	}

	svc, route, err := g.RouteRequest(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer g.lb.ReleaseConnection(svc.ID())

	span.SetAttributes(
		attribute.String("trafficgw.rule", route.RuleID),
		attribute.String("trafficgw.backend", route.BackendID),
	)
	ctx = util.ContextWithRule(ctx, route.RuleID)
	ctx = util.ContextWithBackend(ctx, route.BackendID)

	resp, err := g.ForwardRequest(ctx, svc, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for name, values := range limit.Headers() {
		resp.Headers[name] = values
	}

	g.logger.WithContext(ctx).Debug("request forwarded",
		observability.String("rule", route.RuleID),
		observability.String("backend", route.BackendID),
		observability.Int("status", resp.StatusCode),
		observability.Duration("latency", resp.Latency),
	)

	return resp, nil
}
