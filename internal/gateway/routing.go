package gateway

import (
	"context"

	"github.com/vyrodovalexey/trafficgw/internal/backend"
	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// RouteRequest finds the routing rule for req and selects one of its
// targets. The selected service holds a connection that the caller must
// return with LoadBalancer().ReleaseConnection. Errors are
// *util.RouteNotFoundError and *util.NoHealthyBackendError.
func (g *Gateway) RouteRequest(ctx context.Context, req *Request) (*backend.Service, *RouteContext, error) {
	rule, err := g.router.FindMatchingRule(req.Method, req.Path, req.Headers, req.Query)
	if err != nil {
		g.logger.WithContext(ctx).Debug("no routing rule matched",
			observability.String("method", req.Method),
			observability.String("path", req.Path),
		)
		return nil, nil, err
	}

	var candidates []string
	if len(rule.Targets) > 0 {
		candidates = rule.Targets
	}

	clientID := g.clientIP(req)
	svc := g.lb.SelectService(backend.SelectRequest{
		Path:       req.Path,
		Method:     req.Method,
		ClientID:   clientID,
		Rule:       rule.ID,
		Candidates: candidates,
		Weights:    rule.Weights,
	})
	if svc == nil {
		return nil, nil, util.NewNoHealthyBackendError(rule.ID, rule.Targets)
	}

	return svc, &RouteContext{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Targets:   rule.Targets,
		ClientID:  clientID,
		BackendID: svc.ID(),
		Algorithm: g.lb.Algorithm(),
	}, nil
}

// clientIP resolves the client address of req, honouring X-Forwarded-For
// only from trusted proxies.
func (g *Gateway) clientIP(req *Request) string {
	return g.clientIPs.Load().Resolve(req.RemoteAddr, req.Headers)
}
