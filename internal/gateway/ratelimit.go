package gateway

import (
	"context"
	"net/http"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/ratelimit"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// CheckRateLimits checks req against ruleIDs in order. The first denial
// stops the evaluation and is returned as *util.RateLimitError. When every
// rule allows the request the most restrictive result is returned, or nil
// when no rule was evaluated.
func (g *Gateway) CheckRateLimits(ctx context.Context, ruleIDs []string, req *Request) (*ratelimit.Result, error) {
	d := req.descriptor()
	d.ClientIP = g.clientIP(req)
	now := g.now()

	var tightest *ratelimit.Result
	for _, ruleID := range ruleIDs {
		key := g.limiter.ExtractKey(ruleID, d)
		result := g.limiter.CheckRateLimit(ruleID, key, now)
		if result.Algorithm == "" {
			continue
		}

		g.stats.Record(ctx, ruleID, result.Allowed)

		if !result.Allowed {
			g.logger.WithContext(ctx).Info("request rate limited",
				observability.String("rule", ruleID),
				observability.String("key", key),
				observability.String("algorithm", string(result.Algorithm)),
				observability.Duration("retry_after", result.RetryAfter),
			)
			return result, rateLimitError(result)
		}

		if tightest == nil || result.Remaining < tightest.Remaining {
			tightest = result
		}
	}

	return tightest, nil
}

func rateLimitError(result *ratelimit.Result) *util.RateLimitError {
	err := util.NewRateLimitError(result.RuleID, string(result.Algorithm), result.Limit, result.RetryAfter)
	err.Remaining = result.Remaining
	err.ResetAfter = result.ResetAfter
	return err
}

// RateLimitHeaders returns the response headers for a denied request.
func RateLimitHeaders(err *util.RateLimitError) http.Header {
	if err == nil {
		return http.Header{}
	}
	result := &ratelimit.Result{
		Allowed:    false,
		Algorithm:  ratelimit.Algorithm(err.Algorithm),
		RuleID:     err.Rule,
		Limit:      err.Limit,
		Remaining:  err.Remaining,
		ResetAfter: err.ResetAfter,
		RetryAfter: err.RetryAfter,
	}
	return result.Headers()
}
