package util

import (
	"context"
)

// Context keys.
type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyRule      ctxKey = "routing_rule"
	ctxKeyBackend   ctxKey = "backend"
)

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// ContextWithRule adds the matched routing rule ID to the context.
func ContextWithRule(ctx context.Context, rule string) context.Context {
	return context.WithValue(ctx, ctxKeyRule, rule)
}

// RuleFromContext extracts the matched routing rule ID from context.
func RuleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRule).(string); ok {
		return v
	}
	return ""
}

// ContextWithBackend adds a backend service ID to the context.
func ContextWithBackend(ctx context.Context, backend string) context.Context {
	return context.WithValue(ctx, ctxKeyBackend, backend)
}

// BackendFromContext extracts the backend service ID from context.
func BackendFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyBackend).(string); ok {
		return v
	}
	return ""
}
