// Package util provides utility functions and types shared by the
// traffic gateway packages.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrRateLimited.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., RateLimitError, BackendError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// The four request-path failures map onto these types:
//
//   - NoHealthyBackendError: empty candidate set (503)
//   - RateLimitError: admission denied (429)
//   - RouteNotFoundError: no routing rule matched (404)
//   - BackendError: transport failure while forwarding (502/504)
//
// # Context Helpers
//
//	ctx = util.ContextWithRequestID(ctx, "req-123")
//	requestID := util.RequestIDFromContext(ctx)
package util
