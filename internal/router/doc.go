// Package router matches requests against prioritized routing rules.
//
// A rule matches when every condition it sets holds: the method (case
// insensitive, "*" for any), the path (exact, or a pattern with a single
// "*" standing for any run of characters), header values and query values.
// Among matching enabled rules the highest priority wins; rules with equal
// priority are tried in registration order.
package router
