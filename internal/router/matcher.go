package router

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// PathMatcher matches a request path.
type PathMatcher interface {
	Match(path string) bool
	Type() string
	Pattern() string
}

// ExactMatcher matches one path exactly.
type ExactMatcher struct {
	path string
}

// NewExactMatcher creates a new exact path matcher.
func NewExactMatcher(path string) *ExactMatcher {
	return &ExactMatcher{path: path}
}

// Match checks if the path matches exactly.
func (m *ExactMatcher) Match(path string) bool {
	return path == m.path
}

// Type returns the matcher type.
func (m *ExactMatcher) Type() string {
	return "exact"
}

// Pattern returns the pattern.
func (m *ExactMatcher) Pattern() string {
	return m.path
}

// WildcardMatcher matches paths against a pattern with one "*", which
// stands for any run of characters, including none and including "/".
type WildcardMatcher struct {
	pattern string
	prefix  string
	suffix  string
}

// NewWildcardMatcher creates a new wildcard path matcher. The pattern must
// contain exactly one "*".
func NewWildcardMatcher(pattern string) (*WildcardMatcher, error) {
	if n := strings.Count(pattern, "*"); n != 1 {
		return nil, fmt.Errorf("wildcard pattern %q must contain exactly one '*', has %d", pattern, n)
	}
	prefix, suffix, _ := strings.Cut(pattern, "*")
	return &WildcardMatcher{pattern: pattern, prefix: prefix, suffix: suffix}, nil
}

// Match checks if the path fits the pattern.
func (m *WildcardMatcher) Match(path string) bool {
	return len(path) >= len(m.prefix)+len(m.suffix) &&
		strings.HasPrefix(path, m.prefix) &&
		strings.HasSuffix(path, m.suffix)
}

// Type returns the matcher type.
func (m *WildcardMatcher) Type() string {
	return "wildcard"
}

// Pattern returns the pattern.
func (m *WildcardMatcher) Pattern() string {
	return m.pattern
}

// CreatePathMatcher returns the matcher for a path pattern, or nil for an
// empty pattern, which matches every path.
func CreatePathMatcher(pattern string) (PathMatcher, error) {
	switch n := strings.Count(pattern, "*"); {
	case pattern == "":
		return nil, nil
	case n == 0:
		return NewExactMatcher(pattern), nil
	case n == 1:
		return NewWildcardMatcher(pattern)
	default:
		return nil, fmt.Errorf("path pattern %q has %d wildcards, at most one is allowed", pattern, n)
	}
}

// MethodMatcher matches an HTTP method case-insensitively.
type MethodMatcher struct {
	method string
}

// NewMethodMatcher creates a method matcher. It returns nil for "" and "*",
// which match every method.
func NewMethodMatcher(method string) *MethodMatcher {
	if method == "" || method == "*" {
		return nil
	}
	return &MethodMatcher{method: strings.ToUpper(method)}
}

// Match checks if the method matches.
func (m *MethodMatcher) Match(method string) bool {
	return strings.EqualFold(m.method, method)
}

// HeaderMatcher matches one header value exactly. The header name is
// compared case-insensitively.
type HeaderMatcher struct {
	name  string
	value string
}

// NewHeaderMatcher creates a header matcher.
func NewHeaderMatcher(name, value string) (*HeaderMatcher, error) {
	if name == "" {
		return nil, fmt.Errorf("header name is required")
	}
	return &HeaderMatcher{name: http.CanonicalHeaderKey(name), value: value}, nil
}

// Match checks if any value of the header equals the expected value.
func (m *HeaderMatcher) Match(headers http.Header) bool {
	for name, values := range headers {
		if !strings.EqualFold(name, m.name) {
			continue
		}
		for _, v := range values {
			if v == m.value {
				return true
			}
		}
	}
	return false
}

// QueryParamMatcher matches one query parameter value exactly.
type QueryParamMatcher struct {
	name  string
	value string
}

// NewQueryParamMatcher creates a query parameter matcher.
func NewQueryParamMatcher(name, value string) (*QueryParamMatcher, error) {
	if name == "" {
		return nil, fmt.Errorf("query parameter name is required")
	}
	return &QueryParamMatcher{name: name, value: value}, nil
}

// Match checks if any value of the parameter equals the expected value.
func (m *QueryParamMatcher) Match(query url.Values) bool {
	for _, v := range query[m.name] {
		if v == m.value {
			return true
		}
	}
	return false
}
