package router

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/trafficgw/internal/util"
)

func rule(id string, priority int, match Match, targets ...string) Rule {
	return Rule{
		ID:       id,
		Match:    match,
		Targets:  targets,
		Priority: priority,
		Enabled:  true,
	}
}

// ============================================================================
// Test Cases for Router - AddRule
// ============================================================================

func TestRouter_AddRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{name: "exact path", rule: rule("a", 0, Match{Path: "/users"})},
		{name: "wildcard path", rule: rule("a", 0, Match{Path: "/users/*"})},
		{name: "empty path", rule: rule("a", 0, Match{})},
		{name: "two wildcards", rule: rule("a", 0, Match{Path: "/*/users/*"}), wantErr: true},
		{name: "empty id", rule: rule("", 0, Match{}), wantErr: true},
		{name: "empty header name", rule: rule("a", 0, Match{Headers: map[string]string{"": "x"}}), wantErr: true},
		{name: "empty query name", rule: rule("a", 0, Match{Query: map[string]string{"": "x"}}), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := New().AddRule(tt.rule)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, util.ErrConfigInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRouter_AddRule_Duplicate(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.AddRule(rule("a", 0, Match{})))
	assert.Error(t, r.AddRule(rule("a", 1, Match{})))
	assert.Len(t, r.Rules(), 1)
}

// ============================================================================
// Test Cases for Router - FindMatchingRule
// ============================================================================

func TestRouter_FindMatchingRule(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.AddRule(rule("users-get", 10, Match{Method: "get", Path: "/users/*"}, "users")))
	require.NoError(t, r.AddRule(rule("tenant", 20, Match{
		Path:    "/users/*",
		Headers: map[string]string{"x-tenant": "acme"},
	}, "acme")))
	require.NoError(t, r.AddRule(rule("beta", 15, Match{
		Path:  "/users/*",
		Query: map[string]string{"beta": "1"},
	}, "beta")))
	require.NoError(t, r.AddRule(rule("json", 5, Match{Path: "*.json"}, "static")))
	require.NoError(t, r.AddRule(rule("exact", 5, Match{Path: "/health"}, "health")))
	require.NoError(t, r.AddRule(rule("catch-all", 0, Match{Path: "*"}, "default")))

	tests := []struct {
		name    string
		method  string
		path    string
		headers http.Header
		query   url.Values
		want    string
	}{
		{name: "method is case insensitive", method: "GET", path: "/users/1", want: "users-get"},
		{name: "wildcard matches nested path", method: "GET", path: "/users/1/orders", want: "users-get"},
		{name: "wildcard matches empty rest", method: "GET", path: "/users/", want: "users-get"},
		{name: "wildcard needs prefix", method: "GET", path: "/users", want: "catch-all"},
		{name: "method mismatch", method: "POST", path: "/users/1", want: "catch-all"},
		{
			name:    "header match has priority",
			method:  "GET",
			path:    "/users/1",
			headers: http.Header{"X-Tenant": {"acme"}},
			want:    "tenant",
		},
		{
			name:    "header value is exact",
			method:  "GET",
			path:    "/users/1",
			headers: http.Header{"X-Tenant": {"ACME"}},
			want:    "users-get",
		},
		{
			name:   "query match",
			method: "GET",
			path:   "/users/1",
			query:  url.Values{"beta": {"1"}},
			want:   "beta",
		},
		{name: "suffix wildcard", method: "GET", path: "/assets/app.json", want: "json"},
		{name: "exact path", method: "GET", path: "/health", want: "exact"},
		{name: "exact path does not match longer path", method: "GET", path: "/health/live", want: "catch-all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := r.FindMatchingRule(tt.method, tt.path, tt.headers, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestRouter_FindMatchingRule_NotFound(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.AddRule(rule("a", 0, Match{Path: "/a"})))

	_, err := r.FindMatchingRule("GET", "/b", nil, nil)
	require.Error(t, err)

	var notFound *util.RouteNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "/b", notFound.Path)
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestRouter_FindMatchingRule_PriorityAndTies(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.AddRule(rule("low", 1, Match{Path: "/x"})))
	require.NoError(t, r.AddRule(rule("first", 5, Match{Path: "/x"})))
	require.NoError(t, r.AddRule(rule("second", 5, Match{Path: "/x"})))

	got, err := r.FindMatchingRule("GET", "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", got.ID)
}

func TestRouter_FindMatchingRule_DisabledNeverMatches(t *testing.T) {
	t.Parallel()

	disabled := rule("disabled", 100, Match{Path: "/x"})
	disabled.Enabled = false

	r := New()
	require.NoError(t, r.AddRule(disabled))
	require.NoError(t, r.AddRule(rule("enabled", 1, Match{Path: "/x"})))

	got, err := r.FindMatchingRule("GET", "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "enabled", got.ID)
	assert.Equal(t, 1, r.ActiveCount())

	require.True(t, r.RemoveRule("enabled"))
	_, err = r.FindMatchingRule("GET", "/x", nil, nil)
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestRouter_ReturnedRuleIsACopy(t *testing.T) {
	t.Parallel()

	r := New()
	orig := rule("a", 0, Match{}, "svc-1")
	orig.Weights = map[string]int{"svc-1": 3}
	require.NoError(t, r.AddRule(orig))

	got, err := r.FindMatchingRule("GET", "/", nil, nil)
	require.NoError(t, err)
	got.Targets[0] = "changed"
	got.Weights["svc-1"] = 99

	stored, ok := r.Rule("a")
	require.True(t, ok)
	assert.Equal(t, []string{"svc-1"}, stored.Targets)
	assert.Equal(t, 3, stored.Weights["svc-1"])
}

// ============================================================================
// Test Cases for Router - RemoveRule / LoadRules
// ============================================================================

func TestRouter_RemoveRule(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.AddRule(rule("a", 0, Match{})))

	assert.True(t, r.RemoveRule("a"))
	assert.False(t, r.RemoveRule("a"))
	assert.Empty(t, r.Rules())
}

func TestRouter_LoadRules(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.AddRule(rule("old", 0, Match{})))

	require.NoError(t, r.LoadRules([]Rule{
		rule("b", 1, Match{Path: "/b"}),
		rule("c", 2, Match{Path: "/c"}),
	}))

	rules := r.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "c", rules[0].ID)
	assert.Equal(t, "b", rules[1].ID)

	_, ok := r.Rule("old")
	assert.False(t, ok)
}

func TestRouter_LoadRules_KeepsPreviousOnError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules []Rule
	}{
		{
			name:  "invalid pattern",
			rules: []Rule{rule("x", 0, Match{Path: "/**"})},
		},
		{
			name:  "duplicate id",
			rules: []Rule{rule("x", 0, Match{}), rule("x", 1, Match{})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := New()
			require.NoError(t, r.AddRule(rule("keep", 0, Match{})))

			assert.Error(t, r.LoadRules(tt.rules))

			_, ok := r.Rule("keep")
			assert.True(t, ok)
			assert.Len(t, r.Rules(), 1)
		})
	}
}
