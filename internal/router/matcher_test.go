package router

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Cases for Path Matchers
// ============================================================================

func TestCreatePathMatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		wantType string
		wantNil  bool
		wantErr  bool
	}{
		{name: "empty", pattern: "", wantNil: true},
		{name: "exact", pattern: "/api/users", wantType: "exact"},
		{name: "prefix wildcard", pattern: "/api/*", wantType: "wildcard"},
		{name: "infix wildcard", pattern: "/api/*/items", wantType: "wildcard"},
		{name: "two wildcards", pattern: "/api/*/items/*", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := CreatePathMatcher(tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tt.wantType, m.Type())
			assert.Equal(t, tt.pattern, m.Pattern())
		})
	}
}

func TestWildcardMatcher_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{pattern: "/api/*", path: "/api/", want: true},
		{pattern: "/api/*", path: "/api/v1/users", want: true},
		{pattern: "/api/*", path: "/api", want: false},
		{pattern: "/api/*/items", path: "/api/42/items", want: true},
		{pattern: "/api/*/items", path: "/api/items", want: false},
		{pattern: "*.png", path: "/img/logo.png", want: true},
		{pattern: "*", path: "/anything", want: true},
		{pattern: "/a*a", path: "/a", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			t.Parallel()

			m, err := NewWildcardMatcher(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match(tt.path))
		})
	}
}

func TestNewWildcardMatcher_RequiresOneStar(t *testing.T) {
	t.Parallel()

	_, err := NewWildcardMatcher("/api")
	assert.Error(t, err)
}

// ============================================================================
// Test Cases for Method, Header and Query Matchers
// ============================================================================

func TestMethodMatcher(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewMethodMatcher(""))
	assert.Nil(t, NewMethodMatcher("*"))

	m := NewMethodMatcher("post")
	require.NotNil(t, m)
	assert.True(t, m.Match("POST"))
	assert.True(t, m.Match("post"))
	assert.False(t, m.Match("GET"))
}

func TestHeaderMatcher(t *testing.T) {
	t.Parallel()

	m, err := NewHeaderMatcher("x-version", "2")
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers http.Header
		want    bool
	}{
		{name: "canonical name", headers: http.Header{"X-Version": {"2"}}, want: true},
		{name: "lower case name", headers: http.Header{"x-version": {"2"}}, want: true},
		{name: "second value", headers: http.Header{"X-Version": {"1", "2"}}, want: true},
		{name: "wrong value", headers: http.Header{"X-Version": {"3"}}, want: false},
		{name: "missing", headers: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, m.Match(tt.headers))
		})
	}
}

func TestQueryParamMatcher(t *testing.T) {
	t.Parallel()

	m, err := NewQueryParamMatcher("region", "eu")
	require.NoError(t, err)

	assert.True(t, m.Match(url.Values{"region": {"eu"}}))
	assert.False(t, m.Match(url.Values{"region": {"EU"}}))
	assert.False(t, m.Match(url.Values{"Region": {"eu"}}))
	assert.False(t, m.Match(nil))
}
