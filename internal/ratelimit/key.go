package ratelimit

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
)

// KeySource names where a rate limit key comes from.
type KeySource string

// Key sources.
const (
	KeySourceIP     KeySource = "ip"
	KeySourceUser   KeySource = "user"
	KeySourceAPIKey KeySource = "api_key"
	KeySourceCustom KeySource = "custom"
)

// Header and query names read by the key extractors.
const (
	HeaderUserID   = "X-User-ID"
	HeaderAPIKey   = "X-API-Key"
	QueryAPIKey    = "api_key"
	headerXFF      = "X-Forwarded-For"
	unknownAddress = "unknown"
)

// ParseKeySource validates a key source name. An empty name means ip.
func ParseKeySource(name string) (KeySource, error) {
	switch s := KeySource(name); s {
	case "":
		return KeySourceIP, nil
	case KeySourceIP, KeySourceUser, KeySourceAPIKey, KeySourceCustom:
		return s, nil
	default:
		return "", fmt.Errorf("unknown key extractor %q", name)
	}
}

// Descriptor is the part of a request key extraction looks at. ClientIP is
// the resolved client address; when empty the peer address is used.
type Descriptor struct {
	Method     string
	Path       string
	Headers    http.Header
	Query      url.Values
	RemoteAddr string
	ClientIP   string
}

// KeyExtractor derives the rate limit key of a request.
type KeyExtractor struct {
	source  KeySource
	program cel.Program
	logger  observability.Logger
}

// NewKeyExtractor creates an extractor for source. For custom extractors
// expression is compiled as CEL over the variables method, path, client_ip,
// headers and query; header names are lower case. The expression must
// produce a string.
func NewKeyExtractor(source KeySource, expression string, logger observability.Logger) (*KeyExtractor, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	e := &KeyExtractor{source: source, logger: logger}
	if source != KeySourceCustom {
		return e, nil
	}

	program, err := compileKeyExpression(expression)
	if err != nil {
		return nil, err
	}
	e.program = program
	return e, nil
}

func newKeyEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("client_ip", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("query", cel.MapType(cel.StringType, cel.StringType)),
	)
}

func compileKeyExpression(expression string) (cel.Program, error) {
	env, err := newKeyEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile key expression: %w", issues.Err())
	}

	out := ast.OutputType()
	if !out.IsExactType(cel.StringType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("key expression must return string, got %s", out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// Source returns the key source.
func (e *KeyExtractor) Source() KeySource {
	return e.source
}

// Extract returns the rate limit key for d. Every source falls back to the
// client address when its own value is missing.
func (e *KeyExtractor) Extract(d Descriptor) string {
	switch e.source {
	case KeySourceUser:
		if v := d.Headers.Get(HeaderUserID); v != "" {
			return v
		}
	case KeySourceAPIKey:
		if v := d.Headers.Get(HeaderAPIKey); v != "" {
			return v
		}
		if v := d.Query.Get(QueryAPIKey); v != "" {
			return v
		}
	case KeySourceCustom:
		if v, err := e.evaluate(d); err != nil {
			e.logger.Warn("custom rate limit key failed, using client address",
				observability.Error(err),
			)
		} else if v != "" {
			return v
		}
	}
	return ClientIP(d)
}

func (e *KeyExtractor) evaluate(d Descriptor) (string, error) {
	if e.program == nil {
		return "", fmt.Errorf("no key expression compiled")
	}

	out, _, err := e.program.Eval(map[string]any{
		"method":    d.Method,
		"path":      d.Path,
		"client_ip": ClientIP(d),
		"headers":   flattenHeaders(d.Headers),
		"query":     flatten(d.Query),
	})
	if err != nil {
		return "", err
	}

	s, ok := out.Value().(string)
	if !ok {
		return "", fmt.Errorf("key expression returned %T, want string", out.Value())
	}
	return s, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

func flatten(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// ClientIP returns the client address of d: the resolved address when set,
// otherwise the peer address without its port. Forwarding headers are never
// read here; see ClientIPResolver.
func ClientIP(d Descriptor) string {
	if d.ClientIP != "" {
		return d.ClientIP
	}
	return peerAddress(d.RemoteAddr)
}
