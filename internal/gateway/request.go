package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vyrodovalexey/trafficgw/internal/backend"
	"github.com/vyrodovalexey/trafficgw/internal/ratelimit"
)

// ErrBodyTooLarge is returned when a request body exceeds the configured limit.
var ErrBodyTooLarge = errors.New("request body too large")

// Request is the inbound request the gateway routes and forwards.
type Request struct {
	ID         string
	Method     string
	Path       string
	Host       string
	Headers    http.Header
	Query      url.Values
	Body       []byte
	RemoteAddr string
	TLS        bool
}

// NewRequestFromHTTP reads r into a Request. The body is read fully and
// rejected with ErrBodyTooLarge when it exceeds maxBody bytes.
func NewRequestFromHTTP(r *http.Request, maxBody int64) (*Request, error) {
	req := &Request{
		ID:         r.Header.Get(HeaderRequestID),
		Method:     r.Method,
		Path:       r.URL.Path,
		Host:       r.Host,
		Headers:    r.Header.Clone(),
		Query:      r.URL.Query(),
		RemoteAddr: r.RemoteAddr,
		TLS:        r.TLS != nil,
	}

	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > maxBody {
		return nil, ErrBodyTooLarge
	}
	req.Body = body
	return req, nil
}

// descriptor returns the parts of the request rate limit keys are built from.
func (r *Request) descriptor() ratelimit.Descriptor {
	return ratelimit.Descriptor{
		Method:     r.Method,
		Path:       r.Path,
		Headers:    r.Headers,
		Query:      r.Query,
		RemoteAddr: r.RemoteAddr,
	}
}

// Response is a backend response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	BackendID  string
	Latency    time.Duration
}

// RouteContext describes how a request was routed.
type RouteContext struct {
	RuleID    string            `json:"ruleId"`
	RuleName  string            `json:"ruleName,omitempty"`
	Targets   []string          `json:"targets"`
	ClientID  string            `json:"clientId"`
	BackendID string            `json:"backendId"`
	Algorithm backend.Algorithm `json:"algorithm"`
}
