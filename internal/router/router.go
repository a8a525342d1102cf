package router

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// Match holds the conditions of a routing rule. Empty fields match
// everything.
type Match struct {
	Method  string            `json:"method,omitempty"`
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
}

// Rule is a routing rule: the conditions a request must meet and the
// backend services it may be sent to, in order.
type Rule struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Match    Match          `json:"match"`
	Targets  []string       `json:"targets"`
	Priority int            `json:"priority"`
	Weights  map[string]int `json:"weights,omitempty"`
	Enabled  bool           `json:"enabled"`
}

// compiledRule is a rule with its matchers built once.
type compiledRule struct {
	rule    Rule
	seq     int
	path    PathMatcher
	method  *MethodMatcher
	headers []*HeaderMatcher
	query   []*QueryParamMatcher
}

// Router holds the routing rules, ordered for matching.
type Router struct {
	mu     sync.RWMutex
	rules  []*compiledRule
	byID   map[string]*compiledRule
	seq    int
	logger observability.Logger
}

// Option is a functional option for configuring the router.
type Option func(*Router)

// WithLogger sets the logger for the router.
func WithLogger(logger observability.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// New creates a router with no rules.
func New(opts ...Option) *Router {
	r := &Router{
		byID:   make(map[string]*compiledRule),
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// AddRule compiles and adds a rule. Duplicate IDs and path patterns with
// more than one "*" are rejected.
func (r *Router) AddRule(rule Rule) error {
	compiled, err := compileRule(rule)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(compiled)
}

func (r *Router) addLocked(compiled *compiledRule) error {
	id := compiled.rule.ID
	if _, exists := r.byID[id]; exists {
		return util.NewConfigError("id", fmt.Sprintf("duplicate routing rule: %s", id))
	}

	r.seq++
	compiled.seq = r.seq
	r.rules = append(r.rules, compiled)
	r.byID[id] = compiled
	r.sortLocked()

	r.logger.Debug("routing rule added",
		observability.String("rule", id),
		observability.Int("priority", compiled.rule.Priority),
		observability.Strings("targets", compiled.rule.Targets),
	)
	return nil
}

// sortLocked orders rules by priority, highest first, then by
// registration order.
func (r *Router) sortLocked() {
	sort.SliceStable(r.rules, func(i, j int) bool {
		if r.rules[i].rule.Priority != r.rules[j].rule.Priority {
			return r.rules[i].rule.Priority > r.rules[j].rule.Priority
		}
		return r.rules[i].seq < r.rules[j].seq
	})
}

func compileRule(rule Rule) (*compiledRule, error) {
	if rule.ID == "" {
		return nil, util.NewConfigError("id", "routing rule id cannot be empty")
	}

	path, err := CreatePathMatcher(rule.Match.Path)
	if err != nil {
		return nil, util.NewConfigErrorWithCause("match.path", "invalid path pattern", err)
	}

	compiled := &compiledRule{
		rule:   cloneRule(rule),
		path:   path,
		method: NewMethodMatcher(rule.Match.Method),
	}

	for name, value := range rule.Match.Headers {
		m, err := NewHeaderMatcher(name, value)
		if err != nil {
			return nil, util.NewConfigErrorWithCause("match.headers", "invalid header match", err)
		}
		compiled.headers = append(compiled.headers, m)
	}

	for name, value := range rule.Match.Query {
		m, err := NewQueryParamMatcher(name, value)
		if err != nil {
			return nil, util.NewConfigErrorWithCause("match.query", "invalid query match", err)
		}
		compiled.query = append(compiled.query, m)
	}

	return compiled, nil
}

// RemoveRule removes a rule. It reports whether the rule existed.
func (r *Router) RemoveRule(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; !exists {
		return false
	}
	delete(r.byID, id)

	for i, c := range r.rules {
		if c.rule.ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			break
		}
	}

	r.logger.Debug("routing rule removed", observability.String("rule", id))
	return true
}

// FindMatchingRule returns the highest priority enabled rule matching the
// request, or a *util.RouteNotFoundError.
func (r *Router) FindMatchingRule(method, path string, headers http.Header, query url.Values) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.rules {
		if c.rule.Enabled && c.matches(method, path, headers, query) {
			rule := cloneRule(c.rule)
			return &rule, nil
		}
	}

	return nil, util.NewRouteNotFoundError(method, path)
}

func (c *compiledRule) matches(method, path string, headers http.Header, query url.Values) bool {
	if c.method != nil && !c.method.Match(method) {
		return false
	}
	if c.path != nil && !c.path.Match(path) {
		return false
	}
	for _, m := range c.headers {
		if !m.Match(headers) {
			return false
		}
	}
	for _, m := range c.query {
		if !m.Match(query) {
			return false
		}
	}
	return true
}

// Rule returns the rule with the given ID.
func (r *Router) Rule(id string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	if !ok {
		return Rule{}, false
	}
	return cloneRule(c.rule), true
}

// Rules returns every rule in matching order.
func (r *Router) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.rules))
	for _, c := range r.rules {
		out = append(out, cloneRule(c.rule))
	}
	return out
}

// ActiveCount returns the number of enabled rules.
func (r *Router) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.rules {
		if c.rule.Enabled {
			n++
		}
	}
	return n
}

// LoadRules replaces every rule. On error the previous rules stay in place.
func (r *Router) LoadRules(rules []Rule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	for _, rule := range rules {
		c, err := compileRule(rule)
		if err != nil {
			return fmt.Errorf("routing rule %s: %w", rule.ID, err)
		}
		compiled = append(compiled, c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prevRules, prevByID, prevSeq := r.rules, r.byID, r.seq
	r.rules = nil
	r.byID = make(map[string]*compiledRule, len(compiled))
	r.seq = 0

	for _, c := range compiled {
		if err := r.addLocked(c); err != nil {
			r.rules, r.byID, r.seq = prevRules, prevByID, prevSeq
			return err
		}
	}
	return nil
}

func cloneRule(rule Rule) Rule {
	out := rule
	out.Targets = append([]string(nil), rule.Targets...)
	out.Match.Headers = maps.Clone(rule.Match.Headers)
	out.Match.Query = maps.Clone(rule.Match.Query)
	out.Weights = maps.Clone(rule.Weights)
	return out
}
