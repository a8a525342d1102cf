package stats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
)

// Redis sink default configuration constants.
const (
	// DefaultPrefix is the default key prefix.
	DefaultPrefix = "trafficgw:stats"

	// DefaultBreakerTimeout is how long the breaker stays open before it
	// lets a trial request through.
	DefaultBreakerTimeout = 30 * time.Second

	// DefaultBreakerFailures is the number of consecutive failures that
	// opens the breaker.
	DefaultBreakerFailures = 3

	fieldAllowed = "allowed"
	fieldDenied  = "denied"
)

// RedisConfig holds the connection settings of the Redis sink.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	Prefix       string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
}

// RedisSink stores counts in Redis hashes, one per rule, plus a set of
// known rule IDs. Calls go through a circuit breaker; decisions recorded
// while Redis is unavailable are kept in a memory sink and added to every
// snapshot.
type RedisSink struct {
	client   *redis.Client
	prefix   string
	breaker  *gobreaker.CircuitBreaker
	fallback *MemorySink
	logger   observability.Logger

	breakerTimeout  time.Duration
	breakerFailures uint32
}

// RedisSinkOption is a functional option for configuring the Redis sink.
type RedisSinkOption func(*RedisSink)

// WithSinkLogger sets the logger for the sink.
func WithSinkLogger(logger observability.Logger) RedisSinkOption {
	return func(s *RedisSink) {
		s.logger = logger
	}
}

// WithBreaker sets the breaker's open timeout and the number of consecutive
// failures that opens it.
func WithBreaker(timeout time.Duration, failures uint32) RedisSinkOption {
	return func(s *RedisSink) {
		if timeout > 0 {
			s.breakerTimeout = timeout
		}
		if failures > 0 {
			s.breakerFailures = failures
		}
	}
}

// NewRedisSink connects to Redis and verifies the connection with PING.
func NewRedisSink(ctx context.Context, cfg RedisConfig, opts ...RedisSinkOption) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}

	s := &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Address,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
		}),
		prefix:          strings.TrimSuffix(cfg.Prefix, ":"),
		fallback:        NewMemorySink(),
		logger:          observability.NopLogger(),
		breakerTimeout:  DefaultBreakerTimeout,
		breakerFailures: DefaultBreakerFailures,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-stats",
		Timeout: s.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return s, nil
}

func (s *RedisSink) ruleKey(ruleID string) string {
	return s.prefix + ":rule:" + ruleID
}

func (s *RedisSink) rulesKey() string {
	return s.prefix + ":rules"
}

// Record implements Sink.
func (s *RedisSink) Record(ctx context.Context, ruleID string, allowed bool) {
	field := fieldDenied
	if allowed {
		field = fieldAllowed
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		pipe := s.client.Pipeline()
		pipe.SAdd(ctx, s.rulesKey(), ruleID)
		pipe.HIncrBy(ctx, s.ruleKey(ruleID), field, 1)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		s.fallback.Record(ctx, ruleID, allowed)
		s.logger.Debug("redis stats write failed, kept in memory",
			observability.String("rule", ruleID),
			observability.Error(err),
		)
	}
}

// Snapshot implements Sink. When Redis cannot be read, the snapshot holds
// only the counts kept in memory and the error is returned alongside it.
func (s *RedisSink) Snapshot(ctx context.Context) (map[string]Counts, error) {
	out, _ := s.fallback.Snapshot(ctx)

	remote, err := s.breaker.Execute(func() (interface{}, error) {
		return s.readAll(ctx)
	})
	if err != nil {
		return out, fmt.Errorf("failed to read redis stats: %w", err)
	}

	for id, c := range remote.(map[string]Counts) {
		local := out[id]
		out[id] = Counts{
			Allowed: local.Allowed + c.Allowed,
			Denied:  local.Denied + c.Denied,
		}
	}
	return out, nil
}

func (s *RedisSink) readAll(ctx context.Context) (map[string]Counts, error) {
	ids, err := s.client.SMembers(ctx, s.rulesKey()).Result()
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, s.ruleKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	out := make(map[string]Counts, len(ids))
	for id, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		allowed, _ := strconv.ParseInt(fields[fieldAllowed], 10, 64)
		denied, _ := strconv.ParseInt(fields[fieldDenied], 10, 64)
		out[id] = Counts{Allowed: allowed, Denied: denied}
	}
	return out, nil
}

// State returns the breaker state.
func (s *RedisSink) State() gobreaker.State {
	return s.breaker.State()
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
