package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/datasync/common/logger"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Result contains the result of a rate limit check
type Result struct {
	Allowed      bool          // Whether the request is allowed
	CurrentCount int64         // Current count in the window
	Limit        int64         // The limit that was checked
	RetryAfter   time.Duration // Time until the window resets (0 if allowed)
}

// Checker counts one hit against key and reports whether it fits the limit
type Checker interface {
	Check(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error)
}

// RedisLimiter shares counters across replicas using Redis + Lua
type RedisLimiter struct {
	redis  *redis.Client
	script *redis.Script
	log    *logger.Logger
}

// NewRedisLimiter creates a limiter with the embedded Lua script
func NewRedisLimiter(redisClient *redis.Client, log *logger.Logger) *RedisLimiter {
	return &RedisLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		log:    log,
	}
}

// Check executes the rate limit script atomically
func (r *RedisLimiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error) {
	raw, err := r.script.Run(ctx, r.redis, []string{"rate_limit:" + key}, limit, window.Milliseconds()).Result()
	if err != nil {
		r.log.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	result, err := parseScriptResult(raw)
	if err != nil {
		return nil, err
	}
	logResult(r.log, key, result)
	return result, nil
}

// parseScriptResult decodes {allowed, current_count, limit, retry_after_ms}
func parseScriptResult(raw interface{}) (*Result, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected script result format: %v", raw)
	}
	ints := make([]int64, 4)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script result element %d: %T", i, v)
		}
		ints[i] = n
	}
	return &Result{
		Allowed:      ints[0] == 1,
		CurrentCount: ints[1],
		Limit:        ints[2],
		RetryAfter:   time.Duration(ints[3]) * time.Millisecond,
	}, nil
}

// MemoryLimiter keeps fixed-window counters in process. It serves a
// single replica running without Redis.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	log     *logger.Logger
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter(log *logger.Logger) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
		log:     log,
	}
}

// Check counts one hit against key
func (m *MemoryLimiter) Check(ctx context.Context, key string, limit int64, d time.Duration) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		m.prune(now)
		w = &window{resetAt: now.Add(d)}
		m.windows[key] = w
	}
	w.count++

	result := &Result{Allowed: w.count <= limit, CurrentCount: w.count, Limit: limit}
	if !result.Allowed {
		result.RetryAfter = w.resetAt.Sub(now)
	}
	logResult(m.log, key, result)
	return result, nil
}

// prune drops expired windows; callers hold mu
func (m *MemoryLimiter) prune(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}

func logResult(log *logger.Logger, key string, result *Result) {
	if !result.Allowed {
		log.Warn("rate limit exceeded",
			"key", key,
			"current", result.CurrentCount,
			"limit", result.Limit,
			"retry_after", result.RetryAfter)
		return
	}
	log.Debug("rate limit check passed",
		"key", key,
		"current", result.CurrentCount,
		"limit", result.Limit)
}
