// Package ratelimit limits how fast each student can drive the runtime.
//
// Two Limiter implementations share one contract: MemoryLimiter, a per-process
// token bucket, and RedisLimiter, a sliding window shared by every instance
// pointed at the same Redis.
package ratelimit

import (
	"context"
	"strconv"
	"time"
)

// Rule is a limit of Limit requests per Window. Prefix namespaces the keys
// so several rules can count the same caller independently.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// RuleFromRate converts a sustained rate and burst into a Rule: burst
// requests are allowed per the time it takes to earn them back at rps.
func RuleFromRate(prefix string, rps float64, burst int) Rule {
	if rps <= 0 || burst <= 0 {
		return Rule{Prefix: prefix}
	}
	return Rule{
		Prefix: prefix,
		Limit:  burst,
		Window: time.Duration(float64(burst) / rps * float64(time.Second)),
	}
}

// Enabled reports whether the rule limits anything.
func (r Rule) Enabled() bool { return r.Limit > 0 && r.Window > 0 }

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// FormatHeaders returns the X-RateLimit-* response headers for r.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
}

// Limiter decides whether a request identified by key may proceed under rule.
// Implementations must be safe for concurrent use and fail open: a backend
// malfunction allows the request.
type Limiter interface {
	Allow(ctx context.Context, rule Rule, key string) Result
	Close() error
}

// allowAll is the Result of a disabled rule or a failed backend.
func allowAll(rule Rule) Result {
	return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: time.Now().Add(rule.Window)}
}
