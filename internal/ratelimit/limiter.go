// Package ratelimit implements cache-backed fixed-window admission control.
//
// Counters live in the shared cache so limits hold across all service
// instances. Each counter key is created on the first request in a window
// and expires at the window end; increment and window arming run as one
// cache-side script, so a counter can never be left without a TTL.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Counter is the slice of the cache client the limiter consumes.
type Counter interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	Decr(ctx context.Context, key string) (int64, error)
}

// Policy is one admission-control class: a window, a cap, and the error
// code surfaced on breach.
type Policy struct {
	Name   string
	Window time.Duration
	Max    int
	Code   string

	// RefundOnSuccess refunds the admission slot when the request
	// ultimately succeeds, so only failed attempts count toward the cap.
	RefundOnSuccess bool
}

// The admission policies in front of the auth API (window, max-count pairs).
var (
	General       = Policy{Name: "general", Window: 15 * time.Minute, Max: 100, Code: "rate_limited"}
	Auth          = Policy{Name: "auth", Window: 15 * time.Minute, Max: 5, Code: "rate_limited_auth", RefundOnSuccess: true}
	PasswordReset = Policy{Name: "password_reset", Window: 60 * time.Minute, Max: 3, Code: "rate_limited_password_reset"}
)

// Result reports an admission decision plus the standard rate-limit header
// values.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the time until the current window expires.
	Reset time.Duration
}

// Limiter evaluates policies against the shared counter store.
type Limiter struct {
	counter Counter
}

// NewLimiter wraps a counter store.
func NewLimiter(c Counter) *Limiter {
	return &Limiter{counter: c}
}

func counterKey(p Policy, subject string) string {
	return "ratelimit:" + p.Name + ":" + subject
}

// fixedWindowScript increments KEYS[1] and arms the window TTL (ARGV[1],
// milliseconds) in one atomic step. The PTTL branch also re-arms a counter
// that somehow lost its expiry, so no subject can be locked out forever.
// Returns {count, remaining window in milliseconds}.
const fixedWindowScript = `
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`

// Allow admits or rejects one request for subject under policy p.
func (l *Limiter) Allow(ctx context.Context, p Policy, subject string) (Result, error) {
	key := counterKey(p, subject)

	res, err := l.counter.Eval(ctx, fixedWindowScript, []string{key}, p.Window.Milliseconds())
	if err != nil {
		return Result{}, err
	}
	n, reset, err := parseWindowReply(res, p.Window)
	if err != nil {
		return Result{}, err
	}

	remaining := p.Max - int(n)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   n <= int64(p.Max),
		Limit:     p.Max,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

func parseWindowReply(res any, window time.Duration) (int64, time.Duration, error) {
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("ratelimit: unexpected script reply %T", res)
	}
	n, ok := vals[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("ratelimit: unexpected count %T", vals[0])
	}
	reset := window
	if pttl, ok := vals[1].(int64); ok && pttl > 0 {
		reset = time.Duration(pttl) * time.Millisecond
	}
	return n, reset, nil
}

// Refund returns one admission slot for subject (policies with
// RefundOnSuccess exclude successful requests from the count).
func (l *Limiter) Refund(ctx context.Context, p Policy, subject string) error {
	_, err := l.counter.Decr(ctx, counterKey(p, subject))
	return err
}

// ResetSeconds formats a Reset duration for the RateLimit-Reset header,
// rounding up so clients never retry early.
func (r Result) ResetSeconds() string {
	secs := int64(r.Reset.Seconds())
	if r.Reset > time.Duration(secs)*time.Second {
		secs++
	}
	if secs < 0 {
		secs = 0
	}
	return strconv.FormatInt(secs, 10)
}
