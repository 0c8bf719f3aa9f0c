package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCounter emulates the cache side of the fixed-window script: an
// increment plus window arming in one step, like the real store.
type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCounter) Eval(_ context.Context, _ string, keys []string, args ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keys[0]
	f.counts[key]++
	if _, armed := f.ttls[key]; f.counts[key] == 1 || !armed {
		f.ttls[key] = time.Duration(args[0].(int64)) * time.Millisecond
	}
	return []any{f.counts[key], f.ttls[key].Milliseconds()}, nil
}

func (f *fakeCounter) Decr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]--
	return f.counts[key], nil
}

// expireWindow simulates the cache dropping an expired counter.
func (f *fakeCounter) expireWindow(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, key)
	delete(f.ttls, key)
}

// dropTTL simulates a counter that lost its expiry without losing its value.
func (f *fakeCounter) dropTTL(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ttls, key)
}

func TestAllowWithinWindow(t *testing.T) {
	t.Parallel()

	fc := newFakeCounter()
	l := NewLimiter(fc)
	ctx := context.Background()

	p := Policy{Name: "test", Window: time.Minute, Max: 3, Code: "rate_limited"}

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, p, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 3, res.Limit)
	}

	// Nth+1 request in the same window is rejected.
	res, err := l.Allow(ctx, p, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	// A different subject is unaffected.
	res, err = l.Allow(ctx, p, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFreshWindowAdmitsAgain(t *testing.T) {
	t.Parallel()

	fc := newFakeCounter()
	l := NewLimiter(fc)
	ctx := context.Background()

	p := Policy{Name: "test", Window: time.Minute, Max: 1, Code: "rate_limited"}

	res, err := l.Allow(ctx, p, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, p, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	fc.expireWindow(counterKey(p, "1.2.3.4"))

	res, err = l.Allow(ctx, p, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRefundExcludesSuccessesFromCount(t *testing.T) {
	t.Parallel()

	fc := newFakeCounter()
	l := NewLimiter(fc)
	ctx := context.Background()

	p := Auth // RefundOnSuccess

	// max successful logins + refunds never exhaust the window.
	for i := 0; i < p.Max*3; i++ {
		res, err := l.Allow(ctx, p, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, res.Allowed, "attempt %d", i+1)
		require.NoError(t, l.Refund(ctx, p, "1.2.3.4"))
	}

	// Failures accumulate.
	for i := 0; i < p.Max; i++ {
		res, err := l.Allow(ctx, p, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, p, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestResetSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "60", Result{Reset: time.Minute}.ResetSeconds())
	assert.Equal(t, "2", Result{Reset: 1500 * time.Millisecond}.ResetSeconds())
	assert.Equal(t, "0", Result{Reset: -time.Second}.ResetSeconds())
}

func TestResetTracksWindowRemainder(t *testing.T) {
	t.Parallel()

	fc := newFakeCounter()
	l := NewLimiter(fc)
	ctx := context.Background()

	p := Policy{Name: "test", Window: time.Minute, Max: 5, Code: "rate_limited"}
	key := counterKey(p, "1.2.3.4")

	_, err := l.Allow(ctx, p, "1.2.3.4")
	require.NoError(t, err)
	fc.mu.Lock()
	fc.ttls[key] = 30 * time.Second // pretend time passed
	fc.mu.Unlock()

	res, err := l.Allow(ctx, p, "1.2.3.4")
	require.NoError(t, err)
	// Reset reports the remainder of the original window, not a re-armed one.
	assert.Equal(t, 30*time.Second, res.Reset)
}

func TestNakedCounterGetsRearmed(t *testing.T) {
	t.Parallel()

	fc := newFakeCounter()
	l := NewLimiter(fc)
	ctx := context.Background()

	p := Policy{Name: "test", Window: time.Minute, Max: 5, Code: "rate_limited"}
	key := counterKey(p, "1.2.3.4")

	_, err := l.Allow(ctx, p, "1.2.3.4")
	require.NoError(t, err)

	// A counter stripped of its TTL must never persist indefinitely.
	fc.dropTTL(key)

	res, err := l.Allow(ctx, p, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	fc.mu.Lock()
	ttl, armed := fc.ttls[key]
	fc.mu.Unlock()
	require.True(t, armed)
	assert.Equal(t, p.Window, ttl)
}

func TestParseWindowReply(t *testing.T) {
	t.Parallel()

	n, reset, err := parseWindowReply([]any{int64(4), int64(1500)}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, 1500*time.Millisecond, reset)

	// A non-positive remaining TTL falls back to the full window.
	_, reset, err = parseWindowReply([]any{int64(1), int64(-1)}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, reset)

	_, _, err = parseWindowReply("bogus", time.Minute)
	assert.Error(t, err)

	_, _, err = parseWindowReply([]any{int64(1)}, time.Minute)
	assert.Error(t, err)
}
