// Package session holds the revocable session state that must not live in
// the relational store: the single refresh-token slot per user and the
// blacklist of revoked access tokens.
//
// Every write carries a TTL so cache state can never outlive its security
// validity window. Reads that cannot reach the cache return errors — callers
// on security-sensitive paths must treat those as a denial, never as
// "not revoked".
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Abhi18gaud/principulse-auth/internal/cache"
)

// ErrNoTTL is returned when a session artifact write is attempted without a
// positive TTL.
var ErrNoTTL = errors.New("session: ttl is required")

// Cache is the slice of the cache client the session layer consumes.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
}

// Store provides the refresh-token slot and access-token blacklist
// operations used by the auth service and middleware.
type Store struct {
	cache Cache
}

// NewStore wraps a cache client.
func NewStore(c Cache) *Store {
	return &Store{cache: c}
}

func refreshKey(userID string) string { return "refresh:" + userID }

func blacklistKey(token string) string { return "blacklist:" + token }

// StoreRefreshToken writes the single refresh slot for userID, overwriting
// any previous value. Issuing a new token implicitly invalidates the old
// session's slot (single-session-per-user design).
func (s *Store) StoreRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	if strings.TrimSpace(userID) == "" || token == "" {
		return errors.New("session: user id and token are required")
	}
	if ttl <= 0 {
		return ErrNoTTL
	}
	return s.cache.Set(ctx, refreshKey(userID), token, ttl)
}

// GetRefreshToken reads the refresh slot. A missing slot yields
// cache.ErrCacheMiss.
func (s *Store) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	return s.cache.Get(ctx, refreshKey(userID))
}

// removeIfMatch deletes KEYS[1] only when its value equals ARGV[1].
// Running as a script keeps compare-and-delete atomic at the cache layer,
// so a logout cannot remove a slot that a concurrent login just rotated.
const removeIfMatchScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RemoveRefreshTokenIfMatch removes the refresh slot only if it still holds
// token. A missing or already-rotated slot is not an error (logout is
// idempotent). The returned bool reports whether a slot was removed.
func (s *Store) RemoveRefreshTokenIfMatch(ctx context.Context, userID, token string) (bool, error) {
	if strings.TrimSpace(userID) == "" || token == "" {
		return false, nil
	}
	res, err := s.cache.Eval(ctx, removeIfMatchScript, []string{refreshKey(userID)}, token)
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n > 0, nil
}

// InvalidateAll drops the refresh slot for userID unconditionally
// (password reset / change, admin revocation).
func (s *Store) InvalidateAll(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	return s.cache.Delete(ctx, refreshKey(userID))
}

// BlacklistAccessToken marks an access token revoked for the remainder of
// its lifetime. The entry expires exactly when the token would have, so the
// blacklist never needs explicit cleanup. A token with no remaining lifetime
// needs no entry at all.
func (s *Store) BlacklistAccessToken(ctx context.Context, token string, remaining time.Duration) error {
	if token == "" || remaining <= 0 {
		return nil
	}
	return s.cache.Set(ctx, blacklistKey(token), "revoked", remaining)
}

// IsAccessTokenBlacklisted reports whether token has been revoked.
// Cache failures propagate: the middleware must deny on error, not skip the
// check.
func (s *Store) IsAccessTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return s.cache.Exists(ctx, blacklistKey(token))
}

// IsMiss reports whether err is a cache miss (as opposed to a transport
// failure, which must fail closed).
func IsMiss(err error) bool {
	return errors.Is(err, cache.ErrCacheMiss)
}
