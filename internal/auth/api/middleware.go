package authapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Abhi18gaud/principulse-auth/internal/apperr"
	"github.com/Abhi18gaud/principulse-auth/internal/identity"
	"github.com/Abhi18gaud/principulse-auth/internal/ratelimit"
	"github.com/Abhi18gaud/principulse-auth/internal/security/token"
)

type ctxKey int

const identityKey ctxKey = 0

// IdentityFrom returns the authenticated user attached by Authenticate.
func IdentityFrom(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(identityKey).(identity.User)
	return u, ok
}

// WithIdentity attaches an authenticated user to the context (exported for
// handler tests).
func WithIdentity(ctx context.Context, u identity.User) context.Context {
	return context.WithValue(ctx, identityKey, u)
}

// Authenticate guards next behind a valid, unrevoked access token.
//
// The checks run in a fixed order: token presence, blacklist, signature and
// expiry, purpose, then account state. A cache failure on the blacklist
// check denies the request; revocation is never assumed checked.
// The middleware itself writes nothing on success.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			raw = h.accessTokenFromCookie(r)
		}
		if raw == "" {
			h.rejectToken(w, r, http.StatusUnauthorized, apperr.CodeNoToken, "authentication token is required")
			return
		}

		revoked, err := h.blacklist.IsAccessTokenBlacklisted(r.Context(), raw)
		if err != nil {
			h.log.Error("auth.middleware.blacklist.fail", "err", err, "path", r.URL.Path)
			writeError(w, http.StatusInternalServerError, apperr.CodeServerError, "internal error")
			return
		}
		if revoked {
			h.rejectToken(w, r, http.StatusUnauthorized, apperr.CodeTokenRevoked, "token has been revoked")
			return
		}

		claims, err := h.codec.Verify(raw, token.PurposeAccess)
		if err != nil {
			if errors.Is(err, token.ErrTokenExpired) {
				h.rejectToken(w, r, http.StatusUnauthorized, apperr.CodeTokenExpired, "token has expired")
				return
			}
			h.rejectToken(w, r, http.StatusUnauthorized, apperr.CodeInvalidToken, "invalid token")
			return
		}

		u, err := h.svc.CurrentUser(r.Context(), claims.Subject)
		if err != nil {
			if apperr.Is(err, apperr.CodeUserNotFound) {
				h.rejectToken(w, r, http.StatusUnauthorized, apperr.CodeUserNotFound, "user not found")
				return
			}
			h.log.Error("auth.middleware.user.fail", "err", err, "user_id", claims.Subject)
			writeError(w, http.StatusInternalServerError, apperr.CodeServerError, "internal error")
			return
		}
		if !u.IsActive {
			h.rejectToken(w, r, http.StatusUnauthorized, apperr.CodeAccountInactive, "account is inactive")
			return
		}
		if h.cfg.RequireVerifiedEmail && !u.IsVerified {
			h.rejectToken(w, r, http.StatusUnauthorized, apperr.CodeEmailNotVerified, "email verification required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), u)))
	})
}

func (h *Handler) rejectToken(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if h.metrics != nil {
		h.metrics.TokenRejections.WithLabelValues(code).Inc()
	}
	h.log.Info("auth.middleware.reject", "code", code, "path", r.URL.Path, "ip", clientIP(r, h.cfg.TrustProxy))
	writeError(w, status, code, msg)
}

// RequireRole admits only users holding at least one of the named roles.
// It must sit behind Authenticate.
func (h *Handler) RequireRole(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "authentication required")
				return
			}
			if !u.HasRole(names...) {
				h.log.Info("auth.middleware.forbidden", "user_id", u.ID, "path", r.URL.Path)
				writeError(w, http.StatusForbidden, apperr.CodeForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin gates a route to the admin role.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return h.RequireRole("admin")(next)
}

// ---- rate limiting ----

// statusWriter captures the response status so refund-on-success policies
// can tell outcomes apart.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

// limitByIP applies policy p keyed by client IP around next.
func (h *Handler) limitByIP(p ratelimit.Policy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := clientIP(r, h.cfg.TrustProxy)
		if !h.admit(w, r, p, subject) {
			return
		}
		if !p.RefundOnSuccess {
			next.ServeHTTP(w, r)
			return
		}

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status < http.StatusBadRequest {
			if err := h.limiter.Refund(r.Context(), p, subject); err != nil {
				h.log.Error("ratelimit.refund.fail", "policy", p.Name, "err", err)
			}
		}
	})
}

// admit runs one admission check and writes the 429 envelope plus the
// standard RateLimit headers on breach. A counter-store failure admits the
// request: the limiter is pure admission control, not a security gate, and
// must not take the API down with the cache.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, p ratelimit.Policy, subject string) bool {
	if h.limiter == nil || !h.cfg.RateLimitEnabled {
		return true
	}

	res, err := h.limiter.Allow(r.Context(), p, subject)
	if err != nil {
		h.log.Error("ratelimit.allow.fail", "policy", p.Name, "err", err)
		return true
	}

	w.Header().Set("RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("RateLimit-Reset", res.ResetSeconds())

	if res.Allowed {
		return true
	}

	if h.metrics != nil {
		h.metrics.RateLimited.WithLabelValues(p.Name).Inc()
	}
	h.log.Warn("ratelimit.breach", "policy", p.Name, "ip", clientIP(r, h.cfg.TrustProxy), "path", r.URL.Path)
	writeError(w, http.StatusTooManyRequests, p.Code, "too many requests, please retry later")
	return false
}
