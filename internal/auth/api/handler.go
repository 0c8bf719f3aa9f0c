// Package authapi exposes the authentication HTTP surface: registration,
// login, token refresh, logout, email verification, and password management,
// plus the middleware that guards everything behind them.
//
// All responses use one envelope: {"success":true,"data":...} on success and
// {"success":false,"error":{"code","message"}} on failure. Handlers never
// leak internal error detail; causes are logged with request context.
package authapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Abhi18gaud/principulse-auth/internal/apperr"
	"github.com/Abhi18gaud/principulse-auth/internal/auth/service"
	"github.com/Abhi18gaud/principulse-auth/internal/identity"
	"github.com/Abhi18gaud/principulse-auth/internal/metrics"
	"github.com/Abhi18gaud/principulse-auth/internal/ratelimit"
	"github.com/Abhi18gaud/principulse-auth/internal/security/token"
)

// Config holds the HTTP-surface knobs.
type Config struct {
	// MaxBodyBytes caps request bodies before JSON decoding.
	MaxBodyBytes int64

	// TrustProxy enables X-Forwarded-For / X-Real-IP for client IPs.
	TrustProxy bool

	// Production controls the Secure cookie attribute.
	Production bool

	// CookieDomain scopes the session cookies (empty = host-only).
	CookieDomain string

	// RequireVerifiedEmail gates authenticated routes on a verified email.
	RequireVerifiedEmail bool

	// RateLimitEnabled toggles the per-route admission policies.
	RateLimitEnabled bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:         1 << 20,
		RequireVerifiedEmail: true,
		RateLimitEnabled:     true,
	}
}

// TokenBlacklist is the slice of the session store the middleware consumes.
type TokenBlacklist interface {
	IsAccessTokenBlacklisted(ctx context.Context, token string) (bool, error)
}

// Handler wires the auth endpoints to the service layer.
type Handler struct {
	log       *slog.Logger
	cfg       Config
	svc       *service.Service
	codec     *token.Codec
	blacklist TokenBlacklist
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
}

// NewHandler constructs the auth HTTP handler. limiter and m may be nil, in
// which case admission control and instrumentation are skipped.
func NewHandler(log *slog.Logger, cfg Config, svc *service.Service, codec *token.Codec, blacklist TokenBlacklist, limiter *ratelimit.Limiter, m *metrics.Metrics) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:       log,
		cfg:       cfg,
		svc:       svc,
		codec:     codec,
		blacklist: blacklist,
		limiter:   limiter,
		metrics:   m,
	}
}

// Register wires the versioned auth routes onto the provided mux. Every
// route sits behind the general admission policy; credential endpoints add
// the stricter auth policy inside it.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	route := func(path string, next http.Handler) {
		mux.Handle(path, h.limitByIP(ratelimit.General, next))
	}
	route("/api/v1/auth/register", h.limitByIP(ratelimit.Auth, http.HandlerFunc(h.handleRegister)))
	route("/api/v1/auth/login", h.limitByIP(ratelimit.Auth, http.HandlerFunc(h.handleLogin)))
	route("/api/v1/auth/refresh", http.HandlerFunc(h.handleRefresh))
	route("/api/v1/auth/logout", http.HandlerFunc(h.handleLogout))
	route("/api/v1/auth/verify-email", http.HandlerFunc(h.handleVerifyEmail))
	route("/api/v1/auth/forgot-password", http.HandlerFunc(h.handleForgotPassword))
	route("/api/v1/auth/reset-password", http.HandlerFunc(h.handleResetPassword))
	route("/api/v1/auth/me", h.Authenticate(http.HandlerFunc(h.handleMe)))
	route("/api/v1/auth/change-password", h.Authenticate(http.HandlerFunc(h.handleChangePassword)))
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" ||
		strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		writeError(w, http.StatusBadRequest, apperr.CodeMissingFields, "email, password, first_name, and last_name are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	u, pair, err := h.svc.Register(ctx, now, service.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      trimPtr(req.Phone),
		SchoolName: trimPtr(req.SchoolName),
		Position:   trimPtr(req.Position),
	})
	if err != nil {
		h.logFailure(r, "auth.register.fail", err)
		writeServiceError(w, err)
		return
	}

	h.log.Info("auth.register.ok", "user_id", u.ID, "ip", clientIP(r, h.cfg.TrustProxy))
	h.setSessionCookies(w, pair)
	writeData(w, http.StatusCreated, authResponse{
		User:    toUserResponse(u),
		Session: toSessionResponse(pair),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, apperr.CodeMissingFields, "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	u, pair, err := h.svc.Login(ctx, now, req.Email, req.Password)
	if err != nil {
		h.countLogin("fail")
		h.logFailure(r, "auth.login.fail", err)
		writeServiceError(w, err)
		return
	}

	h.countLogin("ok")
	h.log.Info("auth.login.ok", "user_id", u.ID, "ip", clientIP(r, h.cfg.TrustProxy))
	h.setSessionCookies(w, pair)
	writeData(w, http.StatusOK, authResponse{
		User:    toUserResponse(u),
		Session: toSessionResponse(pair),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		refreshToken = h.refreshTokenFromCookie(r)
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, apperr.CodeMissingToken, "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	u, pair, err := h.svc.Refresh(ctx, now, refreshToken)
	if err != nil {
		h.logFailure(r, "auth.refresh.fail", err)
		writeServiceError(w, err)
		return
	}

	h.log.Info("auth.refresh.ok", "user_id", u.ID)
	h.setSessionCookies(w, pair)
	writeData(w, http.StatusOK, refreshResponse{Session: toSessionResponse(pair)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		refreshToken = h.refreshTokenFromCookie(r)
	}
	accessToken := bearerToken(r)
	if accessToken == "" {
		accessToken = h.accessTokenFromCookie(r)
	}

	ctx := r.Context()
	now := time.Now().UTC()

	if err := h.svc.Logout(ctx, now, refreshToken, accessToken); err != nil {
		h.logFailure(r, "auth.logout.fail", err)
		writeServiceError(w, err)
		return
	}

	h.clearSessionCookies(w)
	writeData(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	// GET serves the click-through link from the verification email; POST
	// serves API clients carrying the token in the body.
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req verifyEmailRequest
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		// Click-through links carry the token in the query string.
		raw = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if raw == "" {
		writeError(w, http.StatusBadRequest, apperr.CodeMissingToken, "verification token is required")
		return
	}

	if err := h.svc.VerifyEmail(r.Context(), time.Now().UTC(), raw); err != nil {
		h.logFailure(r, "auth.verify_email.fail", err)
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, messageResponse{Message: "email verified"})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req forgotPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := identity.NormalizeEmail(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, apperr.CodeMissingEmail, "email is required")
		return
	}

	// Keyed by IP+email so one address cannot be carpet-bombed from many
	// sources and one source cannot sweep many addresses.
	subject := clientIP(r, h.cfg.TrustProxy) + ":" + email
	if !h.admit(w, r, ratelimit.PasswordReset, subject) {
		return
	}

	if err := h.svc.ForgotPassword(r.Context(), time.Now().UTC(), email); err != nil {
		h.logFailure(r, "auth.forgot_password.fail", err)
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, messageResponse{Message: "if the email is registered, a reset link has been sent"})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Token) == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, apperr.CodeMissingFields, "token and new_password are required")
		return
	}

	if err := h.svc.ResetPassword(r.Context(), time.Now().UTC(), req.Token, req.NewPassword); err != nil {
		h.logFailure(r, "auth.reset_password.fail", err)
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, messageResponse{Message: "password reset"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "authentication required")
		return
	}
	writeData(w, http.StatusOK, meResponse{User: toUserResponse(id)})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "authentication required")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, apperr.CodeMissingFields, "current_password and new_password are required")
		return
	}

	if err := h.svc.ChangePassword(r.Context(), time.Now().UTC(), id.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.logFailure(r, "auth.change_password.fail", err)
		writeServiceError(w, err)
		return
	}

	// Sessions were invalidated; drop the cookies too.
	h.clearSessionCookies(w)
	writeData(w, http.StatusOK, messageResponse{Message: "password changed"})
}

// ---- helpers ----

// logFailure logs the underlying cause of a client-visible failure. Expected
// 4xx outcomes log at info, server errors at error.
func (h *Handler) logFailure(r *http.Request, event string, err error) {
	ae := apperr.From(err)
	attrs := []any{"code", ae.Code, "ip", clientIP(r, h.cfg.TrustProxy), "path", r.URL.Path}
	if ae.Status >= http.StatusInternalServerError {
		h.log.Error(event, append(attrs, "err", err)...)
		return
	}
	h.log.Info(event, attrs...)
}

func (h *Handler) countLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.Logins.WithLabelValues(outcome).Inc()
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if raw := r.Header.Get("X-Forwarded-For"); raw != "" {
			for _, p := range strings.Split(raw, ",") {
				if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
					return ip.String()
				}
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}
