// Package service implements the auth orchestration layer: registration,
// login, logout, refresh, verification, and password management.
//
// Per user session the lifecycle is:
//
//	Anonymous -> (register|login) -> Authenticated(access,refresh)
//	          -> (refresh)        -> Authenticated(access',refresh')
//	          -> (logout|refresh expiry|revocation) -> Anonymous
//
// The refresh token is a single slot per user in the session cache, so a new
// login or refresh silently evicts any previous session. Cache failures on
// session-dependent paths propagate as errors: revocation checks are never
// skipped.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Abhi18gaud/principulse-auth/internal/apperr"
	"github.com/Abhi18gaud/principulse-auth/internal/cache"
	"github.com/Abhi18gaud/principulse-auth/internal/identity"
	"github.com/Abhi18gaud/principulse-auth/internal/mailer"
	"github.com/Abhi18gaud/principulse-auth/internal/security/password"
	"github.com/Abhi18gaud/principulse-auth/internal/security/token"
)

// SessionStore is the slice of the session cache the service consumes.
type SessionStore interface {
	StoreRefreshToken(ctx context.Context, userID, tok string, ttl time.Duration) error
	GetRefreshToken(ctx context.Context, userID string) (string, error)
	RemoveRefreshTokenIfMatch(ctx context.Context, userID, tok string) (bool, error)
	InvalidateAll(ctx context.Context, userID string) error
	BlacklistAccessToken(ctx context.Context, tok string, remaining time.Duration) error
}

// Config holds the token lifetimes and registration policy.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	VerifyTTL  time.Duration
	ResetTTL   time.Duration

	// AutoVerify marks accounts verified immediately at registration
	// instead of waiting for the email click-through. This mirrors the
	// upstream product behavior; disable it to require real verification.
	AutoVerify bool
}

/// DefaultConfig returns the standard lifetimes: 15m access, 7d refresh,
// 24h verification, 1h reset.
func DefaultConfig() Config {
	return Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		VerifyTTL:  24 * time.Hour,
		ResetTTL:   time.Hour,
		AutoVerify: true,
	}
}

// TokenPair is an issued access + refresh token pair.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Service orchestrates the credential store, session cache, token codec,
// and notifier.
type Service struct {
	log      *slog.Logger
	cfg      Config
	users    identity.Store
	sessions SessionStore
	codec    *token.Codec
	hasher   *password.Hasher
	notify   mailer.Notifier

	// dummyHash keeps login timing uniform when the user does not exist.
	dummyHash string
}

// New wires a Service. A nil notifier falls back to a no-op.
func New(log *slog.Logger, cfg Config, users identity.Store, sessions SessionStore, codec *token.Codec, hasher *password.Hasher, notify mailer.Notifier) *Service {
	if log == nil {
		log = slog.Default()
	}
	if notify == nil {
		notify = mailer.NoopNotifier{}
	}
	s := &Service{
		log:      log,
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		codec:    codec,
		hasher:   hasher,
		notify:   notify,
	}
	if hash, err := hasher.Hash("dummy-password-for-timing-only"); err == nil {
		s.dummyHash = hash
	}
	return s
}

// RegisterInput carries the registration fields.
type RegisterInput struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	Phone      *string
	SchoolName *string
	Position   *string
}

// Register creates a user, triggers the verification notification, and
// returns the sanitized user with a fresh token pair.
func (s *Service) Register(ctx context.Context, now time.Time, in RegisterInput) (identity.User, TokenPair, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return identity.User{}, TokenPair{}, apperr.BadRequest(apperr.CodeMissingFields, err.Error())
	}

	u, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		SchoolName:   in.SchoolName,
		Position:     in.Position,
		Now:          now,
	})
	if err != nil {
		if identity.IsConflict(err) {
			return identity.User{}, TokenPair{}, apperr.Conflict("email already registered")
		}
		if identity.IsInvalidInput(err) {
			return identity.User{}, TokenPair{}, apperr.BadRequest(apperr.CodeMissingFields, "invalid registration input")
		}
		return identity.User{}, TokenPair{}, apperr.Internal(err)
	}

	// Out-of-band verification. Delivery failures are logged, never fatal.
	if verifyTok, _, err := s.codec.Sign(u.ID, "", token.PurposeEmailVerify, now, s.cfg.VerifyTTL); err == nil {
		if err := s.notify.SendVerificationEmail(ctx, u.Email, verifyTok); err != nil {
			s.log.Error("auth.register.verification_email.fail", "err", err, "user_id", u.ID)
		}
	} else {
		s.log.Error("auth.register.verification_token.fail", "err", err, "user_id", u.ID)
	}

	if s.cfg.AutoVerify {
		if err := s.users.MarkVerified(ctx, u.ID, now); err != nil {
			return identity.User{}, TokenPair{}, apperr.Internal(err)
		}
		u.IsVerified = true
		v := now
		u.VerifiedAt = &v
	}

	pair, err := s.issueTokens(ctx, now, u)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	return u, pair, nil
}

// Login verifies credentials and issues a fresh token pair. A missing user,
// an inactive account, and a wrong password all collapse into the same
// invalid_credentials failure to resist user enumeration.
func (s *Service) Login(ctx context.Context, now time.Time, email, pass string) (identity.User, TokenPair, error) {
	invalid := apperr.Unauthorized(apperr.CodeInvalidCredentials, "invalid credentials")

	ua, err := s.users.GetUserAuthByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			// Timing resistance: burn a verify even without a user.
			if s.dummyHash != "" {
				_, _ = s.hasher.Verify(pass, s.dummyHash)
			}
			return identity.User{}, TokenPair{}, invalid
		}
		return identity.User{}, TokenPair{}, apperr.Internal(err)
	}

	ok, err := s.hasher.Verify(pass, ua.PasswordHash)
	if err != nil || !ok {
		return identity.User{}, TokenPair{}, invalid
	}
	if !ua.User.IsActive {
		return identity.User{}, TokenPair{}, invalid
	}

	if err := s.users.TouchLastLogin(ctx, ua.User.ID, now); err != nil {
		s.log.Error("auth.login.touch.fail", "err", err, "user_id", ua.User.ID)
	} else {
		t := now
		ua.User.LastLoginAt = &t
	}

	pair, err := s.issueTokens(ctx, now, ua.User)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	return ua.User, pair, nil
}

// Refresh exchanges a refresh token for a new pair, overwriting the cached
/// slot. The subject must still hold a live session: a missing slot (logout,
// revocation, or expiry) rejects the refresh, and a cache transport failure
// fails closed. The presented token is not required to equal the slot value,
// so a stale-but-unexpired token is honored while a newer session exists
// (single-slot design; see the design notes).
func (s *Service) Refresh(ctx context.Context, now time.Time, refreshToken string) (identity.User, TokenPair, error) {
	invalid := apperr.Unauthorized(apperr.CodeInvalidRefreshToken, "invalid refresh token")

	claims, err := s.codec.Verify(strings.TrimSpace(refreshToken), token.PurposeRefresh)
	if err != nil {
		return identity.User{}, TokenPair{}, invalid
	}

	if _, err := s.sessions.GetRefreshToken(ctx, claims.Subject); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return identity.User{}, TokenPair{}, invalid
		}
		return identity.User{}, TokenPair{}, apperr.Internal(err)
	}

	u, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, TokenPair{}, invalid
		}
		return identity.User{}, TokenPair{}, apperr.Internal(err)
	}
	if !u.IsActive {
		return identity.User{}, TokenPair{}, invalid
	}

	pair, err := s.issueTokens(ctx, now, u)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	return u, pair, nil
}

// Logout removes the cached refresh slot when it still matches the
// presented token, and blacklists the presented access token for its
// remaining lifetime. Both steps are idempotent; an invalid or expired
// token on either side is simply ignored. Cache failures propagate.
func (s *Service) Logout(ctx context.Context, now time.Time, refreshToken, accessToken string) error {
	if rt := strings.TrimSpace(refreshToken); rt != "" {
		if claims, err := s.codec.Verify(rt, token.PurposeRefresh); err == nil {
			if _, err := s.sessions.RemoveRefreshTokenIfMatch(ctx, claims.Subject, rt); err != nil {
				return apperr.Internal(err)
			}
		}
	}

	if at := strings.TrimSpace(accessToken); at != "" {
		if claims, err := s.codec.Verify(at, token.PurposeAccess); err == nil {
			remaining := claims.ExpiresAt.Time.Sub(now)
			if err := s.sessions.BlacklistAccessToken(ctx, at, remaining); err != nil {
				return apperr.Internal(err)
			}
		}
	}

	return nil
}

// VerifyEmail validates a verification token and marks the user verified.
func (s *Service) VerifyEmail(ctx context.Context, now time.Time, rawToken string) error {
	claims, err := s.codec.Verify(strings.TrimSpace(rawToken), token.PurposeEmailVerify)
	if err != nil {
		return apperr.BadRequest(apperr.CodeInvalidToken, "invalid or expired verification token")
	}
	if err := s.users.MarkVerified(ctx, claims.Subject, now); err != nil {
		if identity.IsNotFound(err) {
			return apperr.BadRequest(apperr.CodeInvalidToken, "invalid or expired verification token")
		}
		return apperr.Internal(err)
	}
	return nil
}

// ForgotPassword issues a reset token and hands it to the notifier. It
// reports success whether or not the email is registered, so the endpoint
// cannot be used to enumerate accounts.
func (s *Service) ForgotPassword(ctx context.Context, now time.Time, email string) error {
	ua, err := s.users.GetUserAuthByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return nil
		}
		return apperr.Internal(err)
	}

	resetTok, _, err := s.codec.Sign(ua.User.ID, "", token.PurposePasswordReset, now, s.cfg.ResetTTL)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.notify.SendPasswordResetEmail(ctx, ua.User.Email, resetTok); err != nil {
		s.log.Error("auth.forgot_password.email.fail", "err", err, "user_id", ua.User.ID)
	}
	return nil
}

// ResetPassword validates a reset token, persists the new hash, and drops
// the refresh slot so existing sessions cannot survive the reset.
func (s *Service) ResetPassword(ctx context.Context, now time.Time, rawToken, newPassword string) error {
	claims, err := s.codec.Verify(strings.TrimSpace(rawToken), token.PurposePasswordReset)
	if err != nil {
		return apperr.BadRequest(apperr.CodeInvalidToken, "invalid or expired reset token")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.BadRequest(apperr.CodeMissingFields, err.Error())
	}
	if err := s.users.UpdatePassword(ctx, claims.Subject, hash, now); err != nil {
		if identity.IsNotFound(err) {
			return apperr.BadRequest(apperr.CodeInvalidToken, "invalid or expired reset token")
		}
		return apperr.Internal(err)
	}

	if err := s.sessions.InvalidateAll(ctx, claims.Subject); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// ChangePassword verifies the current password, persists the new hash, and
// drops the refresh slot.
func (s *Service) ChangePassword(ctx context.Context, now time.Time, userID, current, newPassword string) error {
	ua, err := s.users.GetUserAuthByID(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return apperr.Unauthorized(apperr.CodeUserNotFound, "user not found")
		}
		return apperr.Internal(err)
	}

	ok, err := s.hasher.Verify(current, ua.PasswordHash)
	if err != nil || !ok {
		return apperr.Unauthorized(apperr.CodeIncorrectPassword, "current password is incorrect")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.BadRequest(apperr.CodeMissingFields, err.Error())
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, now); err != nil {
		return apperr.Internal(err)
	}

	if err := s.sessions.InvalidateAll(ctx, userID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// CurrentUser loads the sanitized user for an authenticated subject.
func (s *Service) CurrentUser(ctx context.Context, userID string) (identity.User, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, apperr.Unauthorized(apperr.CodeUserNotFound, "user not found")
		}
		return identity.User{}, apperr.Internal(err)
	}
	return u, nil
}

// issueTokens signs a fresh pair and mirrors the refresh token into the
// single cache slot. A cache write failure fails the whole operation: a
// session whose refresh token cannot be revoked later must not exist.
func (s *Service) issueTokens(ctx context.Context, now time.Time, u identity.User) (TokenPair, error) {
	access, accessExp, err := s.codec.Sign(u.ID, u.Email, token.PurposeAccess, now, s.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, apperr.Internal(err)
	}
	refresh, refreshExp, err := s.codec.Sign(u.ID, "", token.PurposeRefresh, now, s.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, apperr.Internal(err)
	}

	if err := s.sessions.StoreRefreshToken(ctx, u.ID, refresh, s.cfg.RefreshTTL); err != nil {
		return TokenPair{}, apperr.Internal(err)
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}
