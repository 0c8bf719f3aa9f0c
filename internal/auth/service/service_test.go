package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abhi18gaud/principulse-auth/internal/apperr"
	"github.com/Abhi18gaud/principulse-auth/internal/cache"
	"github.com/Abhi18gaud/principulse-auth/internal/identity"
	"github.com/Abhi18gaud/principulse-auth/internal/security/password"
	"github.com/Abhi18gaud/principulse-auth/internal/security/token"
)

// ---- fakes ----

type fakeUserStore struct {
	mu      sync.Mutex
	byID    map[string]*identity.UserAuth
	byEmail map[string]string // normalized email -> id
	seq     int
	err     error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: map[string]*identity.UserAuth{}, byEmail: map[string]string{}}
}

func (f *fakeUserStore) CreateUser(_ context.Context, in identity.CreateUserInput) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return identity.User{}, f.err
	}
	norm := identity.NormalizeEmail(in.Email)
	if _, ok := f.byEmail[norm]; ok {
		return identity.User{}, identity.ConflictError{Op: "fake.CreateUser", Field: "email"}
	}
	f.seq++
	id := "user-" + string(rune('a'+f.seq-1))
	u := identity.User{
		ID:        id,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		IsActive:  true,
		CreatedAt: in.Now,
		UpdatedAt: in.Now,
		Roles: []identity.RoleAssignment{
			{ID: "ra-" + id, Role: identity.Role{ID: "r-member", Name: "member", Permissions: []string{"read:content"}}},
		},
	}
	f.byID[id] = &identity.UserAuth{User: u, PasswordHash: in.PasswordHash}
	f.byEmail[norm] = id
	return u, nil
}

func (f *fakeUserStore) GetUserAuthByEmail(_ context.Context, email string) (identity.UserAuth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return identity.UserAuth{}, f.err
	}
	id, ok := f.byEmail[identity.NormalizeEmail(email)]
	if !ok {
		return identity.UserAuth{}, identity.OpError{Op: "fake.GetUserAuthByEmail", Kind: identity.ErrNotFound}
	}
	return *f.byID[id], nil
}

func (f *fakeUserStore) GetUserAuthByID(_ context.Context, userID string) (identity.UserAuth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return identity.UserAuth{}, f.err
	}
	ua, ok := f.byID[userID]
	if !ok {
		return identity.UserAuth{}, identity.OpError{Op: "fake.GetUserAuthByID", Kind: identity.ErrNotFound}
	}
	return *ua, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, userID string) (identity.User, error) {
	ua, err := f.GetUserAuthByID(context.Background(), userID)
	if err != nil {
		return identity.User{}, err
	}
	return ua.User, nil
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, userID, hash string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.byID[userID]
	if !ok {
		return identity.OpError{Op: "fake.UpdatePassword", Kind: identity.ErrNotFound}
	}
	ua.PasswordHash = hash
	ua.User.UpdatedAt = now
	return nil
}

func (f *fakeUserStore) MarkVerified(_ context.Context, userID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.byID[userID]
	if !ok {
		return identity.OpError{Op: "fake.MarkVerified", Kind: identity.ErrNotFound}
	}
	ua.User.IsVerified = true
	ua.User.VerifiedAt = &now
	return nil
}

func (f *fakeUserStore) TouchLastLogin(_ context.Context, userID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.byID[userID]
	if !ok {
		return identity.OpError{Op: "fake.TouchLastLogin", Kind: identity.ErrNotFound}
	}
	ua.User.LastLoginAt = &now
	return nil
}

func (f *fakeUserStore) SetActive(_ context.Context, userID string, active bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.byID[userID]
	if !ok {
		return identity.OpError{Op: "fake.SetActive", Kind: identity.ErrNotFound}
	}
	ua.User.IsActive = active
	return nil
}

type fakeSessions struct {
	mu        sync.Mutex
	refresh   map[string]string
	blacklist map[string]time.Duration
	err       error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: map[string]string{}, blacklist: map[string]time.Duration{}}
}

func (f *fakeSessions) StoreRefreshToken(_ context.Context, userID, tok string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.refresh[userID] = tok
	return nil
}

func (f *fakeSessions) GetRefreshToken(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	tok, ok := f.refresh[userID]
	if !ok {
		return "", cache.ErrCacheMiss
	}
	return tok, nil
}

func (f *fakeSessions) RemoveRefreshTokenIfMatch(_ context.Context, userID, tok string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.refresh[userID] == tok {
		delete(f.refresh, userID)
		return true, nil
	}
	return false, nil
}

func (f *fakeSessions) InvalidateAll(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.refresh, userID)
	return nil
}

func (f *fakeSessions) BlacklistAccessToken(_ context.Context, tok string, remaining time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if remaining > 0 {
		f.blacklist[tok] = remaining
	}
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	verify []string
	reset  []string
}

func (r *recordingNotifier) SendVerificationEmail(_ context.Context, email, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verify = append(r.verify, email)
	return nil
}

func (r *recordingNotifier) SendPasswordResetEmail(_ context.Context, email, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset = append(r.reset, email)
	return nil
}

// ---- harness ----

func testCodec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.NewCodec(token.Config{
		Issuer:              "principulse",
		AccessSecret:        []byte("test-access-secret-0123456789-01234!"),
		RefreshSecret:       []byte("test-refresh-secret-0123456789-0123!"),
		EmailVerifySecret:   []byte("test-verify-secret-0123456789-01234!"),
		PasswordResetSecret: []byte("test-reset-secret-0123456789-012345!"),
		Leeway:              time.Second,
	})
	require.NoError(t, err)
	return c
}

type harness struct {
	svc      *Service
	users    *fakeUserStore
	sessions *fakeSessions
	notify   *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	users := newFakeUserStore()
	sessions := newFakeSessions()
	notify := &recordingNotifier{}
	svc := New(nil, DefaultConfig(), users, sessions, testCodec(t), password.NewHasher(password.MinCost), notify)
	return &harness{svc: svc, users: users, sessions: sessions, notify: notify}
}

func registerUser(t *testing.T, h *harness, email, pass string) (identity.User, TokenPair) {
	t.Helper()
	u, pair, err := h.svc.Register(context.Background(), time.Now().UTC(), RegisterInput{
		Email:     email,
		Password:  pass,
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	return u, pair
}

// ---- tests ----

func TestRegisterThenLogin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u, pair := registerUser(t, h, "a@x.com", "Passw0rd!")
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, u.IsVerified, "reference behavior auto-verifies at registration")
	assert.Equal(t, []string{"a@x.com"}, h.notify.verify)

	lu, lpair, err := h.svc.Login(ctx, now, "A@X.COM", "Passw0rd!")
	require.NoError(t, err)
	assert.Equal(t, u.ID, lu.ID)
	assert.NotEmpty(t, lpair.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, lpair.RefreshToken)
	require.NotNil(t, lu.LastLoginAt)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	registerUser(t, h, "a@x.com", "Passw0rd!")

	_, _, err := h.svc.Register(context.Background(), time.Now().UTC(), RegisterInput{
		Email: "A@x.com", Password: "Passw0rd!", FirstName: "B", LastName: "C",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeResourceExists))
}

func TestLoginEnumerationResistance(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	registerUser(t, h, "a@x.com", "Passw0rd!")

	_, _, errWrongPass := h.svc.Login(ctx, now, "a@x.com", "not-the-password")
	_, _, errNoUser := h.svc.Login(ctx, now, "ghost@x.com", "whatever9")

	require.Error(t, errWrongPass)
	require.Error(t, errNoUser)
	assert.Equal(t, apperr.From(errWrongPass).Code, apperr.From(errNoUser).Code)
	assert.True(t, apperr.Is(errWrongPass, apperr.CodeInvalidCredentials))
}

func TestLoginInactiveAccountSameError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	u, _ := registerUser(t, h, "a@x.com", "Passw0rd!")
	require.NoError(t, h.users.SetActive(ctx, u.ID, false, now))

	_, _, err := h.svc.Login(ctx, now, "a@x.com", "Passw0rd!")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidCredentials))
}

func TestRefreshRotatesSlot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	u, pair := registerUser(t, h, "a@x.com", "Passw0rd!")

	_, newPair, err := h.svc.Refresh(ctx, now.Add(time.Second), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	cached, err := h.sessions.GetRefreshToken(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, newPair.RefreshToken, cached, "slot must hold the newest refresh token")

	// The old token no longer matches the slot, so logout with it is a no-op
	// while the new session survives.
	require.NoError(t, h.svc.Logout(ctx, now, pair.RefreshToken, ""))
	cached, err = h.sessions.GetRefreshToken(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, newPair.RefreshToken, cached)

	// A stale-but-unexpired token is still honored while a live slot exists.
	_, _, err = h.svc.Refresh(ctx, now.Add(2*time.Second), pair.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_, pair := registerUser(t, h, "a@x.com", "Passw0rd!")

	// Garbage token.
	_, _, err := h.svc.Refresh(ctx, now, "garbage")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRefreshToken))

	// Access token presented as refresh token.
	_, _, err = h.svc.Refresh(ctx, now, pair.AccessToken)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRefreshToken))
}

func TestRefreshDeniedForInactiveUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	u, pair := registerUser(t, h, "a@x.com", "Passw0rd!")
	require.NoError(t, h.users.SetActive(ctx, u.ID, false, now))

	_, _, err := h.svc.Refresh(ctx, now, pair.RefreshToken)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRefreshToken))
}

func TestLogoutIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	u, pair := registerUser(t, h, "a@x.com", "Passw0rd!")

	require.NoError(t, h.svc.Logout(ctx, now, pair.RefreshToken, pair.AccessToken))
	_, err := h.sessions.GetRefreshToken(ctx, u.ID)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	assert.Contains(t, h.sessions.blacklist, pair.AccessToken)

	// Second logout with the already-invalidated pair still succeeds.
	require.NoError(t, h.svc.Logout(ctx, now, pair.RefreshToken, pair.AccessToken))
}

func TestRefreshFailsAfterLogout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_, pair := registerUser(t, h, "a@x.com", "Passw0rd!")

	require.NoError(t, h.svc.Logout(ctx, now, pair.RefreshToken, ""))

	// The slot is gone, so the still-unexpired signed token is dead.
	_, _, err := h.svc.Refresh(ctx, now, pair.RefreshToken)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRefreshToken))
}

func TestRefreshFailsClosedOnCacheError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_, pair := registerUser(t, h, "a@x.com", "Passw0rd!")

	// A transport failure on the slot lookup must deny, never assume a
	// session exists.
	h.sessions.err = errors.New("connection refused")
	_, _, err := h.svc.Refresh(ctx, now, pair.RefreshToken)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeServerError))
}

func TestLogoutFailsClosedOnCacheError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_, pair := registerUser(t, h, "a@x.com", "Passw0rd!")

	h.sessions.err = errors.New("connection refused")
	err := h.svc.Logout(ctx, now, pair.RefreshToken, "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeServerError))
}

func TestIssueTokensFailsWhenCacheDown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	registerUser(t, h, "a@x.com", "Passw0rd!")

	h.sessions.err = errors.New("connection refused")
	_, _, err := h.svc.Login(ctx, now, "a@x.com", "Passw0rd!")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeServerError))
}

func TestVerifyEmailFlow(t *testing.T) {
	t.Parallel()

	users := newFakeUserStore()
	sessions := newFakeSessions()
	cfg := DefaultConfig()
	cfg.AutoVerify = false
	codec := testCodec(t)
	svc := New(nil, cfg, users, sessions, codec, password.NewHasher(password.MinCost), nil)

	ctx := context.Background()
	now := time.Now().UTC()
	u, _, err := svc.Register(ctx, now, RegisterInput{
		Email: "a@x.com", Password: "Passw0rd!", FirstName: "A", LastName: "B",
	})
	require.NoError(t, err)
	assert.False(t, u.IsVerified)

	verifyTok, _, err := codec.Sign(u.ID, "", token.PurposeEmailVerify, now, time.Hour)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyEmail(ctx, now, verifyTok))

	got, err := users.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsVerified)

	// A reset token must not pass as a verification token.
	resetTok, _, err := codec.Sign(u.ID, "", token.PurposePasswordReset, now, time.Hour)
	require.NoError(t, err)
	err = svc.VerifyEmail(ctx, now, resetTok)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidToken))
}

func TestForgotAndResetPassword(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	u, _ := registerUser(t, h, "a@x.com", "Passw0rd!")

	// Unknown email: silent success, nothing sent.
	require.NoError(t, h.svc.ForgotPassword(ctx, now, "ghost@x.com"))
	assert.Empty(t, h.notify.reset)

	require.NoError(t, h.svc.ForgotPassword(ctx, now, "a@x.com"))
	assert.Equal(t, []string{"a@x.com"}, h.notify.reset)

	resetTok, _, err := h.svc.codec.Sign(u.ID, "", token.PurposePasswordReset, now, time.Hour)
	require.NoError(t, err)
	require.NoError(t, h.svc.ResetPassword(ctx, now, resetTok, "NewPassw0rd!"))

	// Refresh slot dropped by the reset.
	_, err = h.sessions.GetRefreshToken(ctx, u.ID)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	// Old password no longer works; new one does.
	_, _, err = h.svc.Login(ctx, now, "a@x.com", "Passw0rd!")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidCredentials))
	_, _, err = h.svc.Login(ctx, now, "a@x.com", "NewPassw0rd!")
	assert.NoError(t, err)

	// Expired reset token is rejected.
	expiredTok, _, err := h.svc.codec.Sign(u.ID, "", token.PurposePasswordReset, now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	err = h.svc.ResetPassword(ctx, now, expiredTok, "AnotherPass1!")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidToken))
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	u, _ := registerUser(t, h, "a@x.com", "Passw0rd!")

	err := h.svc.ChangePassword(ctx, now, u.ID, "wrong-current", "NewPassw0rd!")
	assert.True(t, apperr.Is(err, apperr.CodeIncorrectPassword))

	require.NoError(t, h.svc.ChangePassword(ctx, now, u.ID, "Passw0rd!", "NewPassw0rd!"))

	_, err = h.sessions.GetRefreshToken(ctx, u.ID)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	_, _, err = h.svc.Login(ctx, now, "a@x.com", "NewPassw0rd!")
	assert.NoError(t, err)
}

func TestCurrentUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	u, _ := registerUser(t, h, "a@x.com", "Passw0rd!")

	got, err := h.svc.CurrentUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, []string{"member"}, got.RoleNames())

	_, err = h.svc.CurrentUser(ctx, "nope")
	assert.True(t, apperr.Is(err, apperr.CodeUserNotFound))
}
