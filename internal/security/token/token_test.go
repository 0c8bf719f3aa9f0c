package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Issuer:              "principulse",
		AccessSecret:        []byte("access-secret-0123456789-0123456789!"),
		RefreshSecret:       []byte("refresh-secret-0123456789-0123456789"),
		EmailVerifySecret:   []byte("verify-secret-0123456789-01234567890"),
		PasswordResetSecret: []byte("reset-secret-0123456789-012345678901"),
		Leeway:              time.Second,
	}
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	c, err := NewCodec(testConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	raw, exp, err := c.Sign("user-1", "a@x.com", PurposeAccess, now, 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	assert.WithinDuration(t, now.Add(15*time.Minute), exp, time.Second)

	claims, err := c.Verify(raw, PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, PurposeAccess, claims.Purpose)
	assert.NotEmpty(t, claims.ID)
}

func TestVerifyExpired(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Leeway = 0
	c, err := NewCodec(cfg)
	require.NoError(t, err)

	now := time.Now().UTC().Add(-time.Hour)
	raw, _, err := c.Sign("user-1", "", PurposeRefresh, now, time.Minute)
	require.NoError(t, err)

	_, err = c.Verify(raw, PurposeRefresh)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyCrossPurposeRejected(t *testing.T) {
	t.Parallel()

	c, err := NewCodec(testConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	raw, _, err := c.Sign("user-1", "", PurposeEmailVerify, now, 24*time.Hour)
	require.NoError(t, err)

	// A verification token must not pass as an access or reset token.
	_, err = c.Verify(raw, PurposeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = c.Verify(raw, PurposePasswordReset)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = c.Verify(raw, PurposeEmailVerify)
	assert.NoError(t, err)
}

func TestVerifyWrongSecret(t *testing.T) {
	t.Parallel()

	c1, err := NewCodec(testConfig())
	require.NoError(t, err)

	other := testConfig()
	other.AccessSecret = []byte("a-completely-different-access-secret")
	c2, err := NewCodec(other)
	require.NoError(t, err)

	raw, _, err := c1.Sign("user-1", "a@x.com", PurposeAccess, time.Now().UTC(), time.Minute)
	require.NoError(t, err)

	_, err = c2.Verify(raw, PurposeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	t.Parallel()

	c, err := NewCodec(testConfig())
	require.NoError(t, err)

	_, err = c.Verify("not.a.jwt", PurposeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewCodecRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty issuer", func(c *Config) { c.Issuer = "" }},
		{"short secret", func(c *Config) { c.AccessSecret = []byte("short") }},
		{"duplicate secrets", func(c *Config) { c.RefreshSecret = c.AccessSecret }},
		{"negative leeway", func(c *Config) { c.Leeway = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := NewCodec(cfg)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}
