// Package token implements the signed-token codec used for access, refresh,
// email-verification, and password-reset credentials.
//
// Tokens are HS256 JWTs. Each purpose signs with its own secret AND embeds a
// purpose claim that is checked on verification, so a token issued for one
// purpose can never be replayed as another even if two secrets were ever
// configured to the same value.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose identifies what a token is allowed to be used for.
type Purpose string

const (
	// PurposeAccess is a short-lived bearer credential.
	PurposeAccess Purpose = "access"
	// PurposeRefresh is exchanged for a new token pair.
	PurposeRefresh Purpose = "refresh"
	// PurposeEmailVerify confirms ownership of an email address.
	PurposeEmailVerify Purpose = "email-verify"
	// PurposePasswordReset authorizes a one-time password reset.
	PurposePasswordReset Purpose = "password-reset"
)

// Claims is the full claim set carried by every token.
// Email is only populated for access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email   string  `json:"email,omitempty"`
	Purpose Purpose `json:"purpose"`
}

// Config holds the per-purpose signing secrets and the issuer name.
//
// Secrets must be distinct per purpose; Validate enforces this so a
// misconfigured deployment cannot silently collapse purposes onto one key.
type Config struct {
	Issuer string

	AccessSecret        []byte
	RefreshSecret       []byte
	EmailVerifySecret   []byte
	PasswordResetSecret []byte

	// Leeway tolerated on exp/nbf during verification.
	Leeway time.Duration
}

// Codec signs and verifies purpose-bound tokens. It is stateless and safe
// for concurrent use.
type Codec struct {
	cfg Config
}

const minSecretBytes = 32

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Issuer == "" {
		return nil, ErrConfig
	}
	secrets := [][]byte{cfg.AccessSecret, cfg.RefreshSecret, cfg.EmailVerifySecret, cfg.PasswordResetSecret}
	for i, s := range secrets {
		if len(s) < minSecretBytes {
			return nil, ErrConfig
		}
		for j := 0; j < i; j++ {
			if string(s) == string(secrets[j]) {
				return nil, ErrConfig
			}
		}
	}
	if cfg.Leeway < 0 {
		return nil, ErrConfig
	}
	return &Codec{cfg: cfg}, nil
}

func (c *Codec) secretFor(p Purpose) ([]byte, error) {
	switch p {
	case PurposeAccess:
		return c.cfg.AccessSecret, nil
	case PurposeRefresh:
		return c.cfg.RefreshSecret, nil
	case PurposeEmailVerify:
		return c.cfg.EmailVerifySecret, nil
	case PurposePasswordReset:
		return c.cfg.PasswordResetSecret, nil
	default:
		return nil, ErrUnknownPurpose
	}
}

// Sign issues a token for subject with the given purpose and ttl.
// Email is embedded only when purpose is access.
func (c *Codec) Sign(subject, email string, purpose Purpose, now time.Time, ttl time.Duration) (string, time.Time, error) {
	secret, err := c.secretFor(purpose)
	if err != nil {
		return "", time.Time{}, err
	}
	if subject == "" || ttl <= 0 {
		return "", time.Time{}, ErrConfig
	}

	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Purpose: purpose,
	}
	if purpose == PurposeAccess {
		claims.Email = email
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses raw against the secret for the expected purpose and returns
// its claims. Expired tokens yield ErrTokenExpired; every other failure,
// including a purpose mismatch, yields ErrInvalidToken.
func (c *Codec) Verify(raw string, purpose Purpose) (Claims, error) {
	secret, err := c.secretFor(purpose)
	if err != nil {
		return Claims{}, err
	}

	claims := Claims{}
	_, err = jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithLeeway(c.cfg.Leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if jwtErrorIsExpired(err) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidToken
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
