package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for signature, structure, issuer, or
	// purpose failures.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a token is past its expiry
	// (beyond the configured leeway).
	ErrTokenExpired = errors.New("token expired")

	// ErrUnknownPurpose is returned for a purpose the codec does not know.
	ErrUnknownPurpose = errors.New("unknown token purpose")

	// ErrConfig is returned for invalid codec configuration.
	ErrConfig = errors.New("invalid token config")
)

func jwtErrorIsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
