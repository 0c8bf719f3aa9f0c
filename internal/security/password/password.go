// Package password provides bcrypt password hashing with an enforced cost
// floor and a minimal length policy.
//
// The hash format is the standard bcrypt encoding; the salt is embedded, so
// no extra storage is needed beyond the hash string itself.
package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrPasswordTooShort is returned when a password is below MinLength.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned when a password exceeds the bcrypt
	// input bound (72 bytes).
	ErrPasswordTooLong = errors.New("password too long")
	// ErrInvalidHash is returned when a stored hash cannot be parsed.
	ErrInvalidHash = errors.New("invalid password hash")
)

const (
	// MinLength is the minimum accepted password length.
	MinLength = 8
	// MaxLength is the bcrypt input limit in bytes.
	MaxLength = 72
	// MinCost is the lowest bcrypt cost this service will hash with.
	MinCost = 10
	// DefaultCost balances login latency against brute-force resistance.
	DefaultCost = 12
)

// Hasher hashes and verifies passwords at a fixed bcrypt cost.
type Hasher struct {
	cost int
}

// NewHasher builds a Hasher, clamping cost to [MinCost, bcrypt.MaxCost].
func NewHasher(cost int) *Hasher {
	if cost < MinCost {
		cost = MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

// Cost returns the configured bcrypt cost.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns the bcrypt hash of plain after policy checks.
func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) < MinLength {
		return "", ErrPasswordTooShort
	}
	if len(plain) > MaxLength {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether plain matches the stored bcrypt hash.
// A malformed hash yields ErrInvalidHash; a mismatch yields (false, nil).
func (h *Hasher) Verify(plain, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrHashTooShort):
		return false, ErrInvalidHash
	default:
		var hv bcrypt.InvalidHashPrefixError
		if errors.As(err, &hv) {
			return false, ErrInvalidHash
		}
		return false, err
	}
}
