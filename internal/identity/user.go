// Package identity owns the user record contract and its PostgreSQL store.
//
// The password hash never crosses this package boundary except through
// UserAuth, which exists solely so the auth service can verify credentials.
// Every other read path returns the sanitized User.
package identity

import (
	"context"
	"time"
)

// Role is a named role with its permission list.
type Role struct {
	ID          string
	Name        string
	Permissions []string
}

// RoleAssignment links a user to a role (join-table row surfaced as a value).
type RoleAssignment struct {
	ID   string
	Role Role
}

// User is the sanitized user record. It never carries the password hash.
type User struct {
	ID          string
	Email       string
	FirstName   string
	LastName    string
	Phone       *string
	SchoolName  *string
	Position    *string
	IsActive    bool
	IsVerified  bool
	VerifiedAt  *time.Time
	LastLoginAt *time.Time
	Roles       []RoleAssignment
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserAuth pairs a sanitized user with its password hash for credential
// verification. It must not outlive the login/change-password call that
// requested it.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput carries everything needed to create a user.
// Password is already hashed by the caller.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        *string
	SchoolName   *string
	Position     *string
	Now          time.Time
}

// Store is the credential-store contract consumed by the auth service.
type Store interface {
	// CreateUser inserts the user and attaches the default member role
	// when one exists. A duplicate email yields a ConflictError.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// GetUserAuthByEmail loads a user plus password hash by normalized
	// email for credential verification.
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)

	// GetUserAuthByID loads a user plus password hash by id
	// (change-password path).
	GetUserAuthByID(ctx context.Context, userID string) (UserAuth, error)

	// GetUserByID loads a sanitized user with role assignments.
	GetUserByID(ctx context.Context, userID string) (User, error)

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error

	// MarkVerified sets the verified flag and timestamp.
	MarkVerified(ctx context.Context, userID string, now time.Time) error

	// TouchLastLogin records a successful login (best-effort for callers).
	TouchLastLogin(ctx context.Context, userID string, now time.Time) error

	// SetActive toggles the active flag.
	SetActive(ctx context.Context, userID string, active bool, now time.Time) error
}

// RoleNames flattens the user's role assignments to role names.
func (u User) RoleNames() []string {
	if len(u.Roles) == 0 {
		return nil
	}
	names := make([]string, 0, len(u.Roles))
	for _, ra := range u.Roles {
		names = append(names, ra.Role.Name)
	}
	return names
}

// HasRole reports whether the user holds any of the given role names.
func (u User) HasRole(names ...string) bool {
	for _, ra := range u.Roles {
		for _, n := range names {
			if ra.Role.Name == n {
				return true
			}
		}
	}
	return false
}
