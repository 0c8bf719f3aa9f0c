package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - The password hash is only selected by the GetUserAuth* queries.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// DefaultRoleName is attached to every new user when the role exists.
const DefaultRoleName = "member"

const userColumns = `
	id, email, first_name, last_name, phone, school_name, position,
	is_active, is_verified, verified_at, last_login_at, created_at, updated_at`

// CreateUser creates a user and attaches the default member role in one
// transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return User{}, invalid(op, "email is required")
	}
	if in.PasswordHash == "" {
		return User{}, invalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	emailNorm := NormalizeEmail(email)

	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO users (
		     id, email, email_norm, first_name, last_name, phone, school_name, position,
		     password_hash, is_active, is_verified, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, FALSE, $10, $10)`,
		userID, email, emailNorm,
		strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName),
		in.Phone, in.SchoolName, in.Position,
		in.PasswordHash, now,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, err
	}

	// Attach the default role when it exists. A deployment without a
	// seeded member role creates the user with no roles.
	var roles []RoleAssignment
	var roleID, roleName string
	var perms []string
	err = tx.QueryRow(ctx,
		`SELECT id, name, permissions FROM roles WHERE name = $1`,
		DefaultRoleName,
	).Scan(&roleID, &roleName, &perms)
	switch {
	case err == nil:
		assignmentID, idErr := NewULID(now)
		if idErr != nil {
			return User{}, idErr
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO user_roles (id, user_id, role_id, created_at)
			 VALUES ($1, $2, $3, $4)`,
			assignmentID, userID, roleID, now,
		)
		if err != nil {
			return User{}, err
		}
		roles = []RoleAssignment{{
			ID:   assignmentID,
			Role: Role{ID: roleID, Name: roleName, Permissions: perms},
		}}
	case errors.Is(err, pgx.ErrNoRows):
		// No default role seeded.
	default:
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}

	return User{
		ID:         userID,
		Email:      email,
		FirstName:  strings.TrimSpace(in.FirstName),
		LastName:   strings.TrimSpace(in.LastName),
		Phone:      in.Phone,
		SchoolName: in.SchoolName,
		Position:   in.Position,
		IsActive:   true,
		Roles:      roles,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// GetUserAuthByEmail loads a user plus password hash by normalized email.
func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	emailNorm := NormalizeEmail(email)
	if emailNorm == "" {
		return UserAuth{}, invalid(op, "email is required")
	}

	return s.getUserAuth(ctx, op, `email_norm = $1`, emailNorm)
}

// GetUserAuthByID loads a user plus password hash by id.
func (s *PostgresStore) GetUserAuthByID(ctx context.Context, userID string) (UserAuth, error) {
	const op = "identity.GetUserAuthByID"

	if strings.TrimSpace(userID) == "" {
		return UserAuth{}, invalid(op, "user id is required")
	}

	return s.getUserAuth(ctx, op, `id = $1`, userID)
}

func (s *PostgresStore) getUserAuth(ctx context.Context, op, where string, arg any) (UserAuth, error) {
	var (
		u    User
		hash string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE `+where, arg,
	).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.SchoolName, &u.Position,
		&u.IsActive, &u.IsVerified, &u.VerifiedAt, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
		&hash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, notFound(op)
		}
		return UserAuth{}, err
	}

	roles, err := s.loadRoles(ctx, u.ID)
	if err != nil {
		return UserAuth{}, err
	}
	u.Roles = roles

	return UserAuth{User: u, PasswordHash: hash}, nil
}

// GetUserByID loads a sanitized user with role assignments.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUserByID"

	if strings.TrimSpace(userID) == "" {
		return User{}, invalid(op, "user id is required")
	}

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID,
	).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.SchoolName, &u.Position,
		&u.IsActive, &u.IsVerified, &u.VerifiedAt, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, err
	}

	roles, err := s.loadRoles(ctx, u.ID)
	if err != nil {
		return User{}, err
	}
	u.Roles = roles

	return u, nil
}

func (s *PostgresStore) loadRoles(ctx context.Context, userID string) ([]RoleAssignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ur.id, r.id, r.name, r.permissions
		   FROM user_roles ur
		   JOIN roles r ON r.id = ur.role_id
		  WHERE ur.user_id = $1
		  ORDER BY r.name`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoleAssignment
	for rows.Next() {
		var ra RoleAssignment
		if err := rows.Scan(&ra.ID, &ra.Role.ID, &ra.Role.Name, &ra.Role.Permissions); err != nil {
			return nil, err
		}
		out = append(out, ra)
	}
	return out, rows.Err()
}

// UpdatePassword replaces the stored password hash.
func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePassword"

	if strings.TrimSpace(userID) == "" || passwordHash == "" {
		return invalid(op, "user id and password hash are required")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

// MarkVerified sets the verified flag and timestamp.
func (s *PostgresStore) MarkVerified(ctx context.Context, userID string, now time.Time) error {
	const op = "identity.MarkVerified"

	if strings.TrimSpace(userID) == "" {
		return invalid(op, "user id is required")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_verified = TRUE, verified_at = $2, updated_at = $2 WHERE id = $1`,
		userID, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

// TouchLastLogin records a successful login.
func (s *PostgresStore) TouchLastLogin(ctx context.Context, userID string, now time.Time) error {
	const op = "identity.TouchLastLogin"

	if strings.TrimSpace(userID) == "" {
		return invalid(op, "user id is required")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`,
		userID, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

// SetActive toggles the active flag.
func (s *PostgresStore) SetActive(ctx context.Context, userID string, active bool, now time.Time) error {
	const op = "identity.SetActive"

	if strings.TrimSpace(userID) == "" {
		return invalid(op, "user id is required")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`,
		userID, active, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
