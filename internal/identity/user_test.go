package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a@x.com", NormalizeEmail("  A@X.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestNewULID(t *testing.T) {
	t.Parallel()

	id, err := NewULID(time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, id, 26)

	id2, err := NewULID(time.Time{})
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestRoleHelpers(t *testing.T) {
	t.Parallel()

	u := User{Roles: []RoleAssignment{
		{ID: "ra1", Role: Role{ID: "r1", Name: "member", Permissions: []string{"read:content"}}},
		{ID: "ra2", Role: Role{ID: "r2", Name: "admin", Permissions: []string{"manage:users"}}},
	}}

	assert.Equal(t, []string{"member", "admin"}, u.RoleNames())
	assert.True(t, u.HasRole("admin"))
	assert.True(t, u.HasRole("editor", "member"))
	assert.False(t, u.HasRole("editor"))

	var empty User
	assert.Nil(t, empty.RoleNames())
	assert.False(t, empty.HasRole("member"))
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	err := ConflictError{Op: "identity.CreateUser", Field: "email"}
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "email")

	nf := notFound("identity.GetUserByID")
	assert.True(t, IsNotFound(nf))

	inv := invalid("identity.CreateUser", "email is required")
	assert.True(t, IsInvalidInput(inv))
	assert.Contains(t, inv.Error(), "email is required")
}
