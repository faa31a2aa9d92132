package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

func TestAuthorizer_NoPolicyAllowsEverything(t *testing.T) {
	a, err := NewAuthorizer(AuthzConfig{})
	require.NoError(t, err)

	assert.NoError(t, a.Authorize(Caller{}, "SELECT", "EMPLOYEE"))
	assert.NoError(t, a.Authorize(Caller{}, "DELETE", "EMPLOYEE"))
}

func TestAuthorizer_OperationAllowList(t *testing.T) {
	a, err := NewAuthorizer(AuthzConfig{AllowedOperations: []string{"SELECT"}})
	require.NoError(t, err)

	assert.NoError(t, a.Authorize(Caller{}, "select", "T"))

	err = a.Authorize(Caller{}, "UPDATE", "T")
	require.Error(t, err)
	assert.True(t, gwerrors.IsKind(err, gwerrors.KindAuthorization))
}

func TestAuthorizer_ForbiddenOperationWins(t *testing.T) {
	a, err := NewAuthorizer(AuthzConfig{
		AllowedOperations:   []string{"SELECT", "DELETE"},
		ForbiddenOperations: []string{"DELETE"},
	})
	require.NoError(t, err)

	assert.Error(t, a.Authorize(Caller{}, "DELETE", "T"))
}

func TestAuthorizer_TableLists(t *testing.T) {
	a, err := NewAuthorizer(AuthzConfig{
		AllowedTables:   []string{"EMPLOYEE", "PROJECT"},
		ForbiddenTables: []string{"SALARY_HISTORY"},
	})
	require.NoError(t, err)

	assert.NoError(t, a.Authorize(Caller{}, "SELECT", "employee"))
	assert.Error(t, a.Authorize(Caller{}, "SELECT", "SALARY_HISTORY"))
	assert.Error(t, a.Authorize(Caller{}, "SELECT", "OTHER"))
}

func TestAuthorizer_TablePattern(t *testing.T) {
	a, err := NewAuthorizer(AuthzConfig{TablePattern: `^APP_`})
	require.NoError(t, err)

	assert.NoError(t, a.Authorize(Caller{}, "SELECT", "APP_USERS"))

	err = a.Authorize(Caller{}, "SELECT", "USERS")
	require.Error(t, err)
	assert.Equal(t, `^APP_`, gwerrors.Classify(err).Context["pattern"])
}

func TestAuthorizer_InvalidPattern(t *testing.T) {
	_, err := NewAuthorizer(AuthzConfig{TablePattern: `([`})
	assert.Error(t, err)
}

func TestAuthorizer_RolePolicy(t *testing.T) {
	a, err := NewAuthorizer(AuthzConfig{
		Roles: map[string]RoleGrant{
			"analyst": {Tables: []string{"EMPLOYEE"}, Operations: []string{"SELECT"}},
			"admin":   {AllTables: true, Operations: []string{"SELECT", "INSERT", "UPDATE", "DELETE"}},
		},
	})
	require.NoError(t, err)

	analyst := Caller{ID: "u1", Roles: []string{"analyst"}}
	admin := Caller{ID: "u2", Roles: []string{"admin"}}

	assert.NoError(t, a.Authorize(analyst, "SELECT", "EMPLOYEE"))
	assert.Error(t, a.Authorize(analyst, "SELECT", "PROJECT"), "table not granted")
	assert.Error(t, a.Authorize(analyst, "UPDATE", "EMPLOYEE"), "operation not granted")

	assert.NoError(t, a.Authorize(admin, "DELETE", "ANYTHING"))
}

func TestAuthorizer_RolePolicyRequiresIdentity(t *testing.T) {
	a, err := NewAuthorizer(AuthzConfig{
		Roles: map[string]RoleGrant{"admin": {AllTables: true, Operations: []string{"SELECT"}}},
	})
	require.NoError(t, err)

	err = a.Authorize(Caller{}, "SELECT", "T")
	require.Error(t, err)
	assert.True(t, gwerrors.IsKind(err, gwerrors.KindAuthorization))

	err = a.Authorize(Caller{ID: "u1", Roles: []string{"unknown-role"}}, "SELECT", "T")
	assert.Error(t, err, "ungranted role denied")
}

func TestAuthorizer_TableConstraintsIndependentOfRole(t *testing.T) {
	a, err := NewAuthorizer(AuthzConfig{
		ForbiddenTables: []string{"SECRETS"},
		Roles: map[string]RoleGrant{
			"admin": {AllTables: true, Operations: []string{"SELECT"}},
		},
	})
	require.NoError(t, err)

	admin := Caller{ID: "u1", Roles: []string{"admin"}}
	assert.Error(t, a.Authorize(admin, "SELECT", "SECRETS"),
		"deny list applies even with a blanket role grant")
}
