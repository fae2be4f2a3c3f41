package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `p, *, /api/v1/auth, POST
p, *, /api/v1/auth, DELETE
p, *, /api/v1/auth, PATCH
p, *, /api/v1/auth/resend, POST
p, *, /api/v1/auth/reset, POST
p, *, /api/v1/auth/sign-in, POST
p, *, /api/v1/auth/sign-out, DELETE
p, admin, /api/v1/users, GET
p, admin, /api/v1/users, POST
p, admin, /api/v1/users/:id, PATCH
p, admin, /api/v1/users/:id, DELETE
p, admin, /api/v1/users/:id/email, PATCH
p, admin, /api/v1/users/:id/password, PATCH
p, admin, /api/v1/users/:id/profile, PATCH
p, user, /api/v1/users/:id/email, PATCH
p, user, /api/v1/users/:id/password, PATCH
p, user, /api/v1/users/:id/profile, PATCH
`

func writeTestPolicy(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "policy.csv")
	require.NoError(t, os.WriteFile(path, []byte(testPolicy), 0o600))

	return path
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()

	gate, err := NewGate(writeTestPolicy(t))
	require.NoError(t, err)

	return gate
}

func TestGateAllow(t *testing.T) {
	t.Parallel()

	gate := newTestGate(t)

	tests := []struct {
		name   string
		role   UserRole
		path   string
		method string
		want   bool
	}{
		{"anonymous signup", RoleAnonymous, "/api/v1/auth", "POST", true},
		{"anonymous token redemption", RoleAnonymous, "/api/v1/auth", "DELETE", true},
		{"anonymous sign-in", RoleAnonymous, "/api/v1/auth/sign-in", "POST", true},
		{"anonymous cannot list users", RoleAnonymous, "/api/v1/users", "GET", false},
		{"anonymous cannot change a password", RoleAnonymous, "/api/v1/users/42/password", "PATCH", false},

		{"wildcard rows cover signed-in callers", RoleUser, "/api/v1/auth/sign-out", "DELETE", true},
		{"user can change own password route", RoleUser, "/api/v1/users/42/password", "PATCH", true},
		{"user can update profile route", RoleUser, "/api/v1/users/42/profile", "PATCH", true},
		{"user cannot list users", RoleUser, "/api/v1/users", "GET", false},
		{"user cannot delete users", RoleUser, "/api/v1/users/42", "DELETE", false},

		{"admin can list users", RoleAdmin, "/api/v1/users", "GET", true},
		{"admin can create users", RoleAdmin, "/api/v1/users", "POST", true},
		{"admin can delete users", RoleAdmin, "/api/v1/users/42", "DELETE", true},

		{"method matters", RoleAdmin, "/api/v1/users", "DELETE", false},
		{"unknown paths default to deny", RoleAdmin, "/api/v1/internal", "GET", false},
		{"unknown role defaults to deny", "auditor", "/api/v1/users", "GET", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, gate.Allow(tc.role, tc.path, tc.method))
		})
	}
}

func TestGateEmptyRoleIsAnonymous(t *testing.T) {
	t.Parallel()

	gate := newTestGate(t)

	assert.True(t, gate.Allow("", "/api/v1/auth", "POST"))
	assert.False(t, gate.Allow("", "/api/v1/users", "GET"))
}

func TestNewGateMissingPolicyFile(t *testing.T) {
	t.Parallel()

	_, err := NewGate(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
