package accounts

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func TestSignIn(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t)
	sessions := NewSessionManager(repo, testSigningKey, time.Hour)
	ctx := context.Background()

	user := createTestUser(t, repo)

	t.Run("valid credentials", func(t *testing.T) {
		identity, token, err := sessions.SignIn(ctx, user.Email, strongPassword)
		require.NoError(t, err)
		require.NotNil(t, identity)

		assert.Equal(t, user.ID, identity.ID)
		assert.Equal(t, user.Email, identity.Email)
		assert.NotEmpty(t, token)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := sessions.SignIn(ctx, user.Email, "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, _, err := sessions.SignIn(ctx, "nobody@example.com", strongPassword)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("account without a password", func(t *testing.T) {
		provisioned := createTestUser(t, repo, func(u *User) {
			u.PasswordHash = sql.NullString{}
		})

		_, _, err := sessions.SignIn(ctx, provisioned.Email, strongPassword)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("deactivated account", func(t *testing.T) {
		inactive := createTestUser(t, repo, func(u *User) {
			u.Active = false
		})

		_, _, err := sessions.SignIn(ctx, inactive.Email, strongPassword)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestIdentityFromToken(t *testing.T) {
	t.Parallel()

	repo, db := newTestRepo(t)
	sessions := NewSessionManager(repo, testSigningKey, time.Hour)
	ctx := context.Background()

	user := createTestUser(t, repo)

	_, token, err := sessions.SignIn(ctx, user.Email, strongPassword)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		identity, err := sessions.IdentityFromToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, identity.ID)
		assert.Equal(t, RoleUser, identity.Role)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := sessions.IdentityFromToken(ctx, "")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("tampered token", func(t *testing.T) {
		_, err := sessions.IdentityFromToken(ctx, token+"x")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("token signed with a different key", func(t *testing.T) {
		other := NewSessionManager(repo, []byte("ffffffffffffffffffffffffffffffff"), time.Hour)
		_, foreign, err := other.SignIn(ctx, user.Email, strongPassword)
		require.NoError(t, err)

		_, err = sessions.IdentityFromToken(ctx, foreign)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("role changes apply without a new sign-in", func(t *testing.T) {
		_, err := db.NewUpdate().
			Model((*User)(nil)).
			Set("role = ?", RoleAdmin).
			Where("id = ?", user.ID).
			Exec(ctx)
		require.NoError(t, err)

		identity, err := sessions.IdentityFromToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, identity.Role)
	})

	t.Run("deactivation revokes the session", func(t *testing.T) {
		_, err := db.NewUpdate().
			Model((*User)(nil)).
			Set("active = ?", false).
			Where("id = ?", user.ID).
			Exec(ctx)
		require.NoError(t, err)

		_, err = sessions.IdentityFromToken(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestSessionExpiry(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t)
	user := createTestUser(t, repo)
	ctx := context.Background()

	// a zero or negative ttl is coerced to the default at construction
	short := NewSessionManager(repo, testSigningKey, 0)
	assert.Equal(t, 24*time.Hour, short.TTL())

	expired := NewSessionManager(repo, testSigningKey, time.Millisecond)
	_, token, err := expired.SignIn(ctx, user.Email, strongPassword)
	require.NoError(t, err)

	// exp claims carry second precision, wait out a full second
	time.Sleep(1100 * time.Millisecond)

	_, err = expired.IdentityFromToken(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
