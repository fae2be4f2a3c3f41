package accounts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandlerLogsOperationalFailures(t *testing.T) {
	t.Parallel()

	logger := &recordingLogger{}
	app := fiber.New(fiber.Config{
		ErrorHandler: NewErrorHandler(logger),
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return goerrors.New("store exploded", goerrors.CategoryInternal)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil), testTimeoutMs)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, "internal server error", body.Error.Message)

	entries := logger.all()
	require.NotEmpty(t, entries)
	assert.Contains(t, entries[0], "/boom")
}

func TestErrorHandlerKeepsClientErrorsQuiet(t *testing.T) {
	t.Parallel()

	logger := &recordingLogger{}
	app := fiber.New(fiber.Config{
		ErrorHandler: NewErrorHandler(logger),
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return ErrTokenNotFound
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil), testTimeoutMs)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, logger.all())
}

func TestSessionMiddleware(t *testing.T) {
	t.Parallel()

	repo, db := newTestRepo(t)
	sessions := NewSessionManager(repo, testSigningKey, time.Hour)
	user := createTestUser(t, repo)

	_, token, err := sessions.SignIn(context.Background(), user.Email, strongPassword)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
	})
	app.Get("/whoami", SessionMiddleware(sessions, "session"), func(c *fiber.Ctx) error {
		if CurrentIdentity(c) == nil {
			return ErrUnauthorized
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	whoami := func(cookie string) *http.Response {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: "session", Value: cookie})
		}
		resp, err := app.Test(req, testTimeoutMs)
		require.NoError(t, err)
		return resp
	}

	t.Run("valid cookie resolves the identity", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, whoami(token).StatusCode)
	})

	t.Run("missing cookie stays anonymous", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, whoami("").StatusCode)
	})

	t.Run("tampered cookie stays anonymous", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, whoami(token+"x").StatusCode)
	})

	t.Run("store outage fails the request", func(t *testing.T) {
		require.NoError(t, db.Close())

		// a caller with a valid session must not be downgraded to
		// anonymous when the store cannot answer
		assert.Equal(t, http.StatusInternalServerError, whoami(token).StatusCode)
	})
}
