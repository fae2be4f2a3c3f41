package accounts

import (
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

const identityLocalKey = "identity"

// ErrorHandler maps the package error taxonomy onto HTTP responses with
// the default logger. Callers get a structured body, never stack detail.
var ErrorHandler = NewErrorHandler(nil)

// NewErrorHandler builds the fiber error handler around a logger so
// operational failures land in the server log.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = defLogger{}
	}

	return func(c *fiber.Ctx, err error) error {
		if err == nil {
			return nil
		}

		if fiberErr, ok := err.(*fiber.Error); ok {
			return c.Status(fiberErr.Code).JSON(fiber.Map{
				"error": fiber.Map{"message": fiberErr.Message},
			})
		}

		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "an unexpected server error occurred")
		}

		status := statusFromCategory(richErr.Category)
		if status >= fiber.StatusInternalServerError {
			// the client only sees the generic message
			logger.Error("request failed: %s %s: %v", c.Method(), c.Path(), err)
			return c.Status(status).JSON(fiber.Map{
				"error": fiber.Map{"message": "internal server error"},
			})
		}

		body := fiber.Map{
			"message":  richErr.Message,
			"category": richErr.Category,
		}
		if richErr.TextCode != "" {
			body["text_code"] = richErr.TextCode
		}

		return c.Status(status).JSON(fiber.Map{"error": body})
	}
}

func statusFromCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return fiber.StatusForbidden
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	case goerrors.CategoryValidation:
		return fiber.StatusUnprocessableEntity
	case goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// SessionMiddleware deserializes the cookie into an identity for the
// request. Missing, tampered, and expired tokens all leave the request
// anonymous; a store failure fails the request instead of silently
// downgrading an authenticated caller.
func SessionMiddleware(sessions *SessionManager, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Cookies(cookieName)
		if raw == "" {
			return c.Next()
		}

		identity, err := sessions.IdentityFromToken(c.Context(), raw)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryInternal {
				return err
			}
			return c.Next()
		}

		if identity != nil {
			c.Locals(identityLocalKey, identity)
		}

		return c.Next()
	}
}

// PolicyMiddleware runs the casbin gate before any handler. Denials stop
// the request before business logic or store access happens.
func PolicyMiddleware(gate *Gate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := RoleAnonymous
		if identity := CurrentIdentity(c); identity != nil {
			role = identity.Role
		}

		if !gate.Allow(role, c.Path(), c.Method()) {
			return ErrForbidden
		}

		return c.Next()
	}
}

// CurrentIdentity returns the request identity or nil for anonymous
// callers
func CurrentIdentity(c *fiber.Ctx) *Identity {
	identity, _ := c.Locals(identityLocalKey).(*Identity)
	return identity
}

func setSessionCookie(c *fiber.Ctx, name, token string, ttl time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    token,
		Expires:  time.Now().Add(ttl),
		Path:     "/",
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Strict",
	})
}

func clearSessionCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * 24 * 365),
		Path:     "/",
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Strict",
	})
}
