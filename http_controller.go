package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// HTTPController exposes the auth and user endpoints. Token issuance
// endpoints answer 204 whether or not the target account exists so the
// surface cannot be used to enumerate addresses.
type HTTPController struct {
	repo     RepositoryManager
	sessions *SessionManager
	tokens   *VerificationService
	mailer   Mailer

	cookieName  string
	mailFrom    string
	mailBaseURL string
	logger      Logger
}

// NewHTTPController wires the controller
func NewHTTPController(repo RepositoryManager, sessions *SessionManager, tokens *VerificationService, mailer Mailer, cfg *Config) *HTTPController {
	return &HTTPController{
		repo:        repo,
		sessions:    sessions,
		tokens:      tokens,
		mailer:      mailer,
		cookieName:  cfg.SessionCookieName,
		mailFrom:    cfg.MailFrom,
		mailBaseURL: cfg.MailBaseURL,
		logger:      defLogger{},
	}
}

// WithLogger overrides the logger used by the controller
func (h *HTTPController) WithLogger(logger Logger) *HTTPController {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// RegisterRoutes mounts everything under /api/v1 behind the session
// middleware and the policy gate, in that order.
func (h *HTTPController) RegisterRoutes(app *fiber.App, gate *Gate) {
	v1 := app.Group("/api/v1",
		SessionMiddleware(h.sessions, h.cookieName),
		PolicyMiddleware(gate),
	)

	v1.Post("/auth", h.Signup)
	v1.Post("/auth/resend", h.Resend)
	v1.Post("/auth/reset", h.Reset)
	v1.Delete("/auth", h.Redeem)
	v1.Patch("/auth", h.SetPasswordWithToken)
	v1.Post("/auth/sign-in", h.SignIn)
	v1.Delete("/auth/sign-out", h.SignOut)

	v1.Get("/users", h.ListUsers)
	v1.Post("/users", h.CreateUser)
	v1.Patch("/users/:id", h.UpdateUser)
	v1.Delete("/users/:id", h.DeleteUser)
	v1.Patch("/users/:id/email", h.ChangeEmail)
	v1.Patch("/users/:id/password", h.ChangePassword)
	v1.Patch("/users/:id/profile", h.UpdateProfile)
}

type signupPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p signupPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

// Signup handles POST /auth. An already-registered email gets a courtesy
// note instead of a token and the same 204 as a fresh signup.
func (h *HTTPController) Signup(c *fiber.Ctx) error {
	var payload signupPayload
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	if PasswordScore(payload.Password, payload.Email) < MinPasswordScore {
		return ErrPasswordInsufficient
	}

	ctx := c.Context()

	existing, err := h.repo.Users().GetByEmail(ctx, payload.Email)
	if err != nil && !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check existing account")
	}

	if existing != nil {
		h.deliver(MailMessage{
			From:    h.mailFrom,
			To:      payload.Email,
			Subject: "STET Solutions :: Verify Account",
			Body:    "This account is active.",
		})
		return c.SendStatus(fiber.StatusNoContent)
	}

	hash, err := HashPassword(payload.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	user, err := h.repo.Users().Create(ctx, &User{
		Email:        payload.Email,
		PasswordHash: sql.NullString{String: hash, Valid: true},
		Role:         RoleUser,
		Active:       true,
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
	}

	token, err := h.tokens.Issue(ctx, user.ID, IntentConfirm{})
	if err != nil {
		return err
	}

	h.deliver(MailMessage{
		From:    h.mailFrom,
		To:      payload.Email,
		Subject: "STET Solutions :: Verify Account",
		Body:    h.verifyAccountText(user.ID, token),
	})

	return c.SendStatus(fiber.StatusNoContent)
}

type emailPayload struct {
	Email string `json:"email"`
}

func (p emailPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

// Resend handles POST /auth/resend: a fresh confirmation token for an
// existing account, 204 either way.
func (h *HTTPController) Resend(c *fiber.Ctx) error {
	var payload emailPayload
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	ctx := c.Context()

	user, err := h.repo.Users().GetByEmail(ctx, payload.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	token, err := h.tokens.Issue(ctx, user.ID, IntentConfirm{})
	if err != nil {
		return err
	}

	h.deliver(MailMessage{
		From:    h.mailFrom,
		To:      payload.Email,
		Subject: "STET Solutions :: Verify Account",
		Body:    h.verifyAccountText(user.ID, token),
	})

	return c.SendStatus(fiber.StatusNoContent)
}

// Reset handles POST /auth/reset: a token whose link points at the
// change-password page, 204 either way.
func (h *HTTPController) Reset(c *fiber.Ctx) error {
	var payload emailPayload
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	ctx := c.Context()

	user, err := h.repo.Users().GetByEmail(ctx, payload.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	token, err := h.tokens.Issue(ctx, user.ID, IntentConfirm{})
	if err != nil {
		return err
	}

	h.deliver(MailMessage{
		From:    h.mailFrom,
		To:      payload.Email,
		Subject: "STET Solutions :: Reset Password",
		Body:    h.changePasswordText(user.ID, token),
	})

	return c.SendStatus(fiber.StatusNoContent)
}

// Redeem handles DELETE /auth?userId&token. Invalid, expired, and
// foreign tokens are the same 404.
func (h *HTTPController) Redeem(c *fiber.Ctx) error {
	userID, token, err := tokenQuery(c)
	if err != nil {
		return err
	}

	if err := h.tokens.Redeem(c.Context(), userID, token); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type setPasswordPayload struct {
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (p setPasswordPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NewPassword, validation.Required),
		validation.Field(&p.ConfirmPassword, validation.Required),
	)
}

// SetPasswordWithToken handles PATCH /auth?userId&token: the landing
// endpoint for set-password links.
func (h *HTTPController) SetPasswordWithToken(c *fiber.Ctx) error {
	userID, token, err := tokenQuery(c)
	if err != nil {
		return err
	}

	var payload setPasswordPayload
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	if err := h.tokens.ChangePasswordWithToken(c.Context(), userID, token, payload.NewPassword, payload.ConfirmPassword); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type signInPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p signInPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required),
		validation.Field(&p.Password, validation.Required),
	)
}

// SignIn handles POST /auth/sign-in and answers with the stripped
// identity plus the session cookie.
func (h *HTTPController) SignIn(c *fiber.Ctx) error {
	var payload signInPayload
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	identity, token, err := h.sessions.SignIn(c.Context(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	setSessionCookie(c, h.cookieName, token, h.sessions.TTL())

	return c.JSON(identity)
}

// SignOut handles DELETE /auth/sign-out. Idempotent: signing out without
// a session is still a 204.
func (h *HTTPController) SignOut(c *fiber.Ctx) error {
	clearSessionCookie(c, h.cookieName)
	return c.SendStatus(fiber.StatusNoContent)
}

var listSortFields = map[string]bool{
	"id":         true,
	"email":      true,
	"first_name": true,
	"last_name":  true,
	"role":       true,
	"username":   true,
	"verified":   true,
}

type listSortEntry struct {
	Field string `json:"field"`
	Sort  string `json:"sort"`
}

// ListUsers handles GET /users with limit/offset paging and a JSON sort
// descriptor, e.g. [{"field":"email","sort":"asc"}].
func (h *HTTPController) ListUsers(c *fiber.Ctx) error {
	if _, err := h.requireIdentity(c); err != nil {
		return err
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	order, err := parseListSort(c.Query("sort"))
	if err != nil {
		return err
	}

	records, count, err := h.repo.Users().ListPage(c.Context(), limit, offset*limit, order)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list users")
	}

	rows := make([]*Identity, 0, len(records))
	for _, record := range records {
		rows = append(rows, IdentityFromUser(record))
	}

	return c.JSON(fiber.Map{
		"count": count,
		"rows":  rows,
	})
}

func parseListSort(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	var entries []listSortEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return "", goerrors.New("query invalid", goerrors.CategoryValidation).WithTextCode("QUERY_INVALID")
	}

	parts := make([]string, 0, len(entries))
	for _, entry := range entries {
		dir := strings.ToLower(entry.Sort)
		if !listSortFields[entry.Field] || (dir != "asc" && dir != "desc") {
			return "", goerrors.New("query invalid", goerrors.CategoryValidation).WithTextCode("QUERY_INVALID")
		}
		parts = append(parts, entry.Field+" "+dir)
	}

	return strings.Join(parts, ", "), nil
}

type createUserPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Username  string `json:"username"`
}

func (p createUserPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Role, validation.Required),
	)
}

// CreateUser handles POST /users: admin provisioning. The account starts
// active with no password; the mail carries one link to verify and one
// to set the password.
func (h *HTTPController) CreateUser(c *fiber.Ctx) error {
	if _, err := h.requireIdentity(c); err != nil {
		return err
	}

	var payload createUserPayload
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	ctx := c.Context()
	users := h.repo.Users()

	if _, err := users.GetByEmail(ctx, payload.Email); err == nil {
		return ErrEmailTaken
	} else if !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
	}

	if payload.Username != "" {
		if _, err := users.GetByUsername(ctx, payload.Username); err == nil {
			return ErrUsernameTaken
		} else if !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username availability")
		}
	}

	record := &User{
		Email:     payload.Email,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Role:      payload.Role,
		Active:    true,
	}
	if payload.Username != "" {
		record.Username = sql.NullString{String: payload.Username, Valid: true}
	}

	user, err := users.Create(ctx, record)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
	}

	accountToken, err := h.tokens.Issue(ctx, user.ID, IntentConfirm{})
	if err != nil {
		return err
	}

	passwordToken, err := h.tokens.Issue(ctx, user.ID, IntentConfirm{})
	if err != nil {
		return err
	}

	body := fmt.Sprintf(
		"\nPlease verify your account:\n%s/verify?userId=%s&token=%s\n\nPlease set your password:\n%s/change?userId=%s&token=%s\n",
		h.mailBaseURL, user.ID, accountToken,
		h.mailBaseURL, user.ID, passwordToken,
	)

	h.deliver(MailMessage{
		From:    h.mailFrom,
		To:      payload.Email,
		Subject: "STET Solutions :: Set Password and Verify Account",
		Body:    body,
	})

	return c.SendStatus(fiber.StatusNoContent)
}

type updateUserPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Username  string `json:"username"`
}

func (p updateUserPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Role, validation.Required),
	)
}

// UpdateUser handles PATCH /users/:id: admin edit of core fields
func (h *HTTPController) UpdateUser(c *fiber.Ctx) error {
	if _, err := h.requireIdentity(c); err != nil {
		return err
	}

	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	var payload updateUserPayload
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	err = h.repo.RunInTx(c.Context(), nil, func(ctx context.Context, tx bun.Tx) error {
		query := tx.NewUpdate().
			Model((*User)(nil)).
			Set("email = ?", payload.Email).
			Set("first_name = ?", payload.FirstName).
			Set("last_name = ?", payload.LastName).
			Set("role = ?", payload.Role).
			Where("id = ?", id)

		if payload.Username != "" {
			query = query.Set("username = ?", payload.Username)
		}

		_, err := query.Exec(ctx)
		return err
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteUser handles DELETE /users/:id
func (h *HTTPController) DeleteUser(c *fiber.Ctx) error {
	if _, err := h.requireIdentity(c); err != nil {
		return err
	}

	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.repo.Users().DeleteByID(c.Context(), id); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type changeEmailPayload struct {
	CurrentEmail string `json:"current_email"`
	NewEmail     string `json:"new_email"`
	Password     string `json:"password"`
}

func (p changeEmailPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.CurrentEmail, validation.Required, is.Email),
		validation.Field(&p.NewEmail, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

// ChangeEmail handles PATCH /users/:id/email. Self-only; the mutation
// itself waits behind a token mailed to the new address, and the old
// address gets a heads-up.
func (h *HTTPController) ChangeEmail(c *fiber.Ctx) error {
	identity, err := h.requireIdentity(c)
	if err != nil {
		return err
	}

	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	if id != identity.ID {
		return ErrForbidden
	}

	var payload changeEmailPayload
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	ctx := c.Context()
	users := h.repo.Users()

	if _, err := users.GetByEmail(ctx, payload.NewEmail); err == nil {
		return ErrEmailTaken
	} else if !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
	}

	user, err := users.GetByEmail(ctx, payload.CurrentEmail)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrForbidden
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	if !user.HasPassword() || ComparePasswordAndHash(payload.Password, user.PasswordHash.String) != nil {
		return ErrForbidden
	}

	token, err := h.tokens.Issue(ctx, user.ID, IntentChangeEmail{Email: payload.NewEmail})
	if err != nil {
		return err
	}

	h.deliver(MailMessage{
		From:    h.mailFrom,
		To:      payload.NewEmail,
		Subject: "STET Solutions :: Change Email Address",
		Body:    fmt.Sprintf("\nPlease verify your change of email address:\n%s/verify?userId=%s&token=%s\n", h.mailBaseURL, user.ID, token),
	})

	h.deliver(MailMessage{
		From:    h.mailFrom,
		To:      payload.CurrentEmail,
		Subject: "STET Solutions :: Change Email Address",
		Body:    "\nA change of email address has been requested.\nIf you did not request this change, please ensure your account is secure.\n",
	})

	return c.SendStatus(fiber.StatusNoContent)
}

type changePasswordPayload struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (p changePasswordPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.CurrentPassword, validation.Required),
		validation.Field(&p.NewPassword, validation.Required),
		validation.Field(&p.ConfirmPassword, validation.Required),
	)
}

// ChangePassword handles PATCH /users/:id/password. The new hash rides
// inside a reset token; nothing changes until the mail link is redeemed.
func (h *HTTPController) ChangePassword(c *fiber.Ctx) error {
	identity, err := h.requireIdentity(c)
	if err != nil {
		return err
	}

	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	if id != identity.ID {
		return ErrForbidden
	}

	var payload changePasswordPayload
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	ctx := c.Context()

	user, err := h.repo.Users().GetByIdentifier(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrForbidden
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	if !user.HasPassword() || ComparePasswordAndHash(payload.CurrentPassword, user.PasswordHash.String) != nil {
		return ErrForbidden
	}

	if err := ValidateNewPassword(payload.NewPassword, payload.ConfirmPassword, user.Email); err != nil {
		return err
	}

	hash, err := HashPassword(payload.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	token, err := h.tokens.Issue(ctx, user.ID, IntentResetPassword{PasswordHash: hash})
	if err != nil {
		return err
	}

	h.deliver(MailMessage{
		From:    h.mailFrom,
		To:      user.Email,
		Subject: "STET Solutions :: Change Password",
		Body:    fmt.Sprintf("\nPlease verify your change of password:\n%s/verify?userId=%s&token=%s\n", h.mailBaseURL, user.ID, token),
	})

	return c.SendStatus(fiber.StatusNoContent)
}

type updateProfilePayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

func (p updateProfilePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.FirstName, validation.Required, validation.Length(1, 0)),
		validation.Field(&p.LastName, validation.Required, validation.Length(1, 0)),
		validation.Field(&p.Username, validation.Required, validation.Length(1, 0)),
	)
}

// UpdateProfile handles PATCH /users/:id/profile and answers with the
// refreshed stripped identity.
func (h *HTTPController) UpdateProfile(c *fiber.Ctx) error {
	identity, err := h.requireIdentity(c)
	if err != nil {
		return err
	}

	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	if id != identity.ID {
		return ErrForbidden
	}

	var payload updateProfilePayload
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	ctx := c.Context()

	if existing, err := h.repo.Users().GetByUsername(ctx, payload.Username); err == nil {
		if existing.ID != identity.ID {
			return ErrUsernameTaken
		}
	} else if !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username availability")
	}

	var updated *User
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		updated, err = h.repo.Users().UpdateProfileTx(ctx, tx, id, payload.FirstName, payload.LastName, payload.Username)
		return err
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
	}

	return c.JSON(IdentityFromUser(updated))
}

func (h *HTTPController) requireIdentity(c *fiber.Ctx) (*Identity, error) {
	identity := CurrentIdentity(c)
	if identity == nil {
		return nil, ErrUnauthorized
	}
	return identity, nil
}

// deliver sends mail off the request path. Failures are logged and
// intentionally not surfaced: issuance already committed.
func (h *HTTPController) deliver(msg MailMessage) {
	go func() {
		if err := h.mailer.Send(msg); err != nil {
			h.logger.Error("mail delivery failed: to=%s err=%v", msg.To, err)
		}
	}()
}

func (h *HTTPController) verifyAccountText(userID uuid.UUID, token string) string {
	return fmt.Sprintf("\nPlease verify your account:\n%s/verify?userId=%s&token=%s\n", h.mailBaseURL, userID, token)
}

func (h *HTTPController) changePasswordText(userID uuid.UUID, token string) string {
	return fmt.Sprintf("\nPlease reset your password:\n%s/change?userId=%s&token=%s\n", h.mailBaseURL, userID, token)
}

func parsePayload(c *fiber.Ctx, payload interface{ Validate() error }) error {
	if err := c.BodyParser(payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed request body")
	}

	if err := payload.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid request payload")
	}

	return nil
}

// tokenQuery reads userId/token from the query string. A userId that is
// not a uuid can never match a row, so it reads as the same not-found a
// bogus token does.
func tokenQuery(c *fiber.Ctx) (uuid.UUID, string, error) {
	token := c.Query("token")
	if token == "" {
		return uuid.Nil, "", ErrTokenNotFound
	}

	userID, err := uuid.Parse(c.Query("userId"))
	if err != nil {
		return uuid.Nil, "", ErrTokenNotFound
	}

	return userID, token, nil
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, goerrors.New("invalid id parameter", goerrors.CategoryBadInput)
	}
	return id, nil
}
