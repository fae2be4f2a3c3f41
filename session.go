package accounts

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// SessionClaims is the signed payload the session cookie carries. Only
// the user id travels with the client; role and account state are
// re-read from the store on every request.
type SessionClaims struct {
	jwt.RegisteredClaims
	UID string `json:"uid,omitempty"`
}

// SessionManager authenticates sign-in attempts and reconstructs the
// caller's identity from the cookie token on every request.
type SessionManager struct {
	repo       RepositoryManager
	signingKey []byte
	ttl        time.Duration
	issuer     string
	logger     Logger
}

// NewSessionManager builds a manager around the server-held symmetric key
func NewSessionManager(repo RepositoryManager, signingKey []byte, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{
		repo:       repo,
		signingKey: signingKey,
		ttl:        ttl,
		logger:     defLogger{},
	}
}

// WithIssuer sets the issuer claim stamped on new sessions
func (s *SessionManager) WithIssuer(issuer string) *SessionManager {
	s.issuer = issuer
	return s
}

// WithLogger overrides the logger used by the manager
func (s *SessionManager) WithLogger(logger Logger) *SessionManager {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// TTL returns the session lifetime, which also bounds the cookie expiry
func (s *SessionManager) TTL() time.Duration {
	return s.ttl
}

// SignIn verifies the credential and mints a session token. Unknown
// identifier, absent hash, inactive account, and wrong password are all
// the same ErrInvalidCredentials; the caller cannot probe which one hit.
func (s *SessionManager) SignIn(ctx context.Context, identifier, password string) (*Identity, string, error) {
	user, err := s.repo.Users().GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during sign-in")
	}

	if !user.Active || !user.HasPassword() {
		return nil, "", ErrInvalidCredentials
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash.String); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.signToken(user.ID)
	if err != nil {
		return nil, "", err
	}

	return IdentityFromUser(user), token, nil
}

// IdentityFromToken decodes the session token and re-fetches the user
// row, so role changes and deactivation apply without a new sign-in.
// Tampered, expired, or otherwise unusable tokens come back as
// ErrUnauthorized, never as a crash.
func (s *SessionManager) IdentityFromToken(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrUnauthorized
	}

	claims, err := s.parseToken(raw)
	if err != nil {
		s.logger.Debug("session token rejected: %v", err)
		return nil, ErrUnauthorized
	}

	uid := claims.UID
	if uid == "" {
		uid = claims.RegisteredClaims.Subject
	}

	id, err := uuid.Parse(uid)
	if err != nil {
		return nil, ErrUnauthorized
	}

	user, err := s.repo.Users().GetByIdentifier(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUnauthorized
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for session")
	}

	if !user.Active {
		return nil, ErrUnauthorized
	}

	return IdentityFromUser(user), nil
}

func (s *SessionManager) signToken(id uuid.UUID) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UID: id.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

func (s *SessionManager) parseToken(raw string) (*SessionClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 1)
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, goerrors.New("unexpected signing method", goerrors.CategoryAuth)
		}
		return s.signingKey, nil
	}, parserOptions...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, goerrors.New("unable to decode session claims", goerrors.CategoryAuth)
	}

	return claims, nil
}
