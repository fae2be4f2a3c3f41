package accounts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationService issues and redeems single-use verification tokens.
// A token moves Issued -> Redeemed or Issued -> Expired; both ends delete
// the row, expiry is evaluated lazily at lookup time and mopped up by the
// sweeper.
type VerificationService struct {
	repo   RepositoryManager
	logger Logger
}

// NewVerificationService creates a service with sane defaults
func NewVerificationService(repo RepositoryManager) *VerificationService {
	return &VerificationService{
		repo:   repo,
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the service
func (s *VerificationService) WithLogger(logger Logger) *VerificationService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Issue persists a token for the given intent and returns the opaque
// value to embed in the mail link. 256 bits from crypto/rand make a
// uniqueness retry loop unnecessary.
func (s *VerificationService) Issue(ctx context.Context, userID uuid.UUID, intent Intent) (string, error) {
	token, err := mintToken()
	if err != nil {
		return "", err
	}

	email, passwordHash := intent.payload()

	record := &Verification{
		ID:           uuid.New(),
		UserID:       userID,
		Token:        token,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}

	if _, err := s.repo.Verifications().Create(ctx, record); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist verification token")
	}

	return token, nil
}

// Redeem consumes the token and applies its intent. The lookup, the user
// mutation, and the token deletion run in one transaction; the guarded
// delete arbitrates concurrent redemptions, so of two racing calls
// exactly one commits and the other rolls back to ErrTokenNotFound.
func (s *VerificationService) Redeem(ctx context.Context, userID uuid.UUID, token string) error {
	cutoff := time.Now().Add(-VerificationTTL)

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.repo.Verifications().GetValidTx(ctx, tx, userID, token, cutoff)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrTokenNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up verification token")
		}

		if err := s.applyIntentTx(ctx, tx, record); err != nil {
			return err
		}

		return s.consumeTx(ctx, tx, userID, token, cutoff)
	})

	return normalizeTxError(err, "failed to redeem verification token")
}

// ChangePasswordWithToken finalizes a password set through a token link.
// The token check comes first so an invalid token reads as 404 before any
// password validation fires; a failed validation rolls back and leaves
// the token redeemable.
func (s *VerificationService) ChangePasswordWithToken(ctx context.Context, userID uuid.UUID, token, newPassword, confirmPassword string) error {
	cutoff := time.Now().Add(-VerificationTTL)

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.Verifications().GetValidTx(ctx, tx, userID, token, cutoff); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrTokenNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up verification token")
		}

		if err := ValidateNewPassword(newPassword, confirmPassword); err != nil {
			return err
		}

		hash, err := HashPassword(newPassword)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if err := s.repo.Users().UpdatePasswordTx(ctx, tx, userID, hash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password")
		}

		return s.consumeTx(ctx, tx, userID, token, cutoff)
	})

	return normalizeTxError(err, "failed to change password with token")
}

// SweepExpired deletes every token past its window. Idempotent, safe to
// run next to in-flight redemptions.
func (s *VerificationService) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-VerificationTTL)

	purged, err := s.repo.Verifications().DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sweep expired verification tokens")
	}

	if purged > 0 {
		s.logger.Info("swept %d expired verification tokens", purged)
	}

	return purged, nil
}

// applyIntentTx performs the single mutation the token is scoped to,
// with email > password > verified precedence.
func (s *VerificationService) applyIntentTx(ctx context.Context, tx bun.Tx, record *Verification) error {
	users := s.repo.Users()

	switch intent := intentOf(record).(type) {
	case IntentChangeEmail:
		if err := users.UpdateEmailTx(ctx, tx, record.UserID, intent.Email); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user email")
		}
	case IntentResetPassword:
		if err := users.UpdatePasswordTx(ctx, tx, record.UserID, intent.PasswordHash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password")
		}
	default:
		if err := users.MarkVerifiedTx(ctx, tx, record.UserID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark user verified")
		}
	}

	return nil
}

func (s *VerificationService) consumeTx(ctx context.Context, tx bun.Tx, userID uuid.UUID, token string, cutoff time.Time) error {
	deleted, err := s.repo.Verifications().DeleteGuardedTx(ctx, tx, userID, token, cutoff)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete verification token")
	}

	// another transaction redeemed the token between our lookup and the
	// delete; roll everything back and report not found
	if deleted == 0 {
		return ErrTokenNotFound
	}

	return nil
}

func normalizeTxError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

func mintToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read token entropy")
	}
	return hex.EncodeToString(buf), nil
}
