package accounts

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Verifications exposes the verification-token table operations
type Verifications interface {
	repository.Repository[*Verification]

	// GetValidTx fetches the token row iff it is inside its redemption
	// window. Absent and expired rows are the same not-found.
	GetValidTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, token string, cutoff time.Time) (*Verification, error)

	// DeleteGuardedTx removes the row with the same predicates GetValidTx
	// used and reports how many rows went away. Zero means another
	// transaction consumed the token first.
	DeleteGuardedTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, token string, cutoff time.Time) (int64, error)

	// DeleteExpired purges every row older than cutoff
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type verifications struct {
	repository.Repository[*Verification]
	db *bun.DB
}

var (
	_ Verifications                        = (*verifications)(nil)
	_ repository.Repository[*Verification] = (*verifications)(nil)
)

// NewVerificationsRepository builds the verification-token repository
func NewVerificationsRepository(db *bun.DB) Verifications {
	repo := repository.NewRepository[*Verification](db, repository.ModelHandlers[*Verification]{
		NewRecord: func() *Verification { return &Verification{} },
		GetID: func(v *Verification) uuid.UUID {
			if v == nil {
				return uuid.Nil
			}
			return v.ID
		},
		SetID: func(v *Verification, id uuid.UUID) {
			if v != nil {
				v.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token"
		},
	})

	return &verifications{
		Repository: repo,
		db:         db,
	}
}

func (a *verifications) GetValidTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, token string, cutoff time.Time) (*Verification, error) {
	record := &Verification{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.token = ?", token).
		Where("?TableAlias.created_at > ?", cutoff).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"user_id": userID.String()})
		}
		return nil, err
	}
	return record, nil
}

func (a *verifications) DeleteGuardedTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, token string, cutoff time.Time) (int64, error) {
	res, err := tx.NewDelete().
		Model((*Verification)(nil)).
		Where("user_id = ?", userID).
		Where("token = ?", token).
		Where("created_at > ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (a *verifications) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.NewDelete().
		Model((*Verification)(nil)).
		Where("created_at <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
