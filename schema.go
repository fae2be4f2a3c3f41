package accounts

import (
	"context"

	"github.com/uptrace/bun"
)

// CreateSchema creates the tables and indexes the package expects.
// Production schema lives in ops-owned migrations; this covers tests and
// first-run development databases.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*User)(nil),
		(*Verification)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
	}

	// composite lookup key for redemption, created_at for the sweep
	if _, err := db.NewCreateIndex().
		Model((*Verification)(nil)).
		Index("idx_verifications_user_token").
		IfNotExists().
		Column("user_id", "token").
		Exec(ctx); err != nil {
		return err
	}

	if _, err := db.NewCreateIndex().
		Model((*Verification)(nil)).
		Index("idx_verifications_created_at").
		IfNotExists().
		Column("created_at").
		Exec(ctx); err != nil {
		return err
	}

	return nil
}
