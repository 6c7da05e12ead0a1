package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

// UserRepository maps external identities to owner ids.
type UserRepository struct {
	db     *DB
	logger *logger.Logger
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *DB, log *logger.Logger) *UserRepository {
	return &UserRepository{db: db, logger: log}
}

// Ensure returns the owner id of identity, creating the user on first sight.
func (r *UserRepository) Ensure(ctx context.Context, identity string) (int64, error) {
	insert := r.db.sb.Insert("users").
		Columns("identity", "created_at").
		Values(identity, time.Now().UTC()).
		Suffix("ON CONFLICT (identity) DO NOTHING")

	query, args, err := insert.ToSql()
	if err != nil {
		return 0, err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	query, args, err = r.db.sb.Select("id").
		From("users").
		Where(squirrel.Eq{"identity": identity}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to load user: %w", err)
	}
	return id, nil
}
