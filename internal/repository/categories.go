package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

var categoryColumns = []string{
	"id", "owner_id", "name", "code", "description", "sort_order",
	"enabled", "is_system", "deleted", "created_at", "updated_at",
}

// CategoryRepository stores bill categories.
type CategoryRepository struct {
	db     *DB
	logger *logger.Logger
}

// NewCategoryRepository creates a new category repository.
func NewCategoryRepository(db *DB, log *logger.Logger) *CategoryRepository {
	return &CategoryRepository{db: db, logger: log}
}

func scanCategory(row rowScanner) (*model.Category, error) {
	var (
		c     model.Category
		owner sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &owner, &c.Name, &c.Code, &c.Description, &c.SortOrder,
		&c.Enabled, &c.IsSystem, &c.Deleted, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.OwnerID = nullableInt64(owner)
	return &c, nil
}

func (r *CategoryRepository) list(ctx context.Context, q squirrel.SelectBuilder) ([]model.Category, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := []model.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

func visibleTo(ownerID int64) squirrel.Sqlizer {
	return squirrel.Or{
		squirrel.Eq{"owner_id": ownerID},
		squirrel.Eq{"owner_id": nil},
	}
}

// ListVisible returns the system and private categories of ownerID in their
// natural order (sort order, then id).
func (r *CategoryRepository) ListVisible(ctx context.Context, ownerID int64, enabledOnly bool) ([]model.Category, error) {
	q := r.db.sb.Select(categoryColumns...).
		From("bill_categories").
		Where(squirrel.Eq{"deleted": false}).
		Where(visibleTo(ownerID)).
		OrderBy("sort_order", "id")
	if enabledOnly {
		q = q.Where(squirrel.Eq{"enabled": true})
	}
	return r.list(ctx, q)
}

// FindEnabledByName returns the enabled visible category named exactly name,
// choosing the lowest id when several match.
func (r *CategoryRepository) FindEnabledByName(ctx context.Context, name string, ownerID int64) (*model.Category, error) {
	query, args, err := r.db.sb.Select(categoryColumns...).
		From("bill_categories").
		Where(squirrel.Eq{"name": name, "enabled": true, "deleted": false}).
		Where(visibleTo(ownerID)).
		OrderBy("id").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	c, err := scanCategory(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	return c, nil
}

// GetByID returns a live category.
func (r *CategoryRepository) GetByID(ctx context.Context, id int64) (*model.Category, error) {
	query, args, err := r.db.sb.Select(categoryColumns...).
		From("bill_categories").
		Where(squirrel.Eq{"id": id, "deleted": false}).
		ToSql()
	if err != nil {
		return nil, err
	}

	c, err := scanCategory(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load category: %w", err)
	}
	return c, nil
}

// Insert writes a category and sets c.ID.
func (r *CategoryRepository) Insert(ctx context.Context, c *model.Category) error {
	query, args, err := r.db.sb.Insert("bill_categories").
		Columns("owner_id", "name", "code", "description", "sort_order", "enabled", "is_system", "deleted", "created_at", "updated_at").
		Values(int64OrNil(c.OwnerID), c.Name, c.Code, c.Description, c.SortOrder, c.Enabled, c.IsSystem, false, c.CreatedAt, c.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return err
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID); err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func (r *CategoryRepository) exec(ctx context.Context, q squirrel.UpdateBuilder) error {
	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Update writes the editable fields of a private category.
func (r *CategoryRepository) Update(ctx context.Context, c *model.Category) error {
	return r.exec(ctx, r.db.sb.Update("bill_categories").
		Set("name", c.Name).
		Set("code", c.Code).
		Set("description", c.Description).
		Set("sort_order", c.SortOrder).
		Set("updated_at", c.UpdatedAt).
		Where(squirrel.Eq{"id": c.ID, "is_system": false, "deleted": false}))
}

// SetEnabled flips a private category's status.
func (r *CategoryRepository) SetEnabled(ctx context.Context, id int64, enabled bool, now time.Time) error {
	return r.exec(ctx, r.db.sb.Update("bill_categories").
		Set("enabled", enabled).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id, "is_system": false, "deleted": false}))
}

// SoftDelete marks a private category deleted.
func (r *CategoryRepository) SoftDelete(ctx context.Context, id int64, now time.Time) error {
	return r.exec(ctx, r.db.sb.Update("bill_categories").
		Set("deleted", true).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id, "is_system": false, "deleted": false}))
}

// ExistsByField reports whether another live category of ownerID already uses
// value for field ("name" or "code"). excludeID skips the row being renamed.
func (r *CategoryRepository) ExistsByField(ctx context.Context, field, value string, ownerID, excludeID int64) (bool, error) {
	if field != "name" && field != "code" {
		return false, fmt.Errorf("unsupported unique field %q", field)
	}

	q := r.db.sb.Select("COUNT(*)").
		From("bill_categories").
		Where(squirrel.Eq{field: value, "owner_id": ownerID, "deleted": false})
	if excludeID > 0 {
		q = q.Where(squirrel.NotEq{"id": excludeID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return false, err
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check category uniqueness: %w", err)
	}
	return n > 0, nil
}
