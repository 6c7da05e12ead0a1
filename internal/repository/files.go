package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

var fileColumns = []string{
	"id", "owner_id", "original_name", "storage_key", "storage_url",
	"mime_type", "size_bytes", "deleted", "created_at",
}

// FileRepository stores uploaded file records.
type FileRepository struct {
	db     *DB
	logger *logger.Logger
}

// NewFileRepository creates a new file repository.
func NewFileRepository(db *DB, log *logger.Logger) *FileRepository {
	return &FileRepository{db: db, logger: log}
}

// Insert writes the record in its own transaction and sets f.ID.
func (r *FileRepository) Insert(ctx context.Context, f *model.UploadedFile) error {
	query, args, err := r.db.sb.Insert("uploaded_files").
		Columns("owner_id", "original_name", "storage_key", "storage_url", "mime_type", "size_bytes", "deleted", "created_at").
		Values(f.OwnerID, f.OriginalName, f.StorageKey, f.StorageURL, f.MimeType, f.SizeBytes, false, f.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return fmt.Errorf("failed to insert file record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file record: %w", err)
	}

	f.ID = id
	return nil
}

// GetByID returns a live file record.
func (r *FileRepository) GetByID(ctx context.Context, id int64) (*model.UploadedFile, error) {
	query, args, err := r.db.sb.Select(fileColumns...).
		From("uploaded_files").
		Where(squirrel.Eq{"id": id, "deleted": false}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var f model.UploadedFile
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&f.ID, &f.OwnerID, &f.OriginalName, &f.StorageKey, &f.StorageURL,
		&f.MimeType, &f.SizeBytes, &f.Deleted, &f.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file record: %w", err)
	}
	return &f, nil
}

// SoftDelete marks an owner's file record deleted. The blob is kept.
func (r *FileRepository) SoftDelete(ctx context.Context, id, ownerID int64) error {
	query, args, err := r.db.sb.Update("uploaded_files").
		Set("deleted", true).
		Where(squirrel.Eq{"id": id, "owner_id": ownerID, "deleted": false}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
