package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/internal/repository"
	"github.com/capitalize-ai/bill-assistant/internal/storage"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
	"github.com/capitalize-ai/bill-assistant/pkg/metrics"
	"github.com/capitalize-ai/bill-assistant/pkg/tracing"
)

// FileStore persists uploaded file records.
type FileStore interface {
	Insert(ctx context.Context, f *model.UploadedFile) error
	GetByID(ctx context.Context, id int64) (*model.UploadedFile, error)
}

// IngestionService stores uploaded files in the blob store and records them.
//
// The blob store and the database share no transaction, so Upload runs as a
// two-step saga: put the blob, then insert the record. When the insert fails
// the blob is deleted again. A failed delete leaves an orphaned blob which is
// logged and announced as a file.orphaned event for manual cleanup.
type IngestionService struct {
	blobs  storage.Store
	files  FileStore
	events EventPublisher
	logger *logger.Logger
	now    func() time.Time
}

// NewIngestionService creates a new ingestion service.
func NewIngestionService(blobs storage.Store, files FileStore, events EventPublisher, log *logger.Logger) *IngestionService {
	if events == nil {
		events = NopPublisher{}
	}
	return &IngestionService{
		blobs:  blobs,
		files:  files,
		events: events,
		logger: log.Named("ingestion"),
		now:    time.Now,
	}
}

// uploadSaga tracks the blob written by the first step. committedKey stays set
// until the record insert succeeds; a set key on failure means compensation
// is owed.
type uploadSaga struct {
	ownerID      int64
	name         string
	committedKey string
}

// Upload validates, stores and records one file. The record is returned only
// when both the blob put and the insert succeeded.
func (s *IngestionService) Upload(ctx context.Context, data []byte, name string, ownerID int64) (*model.UploadedFile, error) {
	ctx, span := tracing.Tracer().Start(ctx, "ingestion.upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("file.name", name),
		attribute.Int("file.size", len(data)),
		attribute.Int64("owner.id", ownerID),
	)

	file, err := s.upload(ctx, data, name, ownerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.KindOf(err).String())
		return nil, err
	}
	return file, nil
}

func (s *IngestionService) upload(ctx context.Context, data []byte, name string, ownerID int64) (*model.UploadedFile, error) {
	const op = "ingestion.upload"

	mimeType, err := validateUpload(data, name)
	if err != nil {
		metrics.RecordUpload("rejected", 0)
		return nil, err
	}

	saga := &uploadSaga{ownerID: ownerID, name: name}

	obj, err := s.blobs.Put(ctx, data, name, mimeType)
	if err != nil {
		metrics.RecordUpload("put_failed", 0)
		s.logger.Error("blob upload failed",
			zap.String("file_name", name),
			zap.Int64("owner_id", ownerID),
			zap.Error(err),
		)
		return nil, apperr.Storage(op, fmt.Errorf("failed to store blob: %w", err))
	}
	saga.committedKey = obj.Key

	record := &model.UploadedFile{
		OwnerID:      ownerID,
		OriginalName: name,
		StorageKey:   obj.Key,
		StorageURL:   obj.URL,
		MimeType:     mimeType,
		SizeBytes:    obj.Size,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.files.Insert(ctx, record); err != nil {
		metrics.RecordUpload("persist_failed", 0)
		s.logger.Error("file record insert failed, compensating",
			zap.String("storage_key", obj.Key),
			zap.Int64("owner_id", ownerID),
			zap.Error(err),
		)
		s.compensate(ctx, saga)
		return nil, apperr.Storage(op, fmt.Errorf("failed to record file: %w", err))
	}
	saga.committedKey = ""

	metrics.RecordUpload("stored", obj.Size)
	s.logger.Info("file stored",
		zap.Int64("file_id", record.ID),
		zap.String("storage_key", record.StorageKey),
		zap.Int64("size_bytes", record.SizeBytes),
	)
	publish(ctx, s.events, s.logger, &model.Event{
		OwnerID: ownerID,
		Type:    model.EventFileUploaded,
		FileID:  record.ID,
		Metadata: map[string]any{
			"name":      name,
			"mime_type": mimeType,
			"size":      record.SizeBytes,
		},
	})
	return record, nil
}

// compensate deletes the committed blob. It runs detached from the caller's
// cancellation so that a client hang-up does not leave the blob behind.
func (s *IngestionService) compensate(ctx context.Context, saga *uploadSaga) {
	if saga.committedKey == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	err := s.blobs.Delete(ctx, saga.committedKey)
	switch {
	case err == nil:
		metrics.RecordCompensation("deleted")
		s.logger.Info("compensating delete succeeded", zap.String("storage_key", saga.committedKey))
	case errors.Is(err, storage.ErrNotFound):
		metrics.RecordCompensation("missing")
		s.logger.Warn("compensating delete found no object", zap.String("storage_key", saga.committedKey))
	default:
		metrics.RecordCompensation("failed")
		s.logger.Error("compensating delete failed, blob is orphaned",
			zap.String("storage_key", saga.committedKey),
			zap.String("file_name", saga.name),
			zap.Int64("owner_id", saga.ownerID),
			zap.Error(err),
		)
		publish(ctx, s.events, s.logger, &model.Event{
			OwnerID:  saga.ownerID,
			Type:     model.EventFileOrphaned,
			Reason:   err.Error(),
			Metadata: map[string]any{"storage_key": saga.committedKey},
		})
	}
	saga.committedKey = ""
}

// File returns the live record id when it belongs to ownerID. Files of other
// owners are reported as ErrNotFound.
func (s *IngestionService) File(ctx context.Context, ownerID, id int64) (*model.UploadedFile, error) {
	f, err := s.files.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Storage("ingestion.file", err)
	}
	if f.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return f, nil
}

// validateUpload checks content and extension and returns the MIME type.
func validateUpload(data []byte, name string) (string, error) {
	const op = "ingestion.validate"

	if len(data) == 0 {
		return "", apperr.Validationf(op, "file %q is empty", name)
	}
	ext := storage.Extension(name)
	if ext == "" {
		return "", apperr.Validationf(op, "file %q has no extension", name)
	}
	mimeType, ok := storage.MimeType(ext)
	if !ok {
		return "", apperr.Validationf(op, "unsupported file type %q", ext)
	}
	return mimeType, nil
}
