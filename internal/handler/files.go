package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/middleware"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/internal/service"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

// FileIngester stores uploads and looks up an owner's files.
type FileIngester interface {
	Upload(ctx context.Context, data []byte, name string, ownerID int64) (*model.UploadedFile, error)
	File(ctx context.Context, ownerID, id int64) (*model.UploadedFile, error)
}

// BillExtractor turns a stored file into a filed bill.
type BillExtractor interface {
	ExtractAndFileBill(ctx context.Context, fileID int64) (*model.Bill, error)
}

// FileHandler handles file upload and extraction endpoints.
type FileHandler struct {
	files          FileIngester
	extractor      BillExtractor
	maxUploadBytes int64
	logger         *logger.Logger
}

// NewFileHandler creates a new file handler.
func NewFileHandler(files FileIngester, extractor BillExtractor, maxUploadBytes int64, log *logger.Logger) *FileHandler {
	return &FileHandler{
		files:          files,
		extractor:      extractor,
		maxUploadBytes: maxUploadBytes,
		logger:         log.Named("files"),
	}
}

// Upload handles POST /api/v1/files
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeBodyError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one file is required")
		return
	}
	data, err := readFormFile(headers[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file upload")
		return
	}

	f, err := h.files.Upload(ctx, data, headers[0].Filename, middleware.GetOwnerID(ctx))
	if err != nil {
		if !apperr.Is(err, apperr.KindValidation) {
			middleware.RequestLogger(ctx, h.logger).Error("failed to upload file", zap.Error(err))
		}
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, f)
}

// Extract handles POST /api/v1/files/{id}/extract
func (h *FileHandler) Extract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := middleware.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.files.File(ctx, middleware.GetOwnerID(ctx), id); err != nil {
		writeAppError(w, err)
		return
	}

	bill, err := h.extractor.ExtractAndFileBill(ctx, id)
	if errors.Is(err, service.ErrBillExists) {
		writeAppError(w, err)
		return
	}
	if err != nil {
		middleware.RequestLogger(ctx, h.logger).Warn("extraction failed", zap.Int64("file_id", id), zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, apperr.CouldNotComplete)
		return
	}

	writeJSON(w, http.StatusOK, bill)
}
