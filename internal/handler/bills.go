package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/middleware"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

// BillManager files and lists an owner's bills.
type BillManager interface {
	File(ctx context.Context, ownerID int64, draft *model.BillDraft, categoryID *int64) (*model.Bill, error)
	List(ctx context.Context, ownerID int64, limit, offset int) ([]model.Bill, error)
}

// FileOwnership looks up a file visible to an owner.
type FileOwnership interface {
	File(ctx context.Context, ownerID, id int64) (*model.UploadedFile, error)
}

// BillHandler handles bill endpoints.
type BillHandler struct {
	bills  BillManager
	files  FileOwnership
	logger *logger.Logger
}

// NewBillHandler creates a new bill handler.
func NewBillHandler(bills BillManager, files FileOwnership, log *logger.Logger) *BillHandler {
	return &BillHandler{bills: bills, files: files, logger: log.Named("bills")}
}

// Create handles POST /api/v1/bills
func (h *BillHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	var req model.SaveBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SourceFileID != nil {
		if _, err := h.files.File(ctx, ownerID, *req.SourceFileID); err != nil {
			h.fail(ctx, w, "failed to check source file", err)
			return
		}
	}

	bill, err := h.bills.File(ctx, ownerID, &req.BillDraft, req.CategoryID)
	if err != nil {
		h.fail(ctx, w, "failed to save bill", err)
		return
	}

	writeJSON(w, http.StatusCreated, bill)
}

// List handles GET /api/v1/bills
func (h *BillHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bills, err := h.bills.List(ctx, middleware.GetOwnerID(ctx), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		h.fail(ctx, w, "failed to list bills", err)
		return
	}
	if bills == nil {
		bills = []model.Bill{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bills": bills,
	})
}

func (h *BillHandler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if apperr.KindOf(err) == apperr.KindStorage {
		middleware.RequestLogger(ctx, h.logger).Error(msg, zap.Error(err))
	}
	writeAppError(w, err)
}
