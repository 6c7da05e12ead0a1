package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/middleware"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

const msgSystemCategory = "system category is read-only"

// CategoryManager manages and matches categories.
type CategoryManager interface {
	ListVisible(ctx context.Context, ownerID int64, enabledOnly bool) ([]model.Category, error)
	Create(ctx context.Context, ownerID int64, req *model.CreateCategoryRequest) (*model.Category, error)
	Update(ctx context.Context, ownerID, id int64, req *model.UpdateCategoryRequest) (bool, error)
	SetStatus(ctx context.Context, ownerID, id int64, enabled bool) (bool, error)
	Delete(ctx context.Context, ownerID, id int64) (bool, error)
	MatchCategory(ctx context.Context, label string, direction model.Direction, ownerID int64) (int64, bool, error)
}

// CategoryHandler handles category endpoints.
type CategoryHandler struct {
	categories CategoryManager
	logger     *logger.Logger
}

// NewCategoryHandler creates a new category handler.
func NewCategoryHandler(categories CategoryManager, log *logger.Logger) *CategoryHandler {
	return &CategoryHandler{categories: categories, logger: log.Named("categories")}
}

// List handles GET /api/v1/categories
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	categories, err := h.categories.ListVisible(ctx, middleware.GetOwnerID(ctx), enabledOnly)
	if err != nil {
		h.fail(ctx, w, "failed to list categories", err)
		return
	}
	if categories == nil {
		categories = []model.Category{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
	})
}

// Create handles POST /api/v1/categories
func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.categories.Create(ctx, middleware.GetOwnerID(ctx), &req)
	if err != nil {
		h.fail(ctx, w, "failed to create category", err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// Update handles PUT /api/v1/categories/{id}
func (h *CategoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := categoryID(w, r)
	if !ok {
		return
	}

	var req model.UpdateCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.categories.Update(ctx, middleware.GetOwnerID(ctx), id, &req)
	h.writeMutation(ctx, w, updated, err, "failed to update category")
}

// SetStatus handles PATCH /api/v1/categories/{id}/status
func (h *CategoryHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := categoryID(w, r)
	if !ok {
		return
	}

	var req model.SetCategoryStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	changed, err := h.categories.SetStatus(ctx, middleware.GetOwnerID(ctx), id, req.Enabled)
	h.writeMutation(ctx, w, changed, err, "failed to change category status")
}

// Delete handles DELETE /api/v1/categories/{id}
func (h *CategoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := categoryID(w, r)
	if !ok {
		return
	}

	deleted, err := h.categories.Delete(ctx, middleware.GetOwnerID(ctx), id)
	h.writeMutation(ctx, w, deleted, err, "failed to delete category")
}

// Match handles POST /api/v1/categories/match
func (h *CategoryHandler) Match(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.MatchCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, matched, err := h.categories.MatchCategory(ctx, req.Label, req.Direction, middleware.GetOwnerID(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to match category", err)
		return
	}

	resp := model.MatchCategoryResponse{Matched: matched}
	if matched {
		resp.CategoryID = &id
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CategoryHandler) writeMutation(ctx context.Context, w http.ResponseWriter, ok bool, err error, msg string) {
	if err != nil {
		h.fail(ctx, w, msg, err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, msgSystemCategory)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CategoryHandler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if apperr.KindOf(err) == apperr.KindStorage {
		middleware.RequestLogger(ctx, h.logger).Error(msg, zap.Error(err))
	}
	writeAppError(w, err)
}

func categoryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := middleware.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return id, true
}
