package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/internal/repository"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

const (
	maxCategoryNameLen = 50
	maxCategoryCodeLen = 32
	maxDescriptionLen  = 200
)

// CategoryStore persists bill categories.
type CategoryStore interface {
	ListVisible(ctx context.Context, ownerID int64, enabledOnly bool) ([]model.Category, error)
	FindEnabledByName(ctx context.Context, name string, ownerID int64) (*model.Category, error)
	GetByID(ctx context.Context, id int64) (*model.Category, error)
	Insert(ctx context.Context, c *model.Category) error
	Update(ctx context.Context, c *model.Category) error
	SetEnabled(ctx context.Context, id int64, enabled bool, now time.Time) error
	SoftDelete(ctx context.Context, id int64, now time.Time) error
	ExistsByField(ctx context.Context, field, value string, ownerID, excludeID int64) (bool, error)
}

// CategoryService manages categories and matches labels against them.
type CategoryService struct {
	categories CategoryStore
	logger     *logger.Logger
	now        func() time.Time
}

// NewCategoryService creates a new category service.
func NewCategoryService(categories CategoryStore, log *logger.Logger) *CategoryService {
	return &CategoryService{
		categories: categories,
		logger:     log.Named("category"),
		now:        time.Now,
	}
}

// ListVisible returns the system categories plus the owner's own.
func (s *CategoryService) ListVisible(ctx context.Context, ownerID int64, enabledOnly bool) ([]model.Category, error) {
	list, err := s.categories.ListVisible(ctx, ownerID, enabledOnly)
	if err != nil {
		return nil, apperr.Storage("category.list", err)
	}
	return list, nil
}

// AvailableNames returns the names of enabled categories visible to ownerID.
func (s *CategoryService) AvailableNames(ctx context.Context, ownerID int64) ([]string, error) {
	list, err := s.ListVisible(ctx, ownerID, true)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.Name)
	}
	return names, nil
}

// IsVisible reports whether id names a live enabled category visible to ownerID.
func (s *CategoryService) IsVisible(ctx context.Context, id, ownerID int64) (bool, error) {
	c, err := s.categories.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("category.visible", err)
	}
	return c.Enabled && c.VisibleTo(ownerID), nil
}

// Create adds a private category for ownerID.
func (s *CategoryService) Create(ctx context.Context, ownerID int64, req *model.CreateCategoryRequest) (*model.Category, error) {
	const op = "category.create"

	name := strings.TrimSpace(req.Name)
	code := strings.TrimSpace(req.Code)
	if err := validateCategoryFields(op, name, code, req.Description); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, op, ownerID, 0, name, code); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &model.Category{
		OwnerID:     &ownerID,
		Name:        name,
		Code:        code,
		Description: req.Description,
		SortOrder:   req.SortOrder,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.categories.Insert(ctx, c); err != nil {
		return nil, apperr.Storage(op, err)
	}

	s.logger.Info("category created", zap.Int64("category_id", c.ID), zap.Int64("owner_id", ownerID))
	return c, nil
}

// Update edits a private category. It reports false without error for system
// categories, which are read-only.
func (s *CategoryService) Update(ctx context.Context, ownerID, id int64, req *model.UpdateCategoryRequest) (bool, error) {
	const op = "category.update"

	c, err := s.owned(ctx, op, ownerID, id)
	if err != nil {
		return false, err
	}
	if c.IsSystem {
		s.logger.Warn("refusing to edit system category", zap.Int64("category_id", id))
		return false, nil
	}

	if req.Name != "" {
		c.Name = strings.TrimSpace(req.Name)
	}
	if req.Code != "" {
		c.Code = strings.TrimSpace(req.Code)
	}
	if req.Description != "" {
		c.Description = req.Description
	}
	if req.SortOrder != nil {
		c.SortOrder = *req.SortOrder
	}
	if err := validateCategoryFields(op, c.Name, c.Code, c.Description); err != nil {
		return false, err
	}
	if err := s.checkUnique(ctx, op, ownerID, id, c.Name, c.Code); err != nil {
		return false, err
	}

	c.UpdatedAt = s.now().UTC()
	if err := s.categories.Update(ctx, c); err != nil {
		return false, s.mutationError(op, err)
	}
	return true, nil
}

// SetStatus enables or disables a private category. It reports false for
// system categories.
func (s *CategoryService) SetStatus(ctx context.Context, ownerID, id int64, enabled bool) (bool, error) {
	const op = "category.status"

	c, err := s.owned(ctx, op, ownerID, id)
	if err != nil {
		return false, err
	}
	if c.IsSystem {
		s.logger.Warn("refusing to change status of system category", zap.Int64("category_id", id))
		return false, nil
	}
	if err := s.categories.SetEnabled(ctx, id, enabled, s.now().UTC()); err != nil {
		return false, s.mutationError(op, err)
	}
	return true, nil
}

// Delete soft-deletes a private category. It reports false for system
// categories.
func (s *CategoryService) Delete(ctx context.Context, ownerID, id int64) (bool, error) {
	const op = "category.delete"

	c, err := s.owned(ctx, op, ownerID, id)
	if err != nil {
		return false, err
	}
	if c.IsSystem {
		s.logger.Warn("refusing to delete system category", zap.Int64("category_id", id))
		return false, nil
	}
	if err := s.categories.SoftDelete(ctx, id, s.now().UTC()); err != nil {
		return false, s.mutationError(op, err)
	}

	s.logger.Info("category deleted", zap.Int64("category_id", id), zap.Int64("owner_id", ownerID))
	return true, nil
}

// owned loads a category the owner may address. System categories are
// returned too so that callers can apply the read-only guard.
func (s *CategoryService) owned(ctx context.Context, op string, ownerID, id int64) (*model.Category, error) {
	c, err := s.categories.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	if !c.VisibleTo(ownerID) {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *CategoryService) mutationError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return apperr.Storage(op, err)
}

// checkUnique rejects a name or code already used by another live private
// category of the same owner. System categories do not take part.
func (s *CategoryService) checkUnique(ctx context.Context, op string, ownerID, excludeID int64, name, code string) error {
	exists, err := s.categories.ExistsByField(ctx, "name", name, ownerID, excludeID)
	if err != nil {
		return apperr.Storage(op, err)
	}
	if exists {
		return apperr.Validationf(op, "category name %q already exists", name)
	}

	if code == "" {
		return nil
	}
	exists, err = s.categories.ExistsByField(ctx, "code", code, ownerID, excludeID)
	if err != nil {
		return apperr.Storage(op, err)
	}
	if exists {
		return apperr.Validationf(op, "category code %q already exists", code)
	}
	return nil
}

func validateCategoryFields(op, name, code, description string) error {
	if name == "" {
		return apperr.Validationf(op, "category name is required")
	}
	if n := utf8.RuneCountInString(name); n > maxCategoryNameLen {
		return apperr.Validationf(op, "category name too long: %d > %d", n, maxCategoryNameLen)
	}
	if utf8.RuneCountInString(code) > maxCategoryCodeLen {
		return apperr.Validationf(op, "category code too long")
	}
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return apperr.Validationf(op, "category description too long")
	}
	return nil
}
