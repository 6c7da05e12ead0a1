package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

// DefaultCategoryLabel is matched when a bill carries no usable label.
const DefaultCategoryLabel = "其他"

// BillStore persists filed bills.
type BillStore interface {
	Insert(ctx context.Context, b *model.Bill) error
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]model.Bill, error)
	ExistsForSourceFile(ctx context.Context, ownerID, fileID int64) (bool, error)
}

// CategoryResolver checks and matches categories for bills.
type CategoryResolver interface {
	IsVisible(ctx context.Context, id, ownerID int64) (bool, error)
	MatchCategory(ctx context.Context, label string, direction model.Direction, ownerID int64) (int64, bool, error)
}

// BillService validates bills, resolves their category and stores them.
type BillService struct {
	bills      BillStore
	categories CategoryResolver
	logger     *logger.Logger
	location   *time.Location
	now        func() time.Time
}

// NewBillService creates a new bill service. Dates default to today in loc.
func NewBillService(bills BillStore, categories CategoryResolver, loc *time.Location, log *logger.Logger) *BillService {
	if loc == nil {
		loc = time.UTC
	}
	return &BillService{
		bills:      bills,
		categories: categories,
		logger:     log.Named("bill"),
		location:   loc,
		now:        time.Now,
	}
}

// File stores draft for ownerID. A categoryID that is not visible to the
// owner is dropped and the category is matched from the draft instead. A
// file yields at most one bill; a second one is refused with ErrBillExists.
func (s *BillService) File(ctx context.Context, ownerID int64, draft *model.BillDraft, categoryID *int64) (*model.Bill, error) {
	const op = "bill.file"

	if err := s.normalize(op, ownerID, draft); err != nil {
		return nil, err
	}

	if draft.SourceFileID != nil {
		exists, err := s.HasBillForFile(ctx, ownerID, *draft.SourceFileID)
		if err != nil {
			return nil, err
		}
		if exists {
			s.logger.Info("bill already filed for file", zap.Int64("file_id", *draft.SourceFileID), zap.Int64("owner_id", ownerID))
			return nil, ErrBillExists
		}
	}

	if categoryID != nil {
		ok, err := s.categories.IsVisible(ctx, *categoryID, ownerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Warn("discarding invalid category id", zap.Int64("category_id", *categoryID), zap.Int64("owner_id", ownerID))
			categoryID = nil
		}
	}
	if categoryID == nil {
		id, ok, err := s.categories.MatchCategory(ctx, inferLabel(draft), draft.Direction, ownerID)
		if err != nil {
			return nil, err
		}
		if ok {
			categoryID = &id
		}
	}

	bill := &model.Bill{
		BillDraft:  *draft,
		OwnerID:    ownerID,
		CategoryID: categoryID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.bills.Insert(ctx, bill); err != nil {
		return nil, apperr.Storage(op, err)
	}

	s.logger.Info("bill filed",
		zap.Int64("bill_id", bill.ID),
		zap.Int64("owner_id", ownerID),
		zap.Int64p("category_id", bill.CategoryID),
	)
	return bill, nil
}

// HasBillForFile reports whether ownerID already filed a bill from fileID.
func (s *BillService) HasBillForFile(ctx context.Context, ownerID, fileID int64) (bool, error) {
	exists, err := s.bills.ExistsForSourceFile(ctx, ownerID, fileID)
	if err != nil {
		return false, apperr.Storage("bill.exists", err)
	}
	return exists, nil
}

// List returns the owner's bills, newest first.
func (s *BillService) List(ctx context.Context, ownerID int64, limit, offset int) ([]model.Bill, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	bills, err := s.bills.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, apperr.Storage("bill.list", err)
	}
	return bills, nil
}

// normalize validates draft and fills in defaults.
func (s *BillService) normalize(op string, ownerID int64, d *model.BillDraft) error {
	if ownerID <= 0 {
		return apperr.Validationf(op, "owner is required")
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperr.Validationf(op, "bill name is required")
	}
	if !d.TotalAmount.IsPositive() {
		return apperr.Validationf(op, "total amount must be greater than 0")
	}

	if d.Direction == "" {
		d.Direction = model.DirectionExpense
	}
	if !d.Direction.Valid() {
		return apperr.Validationf(op, "direction must be %q or %q", model.DirectionIncome, model.DirectionExpense)
	}

	d.CurrencyCode = strings.ToUpper(strings.TrimSpace(d.CurrencyCode))
	if d.CurrencyCode == "" {
		d.CurrencyCode = model.DefaultCurrency
	}
	if !model.ValidCurrency(d.CurrencyCode) {
		return apperr.Validationf(op, "unsupported currency %q", d.CurrencyCode)
	}

	if d.IssueDate.IsZero() {
		d.IssueDate = model.NewDate(s.now().In(s.location))
	}

	if d.TaxAmount != nil && d.NetAmount != nil && !d.NetAmount.Add(*d.TaxAmount).Equal(d.TotalAmount) {
		s.logger.Warn("bill amounts are inconsistent",
			zap.String("net", d.NetAmount.String()),
			zap.String("tax", d.TaxAmount.String()),
			zap.String("total", d.TotalAmount.String()),
		)
	}
	return nil
}

// inferLabel picks the text to match a category from.
func inferLabel(d *model.BillDraft) string {
	for _, s := range []string{d.CategoryLabel, d.Name, d.CounterpartyName} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return DefaultCategoryLabel
}
