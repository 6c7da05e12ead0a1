package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

var billColumns = []string{
	"id", "owner_id", "category_id", "source_file_id", "name", "direction",
	"invoice_number", "counterparty_name", "category_label", "total_amount",
	"tax_amount", "net_amount", "currency_code", "issue_date", "notes", "created_at",
}

// BillRepository stores filed bills.
type BillRepository struct {
	db     *DB
	logger *logger.Logger
}

// NewBillRepository creates a new bill repository.
func NewBillRepository(db *DB, log *logger.Logger) *BillRepository {
	return &BillRepository{db: db, logger: log}
}

func decimalOrNil(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.StringFixed(2)
}

// Insert writes a bill and sets b.ID.
func (r *BillRepository) Insert(ctx context.Context, b *model.Bill) error {
	query, args, err := r.db.sb.Insert("bills").
		Columns(billColumns[1:]...).
		Values(
			b.OwnerID, int64OrNil(b.CategoryID), int64OrNil(b.SourceFileID), b.Name, string(b.Direction),
			b.InvoiceNumber, b.CounterpartyName, b.CategoryLabel, b.TotalAmount.StringFixed(2),
			decimalOrNil(b.TaxAmount), decimalOrNil(b.NetAmount), b.CurrencyCode, b.IssueDate.Time, b.Notes, b.CreatedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return err
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&b.ID); err != nil {
		return fmt.Errorf("failed to insert bill: %w", err)
	}
	return nil
}

func scanBill(row rowScanner) (*model.Bill, error) {
	var (
		b                      model.Bill
		categoryID, sourceFile sql.NullInt64
		direction              string
		tax, net               decimal.NullDecimal
	)
	err := row.Scan(
		&b.ID, &b.OwnerID, &categoryID, &sourceFile, &b.Name, &direction,
		&b.InvoiceNumber, &b.CounterpartyName, &b.CategoryLabel, &b.TotalAmount,
		&tax, &net, &b.CurrencyCode, &b.IssueDate.Time, &b.Notes, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Direction = model.Direction(direction)
	b.CategoryID = nullableInt64(categoryID)
	b.SourceFileID = nullableInt64(sourceFile)
	if tax.Valid {
		b.TaxAmount = &tax.Decimal
	}
	if net.Valid {
		b.NetAmount = &net.Decimal
	}
	return &b, nil
}

// GetByID returns a bill.
func (r *BillRepository) GetByID(ctx context.Context, id int64) (*model.Bill, error) {
	query, args, err := r.db.sb.Select(billColumns...).
		From("bills").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	b, err := scanBill(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bill: %w", err)
	}
	return b, nil
}

// ExistsForSourceFile reports whether ownerID has a bill filed from fileID.
func (r *BillRepository) ExistsForSourceFile(ctx context.Context, ownerID, fileID int64) (bool, error) {
	query, args, err := r.db.sb.Select("1").
		From("bills").
		Where(squirrel.Eq{"owner_id": ownerID, "source_file_id": fileID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check bill for file %d: %w", fileID, err)
	}
	return true, nil
}

// ListByOwner returns an owner's bills, newest issue date first.
func (r *BillRepository) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]model.Bill, error) {
	query, args, err := r.db.sb.Select(billColumns...).
		From("bills").
		Where(squirrel.Eq{"owner_id": ownerID}).
		OrderBy("issue_date DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	defer rows.Close()

	bills := []model.Bill{}
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, *b)
	}
	return bills, rows.Err()
}
