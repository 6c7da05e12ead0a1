package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the money flow of a bill.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionIncome || d == DirectionExpense
}

// DefaultCurrency is used when the source document names none.
const DefaultCurrency = "CNY"

var currencies = map[string]bool{"CNY": true, "USD": true, "EUR": true, "HKD": true, "JPY": true}

// ValidCurrency reports whether code is a supported ISO currency code.
func ValidCurrency(code string) bool {
	return currencies[code]
}

// DateLayout is the wire format of bill dates.
const DateLayout = "2006-01-02"

// Date is a calendar day encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar day in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler. Only strings are accepted.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// BillDraft is a bill produced by extraction and not yet filed.
type BillDraft struct {
	Name             string           `json:"name"`
	Direction        Direction        `json:"direction"`
	InvoiceNumber    string           `json:"invoice_number,omitempty"`
	CounterpartyName string           `json:"counterparty_name,omitempty"`
	CategoryLabel    string           `json:"category_label,omitempty"`
	TotalAmount      decimal.Decimal  `json:"total_amount"`
	TaxAmount        *decimal.Decimal `json:"tax_amount,omitempty"`
	NetAmount        *decimal.Decimal `json:"net_amount,omitempty"`
	CurrencyCode     string           `json:"currency_code"`
	IssueDate        Date             `json:"issue_date"`
	Notes            string           `json:"notes,omitempty"`
	SourceFileID     *int64           `json:"source_file_id,omitempty"`
}

// Bill is a filed bill.
type Bill struct {
	BillDraft
	ID         int64     `json:"id"`
	OwnerID    int64     `json:"owner_id"`
	CategoryID *int64    `json:"category_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SaveBillRequest commits a draft, typically one the assistant produced in
// chat. CategoryID is kept only when the owner can see that category.
type SaveBillRequest struct {
	BillDraft
	CategoryID *int64 `json:"category_id,omitempty"`
}
