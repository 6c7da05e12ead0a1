package model

import (
	"time"
)

// Category classifies bills. OwnerID nil means a system-wide category.
type Category struct {
	ID          int64     `json:"id"`
	OwnerID     *int64    `json:"owner_id,omitempty"`
	Name        string    `json:"name"`
	Code        string    `json:"code,omitempty"`
	Description string    `json:"description,omitempty"`
	SortOrder   int       `json:"sort_order"`
	Enabled     bool      `json:"enabled"`
	IsSystem    bool      `json:"is_system"`
	Deleted     bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VisibleTo reports whether ownerID may see the category.
func (c *Category) VisibleTo(ownerID int64) bool {
	return c.OwnerID == nil || *c.OwnerID == ownerID
}

// CreateCategoryRequest is the request to create a private category.
type CreateCategoryRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	SortOrder   int    `json:"sort_order"`
}

// UpdateCategoryRequest is the request to edit a private category.
type UpdateCategoryRequest struct {
	Name        string `json:"name,omitempty"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	SortOrder   *int   `json:"sort_order,omitempty"`
}

// SetCategoryStatusRequest toggles a category.
type SetCategoryStatusRequest struct {
	Enabled bool `json:"enabled"`
}

// MatchCategoryRequest asks for the category of a free-text label.
type MatchCategoryRequest struct {
	Label     string    `json:"label"`
	Direction Direction `json:"direction,omitempty"`
}

// MatchCategoryResponse is the result of a label match.
type MatchCategoryResponse struct {
	CategoryID *int64 `json:"category_id"`
	Matched    bool   `json:"matched"`
}
