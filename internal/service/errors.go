package service

import "errors"

// ErrNotFound is returned when a record does not exist or is not visible to
// the caller.
var ErrNotFound = errors.New("not found")

// ErrBillExists is returned when a bill was already filed from the same file.
var ErrBillExists = errors.New("bill already exists for this file")
