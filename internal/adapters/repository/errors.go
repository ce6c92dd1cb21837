package repository

import "errors"

// Sentinel store errors.
var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("version conflict")
	ErrInvalidLimit = errors.New("invalid limit")
)
