package repository

import "errors"

// Sentinel errors for storage.
var (
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrMissingPath   = errors.New("sqlite path is required")
	ErrSchema        = errors.New("schema migration failed")
)
