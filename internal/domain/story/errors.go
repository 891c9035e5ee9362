package story

import "errors"

// Sentinel errors for story operations.
var (
	ErrNotFound     = errors.New("story not found")
	ErrNotRelevant  = errors.New("signal is not transfer related")
	ErrHashConflict = errors.New("canonical hash already owned by another story")
	ErrNilStore     = errors.New("story store is required")
)
