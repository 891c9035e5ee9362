package classify

import "errors"

// Sentinel errors for classification.
var (
	ErrEmptyText       = errors.New("empty text")
	ErrClassifierPanic = errors.New("classifier panicked")
)
