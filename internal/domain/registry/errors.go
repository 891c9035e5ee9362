package registry

import "errors"

// Sentinel errors for the registry.
var (
	ErrDuplicateSource = errors.New("duplicate source id")
	ErrUnknownSource   = errors.New("unknown source")
)
