package gate

import "errors"

// Sentinel errors for the publication gate.
var (
	ErrInvalidThresholds = errors.New("invalid gate thresholds")
	ErrAlreadyRetracted  = errors.New("story already retracted")
)
