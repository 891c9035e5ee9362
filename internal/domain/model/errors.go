package model

import "errors"

// Sentinel errors for model validation.
var (
	ErrInvalidSource = errors.New("invalid source")
	ErrInvalidSignal = errors.New("invalid signal")
	ErrUnknownStage  = errors.New("unknown stage")
	ErrUnknownStatus = errors.New("unknown status")
)
