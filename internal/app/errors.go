package service

import (
	"errors"
	"fmt"

	"github.com/okian/transferwire/pkg/errs"
)

// Sentinel errors for the service.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrUnknownSource  = fmt.Errorf("source %w", errs.ErrNotFound)
	ErrUnknownStory   = fmt.Errorf("story %w", errs.ErrNotFound)
	ErrNotPushSource  = fmt.Errorf("%w: source does not accept pushed signals", errs.ErrInvalid)
	ErrInactiveSource = fmt.Errorf("%w: source is inactive", errs.ErrInvalid)
	ErrEmptyBatch     = fmt.Errorf("%w: no signals", errs.ErrInvalid)
)
