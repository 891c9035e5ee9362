package worker

import "errors"

// ErrHandlerPanic wraps a recovered handler panic.
var ErrHandlerPanic = errors.New("job handler panicked")
