package main

import "errors"

var (
	// ErrStoreLocked is returned when another process holds the sqlite store.
	ErrStoreLocked = errors.New("store is locked by another process")

	// ErrInvariantViolated is returned when a replay breaks an invariant.
	ErrInvariantViolated = errors.New("replay violated invariants")
)
