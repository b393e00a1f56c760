package entity

import "errors"

// Sentinel domain errors. Repositories return these so callers can
// branch without string matching.
var (
	ErrNotFound            = errors.New("entity not found")
	ErrDuplicateToolCallID = errors.New("duplicate tool_call_id within run")
	ErrActionTerminal      = errors.New("action already processed")
	ErrInvalidTransition   = errors.New("invalid run status transition")
	ErrRunTerminal         = errors.New("run is in a terminal state")
	ErrKeyRevoked          = errors.New("api key revoked")
	ErrKeyInvalid          = errors.New("api key invalid")
)
