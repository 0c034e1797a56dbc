package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound          = errors.New("domain: not found")
	ErrInvalidTransition = errors.New("domain: invalid status transition")
	ErrUnknownAgentType  = errors.New("domain: unknown agent type")
	ErrConflict          = errors.New("domain: conflict")
)
