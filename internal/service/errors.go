package service

import "errors"

// Error kinds surfaced to handlers. Wrapped errors keep the underlying cause.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUpstream     = errors.New("upstream completion failed")
	ErrAccessDenied = errors.New("access denied")
)
