package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict: record already exists")
	ErrInvalidRetailer   = errors.New("invalid retailer")
	ErrInvalidURL        = errors.New("url must be an absolute http(s) url")
	ErrInvalidInterval   = errors.New("check interval must be at least one minute")
	ErrInvalidPrice      = errors.New("target price must be positive")
	ErrMissingProductID  = errors.New("source product id is required")
	ErrUnknownUser       = errors.New("unknown user")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrItemInactive      = errors.New("item is inactive")
	ErrItemActive        = errors.New("item is already active")
	ErrContentPolicy     = errors.New("message rejected by content policy")
	ErrInvalidPayload    = errors.New("notification payload is malformed")
	ErrStaleState        = errors.New("destination state changed concurrently")
)
