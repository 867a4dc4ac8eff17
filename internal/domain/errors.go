package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotAuthenticated = errors.New("domain: not authenticated")
	ErrNoSession        = errors.New("domain: no session")
)
