package main

import (
	"errors"

	"github.com/matsen/litreview/internal/access"
	"github.com/matsen/litreview/internal/config"
	"github.com/matsen/litreview/internal/fetch"
	"github.com/matsen/litreview/internal/storage"
)

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (unreadable or invalid config)
	ExitDataError   = 3 // Data error (malformed input, validation failure)
	ExitConflict    = 4 // Input conflicts with itself or stored state
	ExitNotFound    = 5 // Project, reference, tag or batch not found
	ExitForbidden   = 6 // Access check failed
	ExitExternal    = 7 // External service failed or returned too many results
	ExitIntegrity   = 8 // Operation would break stored invariants
)

// exitCode classifies err.
func exitCode(err error) int {
	switch {
	case errors.Is(err, storage.ErrValidation):
		return ExitDataError
	case errors.Is(err, storage.ErrConflict):
		return ExitConflict
	case errors.Is(err, storage.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, access.ErrForbidden):
		return ExitForbidden
	case errors.Is(err, fetch.ErrExternal):
		return ExitExternal
	case errors.Is(err, storage.ErrIntegrity):
		return ExitIntegrity
	case errors.Is(err, config.ErrInvalid):
		return ExitConfigError
	}
	return ExitError
}
