package fetch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/matsen/litreview/internal/identifier"
)

// ErrExternal matches every ServiceError.
var ErrExternal = errors.New("external service error")

// Common causes wrapped by ServiceError.
var (
	// ErrRateLimited indicates the service throttled us.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error")

	// ErrInvalidResponse indicates an unexpected response body.
	ErrInvalidResponse = errors.New("invalid response")
)

// ServiceError reports a failed call to an external bibliographic service.
// Transient failures are worth retrying as is; TooManyResults asks for a
// narrower query instead.
type ServiceError struct {
	Source         identifier.Source
	StatusCode     int
	Transient      bool
	TooManyResults bool
	Count          int // candidate results reported by the service
	Max            int // accepted maximum
	Err            error
}

func (e *ServiceError) Error() string {
	if e.TooManyResults {
		return fmt.Sprintf("%s: query matches %d results, more than the maximum of %d; narrow the query", e.Source, e.Count, e.Max)
	}
	retry := ""
	if e.Transient {
		retry = " (transient, retry later)"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v%s", e.Source, e.StatusCode, e.Err, retry)
	}
	return fmt.Sprintf("%s: %v%s", e.Source, e.Err, retry)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrExternal) match.
func (e *ServiceError) Is(target error) bool {
	return target == ErrExternal
}

// TooMany builds the error for a result set over the accepted maximum.
func TooMany(src identifier.Source, count, max int) *ServiceError {
	return &ServiceError{
		Source:         src,
		TooManyResults: true,
		Count:          count,
		Max:            max,
		Err:            errors.New("too many results"),
	}
}

// IsTransient reports whether err is a ServiceError worth retrying unchanged.
func IsTransient(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Transient
}

// checkHTTPErrors returns an error if the HTTP response indicates a problem.
func checkHTTPErrors(src identifier.Source, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ServiceError{Source: src, StatusCode: resp.StatusCode, Transient: true, Err: ErrRateLimited}
	case resp.StatusCode >= 500:
		return &ServiceError{Source: src, StatusCode: resp.StatusCode, Transient: true, Err: errors.New(http.StatusText(resp.StatusCode))}
	case resp.StatusCode >= 400:
		return &ServiceError{Source: src, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return nil
}
