package apiclient

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed means the platform rejected the credentials. It is fatal
	// for the whole run.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited is reported when a rate-limited request is abandoned
	// because the context ended during the wait.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnrecognizedShape means a response body matched none of the known
	// layouts for its endpoint.
	ErrUnrecognizedShape = errors.New("unrecognized response shape")

	// ErrNoExportID means an export request succeeded but carried no export
	// identifier.
	ErrNoExportID = errors.New("no export id in response")
)

// StatusError is a non-2xx response that was not retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error (HTTP %d)", e.Code)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Code, e.Body)
}

// IsFatal reports whether err must abort the run instead of being recorded
// against a single entity.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}
