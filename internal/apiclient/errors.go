package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthorizationExpired is returned when the API answered 401. The session
// has already been cleared and the Redirector invoked by the time the caller
// sees it; callers abandon the operation without showing the error.
var ErrAuthorizationExpired = errors.New("authorization expired")

// APIError is a non-2xx response other than 401.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// NotFound reports whether the API answered 404.
func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// NetworkError is a transport failure: no response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is an *APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}
