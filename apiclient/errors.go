package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionExpired is matched by the error every caller of a failed
	// refresh epoch receives, timeouts included.
	ErrSessionExpired = errors.New("session expired, please sign in again")

	// ErrUnauthorized matches any *APIError with status 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRefreshTimeout is returned when the refresh call does not settle in time.
	ErrRefreshTimeout = errors.New("token refresh timed out")
)

// APIError is returned by Client.Do for any response outside 2xx/3xx.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       []byte
}

func (e *APIError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Unwrap lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// RefreshError is the error every waiter sees when a refresh epoch fails.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return "token refresh failed: " + e.Err.Error()
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrSessionExpired, e.Err}
}
