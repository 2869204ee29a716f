package archer

import (
	"errors"
	"fmt"
)

var (
	// ErrLoginIncomplete is returned when login answers without token, sessionId or userId.
	ErrLoginIncomplete = errors.New("login response is missing token, sessionId or userId")
	// ErrNotLoggedIn is returned by calls made before Login.
	ErrNotLoggedIn = errors.New("not logged in: call Login first")
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("client is closed")
	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-zero business code inside an HTTP 200 envelope.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: code=%d msg=%s", e.Endpoint, e.Code, e.Message)
}

// HTTPError is a non-2xx answer from the platform.
type HTTPError struct {
	URL         string
	StatusCode  int
	Status      string
	ContentType string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP request failed: url=%s, status=%d (%s), content-type=%s",
		e.URL, e.StatusCode, e.Status, e.ContentType)
}

// IsBusinessError reports whether err carries a platform business code.
func IsBusinessError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
