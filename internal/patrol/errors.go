package patrol

import (
	"errors"
	"fmt"
)

// ErrMissingToken is returned when an authenticated endpoint is called
// without a configured token.
var ErrMissingToken = errors.New("authorization token is required")

// TransientError is a single-request failure: network, timeout, non-200
// HTTP status or non-200 business code. Callers may try the next page.
type TransientError struct {
	Op         string
	StatusCode int
	Code       int
	Msg        string
	Err        error
}

func (e *TransientError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.StatusCode != 0 && e.StatusCode != 200:
		return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Msg)
	default:
		return fmt.Sprintf("%s: business code %d: %s", e.Op, e.Code, e.Msg)
	}
}

func (e *TransientError) Unwrap() error { return e.Err }

// ShapeError means the response body did not match the expected envelope.
type ShapeError struct {
	Op  string
	Err error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: unexpected response shape: %v", e.Op, e.Err)
}

func (e *ShapeError) Unwrap() error { return e.Err }

// AuthError means the credential is missing, invalid or expired.
type AuthError struct {
	Op         string
	StatusCode int
	Msg        string
}

func (e *AuthError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: unauthorized (http %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unauthorized (http %d): %s", e.Op, e.StatusCode, e.Msg)
}

// IsFatal reports whether err must abort a crawl session.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	return errors.As(err, &authErr) || errors.Is(err, ErrMissingToken)
}

// IsShape reports whether err is a response shape error.
func IsShape(err error) bool {
	var shapeErr *ShapeError
	return errors.As(err, &shapeErr)
}
