package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	appLog "urconnect/internal/log"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUnexpectedResponse = errors.New("auth: unexpected response")
	ErrNotAuthenticated   = errors.New("auth: not authenticated")
	ErrFetch              = errors.New("auth: fetch failed")
)

// FetchError reports a request that produced no usable response: a network
// failure, a timeout or a cancelled context.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("auth: fetch %s: status %d", appLog.RedactURL(e.URL), e.Status)
	}
	return fmt.Sprintf("auth: fetch %s: %v", appLog.RedactURL(e.URL), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Retryable reports whether repeating the request may succeed. Transport
// failures, timeouts, 429 and 5xx qualify; an explicit cancellation does not.
func (e *FetchError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if e.Status == 0 {
		return true
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ExtractionError reports a login page that lacks something the handshake
// needs, such as the form itself or a required hidden token.
type ExtractionError struct {
	Field string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("auth: login form: %s: %v", e.Field, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
