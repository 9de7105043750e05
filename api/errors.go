package api

import (
	"errors"
	"fmt"

	"github.com/hearthside/hearth-go/auth"
)

// RequestError is a non-fatal request failure: the server answered with a
// failure envelope or a non-2xx status other than an unauthorized retry.
// Fetch callers leave prior state untouched; optimistic mutations roll back.
type RequestError struct {
	StatusCode int
	APIMessage string
}

func (e *RequestError) Error() string {
	if e.APIMessage != "" {
		return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.APIMessage)
	}
	return fmt.Sprintf("api: HTTP %d", e.StatusCode)
}

// Message translates any error from the client into a human-readable string
// for user-facing display.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.APIMessage != "" {
		return reqErr.APIMessage
	}
	if errors.Is(err, auth.ErrAuthExpired) {
		return "Your session has expired. Please log in again."
	}
	return "An unexpected error occurred"
}
