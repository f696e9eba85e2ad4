package grant

import (
	"errors"
	"fmt"
)

// Error codes used by converters and issuers (RFC 6749 section 5.2).
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
)

// Error is a protocol error raised while converting or processing a grant.
type Error struct {
	Code        string
	Description string
	// Parameter names the offending request parameter, if any.
	Parameter string
}

func (e *Error) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("%s: %s (parameter %s)", e.Code, e.Description, e.Parameter)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches errors by code so that errors.Is(err, ErrInvalidClient) holds
// for any invalid_client error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// ErrInvalidClient is returned when no authenticated client principal is
// present in the context.
var ErrInvalidClient = &Error{
	Code:        ErrorCodeInvalidClient,
	Description: "client authentication is required",
}

// NewError returns an Error with the given code and description.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

func invalidParameter(name, reason string) *Error {
	return &Error{
		Code:        ErrorCodeInvalidRequest,
		Description: fmt.Sprintf("OAuth 2.0 Parameter: %s %s", name, reason),
		Parameter:   name,
	}
}
