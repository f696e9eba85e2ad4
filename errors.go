package oauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/oauth-authz/grant"
	"github.com/giantswarm/oauth-authz/server"
	"github.com/giantswarm/oauth-authz/storage"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeUnsupportedTokenType = "unsupported_token_type"
	ErrorCodeServerError          = "server_error"
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
)

// serverErrorDescription is the only description clients see for internal failures.
const serverErrorDescription = "The authorization server encountered an unexpected condition"

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
	Retryable   bool   // The same request may succeed if repeated
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable instances
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the grant or token is invalid, expired or unknown
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid or unsupported
	ErrInvalidScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrUnauthorizedClient indicates the client is not authorized for the requested grant type
	ErrUnauthorizedClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrRateLimitExceeded indicates the caller sent too many requests
	ErrRateLimitExceeded = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeRateLimitExceeded, desc, http.StatusTooManyRequests)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func() *OAuthError {
		return NewOAuthError(ErrorCodeServerError, serverErrorDescription, http.StatusInternalServerError)
	}
)

// ErrorFromError maps an error from the services, converters, issuer or
// stores to the response sent to the client. Protocol errors keep their
// code; lookups that found nothing become invalid_grant; concurrent
// modification is a retryable server_error; anything else, including corrupt
// stored state, is a generic server_error that leaks no detail.
func ErrorFromError(err error) *OAuthError {
	if err == nil {
		return nil
	}

	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}

	var ge *grant.Error
	if errors.As(err, &ge) {
		status := http.StatusBadRequest
		if ge.Code == grant.ErrorCodeInvalidClient {
			status = http.StatusUnauthorized
		}
		return NewOAuthError(ge.Code, ge.Description, status)
	}

	switch {
	case errors.Is(err, server.ErrInvalidArgument):
		return ErrInvalidRequest("A required parameter is missing")
	case errors.Is(err, server.ErrClientAuthenticationFailed):
		return ErrInvalidClient("Client authentication failed")
	case errors.Is(err, server.ErrRateLimited):
		return ErrRateLimitExceeded("Rate limit exceeded. Please try again later.")
	case errors.Is(err, storage.ErrAuthorizationNotFound), errors.Is(err, storage.ErrOneTimeTokenNotFound):
		return ErrInvalidGrant("The provided grant is invalid or expired")
	case errors.Is(err, storage.ErrConcurrentModification):
		return &OAuthError{
			Code:        ErrorCodeServerError,
			Description: serverErrorDescription,
			Status:      http.StatusServiceUnavailable,
			Retryable:   true,
		}
	}
	return ErrServerError()
}
