package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/oauth2"
)

// Sentinel errors for authentication failures that need user action.
// Use errors.Is(err, auth.ErrRefreshFailed) to check.
var (
	ErrInvalidCredentials       = errors.New("auth: invalid credentials")
	ErrMissingClientCredentials = errors.New("auth: missing OAuth client id or secret")
	ErrRefreshFailed            = errors.New("auth: token refresh failed")
	ErrNetwork                  = errors.New("auth: network error")
)

// AuthError wraps a sentinel with the grant that failed and the underlying
// cause (usually an *oauth2.RetrieveError or a transport error).
type AuthError struct {
	Op    string
	Err   error // sentinel, for errors.Is()
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v (%s): %v", e.Err, e.Op, e.Cause)
	}

	return fmt.Sprintf("%v (%s)", e.Err, e.Op)
}

func (e *AuthError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}

	return []error{e.Err, e.Cause}
}

// classify maps a token endpoint failure to a sentinel. Transport failures
// become ErrNetwork; anything the server answered (rejection or malformed
// body) becomes rejected.
func classify(ctx context.Context, op string, err, rejected error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("auth: %s canceled: %w", op, ctx.Err())
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &AuthError{Op: op, Err: rejected, Cause: err}
	}

	var urlErr *url.Error
	var netErr net.Error

	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return &AuthError{Op: op, Err: ErrNetwork, Cause: err}
	}

	return &AuthError{Op: op, Err: rejected, Cause: err}
}
