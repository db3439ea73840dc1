package auth

import (
	"errors"
	"fmt"
)

// Expected authentication failures. All of these are recoverable conditions
// that callers translate into HTTP status codes, form errors, or redirects;
// none indicates a server fault. Match with errors.Is.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrWeakPassword       = errors.New("auth: password does not meet policy")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrExpiredToken       = errors.New("auth: token expired")
	ErrMalformedToken     = errors.New("auth: malformed token")
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrStateMismatch      = errors.New("auth: oauth state mismatch")
	ErrExpiredState       = errors.New("auth: oauth state expired")
	ErrUnknownProvider    = errors.New("auth: unknown oauth provider")
	ErrProviderError      = errors.New("auth: oauth provider error")
	ErrTooManyAttempts    = errors.New("auth: too many login attempts")
)

// ErrInternal marks storage and other unexpected failures so callers can
// tell them apart from the taxonomy above. The underlying cause stays in the
// error chain for logs; client-facing layers should render a generic message.
var ErrInternal = errors.New("auth: internal error")

func internalErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
