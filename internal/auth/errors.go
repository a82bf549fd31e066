package auth

import "errors"

// Gate failure taxonomy. Callers never see which one occurred; they are kept
// distinct for logs and metrics.
var (
	ErrNoCredential       = errors.New("auth: no credential")
	ErrVerificationFailed = errors.New("auth: verification failed")
	ErrRefreshFailed      = errors.New("auth: refresh failed")
	ErrNotAuthorized      = errors.New("auth: not authorized")
	ErrUnexpected         = errors.New("auth: unexpected failure")
	ErrUnrecognizedRole   = errors.New("auth: unrecognized role")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: already exists")
)
