package app

import "errors"

// Expected request-level failures. Consent denials are not errors;
// they come back as structured AssertionResults.
var (
	ErrNonceRequired    = errors.New("nonce is required")
	ErrNameRequired     = errors.New("name is required")
	ErrEmailInvalid     = errors.New("email is invalid")
	ErrProfileMissing   = errors.New("identity profile is not configured")
	ErrProfileCorrupted = errors.New("persisted identity profile is invalid")
)
