package auth

import "errors"

// Common authentication errors
var (
	// ErrMissingAPIKey indicates a key was expected but not provided
	ErrMissingAPIKey = errors.New("api key is missing")

	// ErrInvalidAPIKey indicates the key does not match the expected format
	ErrInvalidAPIKey = errors.New("invalid api key format")

	// ErrKeyRejected indicates the downstream provider refused the key
	ErrKeyRejected = errors.New("api key rejected by provider")
)
