// Package auth validates the API keys that admit requests into the system.
// Keys belong to the downstream generation provider; the service only checks
// their shape (and optionally their liveness) and never stores them.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/phrazzld/forge-api/internal/config"
	"github.com/phrazzld/forge-api/internal/platform/logger"
	"github.com/phrazzld/forge-api/internal/redact"
)

// CredentialValidator checks an API key before any task mutation happens.
type CredentialValidator interface {
	// Validate returns nil for an acceptable key. Failures map to
	// ErrMissingAPIKey, ErrInvalidAPIKey, or ErrKeyRejected.
	Validate(ctx context.Context, key string) error
}

// apiKeyRE is the structural shape of provider keys: the sk- prefix, an
// optional router marker, and at least 32 key characters.
var apiKeyRE = regexp.MustCompile(`^sk-(?:or-v1-)?[A-Za-z0-9]{32,}$`)

// KeyValidator implements CredentialValidator with a structural regex check
// and an optional liveness probe against the provider's model listing.
type KeyValidator struct {
	verifyUpstream bool
	baseURL        string
	client         *http.Client
}

// Ensure KeyValidator implements CredentialValidator
var _ CredentialValidator = (*KeyValidator)(nil)

// NewKeyValidator creates a validator from the auth configuration.
func NewKeyValidator(cfg config.AuthConfig) *KeyValidator {
	return &KeyValidator{
		verifyUpstream: cfg.VerifyUpstream,
		baseURL:        strings.TrimRight(cfg.ProviderBaseURL, "/"),
		client:         &http.Client{Timeout: cfg.VerifyTimeout()},
	}
}

// Validate checks the key structurally and, when enabled, probes the
// provider. Transport failures during the probe fail open: a flaky provider
// must not block admission once the structural check passed.
func (v *KeyValidator) Validate(ctx context.Context, key string) error {
	if key == "" {
		return ErrMissingAPIKey
	}

	if !apiKeyRE.MatchString(key) {
		return ErrInvalidAPIKey
	}

	if !v.verifyUpstream {
		return nil
	}

	return v.probe(ctx, key)
}

// probe asks the provider to list models with the key. A 401 or 403 means
// the provider refused the key; any other response or a transport error is
// treated as provider noise and logged.
func (v *KeyValidator) probe(ctx context.Context, key string) error {
	log := logger.FromContext(ctx).With("component", "key_validator")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to build liveness probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := v.client.Do(req)
	if err != nil {
		log.Warn("provider liveness probe failed, admitting on structural check",
			"error", redact.Error(err))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrKeyRejected
	}

	if resp.StatusCode >= 500 {
		log.Warn("provider liveness probe returned server error, admitting on structural check",
			"status", resp.StatusCode)
	}

	return nil
}
