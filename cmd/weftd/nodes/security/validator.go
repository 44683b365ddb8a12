// Package security validates outbound request targets. The http_request
// node executes user-authored configs, so every URL — including each
// redirect hop — is checked for SSRF and file-access patterns before a
// connection is opened.
package security

import (
	"fmt"
	"net/url"
)

// Validator runs the full ruleset: scheme allowlist, hostname/IP SSRF
// checks, and path/query pattern checks.
type Validator struct {
	hosts *hostRules
}

// NewValidator creates a validator with the default blocked-host set.
func NewValidator() *Validator {
	return &Validator{hosts: defaultHostRules()}
}

// ValidateURL checks a URL against every rule. A nil return means the URL
// is safe to request.
func (v *Validator) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if err := validateScheme(parsed.Scheme); err != nil {
		return err
	}
	if err := v.hosts.validate(parsed.Hostname()); err != nil {
		return err
	}
	if err := validatePath(parsed.Path); err != nil {
		return err
	}

	// Query values can smuggle the same file-access patterns as paths.
	for key, values := range parsed.Query() {
		for _, value := range values {
			if err := validatePath(value); err != nil {
				return fmt.Errorf("query parameter %q: %w", key, err)
			}
		}
	}
	return nil
}
