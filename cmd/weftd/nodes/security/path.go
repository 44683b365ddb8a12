package security

import (
	"fmt"
	"strings"
)

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// validateScheme allows only plain web schemes; file://, gopher://, dict://
// and the rest are classic SSRF and file-access vectors.
func validateScheme(scheme string) error {
	normalized := strings.ToLower(strings.TrimSpace(scheme))
	if normalized == "" {
		return fmt.Errorf("URL scheme is required")
	}
	if !allowedSchemes[normalized] {
		return fmt.Errorf("scheme %q is not allowed: only http and https", scheme)
	}
	return nil
}

// blockedPathPatterns are substrings that indicate file-access or traversal
// attempts, checked case-insensitively against paths and query values.
var blockedPathPatterns = []string{
	"file://",
	"../",
	"..\\",
	"/etc/",
	"/proc/",
	"/sys/",
	"c:/",
	"c:\\",
	"\\\\.\\pipe\\",
}

// encodedTraversalPatterns cover the URL-encoded spellings of the same.
var encodedTraversalPatterns = []string{
	"%2e%2e/",
	"%2e%2e%2f",
	"..%2f",
	"%2e%2e\\",
	"%2e%2e%5c",
	"..%5c",
}

func validatePath(urlPath string) error {
	if urlPath == "" {
		return nil
	}

	normalized := strings.ToLower(urlPath)
	for _, pattern := range blockedPathPatterns {
		if strings.Contains(normalized, pattern) {
			return fmt.Errorf("path contains blocked pattern %q", pattern)
		}
	}
	for _, pattern := range encodedTraversalPatterns {
		if strings.Contains(normalized, pattern) {
			return fmt.Errorf("path contains encoded traversal pattern")
		}
	}
	return nil
}
