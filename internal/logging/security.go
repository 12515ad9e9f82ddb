// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package logging

import (
	"regexp"
	"strings"
)

// RedactedMarker replaces sensitive values in sanitized output.
const RedactedMarker = "[REDACTED]"

// sensitiveKeySubstrings are matched case-insensitively as substrings of
// metadata keys. A key containing any of them is treated as sensitive.
var sensitiveKeySubstrings = []string{
	"password",
	"token",
	"secret",
	"key",
	"authorization",
	"cookie",
	"session",
}

var (
	// sensitiveQueryParams matches query parameters whose values must be
	// redacted in URLs (e.g. ?token=abc -> ?token=[REDACTED]).
	sensitiveQueryParams = regexp.MustCompile(`(?i)([?&])(password|token|secret|key|auth)(=)[^&\s]*`)

	// bearerToken matches bearer-token patterns embedded in free-form strings
	// such as user agents or error messages.
	bearerToken = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`)
)

// IsSensitiveKey reports whether a metadata key names a sensitive value.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// SanitizeValue redacts a value when its key names something sensitive.
// Non-sensitive values pass through unchanged.
func SanitizeValue(key, value string) string {
	if IsSensitiveKey(key) {
		return RedactedMarker
	}
	return value
}

// SanitizeURLQuery redacts the values of sensitive query parameters in a URL
// while keeping the parameter names, so operators can still see which
// parameters were present.
// Example: "/login?user=a&token=xyz" -> "/login?user=a&token=[REDACTED]"
func SanitizeURLQuery(rawURL string) string {
	if rawURL == "" {
		return rawURL
	}
	return sensitiveQueryParams.ReplaceAllString(rawURL, "$1$2$3"+RedactedMarker)
}

// MaskBearerTokens replaces bearer-token patterns in free-form text.
// Example: "curl/8.0 Bearer eyJhbGc..." -> "curl/8.0 Bearer [REDACTED]"
func MaskBearerTokens(s string) string {
	if s == "" {
		return s
	}
	return bearerToken.ReplaceAllString(s, "Bearer "+RedactedMarker)
}

// SanitizeToken masks a token, showing only first and last 4 characters.
// Example: "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9..." -> "eyJh...kpXV"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeError removes potentially sensitive information from error messages
// before they are attached to alerts or logs.
func SanitizeError(err string) string {
	lowerErr := strings.ToLower(err)
	for _, pattern := range sensitiveKeySubstrings {
		if strings.Contains(lowerErr, pattern) {
			return "error detail withheld (sensitive)"
		}
	}
	return truncateString(err, 200)
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
