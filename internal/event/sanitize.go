// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package event

import (
	"github.com/tomtom215/excubitor/internal/logging"
)

// Sanitize redacts sensitive material from an event in place: metadata
// values under credential-like keys, credentials in the URL query string,
// and bearer tokens in free-text fields. Events are sanitized after
// acceptance and before buffering, so nothing sensitive reaches the stream.
func Sanitize(e *Event) {
	if e == nil {
		return
	}

	sanitizeMetadata(e.Metadata)

	if e.URL != "" {
		e.URL = logging.SanitizeURLQuery(e.URL)
	}
	if e.Message != "" {
		e.Message = logging.MaskBearerTokens(e.Message)
	}
	if e.UserAgent != "" {
		e.UserAgent = logging.MaskBearerTokens(e.UserAgent)
	}
}

// sanitizeMetadata walks a metadata map and replaces every value whose key
// looks credential-like. Nested maps are walked too since callers commonly
// attach structured request context.
func sanitizeMetadata(m map[string]interface{}) {
	for k, v := range m {
		if logging.IsSensitiveKey(k) {
			m[k] = logging.RedactedMarker
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			sanitizeMetadata(nested)
		}
	}
}
