// Package textutil holds the string normalisation shared by services and repositories.
package textutil

import (
	"net/url"
	"strings"
)

// NormalizeEmail is the canonical form used for order lookups, subscriber dedupe and customer
// grouping.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizeStringMap trims keys and values and drops entries with empty keys. Key case is kept
// because gateway signatures cover the exact field names.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		if key = strings.TrimSpace(key); key != "" {
			result[key] = strings.TrimSpace(value)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// FlattenValues keeps the first value of every query or form field.
func FlattenValues(values url.Values) map[string]string {
	flat := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			flat[key] = vals[0]
		}
	}
	return NormalizeStringMap(flat)
}
