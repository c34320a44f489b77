package service

import "strings"

// isSensitiveHeader checks if a header key contains sensitive information.
func isSensitiveHeader(key string) bool {
	lower := strings.ToLower(key)
	sensitiveKeys := []string{
		"authorization",
		"api-key",
		"apikey",
		"x-api-key",
		"x-apikey",
		"token",
		"x-token",
		"auth-token",
		"x-auth-token",
		"access-token",
		"x-access-token",
		"secret",
		"x-secret",
		"password",
		"passwd",
		"credential",
		"cookie",
		"set-cookie",
		"session",
		"x-session",
		"private-token",
		"x-private-token",
	}
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// maskHeaderValue masks a header value while showing a hint of its structure.
// Examples: "Bearer ***" for "Bearer token123", "***" for short values.
func maskHeaderValue(value string) string {
	if value == "" {
		return ""
	}

	// For Bearer tokens, preserve the "Bearer" prefix
	if strings.HasPrefix(value, "Bearer ") || strings.HasPrefix(value, "bearer ") {
		return value[:7] + "***"
	}

	// For Basic auth, preserve the "Basic" prefix
	if strings.HasPrefix(value, "Basic ") || strings.HasPrefix(value, "basic ") {
		return value[:6] + "***"
	}

	// For values with spaces, show prefix and mask the rest
	if idx := strings.Index(value, " "); idx > 0 && idx < 20 {
		return value[:idx+1] + "***"
	}

	// For short values (< 8 chars), completely mask
	if len(value) <= 8 {
		return "***"
	}

	// For longer values, show first few chars
	return value[:3] + "***"
}
