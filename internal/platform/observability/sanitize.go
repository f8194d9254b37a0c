package observability

import "unicode"

const maxFieldLength = 256

// sanitizeString strips control characters and caps the length so attacker
// controlled values cannot inject log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldLength
	}

	out := make([]rune, 0, len(value))
	for _, r := range value {
		switch {
		case r == '\n', r == '\r', r == '\t':
			out = append(out, r)
		case unicode.IsControl(r):
			// drop
		default:
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return string(out)
}

// SanitizeRoute bounds a route template before it is logged.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod bounds an HTTP method string.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID caps identifiers logged alongside requests.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}
