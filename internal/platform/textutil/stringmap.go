package textutil

import "strings"

// NormalizeStringMap returns a copy of values with surrounding whitespace
// stripped from every key and value. Entries whose key trims to the empty
// string are dropped, and a map with nothing left collapses to nil so
// callers can treat "no attributes" uniformly.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		k := strings.TrimSpace(key)
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
