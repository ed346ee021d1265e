package executor

import "strings"

// Redacted replaces sensitive parameter values.
const Redacted = "[REDACTED]"

var sensitiveKeyParts = []string{"password", "token", "secret", "apikey", "api_key", "credential"}

// IsSensitiveKey reports whether a parameter key names a secret. Matching is
// a case-insensitive substring match.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// Redact returns a copy of params with sensitive values replaced, recursing
// into nested maps and slices. params is not modified.
func Redact(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Redact(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, item := range val {
			out[i] = Redact(item)
		}
		return out
	default:
		return v
	}
}
