package runlog

import "strings"

const truncationMarker = "...[truncated]"
const maxStringLength = 2048

var sensitiveSubstrings = []string{"token", "auth", "authorization", "password", "secret", "api_key", "key"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// redact walks payload recursively, replacing any value whose key looks
// sensitive with a fixed sentinel and truncating long strings. It never
// mutates the input; it returns a new value tree.
func redact(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if isSensitiveKey(k) {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = redact(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redact(item)
		}
		return out
	case string:
		if len(v) > maxStringLength {
			return v[:maxStringLength] + truncationMarker
		}
		return v
	default:
		return v
	}
}

// whitelistFields is the fixed projection applied when verbose logging is
// off: everything not in this set is dropped rather than merely redacted.
var whitelistFields = map[string]bool{
	"provider":    true,
	"query_hash":  true,
	"success":     true,
	"num_results": true,
	"tool":        true,
	"result_hash": true,
}

func projectToWhitelist(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if whitelistFields[k] {
			out[k] = v
		}
	}
	return out
}
