package registry

import "regexp"

// Output sanitization: every tool result, sandboxed or in-process, passes
// through here before leaving the registry.
var (
	outputSecretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-.]+`),
		regexp.MustCompile(`(?i)sk-[A-Za-z0-9_\-]{20,}`),
		regexp.MustCompile(`(?i)ghp_[A-Za-z0-9_\-]{20,}`),
		regexp.MustCompile(`(?i)-----BEGIN[\sA-Z]+PRIVATE KEY-----`),
	}

	outputControlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]+`)
)

// SanitizeOutput redacts secret-shaped strings, strips control characters,
// and truncates text beyond maxChars, recursing through nested maps and
// sequences. The second return reports whether anything was truncated.
func SanitizeOutput(value any, maxChars int) (any, bool) {
	switch v := value.(type) {
	case string:
		return sanitizeString(v, maxChars)
	case map[string]any:
		truncated := false
		sanitized := make(map[string]any, len(v))
		for key, item := range v {
			clean, hit := SanitizeOutput(item, maxChars)
			sanitized[key] = clean
			truncated = truncated || hit
		}
		return sanitized, truncated
	case []any:
		truncated := false
		sanitized := make([]any, 0, len(v))
		for _, item := range v {
			clean, hit := SanitizeOutput(item, maxChars)
			sanitized = append(sanitized, clean)
			truncated = truncated || hit
		}
		return sanitized, truncated
	default:
		return value, false
	}
}

func sanitizeString(s string, maxChars int) (string, bool) {
	for _, re := range outputSecretPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	s = outputControlChars.ReplaceAllString(s, "")

	if maxChars > 0 && len(s) > maxChars {
		return s[:maxChars], true
	}
	return s, false
}
