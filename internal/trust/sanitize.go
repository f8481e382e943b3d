package trust

import (
	"regexp"
	"strings"
)

// Keys replaced wholesale regardless of value shape.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"auth":          {},
	"api_key":       {},
	"apikey":        {},
	"token":         {},
	"secret":        {},
	"password":      {},
	"passwd":        {},
	"cookie":        {},
	"set-cookie":    {},
	"access_token":  {},
	"refresh_token": {},
	"email":         {},
}

// String values are additionally scanned for credential shapes: bearer
// headers, provider API keys, GitHub tokens, JWTs, Google keys, emails.
var tokenPattern = regexp.MustCompile(strings.Join([]string{
	`(?i)Bearer\s+[A-Za-z0-9_\-.]+`,
	`sk-[A-Za-z0-9_\-]{20,}`,
	`ghp_[A-Za-z0-9_\-]{36,}`,
	`gho_[A-Za-z0-9_\-]{36,}`,
	`eyJ[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}`,
	`AIza[A-Za-z0-9_\-]{35}`,
	`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
}, "|"))

const redactedPlaceholder = "<redacted>"

// SanitizePayload recursively redacts a step payload and reports how many
// redactions (including truncations) were applied.
func SanitizePayload(payload map[string]any, maxValueChars int) (map[string]any, int) {
	sanitized, redactions := sanitizeValue("", payload, maxValueChars)
	asMap, ok := sanitized.(map[string]any)
	if !ok {
		return map[string]any{"value": sanitized}, redactions
	}
	return asMap, redactions
}

func sanitizeValue(key string, value any, maxValueChars int) (any, int) {
	if _, sensitive := sensitiveKeys[strings.ToLower(key)]; sensitive {
		return redactedPlaceholder, 1
	}

	switch v := value.(type) {
	case map[string]any:
		redactions := 0
		sanitized := make(map[string]any, len(v))
		for k, item := range v {
			clean, hits := sanitizeValue(k, item, maxValueChars)
			sanitized[k] = clean
			redactions += hits
		}
		return sanitized, redactions
	case []any:
		redactions := 0
		sanitized := make([]any, 0, len(v))
		for _, item := range v {
			clean, hits := sanitizeValue("", item, maxValueChars)
			sanitized = append(sanitized, clean)
			redactions += hits
		}
		return sanitized, redactions
	case string:
		return sanitizeString(v, maxValueChars)
	default:
		return value, 0
	}
}

func sanitizeString(value string, maxValueChars int) (string, int) {
	redactions := 0
	if tokenPattern.MatchString(value) {
		redactions++
		value = tokenPattern.ReplaceAllString(value, redactedPlaceholder)
	}

	if maxValueChars > 12 && len(value) > maxValueChars {
		redactions++
		value = value[:maxValueChars-12] + "...<truncated>"
	}
	return value, redactions
}
