package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Secret and PII patterns scrubbed before the cache signature is computed,
// so two inputs differing only in an embedded credential or email hash
// identically.
var (
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-.]+`),
		regexp.MustCompile(`(?i)sk-[A-Za-z0-9_\-]{20,}`),
		regexp.MustCompile(`(?i)ghp_[A-Za-z0-9_\-]{20,}`),
		regexp.MustCompile(`(?i)-----BEGIN[\sA-Z]+PRIVATE KEY-----`),
	}

	piiPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	}

	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]+`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// NormalizeInput strips control characters, redacts secrets and PII,
// collapses whitespace, and lower-cases the text.
func NormalizeInput(text string) string {
	normalized := controlChars.ReplaceAllString(text, " ")
	normalized = scrubForSignature(normalized)
	normalized = whitespace.ReplaceAllString(normalized, " ")
	return strings.ToLower(strings.TrimSpace(normalized))
}

func scrubForSignature(text string) string {
	scrubbed := text
	for _, re := range secretPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, "[REDACTED]")
	}
	for _, re := range piiPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, "[REDACTED]")
	}
	return scrubbed
}

// Signature is the fixed-length cache-key digest of normalized text.
func Signature(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:32]
}
