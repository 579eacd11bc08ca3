// Package masking redacts credentials and secrets from tool output
// before it reaches the LLM or the event stream. External systems
// queried by integration tools routinely leak tokens into free text;
// masking is applied centrally at the dispatch boundary.
package masking

import (
	"regexp"
)

// maskedValue replaces every matched secret.
const maskedValue = "***MASKED***"

// pattern pairs a name with a compiled regex. Patterns with a capture
// group keep the text before the group and replace only the secret part.
type pattern struct {
	name  string
	regex *regexp.Regexp
}

var builtinPatterns = []pattern{
	// Provider-prefixed tokens (OpenAI, Slack, GitHub).
	{"provider_token", regexp.MustCompile(`\b(?:sk|xox[bpas]|ghp|gho)[-_][A-Za-z0-9-_]{10,}\b`)},
	// AWS access key identifiers.
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	// Authorization headers.
	{"bearer_token", regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9\-._~+/]{8,}=*`)},
	// key=value / "key": "value" style credentials.
	{"credential_kv", regexp.MustCompile(`(?i)("?(?:api[-_]?key|secret|password|token)"?\s*[:=]\s*"?)[^\s",}]{4,}`)},
	// PEM-encoded key material.
	{"pem_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
}

// Masker applies the built-in secret patterns to free text and payloads.
type Masker struct {
	patterns []pattern
}

// New creates a masker with the built-in pattern set.
func New() *Masker {
	return &Masker{patterns: builtinPatterns}
}

// MaskText redacts all secrets found in s.
func (m *Masker) MaskText(s string) string {
	for _, p := range m.patterns {
		if p.regex.NumSubexp() > 0 {
			s = p.regex.ReplaceAllString(s, "${1}"+maskedValue)
			continue
		}
		s = p.regex.ReplaceAllString(s, maskedValue)
	}
	return s
}

// MaskMap returns a copy of data with every nested string value masked.
// Non-string values pass through unchanged.
func (m *Masker) MaskMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = m.maskValue(v)
	}
	return out
}

func (m *Masker) maskValue(v any) any {
	switch val := v.(type) {
	case string:
		return m.MaskText(val)
	case map[string]any:
		return m.MaskMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = m.maskValue(item)
		}
		return out
	default:
		return v
	}
}
