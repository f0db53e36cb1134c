// Package redact strips credentials from text before it is logged.
//
// Provider error bodies and subprocess stderr are logged in full for
// operators, but they routinely echo request URLs and headers. The Telegram
// bot token is part of every Bot API URL, and LLM API keys show up in
// misconfiguration errors. Redaction here is best-effort and string based.
package redact

import (
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

// knownPatterns match credential shapes that can be scrubbed without the
// caller knowing the actual value.
var knownPatterns = []*regexp.Regexp{
	// Telegram Bot API token inside a URL path: /bot123456:AA.../method
	regexp.MustCompile(`bot\d{5,}:[A-Za-z0-9_-]{20,}`),
	// Anthropic / OpenAI style keys.
	regexp.MustCompile(`sk-(?:ant-)?[A-Za-z0-9_-]{16,}`),
	// Groq keys.
	regexp.MustCompile(`gsk_[A-Za-z0-9]{16,}`),
	// Bearer tokens in echoed headers.
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{12,}`),
}

// String replaces every occurrence of each sensitive value in s with
// [REDACTED], then scrubs well-known credential shapes. Values shorter than
// 4 characters are skipped to avoid spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(stderr, apiKey, botToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	for _, re := range knownPatterns {
		s = re.ReplaceAllString(s, placeholder)
	}
	return s
}

// Map returns a shallow copy of m with values replaced by [REDACTED] for
// every key whose name suggests it contains a secret (password, token, key,
// secret, credential, auth). Non-string values are left unchanged.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			if str, ok := v.(string); ok && str != "" {
				out[k] = placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "key", "credential", "auth", "apikey"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
