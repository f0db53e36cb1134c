package memory

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Fact is a piece of identity information spotted in a user message.
type Fact struct {
	Key   string
	Value string
	File  File
}

type factPattern struct {
	re       *regexp.Regexp
	key      string
	file     File
	maxWords int
}

var factPatterns = []factPattern{
	{regexp.MustCompile(`(?i)\b(?:my name is|call me|me llamo|mi nombre es)\s+([^.,!?;\n]+)`), "Name", FileAbout, 3},
	{regexp.MustCompile(`(?i)\b(?:i live in|i'm based in|i am based in|vivo en)\s+([^.!?;\n]+)`), "Location", FileAbout, 5},
	{regexp.MustCompile(`(?i)\b(?:i work (?:at|for|as)|trabajo (?:en|como|para))\s+([^.!?;\n]+)`), "Work", FileAbout, 6},
	{regexp.MustCompile(`(?i)\bi prefer (?:to speak|speaking|to talk|talking|to chat|chatting)(?: in)?\s+(\p{L}+)`), "Language", FilePreferences, 1},
	{regexp.MustCompile(`(?i)\bi prefer (?:the )?(\p{L}+) language\b`), "Language", FilePreferences, 1},
	{regexp.MustCompile(`(?i)\bprefiero (?:hablar|que me hables|que hablemos|escribir) en\s+(\p{L}+)`), "Language", FilePreferences, 1},
}

// conjunctions end a captured value: "Ana and I live in Lima" → "Ana".
var conjunctionRe = regexp.MustCompile(`(?i)\s+(?:and|but|y|pero|e)\s+.*$`)

// ExtractFacts returns identity facts stated in text. The first match per
// key wins.
func ExtractFacts(text string) []Fact {
	var out []Fact
	seen := make(map[string]bool)
	for _, p := range factPatterns {
		if seen[p.key] {
			continue
		}
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := cleanFactValue(m[1], p.maxWords)
		if value == "" {
			continue
		}
		if p.file == FilePreferences {
			value = capitalize(value)
		}
		seen[p.key] = true
		out = append(out, Fact{Key: p.key, Value: value, File: p.file})
	}
	return out
}

func cleanFactValue(raw string, maxWords int) string {
	v := conjunctionRe.ReplaceAllString(strings.TrimSpace(raw), "")
	words := strings.Fields(v)
	if len(words) == 0 {
		return ""
	}
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.TrimRight(strings.Join(words, " "), ",:")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
