package router

import (
	"regexp"
	"unicode/utf8"
)

// longMessageRunes marks a message long enough to suggest flow on its own.
const longMessageRunes = 500

var complexTaskPatterns = []*regexp.Regexp{
	// English
	regexp.MustCompile(`(?i)\b(plan|planning|organi[sz]e|schedule|analy[sz]e|analysis|compare|comparison|research|strategy|roadmap|itinerary|budget|outline|evaluate|brainstorm|step[- ]by[- ]step|break (?:it |this )?down|pros and cons|trade-?offs?)\b`),
	// Spanish
	regexp.MustCompile(`(?i)\b(planea\w*|planifica\w*|organiza\w*|analiza\w*|análisis|compara\w*|investiga\w*|estrategia|itinerario|presupuesto|esquema|eval[uú]a\w*|paso a paso|desglosa\w*|pros y contras|lluvia de ideas)`),
}

// listItemRe matches numbered or bulleted lines.
var listItemRe = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*•])\s+\S`)

// SuggestMode guesses whether text describes a multi-step task. It is a hint
// for the user and never changes routing.
func SuggestMode(text string) Mode {
	if utf8.RuneCountInString(text) >= longMessageRunes {
		return ModeFlow
	}
	if len(listItemRe.FindAllStringIndex(text, 3)) >= 2 {
		return ModeFlow
	}
	for _, re := range complexTaskPatterns {
		if re.MatchString(text) {
			return ModeFlow
		}
	}
	return ModeSimple
}

// FlowHint is appended to a simple-mode reply when SuggestMode says flow.
const FlowHint = "💡 This looks like a multi-step task. Send /flow to switch to deep-thinking mode."
