package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bdobrica/Hoshi/common/observability"
)

// DirectiveInstructions describes the persistence tags understood by
// ApplyDirectives. It is appended to the flow system prompt.
const DirectiveInstructions = `To persist information about the user, include any of these tags in your reply. They are removed before the user sees it.
- <remember file="about" key="Key">value</remember> stores an identity fact (file="preferences" for preferences such as Language or Tone).
- <note topic="Topic">content</note> writes or replaces a note.
- <journal>text</journal> appends an entry to today's journal.
- <forget key="Key"/> removes a stored fact.
Only persist what the user clearly stated or asked you to keep.`

var (
	directiveRe = regexp.MustCompile(`(?s)<remember\s+([^>]*)>(.*?)</remember>|<note\s+([^>]*)>(.*?)</note>|<journal>(.*?)</journal>|<forget\s+([^>]*?)\s*/>`)
	attrRe      = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// DirectiveResult summarises what ApplyDirectives persisted.
type DirectiveResult struct {
	Applied int
	Errors  []error
}

func parseAttrs(s string) map[string]string {
	out := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(s, -1) {
		out[strings.ToLower(m[1])] = m[2]
	}
	return out
}

// ApplyDirectives executes the persistence tags found in reply, in order,
// and returns the reply with every tag removed.
func (s *Store) ApplyDirectives(ctx context.Context, userID, reply string) (string, DirectiveResult) {
	var res DirectiveResult
	matches := directiveRe.FindAllStringSubmatchIndex(reply, -1)
	if len(matches) == 0 {
		return reply, res
	}

	group := func(m []int, i int) (string, bool) {
		if m[2*i] < 0 {
			return "", false
		}
		return reply[m[2*i]:m[2*i+1]], true
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(reply[last:m[0]])
		last = m[1]

		var err error
		switch {
		case m[2] >= 0:
			attrs, _ := group(m, 1)
			body, _ := group(m, 2)
			err = s.applyRemember(ctx, userID, parseAttrs(attrs), body)
		case m[6] >= 0:
			attrs, _ := group(m, 3)
			body, _ := group(m, 4)
			topic := parseAttrs(attrs)["topic"]
			_, err = s.AddNote(ctx, userID, topic, body)
		case m[10] >= 0:
			body, _ := group(m, 5)
			err = s.AddJournalEntry(ctx, userID, body, time.Time{})
		case m[12] >= 0:
			attrs, _ := group(m, 6)
			err = s.applyForget(ctx, userID, parseAttrs(attrs))
		}
		if err != nil {
			res.Errors = append(res.Errors, err)
			observability.WithTrace(ctx).Warn("memory directive failed", "user", userID, "err", err)
			continue
		}
		res.Applied++
	}
	b.WriteString(reply[last:])

	cleaned := blankRunRe.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(cleaned), res
}

func (s *Store) applyRemember(ctx context.Context, userID string, attrs map[string]string, value string) error {
	file, err := ParseFile(attrs["file"])
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: empty value for %q", ErrInvalidKey, attrs["key"])
	}
	return s.Remember(ctx, userID, attrs["key"], value, file)
}

func (s *Store) applyForget(ctx context.Context, userID string, attrs map[string]string) error {
	file, err := ParseFile(attrs["file"])
	if err != nil {
		return err
	}
	_, err = s.Forget(ctx, userID, attrs["key"], file)
	return err
}
