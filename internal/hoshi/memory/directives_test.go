package memory

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestApplyDirectives(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Remember(ctx, "alice", "Pet", "hamster", FileAbout)

	reply := `Great, I'll remember that!
<remember file="about" key="Name">Ana</remember>
<remember file="preferences" key="Tone">casual</remember>


<note topic="Trip to Cusco">Book train tickets.</note>
<journal>Planned a trip.</journal>
<forget key="Pet"/>
See you soon.`

	cleaned, res := s.ApplyDirectives(ctx, "alice", reply)

	if res.Applied != 5 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v, want 5 applied", res)
	}
	if strings.Contains(cleaned, "<") {
		t.Errorf("tags not stripped: %q", cleaned)
	}
	if cleaned != "Great, I'll remember that!\n\nSee you soon." {
		t.Errorf("cleaned = %q", cleaned)
	}

	if r := s.Recall(ctx, "alice", "Name", FileAbout); r.Value != "Ana" {
		t.Errorf("Name = %+v", r)
	}
	if r := s.Recall(ctx, "alice", "Tone", FilePreferences); r.Value != "casual" {
		t.Errorf("Tone = %+v", r)
	}
	if r := s.Recall(ctx, "alice", "Pet", ""); r.Found {
		t.Errorf("Pet should be forgotten: %+v", r)
	}
	if n, err := s.GetNote(ctx, "alice", "trip to cusco"); err != nil || n.Content != "Book train tickets." {
		t.Errorf("note = %+v, %v", n, err)
	}
	if j := s.GetJournalEntry(ctx, "alice", time.Time{}); !strings.Contains(j, "Planned a trip.") {
		t.Errorf("journal = %q", j)
	}
}

func TestApplyDirectives_NoTags(t *testing.T) {
	s := newTestStore(t)
	in := "Just a reply with a < sign."
	out, res := s.ApplyDirectives(context.Background(), "alice", in)
	if out != in || res.Applied != 0 {
		t.Errorf("ApplyDirectives changed plain reply: %q %+v", out, res)
	}
}

func TestApplyDirectives_InvalidTagsAreStrippedAndReported(t *testing.T) {
	s := newTestStore(t)
	out, res := s.ApplyDirectives(context.Background(), "alice",
		`ok <remember file="diary" key="K">v</remember><note topic="!!">x</note>`)
	if out != "ok" {
		t.Errorf("out = %q", out)
	}
	if res.Applied != 0 || len(res.Errors) != 2 {
		t.Errorf("result = %+v, want 2 errors", res)
	}
}
