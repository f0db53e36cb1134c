package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	got := Info()
	for _, part := range []string{"hoshi", Version, GitCommit, BuildTime} {
		if !strings.Contains(got, part) {
			t.Errorf("Info() = %q, missing %q", got, part)
		}
	}
}
