package channel

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPreview(t *testing.T) {
	if got := Preview(" hello "); got != "hello" {
		t.Fatalf("Preview short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", messagePreviewLimit+20)
	got := Preview(long)
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("Preview long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("Preview long = %q, want ellipsis suffix", got)
	}
}

func TestPreviewKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("é", messagePreviewLimit)
	got := Preview(long)
	if !utf8.ValidString(got) {
		t.Fatalf("Preview produced invalid UTF-8: %q", got)
	}
}
