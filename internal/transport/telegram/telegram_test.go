package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()

	got := splitText("hallo", 100, "")
	if len(got) != 1 || got[0] != "hallo" {
		t.Fatalf("got %#v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("eine Zeile mit Termindaten\n")
	}
	chunks := splitText(b.String(), 200, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 200 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		if strings.HasSuffix(c, "Termindat") {
			t.Fatalf("chunk %d split mid-line: %q", i, c)
		}
	}
	joined := strings.Join(chunks, "\n") + "\n"
	if !strings.HasPrefix(joined, "eine Zeile") || strings.Count(joined, "Termindaten") != 40 {
		t.Fatalf("content lost while splitting")
	}
}

func TestSplitTextAvoidsBreakingHTMLTags(t *testing.T) {
	t.Parallel()

	// A long run without newlines whose window boundary lands inside a tag.
	body := strings.Repeat("x", 98) + "<b>fett</b>" + strings.Repeat("y", 100)
	chunks := splitText(body, 100, "HTML")
	for i, c := range chunks {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk %d has a torn tag: %q", i, c)
		}
	}
}

func TestSplitTextHardLimit(t *testing.T) {
	t.Parallel()

	chunks := splitText(strings.Repeat("a", 950), 100, "")
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit", i)
		}
	}
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	if total != 950 {
		t.Fatalf("lost characters: %d of 950", total)
	}
}
