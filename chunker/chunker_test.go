package chunker

import (
	"strings"
	"testing"
)

func TestSplitShortText(t *testing.T) {
	got := Split("Hello world.", 1500, 200)
	want := []string{"Hello world."}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSplitEmptyText(t *testing.T) {
	got := Split("   \n\t  ", 1500, 200)
	if got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	text := strings.Repeat("A. B. C. ", 300) // ~2700 chars
	chunks := Split(text, 1500, 200)

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if i == len(chunks)-1 {
			continue
		}
		if !strings.HasSuffix(c, ".") {
			t.Errorf("chunk %d does not end at a sentence boundary: %q", i, tail(c))
		}
	}
}

func TestSplitRespectsOverlapBound(t *testing.T) {
	text := strings.Repeat("word ", 1000) // 5000 chars, no sentence punctuation
	chunks := Split(text, 500, 100)

	for i := 1; i < len(chunks); i++ {
		prev, cur := []rune(chunks[i-1]), []rune(chunks[i])
		maxOverlap := 100
		if len(prev) < maxOverlap {
			maxOverlap = len(prev)
		}
		// The shared tail/head cannot exceed the configured overlap.
		sharedFound := false
		for k := maxOverlap; k >= 0; k-- {
			if k == 0 {
				sharedFound = true
				break
			}
			tailOfPrev := string(prev[len(prev)-k:])
			if strings.HasPrefix(strings.TrimSpace(string(cur)), strings.TrimSpace(tailOfPrev)) {
				sharedFound = true
				break
			}
		}
		if !sharedFound {
			t.Errorf("chunk %d shares no bounded overlap with chunk %d", i-1, i)
		}
	}
}

func TestSplitMinimumChunkLength(t *testing.T) {
	text := strings.Repeat("x", 1600) // no break points at all
	chunks := Split(text, 1500, 200)

	for i, c := range chunks {
		if len([]rune(c)) < MinChunkSize {
			t.Errorf("chunk %d shorter than MinChunkSize: %q", i, c)
		}
	}
}

func TestSplitTerminatesForSmallChunkSize(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 50)
	chunks := Split(text, 50, 40)

	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for i, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestSplitCyrillicBreaksAtSentenceBoundary(t *testing.T) {
	text := strings.Repeat("Зарплата выплачивается дважды в месяц. ", 120) // ~4700 runes, 2-byte Cyrillic
	chunks := Split(text, 1500, 200)

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if i < len(chunks)-1 && !strings.HasSuffix(c, ".") {
			t.Errorf("chunk %d does not end at a sentence boundary: %q", i, tail(c))
		}
		if n := len([]rune(c)); n > 1500+200 {
			t.Errorf("chunk %d overshoots the break window: %d runes", i, n)
		}
	}
}

func TestSplitNoOverlap(t *testing.T) {
	text := strings.Repeat("a", 3000)
	chunks := Split(text, 1000, 0)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
}

func tail(s string) string {
	r := []rune(s)
	if len(r) <= 20 {
		return s
	}
	return "..." + string(r[len(r)-20:])
}
