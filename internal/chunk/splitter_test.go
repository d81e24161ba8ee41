package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitSpans_ShortTextSingleSpan(t *testing.T) {
	spans := splitSpans("short", 100, 20)
	if len(spans) != 1 || spans[0] != (span{0, 5}) {
		t.Fatalf("got %v, want [{0 5}]", spans)
	}
}

func TestSplitSpans_SentenceBoundaryPreferred(t *testing.T) {
	text := strings.Repeat("a", 80) + ". " + strings.Repeat("b", 80)
	spans := splitSpans(text, 100, 20)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].end != 82 {
		t.Fatalf("first span ends at %d, want 82 (after sentence)", spans[0].end)
	}
	if spans[1].start != 62 {
		t.Fatalf("second span starts at %d, want 62 (overlap of 20)", spans[1].start)
	}
}

func TestSplitSpans_BoundaryInsideOverlapIgnored(t *testing.T) {
	// The only space sits before start+overlap; cutting there would make no
	// progress, so the splitter must fall back to a raw cut.
	text := strings.Repeat("a", 10) + " " + strings.Repeat("b", 200)
	spans := splitSpans(text, 100, 50)
	if spans[0].end != 100 {
		t.Fatalf("first span ends at %d, want raw cut at 100", spans[0].end)
	}
}

func TestSplitSpans_RawCutRespectsRuneBoundary(t *testing.T) {
	text := strings.Repeat("é", 300) // 2 bytes per rune, no separators
	spans := splitSpans(text, 101, 20)
	for i, sp := range spans {
		piece := text[sp.start:sp.end]
		if !utf8.ValidString(piece) {
			t.Fatalf("span %d cuts through a rune: %q...", i, piece[:4])
		}
		if sp.end-sp.start > 101 {
			t.Fatalf("span %d exceeds max: %d", i, sp.end-sp.start)
		}
	}
}

