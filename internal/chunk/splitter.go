package chunk

import "strings"

// span is a half-open byte range within one section's text.
type span struct {
	start, end int
}

// Boundary classes tried in order when cutting an oversized section.
// Each class is a set of separators; the cut lands just after the separator.
var boundaryClasses = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" "},
}

// splitSpans cuts text into pieces of at most maxChars bytes. Every piece
// after the first starts exactly overlap bytes before the previous piece's
// end, so consecutive pieces share an overlap window; the final piece may be
// shorter. Cuts prefer paragraph, then line, then sentence, then word
// boundaries, falling back to a raw cut at maxChars.
func splitSpans(text string, maxChars, overlap int) []span {
	if len(text) <= maxChars {
		return []span{{0, len(text)}}
	}

	var spans []span
	start := 0
	for {
		if len(text)-start <= maxChars {
			spans = append(spans, span{start, len(text)})
			return spans
		}
		cut := cutPoint(text, start, start+maxChars, overlap)
		spans = append(spans, span{start, cut})
		start = overlapStart(text, cut, overlap)
	}
}

// cutPoint picks the split position in (start+overlap, limit]. The lower
// bound guarantees forward progress: the next piece starts at cut-overlap,
// which must lie beyond the current start.
func cutPoint(text string, start, limit, overlap int) int {
	minCut := start + overlap + 1
	window := text[start:limit]

	for _, class := range boundaryClasses {
		best := -1
		for _, sep := range class {
			if i := strings.LastIndex(window, sep); i >= 0 {
				cut := start + i + len(sep)
				if cut >= minCut && cut > best {
					best = cut
				}
			}
		}
		if best > 0 {
			return best
		}
	}

	// Raw cut at the size limit, backed up to a rune boundary.
	cut := limit
	for cut > minCut && !isRuneStart(text[cut]) {
		cut--
	}
	return cut
}

// overlapStart returns the start of the piece following a cut, advanced to
// the next rune boundary if the overlap window would begin mid-rune.
func overlapStart(text string, cut, overlap int) int {
	s := cut - overlap
	if s < 0 {
		s = 0
	}
	for s < len(text) && !isRuneStart(text[s]) {
		s++
	}
	return s
}

// isRuneStart reports whether b can begin a UTF-8 encoded rune.
func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
