// Package chunk splits markdown documents into ordered, size-bounded chunks.
//
// Splitting happens in two stages: first the document is cut into sections at
// the configured header levels (deeper headers collapse into their parent
// section), then oversized sections are split again at the nearest paragraph,
// sentence or word boundary with a fixed overlap window between consecutive
// pieces.
package chunk

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/kbpipe/internal/domain"
)

// Default chunking parameters.
const (
	DefaultMaxChars     = 2000
	DefaultOverlapChars = 400
)

// Config holds chunker parameters.
type Config struct {
	// HeaderLevels lists the ATX header depths (1-6) that open a new
	// section. Headers at other depths stay inside their parent section.
	HeaderLevels []int
	// MaxChars bounds the chunk text length in bytes.
	MaxChars int
	// OverlapChars is the window shared between consecutive size-split
	// pieces. Must be smaller than MaxChars.
	OverlapChars int
}

// DefaultConfig returns the standard chunking parameters: sections at header
// levels 1-3, 2000-byte chunks with a 400-byte overlap.
func DefaultConfig() Config {
	return Config{
		HeaderLevels: []int{1, 2, 3},
		MaxChars:     DefaultMaxChars,
		OverlapChars: DefaultOverlapChars,
	}
}

func (c Config) withDefaults() Config {
	if len(c.HeaderLevels) == 0 {
		c.HeaderLevels = []int{1, 2, 3}
	}
	if c.MaxChars == 0 {
		c.MaxChars = DefaultMaxChars
	}
	if c.OverlapChars == 0 && c.MaxChars > DefaultOverlapChars {
		c.OverlapChars = DefaultOverlapChars
	}
	return c
}

// Validate checks the chunker parameters. Violations are configuration
// errors: fatal at pipeline start, never retried.
func (c Config) Validate() error {
	if c.MaxChars <= 0 {
		return fmt.Errorf("max_chars must be positive, got %d: %w", c.MaxChars, domain.ErrInvalidConfig)
	}
	if c.OverlapChars < 0 {
		return fmt.Errorf("overlap_chars must not be negative, got %d: %w", c.OverlapChars, domain.ErrInvalidConfig)
	}
	if c.OverlapChars >= c.MaxChars {
		return fmt.Errorf(
			"overlap_chars (%d) must be smaller than max_chars (%d): %w",
			c.OverlapChars, c.MaxChars, domain.ErrInvalidConfig,
		)
	}
	for _, l := range c.HeaderLevels {
		if l < 1 || l > 6 {
			return fmt.Errorf("header level %d outside 1-6: %w", l, domain.ErrInvalidConfig)
		}
	}
	return nil
}

// Split chunks a document. Chunks come back ordered by Seq; concatenating
// them with the overlap windows removed reconstructs each section's text.
// Whitespace-only sections emit no chunk.
func Split(doc domain.Document, cfg Config) ([]domain.Chunk, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var chunks []domain.Chunk
	seq := 0
	for _, sec := range splitSections(doc.Text, cfg.HeaderLevels) {
		text := doc.Text[sec.start:sec.end]
		if strings.TrimSpace(text) == "" {
			continue
		}
		for _, sp := range splitSpans(text, cfg.MaxChars, cfg.OverlapChars) {
			chunks = append(chunks, domain.Chunk{
				DocumentID: doc.ID,
				Seq:        seq,
				Text:       text[sp.start:sp.end],
				HeaderPath: sec.path,
				Start:      sec.start + sp.start,
				End:        sec.start + sp.end,
			})
			seq++
		}
	}
	return chunks, nil
}

// section is a contiguous byte range of the document owned by one header path.
type section struct {
	start, end int
	path       []string
}

// splitSections cuts the document at headers whose depth is in levels.
// Section text includes its own header line, so sections partition the
// document exactly. Headers inside fenced code blocks are ignored.
// A document without matching headers is one headerless section.
func splitSections(text string, levels []int) []section {
	enabled := [7]bool{}
	for _, l := range levels {
		enabled[l] = true
	}

	var sections []section
	titles := [7]string{}
	secStart := 0
	var secPath []string
	inFence := false

	flush := func(end int) {
		if end > secStart {
			sections = append(sections, section{start: secStart, end: end, path: secPath})
		}
	}

	offset := 0
	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		var next int
		if lineEnd < 0 {
			lineEnd = len(text)
			next = len(text) + 1
		} else {
			lineEnd += offset
			next = lineEnd + 1
		}
		line := text[offset:lineEnd]

		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}

		if !inFence {
			if level, title, ok := parseHeader(line); ok && enabled[level] {
				flush(offset)
				secStart = offset
				titles[level] = title
				for l := level + 1; l <= 6; l++ {
					titles[l] = ""
				}
				secPath = headerPath(titles, enabled, level)
			}
		}

		offset = next
	}

	flush(len(text))
	return sections
}

// parseHeader recognizes an ATX header line and returns its depth and title.
func parseHeader(line string) (level int, title string, ok bool) {
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level < 1 || level > 6 || level >= len(line) {
		return 0, "", false
	}
	if line[level] != ' ' && line[level] != '\t' {
		return 0, "", false
	}

	title = strings.TrimSpace(line[level+1:])
	// Strip an optional closing hash run ("## Title ##").
	if i := strings.LastIndexByte(title, ' '); i >= 0 && strings.Trim(title[i+1:], "#") == "" {
		title = strings.TrimSpace(title[:i])
	}
	return level, title, true
}

// headerPath collects the enabled ancestor titles up to the given level.
func headerPath(titles [7]string, enabled [7]bool, level int) []string {
	var path []string
	for l := 1; l <= level; l++ {
		if enabled[l] && titles[l] != "" {
			path = append(path, titles[l])
		}
	}
	return path
}
