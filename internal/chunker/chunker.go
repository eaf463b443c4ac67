package chunker

import (
	"regexp"
	"strings"
)

// Splitter turns normalized document text into bounded, ordered fragments.
// Splitting is pure: the same text and thresholds always produce the same
// chunks.
type Splitter struct {
	// ChunkSize is the soft maximum chunk length in characters. Sections
	// longer than this go through the recursive splitter.
	ChunkSize int
	// Overlap is the number of trailing characters repeated at the start
	// of the next sub-chunk to preserve cross-boundary context.
	Overlap int
}

// Heading-like patterns that open a new section: a capitalized label
// followed by a colon, a numbered heading, or a title-case phrase followed
// by a number.
var sectionPattern = regexp.MustCompile(`(?m)^[A-Z][A-Za-z\s]+:|^\d+\.\s+[A-Z]|^[A-Z][A-Za-z\s]+\s+\d+`)

// Cascading separators for the recursive splitter, coarsest first. The
// empty string means "split anywhere".
var separators = []string{"\n\n", "\n", ".", "!", "?", ",", " ", ""}

func New(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

// Split chunks text by detected sections, recursively subdividing any
// section that exceeds ChunkSize. Returns chunks in document order.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	for _, section := range splitSections(text) {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		if len(section) > s.ChunkSize {
			chunks = append(chunks, s.splitRecursive(section, separators)...)
		} else {
			chunks = append(chunks, section)
		}
	}
	return chunks
}

// splitSections cuts text at heading-like boundaries. Every heading starts
// a new section containing the heading line itself.
func splitSections(text string) []string {
	locs := sectionPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var sections []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			sections = append(sections, text[prev:loc[0]])
		}
		prev = loc[0]
	}
	sections = append(sections, text[prev:])
	return sections
}

// splitRecursive subdivides text using the first separator present,
// cascading to finer separators for pieces that are still oversized, and
// carrying Overlap characters between adjacent sub-chunks.
func (s *Splitter) splitRecursive(text string, seps []string) []string {
	if len(text) <= s.ChunkSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	sep, rest := pickSeparator(text, seps)
	if sep == "" {
		return s.splitFixed(text)
	}

	parts := strings.SplitAfter(text, sep)
	var chunks []string
	var current strings.Builder
	carry := 0 // bytes of overlap text at the head of current

	// A buffer holding only carried overlap repeats text already emitted,
	// so it never flushes on its own.
	flush := func() {
		if current.Len() <= carry {
			return
		}
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, part := range parts {
		if len(part) > s.ChunkSize {
			flush()
			current.Reset()
			carry = 0
			chunks = append(chunks, s.splitRecursive(part, rest)...)
			continue
		}
		if current.Len()+len(part) > s.ChunkSize && current.Len() > 0 {
			full := current.String()
			flush()
			current.Reset()
			tail := overlapTail(full, s.Overlap)
			if len(tail)+len(part) > s.ChunkSize {
				tail = ""
			}
			current.WriteString(tail)
			carry = len(tail)
		}
		current.WriteString(part)
	}
	flush()
	return chunks
}

// splitFixed is the last resort when no separator applies: hard cuts at
// ChunkSize with Overlap carried between cuts.
func (s *Splitter) splitFixed(text string) []string {
	runes := []rune(text)
	stride := s.ChunkSize - s.Overlap
	if stride <= 0 {
		stride = s.ChunkSize
	}
	var chunks []string
	for start := 0; start < len(runes); start += stride {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// pickSeparator returns the first separator present in text and the finer
// separators remaining after it.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, cand := range seps {
		if cand == "" {
			return "", nil
		}
		if strings.Contains(text, cand) {
			return cand, seps[i+1:]
		}
	}
	return "", nil
}

// overlapTail returns up to n trailing characters of chunk, starting at a
// word boundary where possible.
func overlapTail(chunk string, n int) string {
	if n <= 0 || chunk == "" {
		return ""
	}
	runes := []rune(chunk)
	if len(runes) <= n {
		return chunk
	}
	tail := string(runes[len(runes)-n:])
	if idx := strings.IndexByte(tail, ' '); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}
	return tail
}
