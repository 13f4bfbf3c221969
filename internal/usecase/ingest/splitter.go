package ingest

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, sized for embedding-friendly passages.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators are tried in order: paragraph break, line break, word break,
// and finally a hard character cut for pathological unbroken text.
var separators = []string{"\n\n", "\n", " ", ""}

// Splitter is a recursive character text splitter: it prefers cutting at the
// coarsest separator that keeps pieces under chunkSize, descending to finer
// separators only for oversized pieces. Consecutive chunks share roughly
// overlap characters of context.
type Splitter struct {
	chunkSize int
	overlap   int
}

// NewSplitter creates a splitter. Non-positive parameters fall back to
// defaults; overlap is clamped below chunkSize.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 2
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}
}

// Split cuts text into chunks of at most chunkSize characters. Whitespace-only
// chunks are dropped; the result is nil for blank input.
func (s *Splitter) Split(text string) []string {
	var chunks []string
	for _, c := range s.split(text, separators) {
		c = strings.TrimSpace(c)
		if c != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func (s *Splitter) split(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= s.chunkSize {
		return []string{text}
	}

	// find the coarsest separator actually present
	sep := ""
	rest := seps
	for i, c := range seps {
		if c == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, c) {
			sep = c
			rest = seps[i+1:]
			break
		}
	}

	if sep == "" {
		return s.hardCut(text)
	}

	var splits []string
	for _, piece := range strings.Split(text, sep) {
		if utf8.RuneCountInString(piece) > s.chunkSize {
			splits = append(splits, s.split(piece, rest)...)
		} else {
			splits = append(splits, piece)
		}
	}
	return s.merge(splits, sep)
}

// merge greedily joins small splits into chunks up to chunkSize, carrying the
// tail splits of each emitted chunk into the next one until the carried length
// drops to overlap.
func (s *Splitter) merge(splits []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)

	var chunks []string
	var window []string
	total := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(window, sep))
	}

	for _, piece := range splits {
		pieceLen := utf8.RuneCountInString(piece)

		if len(window) > 0 && total+sepLen+pieceLen > s.chunkSize {
			flush()
			// shed carried splits until the next piece fits and the carry
			// is down to the overlap budget
			for len(window) > 0 && (total > s.overlap || total+sepLen+pieceLen > s.chunkSize) {
				head := utf8.RuneCountInString(window[0])
				total -= head
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}

		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, piece)
		total += pieceLen
	}
	flush()
	return chunks
}

// hardCut windows the text by raw character count, stepping chunkSize minus
// overlap. Only reached for text with no separator at all.
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
