package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidOverlap is returned when the overlap is not smaller than the chunk size.
	ErrInvalidOverlap = errors.New("chunker: overlap must be smaller than chunk size")
	// ErrInvalidSize is returned for a non-positive chunk size.
	ErrInvalidSize = errors.New("chunker: chunk size must be positive")
)

// Splitter recursively splits text on an ordered list of separators until
// every piece fits in ChunkSize runes, then merges neighbouring pieces back
// together keeping up to ChunkOverlap runes of shared context.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewSplitter builds a splitter with the separator table for lang.
func NewSplitter(lang Language, size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w (size=%d overlap=%d)", ErrInvalidOverlap, size, overlap)
	}
	return &Splitter{ChunkSize: size, ChunkOverlap: overlap, Separators: Separators(lang)}, nil
}

// Piece is a split result with its byte offset in the source text.
type Piece struct {
	Text   string
	Offset int
}

// Split returns the chunk texts of text in order.
func (s *Splitter) Split(text string) []string {
	seps := s.Separators
	if len(seps) == 0 || seps[len(seps)-1] != "" {
		seps = append(append([]string(nil), seps...), "")
	}
	return s.split(text, seps)
}

// SplitWithOffsets is Split plus the byte offset of every chunk. Offsets are
// non-decreasing.
func (s *Splitter) SplitWithOffsets(text string) []Piece {
	chunks := s.Split(text)
	out := make([]Piece, 0, len(chunks))
	prevIndex, prevLen := 0, 0
	var prev string
	for _, c := range chunks {
		start := prevIndex + prevLen - overlapBytes(prev, s.ChunkOverlap)
		if start < prevIndex {
			start = prevIndex
		}
		idx := -1
		if start <= len(text) {
			if i := strings.Index(text[start:], c); i >= 0 {
				idx = start + i
			}
		}
		if idx < 0 {
			if i := strings.Index(text[prevIndex:], c); i >= 0 {
				idx = prevIndex + i
			} else {
				idx = prevIndex
			}
		}
		out = append(out, Piece{Text: c, Offset: idx})
		prevIndex, prevLen, prev = idx, len(c), c
	}
	return out
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			if t := strings.TrimSpace(piece); t != "" {
				final = append(final, t)
			}
			continue
		}
		final = append(final, s.split(piece, rest)...)
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge greedily packs pieces into chunks. When a chunk is emitted, pieces
// are dropped from its front until what remains fits the overlap budget and
// leaves room for the next piece.
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.ChunkSize && len(current) > 0 {
			if doc := join(current); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.ChunkOverlap || (total+n > s.ChunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := join(current); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepingSeparator splits text on sep, attaching each separator to the
// start of the piece that follows it. Empty pieces are dropped.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for text != "" {
			_, size := utf8.DecodeRuneInString(text)
			out = append(out, text[:size])
			text = text[size:]
		}
		return out
	}
	var out []string
	first := strings.Index(text, sep)
	if first < 0 {
		return []string{text}
	}
	if first > 0 {
		out = append(out, text[:first])
	}
	rest := text[first:]
	for rest != "" {
		next := strings.Index(rest[len(sep):], sep)
		if next < 0 {
			out = append(out, rest)
			break
		}
		cut := len(sep) + next
		out = append(out, rest[:cut])
		rest = rest[cut:]
	}
	return out
}

func join(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// overlapBytes is the byte length of the last n runes of s.
func overlapBytes(s string, n int) int {
	if n <= 0 {
		return 0
	}
	i := len(s)
	for n > 0 && i > 0 {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
		n--
	}
	return len(s) - i
}
