// Package chunker splits loaded documents into overlapping, language-aware
// chunks ready for embedding.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Protocol-Lattice/repochat/pkg/loader"
)

// Chunk is a contiguous span of one document.
type Chunk struct {
	ID         string
	Text       string
	SourcePath string
	// Index is the position of the chunk inside its document.
	Index int
	// Offset is the byte offset of the chunk inside its document.
	Offset   int
	Metadata map[string]any
}

// Options configures a Chunker.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// Language forces one separator table for every document. Empty selects
	// the table from each document's language.
	Language string
	// Redact masks credentials and e-mail addresses before chunks leave
	// the machine.
	Redact bool
}

// DefaultOptions mirrors a 2000 rune window with 200 runes of overlap.
func DefaultOptions() Options {
	return Options{ChunkSize: 2000, ChunkOverlap: 200}
}

// Chunker turns documents into chunks.
type Chunker struct {
	opts      Options
	splitters map[Language]*Splitter
}

// New validates opts and returns a Chunker.
func New(opts Options) (*Chunker, error) {
	if opts.ChunkSize == 0 && opts.ChunkOverlap == 0 {
		opts = DefaultOptions()
	}
	// Validate once up front so per-language construction cannot fail later.
	if _, err := NewSplitter(LangText, opts.ChunkSize, opts.ChunkOverlap); err != nil {
		return nil, err
	}
	return &Chunker{opts: opts, splitters: make(map[Language]*Splitter)}, nil
}

// Chunk splits every document, preserving document order and, within a
// document, offset order.
func (c *Chunker) Chunk(docs []loader.Document) []Chunk {
	var out []Chunk
	for di, doc := range docs {
		lang := c.opts.Language
		if lang == "" {
			lang = doc.Language
		}
		s := c.splitter(LanguageFor(lang))
		for idx, p := range s.SplitWithOffsets(doc.Text) {
			ch := makeChunk(di, idx, p, doc)
			if c.opts.Redact {
				if text, ok := Redact(ch.Text); ok {
					ch.Text = text
					ch.Metadata["redacted"] = true
				}
			}
			out = append(out, ch)
		}
	}
	return out
}

func (c *Chunker) splitter(lang Language) *Splitter {
	if s, ok := c.splitters[lang]; ok {
		return s
	}
	s, _ := NewSplitter(lang, c.opts.ChunkSize, c.opts.ChunkOverlap)
	c.splitters[lang] = s
	return s
}

func makeChunk(docIdx, idx int, p Piece, doc loader.Document) Chunk {
	meta := make(map[string]any, len(doc.Metadata)+6)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["source_path"] = doc.SourcePath
	meta["language"] = doc.Language
	meta["content_type"] = doc.ContentType
	meta["chunk_index"] = idx
	meta["start_index"] = p.Offset
	meta["checksum"] = checksum(p.Text)
	return Chunk{
		ID:         chunkID(doc.SourcePath, docIdx, idx),
		Text:       p.Text,
		SourcePath: doc.SourcePath,
		Index:      idx,
		Offset:     p.Offset,
		Metadata:   meta,
	}
}

// chunkID is unique within one chunking run because docIdx is.
func chunkID(name string, docIdx, idx int) string {
	sanitized := strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	if sanitized == "" {
		sanitized = "chunk"
	}
	return fmt.Sprintf("%s#%d.%d", sanitized, docIdx, idx)
}

// checksum calculates a deterministic checksum for provenance tracking.
func checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
