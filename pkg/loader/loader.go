// Package loader walks a source tree and turns matching files into documents,
// splitting large code files along their top-level declarations.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

// Options configures a Loader.
type Options struct {
	// Suffixes selects files by extension, e.g. ".py". Empty means ".py".
	Suffixes []string
	// Language is the parser hint: a language name applied to every file, or
	// "auto" to pick by extension.
	Language string
	// ParserThreshold is the minimum line count for declaration-level
	// segmentation. Smaller files become a single document.
	ParserThreshold int
	// Exclude holds doublestar patterns relative to the root.
	Exclude []string
	// RespectGitignore skips paths matched by the root .gitignore.
	RespectGitignore bool
	// MaxFileBytes skips larger files. Zero disables the limit.
	MaxFileBytes int64
}

// DefaultOptions loads Python sources and segments files of 500 lines or more.
func DefaultOptions() Options {
	return Options{
		Suffixes:         []string{".py"},
		Language:         "python",
		ParserThreshold:  500,
		RespectGitignore: true,
	}
}

// Loader turns files under a root into Documents.
type Loader struct {
	opts   Options
	logger *log.Logger
}

// Option customises a Loader.
type Option func(*Loader)

// WithLogger overrides the logger used for skipped files.
func WithLogger(l *log.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// New returns a Loader with opts applied over the defaults for zero fields.
func New(opts Options, options ...Option) (*Loader, error) {
	def := DefaultOptions()
	if len(opts.Suffixes) == 0 {
		opts.Suffixes = def.Suffixes
	}
	if opts.Language == "" {
		opts.Language = def.Language
	}
	if opts.ParserThreshold <= 0 {
		opts.ParserThreshold = def.ParserThreshold
	}
	opts.Suffixes = append([]string(nil), opts.Suffixes...)
	for i, s := range opts.Suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		opts.Suffixes[i] = s
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("loader: invalid exclude pattern %q", p)
		}
	}
	ld := &Loader{opts: opts, logger: log.New(os.Stderr, "loader: ", log.LstdFlags)}
	for _, o := range options {
		o(ld)
	}
	return ld, nil
}

// Load walks root in lexical order. Files that fail to read or parse are
// logged, recorded in the report and skipped. The returned error is only
// non-nil when root itself cannot be walked or ctx is done.
func (l *Loader) Load(ctx context.Context, root string) ([]Document, Report, error) {
	var (
		docs   []Document
		report Report
	)
	info, err := os.Stat(root)
	if err != nil {
		return nil, report, fmt.Errorf("loader: %w", err)
	}
	if !info.IsDir() {
		return nil, report, fmt.Errorf("loader: %s is not a directory", root)
	}

	var matcher *ignoreMatcher
	if l.opts.RespectGitignore {
		matcher = newIgnoreMatcher(filepath.Join(root, ".gitignore"))
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		if walkErr != nil {
			if rel == "." {
				return walkErr
			}
			l.fail(&report, rel, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || matcher.Match(rel, true) || l.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !l.wanted(rel) {
			return nil
		}
		if matcher.Match(rel, false) || l.excluded(rel) {
			report.Skipped++
			return nil
		}
		out, err := l.loadFile(path, rel)
		if err != nil {
			l.fail(&report, rel, err)
			return nil
		}
		report.Files++
		docs = append(docs, out...)
		return nil
	})
	if err != nil {
		return docs, report, fmt.Errorf("loader: walk %s: %w", root, err)
	}
	return docs, report, nil
}

func (l *Loader) fail(report *Report, rel string, err error) {
	le := &LoadError{Path: rel, Err: err}
	report.Failures = append(report.Failures, le)
	l.logger.Printf("skipping %v", le)
}

func (l *Loader) wanted(rel string) bool {
	name := strings.ToLower(rel)
	for _, s := range l.opts.Suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func (l *Loader) excluded(rel string) bool {
	for _, p := range l.opts.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (l *Loader) loadFile(path, rel string) ([]Document, error) {
	if l.opts.MaxFileBytes > 0 {
		if fi, err := os.Stat(path); err == nil && fi.Size() > l.opts.MaxFileBytes {
			return nil, fmt.Errorf("file is %d bytes, limit %d", fi.Size(), l.opts.MaxFileBytes)
		}
	}
	if strings.EqualFold(filepath.Ext(rel), ".pdf") {
		return loadPDF(path, rel)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("not valid UTF-8 text")
	}
	code := string(data)
	lang := l.languageOf(rel)

	whole := []Document{newDocument(code, rel, lang, ContentWholeFile)}
	if countLines(code) < l.opts.ParserThreshold {
		return whole, nil
	}
	seg := segmenterFor(lang)
	if seg == nil {
		return whole, nil
	}
	units, simplified, err := seg.Segment(code)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", lang, err)
	}
	if len(units) == 0 {
		return whole, nil
	}
	docs := make([]Document, 0, len(units)+1)
	for _, u := range units {
		docs = append(docs, newDocument(u, rel, lang, ContentFunctionsClasses))
	}
	docs = append(docs, newDocument(simplified, rel, lang, ContentSimplifiedCode))
	return docs, nil
}

func (l *Loader) languageOf(rel string) string {
	if !strings.EqualFold(l.opts.Language, "auto") {
		return strings.ToLower(l.opts.Language)
	}
	return LanguageForExt(filepath.Ext(rel))
}

// LanguageForExt guesses a language name from a file extension.
func LanguageForExt(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "py", "pyw":
		return "python"
	case "go":
		return "go"
	case "js", "jsx", "mjs", "cjs":
		return "js"
	case "ts", "tsx":
		return "ts"
	case "java":
		return "java"
	case "rs":
		return "rust"
	case "md", "markdown":
		return "markdown"
	default:
		return "text"
	}
}

func newDocument(text, rel, lang, contentType string) Document {
	return Document{
		Text:        text,
		SourcePath:  rel,
		Language:    lang,
		ContentType: contentType,
		Metadata: map[string]any{
			"source":       rel,
			"language":     lang,
			"content_type": contentType,
		},
	}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
