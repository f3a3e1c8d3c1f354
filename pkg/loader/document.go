package loader

import (
	"errors"
	"fmt"
)

// Content types recorded on every Document.
const (
	ContentWholeFile        = "whole_file"
	ContentFunctionsClasses = "functions_classes"
	ContentSimplifiedCode   = "simplified_code"
	ContentPDFPage          = "pdf_page"
)

// Document is one parsed unit of source text: a whole file, a top-level
// declaration or a PDF page.
type Document struct {
	Text        string
	SourcePath  string
	Language    string
	ContentType string
	Metadata    map[string]any
}

// LoadError reports a file that could not be turned into documents. The
// loader logs it and moves on.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ErrUnsupported is returned when no parser can handle a file.
var ErrUnsupported = errors.New("loader: unsupported format")

// Report summarises a load.
type Report struct {
	Files    int
	Skipped  int
	Failures []*LoadError
}
