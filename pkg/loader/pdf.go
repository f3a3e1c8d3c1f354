package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// loadPDF emits one document per page that carries text. The pdf package
// panics on malformed objects, so a panic is reported as a parse error for
// this file only.
func loadPDF(path, rel string) (docs []Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, rdr, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n := rdr.NumPage()
	out := make([]Document, 0, n)
	for i := 1; i <= n; i++ {
		pg := rdr.Page(i)
		if pg.V.IsNull() {
			continue
		}
		txt, err := pg.GetPlainText(nil)
		if err != nil {
			// Image-only or problematic page.
			continue
		}
		s := strings.TrimSpace(txt)
		if s == "" {
			continue
		}
		doc := newDocument("Page "+strconv.Itoa(i)+"\n"+s, rel, "text", ContentPDFPage)
		doc.Metadata["page"] = i
		out = append(out, doc)
	}
	if len(out) == 0 {
		return nil, ErrUnsupported
	}
	return out, nil
}
