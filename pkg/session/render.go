package session

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Renderer turns an answer into terminal output.
type Renderer interface {
	Render(text string) (string, error)
}

type markdownRenderer struct {
	tr *glamour.TermRenderer
}

// NewMarkdownRenderer renders answers as styled Markdown. An empty style picks
// one from the terminal background.
func NewMarkdownRenderer(style string, wordWrap int) (Renderer, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(wordWrap)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	tr, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return markdownRenderer{tr: tr}, nil
}

func (m markdownRenderer) Render(text string) (string, error) {
	out, err := m.tr.Render(text)
	if err != nil {
		return "", err
	}
	// glamour pads the output with blank lines.
	return strings.TrimSpace(out), nil
}
