// Package session runs the interactive question loop.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/Protocol-Lattice/repochat/pkg/chat"
	"github.com/Protocol-Lattice/repochat/pkg/usage"
)

// Asker answers one question.
type Asker interface {
	Ask(ctx context.Context, question string) (chat.Answer, error)
}

// Driver reads questions line by line and prints answers until the input ends
// or the context is cancelled, then prints the session's usage totals.
type Driver struct {
	asker       Asker
	accountant  *usage.Accountant
	in          io.Reader
	out         io.Writer
	renderer    Renderer
	showSources bool
	logger      *log.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithInput reads questions from r instead of stdin.
func WithInput(r io.Reader) Option { return func(d *Driver) { d.in = r } }

// WithOutput writes prompts and answers to w instead of stdout.
func WithOutput(w io.Writer) Option { return func(d *Driver) { d.out = w } }

// WithRenderer post-processes answers before printing.
func WithRenderer(r Renderer) Option { return func(d *Driver) { d.renderer = r } }

// WithSources prints the files each answer drew on.
func WithSources(show bool) Option { return func(d *Driver) { d.showSources = show } }

// WithLogger overrides the driver's logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Driver) {
		if l == nil {
			l = log.New(io.Discard, "", 0)
		}
		d.logger = l
	}
}

// New builds a driver around asker. Totals are read from acct on exit.
func New(asker Asker, acct *usage.Accountant, opts ...Option) *Driver {
	d := &Driver{
		asker:      asker,
		accountant: acct,
		in:         os.Stdin,
		out:        os.Stdout,
		logger:     log.New(os.Stderr, "session: ", log.LstdFlags),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type line struct {
	text string
	err  error
}

// Run loops until ctx is cancelled or the input is exhausted. Failed turns
// are reported and the loop continues. Run returns nil on a normal exit.
func (d *Driver) Run(ctx context.Context) error {
	lines := make(chan line)
	go d.read(ctx, lines)

	defer d.printTotals()
	for {
		fmt.Fprint(d.out, "Input: ")
		var l line
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case l, ok = <-lines:
		}
		if !ok {
			return nil
		}
		if l.err != nil {
			return fmt.Errorf("read input: %w", l.err)
		}
		question := strings.TrimSpace(l.text)
		if question == "" {
			continue
		}

		ans, err := d.asker.Ask(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Printf("turn failed: %v", err)
			fmt.Fprintf(d.out, "Error: %v\n\n", err)
			continue
		}
		fmt.Fprintf(d.out, "Output: %s\n\n\n", d.render(ans.Text))
		if d.showSources && len(ans.Sources) > 0 {
			d.printSources(ans.Sources)
		}
	}
}

func (d *Driver) read(ctx context.Context, lines chan<- line) {
	defer close(lines)
	sc := bufio.NewScanner(d.in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		select {
		case lines <- line{text: sc.Text()}:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		select {
		case lines <- line{err: err}:
		case <-ctx.Done():
		}
	}
}

func (d *Driver) render(text string) string {
	if d.renderer == nil {
		return text
	}
	out, err := d.renderer.Render(text)
	if err != nil {
		d.logger.Printf("render answer: %v", err)
		return text
	}
	return "\n" + out
}

func (d *Driver) printSources(sources []chat.Source) {
	seen := make(map[string]bool, len(sources))
	fmt.Fprintln(d.out, "Sources:")
	for _, s := range sources {
		if seen[s.Path] {
			continue
		}
		seen[s.Path] = true
		fmt.Fprintf(d.out, "  - %s\n", s.Path)
	}
	fmt.Fprintln(d.out)
}

func (d *Driver) printTotals() {
	t := d.accountant.Totals()
	fmt.Fprintln(d.out, " \nExiting program")
	fmt.Fprintf(d.out, "Total tokens: %d\n", t.TotalTokens)
	fmt.Fprintf(d.out, "Prompt tokens: %d\n", t.PromptTokens)
	fmt.Fprintf(d.out, "Completion tokens: %d\n", t.CompletionTokens)
	fmt.Fprintf(d.out, "Total cost: $%.6f\n", t.TotalCost)
}
