package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/repochat/pkg/chat"
	"github.com/Protocol-Lattice/repochat/pkg/usage"
)

var quiet = WithLogger(log.New(io.Discard, "", 0))

type fakeAsker struct {
	mu        sync.Mutex
	questions []string
	fail      map[string]error
	acct      *usage.Accountant
}

func (f *fakeAsker) Ask(_ context.Context, q string) (chat.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, q)
	if err := f.fail[q]; err != nil {
		return chat.Answer{}, err
	}
	f.acct.Record("gpt-4o-mini", 1000, 100, 0)
	return chat.Answer{
		Text:    "answer to " + q,
		Sources: []chat.Source{{Path: "a.py"}, {Path: "a.py"}, {Path: "b.py"}},
	}, nil
}

func TestRunAnswersUntilEOF(t *testing.T) {
	acct := usage.NewAccountant(usage.DefaultPricing)
	asker := &fakeAsker{acct: acct}
	var out bytes.Buffer

	d := New(asker, acct, WithInput(strings.NewReader("first?\n\n   \nsecond?\n")), WithOutput(&out), quiet)
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []string{"first?", "second?"}, asker.questions)
	got := out.String()
	assert.Contains(t, got, "Input: Output: answer to first?\n\n\n")
	assert.Contains(t, got, "Output: answer to second?\n\n\n")
	assert.NotContains(t, got, "Sources:")
	assert.True(t, strings.HasSuffix(got,
		" \nExiting program\nTotal tokens: 2200\nPrompt tokens: 2000\nCompletion tokens: 200\nTotal cost: $0.000420\n"), got)
}

func TestRunReportsTurnErrorsAndContinues(t *testing.T) {
	acct := usage.NewAccountant(nil)
	asker := &fakeAsker{
		acct: acct,
		fail: map[string]error{"boom": &chat.AnswerError{Stage: chat.StageComplete, Err: errors.New("429 rate limit")}},
	}
	var out bytes.Buffer

	d := New(asker, acct, WithInput(strings.NewReader("boom\nafter\n")), WithOutput(&out), quiet)
	require.NoError(t, d.Run(context.Background()))

	got := out.String()
	assert.Contains(t, got, "Error: answer failed during complete: 429 rate limit")
	assert.Contains(t, got, "Output: answer to after")
	assert.Equal(t, []string{"boom", "after"}, asker.questions)
}

func TestRunStopsOnCancel(t *testing.T) {
	acct := usage.NewAccountant(nil)
	pr, pw := io.Pipe()
	defer pw.Close()
	var out safeBuffer

	ctx, cancel := context.WithCancel(context.Background())
	d := New(&fakeAsker{acct: acct}, acct, WithInput(pr), WithOutput(&out), quiet)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	_, err := pw.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Output: answer to hello") }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("driver did not stop after cancel")
	}
	assert.Contains(t, out.String(), "Exiting program\nTotal tokens: 1100\n")
}

func TestRunPrintsSources(t *testing.T) {
	acct := usage.NewAccountant(nil)
	var out bytes.Buffer
	d := New(&fakeAsker{acct: acct}, acct, WithInput(strings.NewReader("q\n")), WithOutput(&out), WithSources(true), quiet)
	require.NoError(t, d.Run(context.Background()))
	assert.Contains(t, out.String(), "Sources:\n  - a.py\n  - b.py\n\n")
}

type upperRenderer struct{ err error }

func (u upperRenderer) Render(s string) (string, error) { return strings.ToUpper(s), u.err }

func TestRunRendersAnswers(t *testing.T) {
	acct := usage.NewAccountant(nil)
	var out bytes.Buffer
	d := New(&fakeAsker{acct: acct}, acct, WithInput(strings.NewReader("q\n")), WithOutput(&out), WithRenderer(upperRenderer{}), quiet)
	require.NoError(t, d.Run(context.Background()))
	assert.Contains(t, out.String(), "Output: \nANSWER TO Q")

	out.Reset()
	d = New(&fakeAsker{acct: acct}, acct, WithInput(strings.NewReader("q\n")), WithOutput(&out),
		WithRenderer(upperRenderer{err: errors.New("bad style")}), quiet)
	require.NoError(t, d.Run(context.Background()))
	assert.Contains(t, out.String(), "Output: answer to q")
}

func TestMarkdownRenderer(t *testing.T) {
	r, err := NewMarkdownRenderer("notty", 80)
	require.NoError(t, err)
	got, err := r.Render("# Title\n\nSome `code`.")
	require.NoError(t, err)
	assert.Contains(t, got, "Title")
	assert.Contains(t, got, "code")
}

type safeBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
