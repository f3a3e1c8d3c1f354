package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/repochat/pkg/chunker"
	"github.com/Protocol-Lattice/repochat/pkg/index"
	"github.com/Protocol-Lattice/repochat/pkg/memory"
	"github.com/Protocol-Lattice/repochat/pkg/models"
	"github.com/Protocol-Lattice/repochat/pkg/usage"
)

var quiet = WithLogger(log.New(io.Discard, "", 0))

type stubRetriever struct {
	hits    []index.Hit
	err     error
	queries []string
}

func (s *stubRetriever) Retrieve(_ context.Context, q string) ([]index.Hit, error) {
	s.queries = append(s.queries, q)
	return s.hits, s.err
}

type scriptedModel struct {
	replies []string
	err     error
	calls   [][]models.Message
}

func (m *scriptedModel) Chat(_ context.Context, msgs []models.Message) (models.Completion, error) {
	m.calls = append(m.calls, msgs)
	if m.err != nil {
		return models.Completion{}, m.err
	}
	reply := "ok"
	if len(m.replies) > 0 {
		reply, m.replies = m.replies[0], m.replies[1:]
	}
	return models.Completion{Text: reply, Model: "gpt-4o-mini", Usage: models.Usage{PromptTokens: 100, CompletionTokens: 10}}, nil
}

type fakeMemory struct {
	summary   string
	turns     []memory.Turn
	appendErr error
}

func (f *fakeMemory) Summary() string { return f.summary }

func (f *fakeMemory) Append(_ context.Context, t memory.Turn) error {
	f.turns = append(f.turns, t)
	return f.appendErr
}

func hit(path, text string) index.Hit {
	return index.Hit{Record: index.Record{ID: path + "#0.0", Chunk: chunker.Chunk{ID: path + "#0.0", SourcePath: path, Text: text}}, Score: 0.9}
}

func TestAskBuildsPromptAndRecordsTurn(t *testing.T) {
	ret := &stubRetriever{hits: []index.Hit{hit("server/main.go", "func main() { listen() }")}}
	model := &scriptedModel{replies: []string{"  main calls listen.  "}}
	mem := &fakeMemory{}

	o, err := New(model, ret, mem, DefaultOptions(), quiet)
	require.NoError(t, err)

	ans, err := o.Ask(context.Background(), "  What does main do? ")
	require.NoError(t, err)
	assert.Equal(t, "main calls listen.", ans.Text)
	assert.Equal(t, "What does main do?", ans.Standalone)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "server/main.go", ans.Sources[0].Path)

	require.Len(t, model.calls, 1, "no condensation without a summary")
	msgs := model.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "File: server/main.go")
	assert.Contains(t, msgs[1].Content, "func main() { listen() }")
	assert.True(t, strings.HasSuffix(msgs[1].Content, "Question: What does main do?\n"))

	require.Len(t, mem.turns, 1)
	assert.Equal(t, memory.Turn{Question: "What does main do?", Answer: "main calls listen."}, mem.turns[0])
}

func TestAskCondensesFollowUps(t *testing.T) {
	ret := &stubRetriever{}
	model := &scriptedModel{replies: []string{"Where is the HTTP listener started?", "In main.go."}}
	mem := &fakeMemory{summary: "The developer asked about the HTTP server."}

	o, err := New(model, ret, mem, DefaultOptions(), quiet)
	require.NoError(t, err)

	ans, err := o.Ask(context.Background(), "where is it started?")
	require.NoError(t, err)
	assert.Equal(t, "Where is the HTTP listener started?", ans.Standalone)
	assert.Equal(t, []string{"Where is the HTTP listener started?"}, ret.queries)

	require.Len(t, model.calls, 2)
	assert.Contains(t, model.calls[0][0].Content, "The developer asked about the HTTP server.")
	assert.Contains(t, model.calls[1][0].Content, "The developer asked about the HTTP server.")
	// The answer prompt keeps the user's wording.
	assert.Contains(t, model.calls[1][1].Content, "Question: where is it started?")
}

func TestAskWithoutCondense(t *testing.T) {
	ret := &stubRetriever{}
	model := &scriptedModel{}
	o, err := New(model, ret, &fakeMemory{summary: "something"}, Options{}, quiet)
	require.NoError(t, err)

	_, err = o.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, model.calls, 1)
	assert.Equal(t, []string{"q"}, ret.queries)
}

func TestAskRetrievalFailure(t *testing.T) {
	o, err := New(&scriptedModel{}, &stubRetriever{err: errors.New("index offline")}, &fakeMemory{}, DefaultOptions(), quiet)
	require.NoError(t, err)

	_, err = o.Ask(context.Background(), "q")
	var ae *AnswerError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StageRetrieve, ae.Stage)
	assert.ErrorContains(t, err, "index offline")
}

func TestAskCompletionFailureLeavesMemoryUntouched(t *testing.T) {
	mem := &fakeMemory{}
	o, err := New(&scriptedModel{err: errors.New("429 rate limit")}, &stubRetriever{}, mem, DefaultOptions(), quiet)
	require.NoError(t, err)

	_, err = o.Ask(context.Background(), "q")
	var ae *AnswerError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StageComplete, ae.Stage)
	assert.Empty(t, mem.turns)
}

func TestAskEmptyCompletion(t *testing.T) {
	o, err := New(&scriptedModel{replies: []string{"   "}}, &stubRetriever{}, nil, DefaultOptions(), quiet)
	require.NoError(t, err)
	_, err = o.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, models.ErrEmptyResponse)
}

func TestAskSummaryFailureKeepsAnswer(t *testing.T) {
	mem := &fakeMemory{appendErr: errors.New("summarizer down")}
	o, err := New(&scriptedModel{replies: []string{"fine"}}, &stubRetriever{}, mem, DefaultOptions(), quiet)
	require.NoError(t, err)

	ans, err := o.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "fine", ans.Text)
}

func TestAskBlankQuestion(t *testing.T) {
	o, err := New(&scriptedModel{}, &stubRetriever{}, nil, DefaultOptions(), quiet)
	require.NoError(t, err)
	_, err = o.Ask(context.Background(), " \t")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAskChargesEveryCall(t *testing.T) {
	acct := usage.NewAccountant(usage.DefaultPricing)
	metered := usage.Meter(&scriptedModel{replies: []string{"first summary", "standalone follow up", "answer"}}, acct, "gpt-4o-mini")
	mem, err := memory.New(metered, memory.Options{}, memory.WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, err)
	// Seed a summary so the follow up is condensed.
	require.NoError(t, mem.Append(context.Background(), memory.Turn{Question: "hi", Answer: "hello"}))

	o, err := New(metered, &stubRetriever{}, mem, DefaultOptions(), quiet)
	require.NoError(t, err)
	_, err = o.Ask(context.Background(), "and then?")
	require.NoError(t, err)

	totals := acct.Totals()
	assert.Equal(t, 4, totals.SuccessfulRequests)
	assert.Equal(t, 440, totals.TotalTokens)
	assert.Equal(t, 400, totals.PromptTokens)
	assert.Equal(t, 40, totals.CompletionTokens)
	assert.Greater(t, totals.TotalCost, 0.0)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, &stubRetriever{}, nil, Options{})
	assert.Error(t, err)
	_, err = New(&scriptedModel{}, nil, nil, Options{})
	assert.Error(t, err)
}
