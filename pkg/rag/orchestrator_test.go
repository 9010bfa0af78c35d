package rag_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/pkg/rag"
	"github.com/xhad/docrag/pkg/session"
)

func TestAskUnknownSession(t *testing.T) {
	f := newFixture(t, "never")

	answer, err := f.orch.Ask(context.Background(), "missing", "What is the fee?")
	require.NoError(t, err)

	assert.Equal(t, rag.MsgInvalidSession, answer)
	assert.Equal(t, 0, f.model.Calls())
	assert.Equal(t, 0, f.embedder.Calls())
}

func TestAskEmptyQuestion(t *testing.T) {
	f := newFixture(t, "never")
	id := f.ingest(t, sampleDoc)
	embedCalls := f.embedder.Calls()

	for _, q := range []string{"", "   ", "\n\t"} {
		fragments := collect(t, func(fn func(string) error) error {
			return f.orch.AskStream(context.Background(), id, q, fn)
		})
		assert.Equal(t, []string{rag.MsgInvalidQuestion}, fragments)
	}

	assert.Equal(t, 0, f.model.Calls())
	assert.Equal(t, embedCalls, f.embedder.Calls())
}

func TestAskStreamsInOrder(t *testing.T) {
	f := newFixture(t, "Late ", "invoices ", "incur a ", "five percent fee.")
	id := f.ingest(t, sampleDoc)

	fragments := collect(t, func(fn func(string) error) error {
		return f.orch.AskStream(context.Background(), id, "What fee do late invoices incur?", fn)
	})
	assert.Equal(t, []string{"Late ", "invoices ", "incur a ", "five percent fee."}, fragments)

	prompt := f.model.LastPrompt()
	assert.True(t, strings.HasPrefix(prompt, "Answer the question using ONLY the provided context.\n\nContext:\n"))
	assert.Contains(t, prompt, "Late invoices incur a five percent fee.")
	assert.Contains(t, prompt, "\n\nQuestion:\nWhat fee do late invoices incur?")
}

func TestAskJoinsContextWithBlankLines(t *testing.T) {
	f := newFixture(t, "answer")
	id := f.ingest(t, "alpha one\n\nalpha two")

	_, err := f.orch.Ask(context.Background(), id, "alpha")
	require.NoError(t, err)

	prompt := f.model.LastPrompt()
	assert.True(t,
		strings.Contains(prompt, "alpha one\n\nalpha two") || strings.Contains(prompt, "alpha two\n\nalpha one"),
		prompt)
}

func TestAskBlocking(t *testing.T) {
	f := newFixture(t, "Thirty ", "days.")
	id := f.ingest(t, sampleDoc)

	answer, err := f.orch.Ask(context.Background(), id, "When are invoices due?")
	require.NoError(t, err)
	assert.Equal(t, "Thirty days.", answer)
}

func TestAskUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t, sampleDoc)
	f.model.Err = errUpstream

	fragments := collect(t, func(fn func(string) error) error {
		return f.orch.AskStream(context.Background(), id, "When are invoices due?", fn)
	})
	require.Len(t, fragments, 1)
	assert.True(t, strings.HasPrefix(fragments[0], "Error processing question: "))
	assert.Contains(t, fragments[0], "upstream unavailable")
}

func TestAskRetrievalFailure(t *testing.T) {
	f := newFixture(t, "never")
	id := f.ingest(t, sampleDoc)
	f.embedder.Err = errUpstream

	answer, err := f.orch.Ask(context.Background(), id, "When are invoices due?")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(answer, "Error processing question: "))
	assert.Equal(t, 0, f.model.Calls())
}

func TestAskStopsWhenCallbackFails(t *testing.T) {
	f := newFixture(t, "one", "two", "three")
	id := f.ingest(t, sampleDoc)
	errGone := errors.New("client went away")

	var got []string
	err := f.orch.AskStream(context.Background(), id, "count", func(s string) error {
		got = append(got, s)
		return errGone
	})
	assert.ErrorIs(t, err, errGone)
	assert.Equal(t, []string{"one"}, got)
}

func TestAskCancelled(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t, sampleDoc)
	f.model.Err = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got []string
	err := f.orch.AskStream(ctx, id, "When are invoices due?", func(s string) error {
		got = append(got, s)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, got)
}

func TestAskWithHistory(t *testing.T) {
	f := newFixture(t, "Two years.")
	id := f.ingest(t, sampleDoc)

	history := []models.Turn{
		{Role: "user", Content: "What does the warranty cover?"},
		{Role: "assistant", Content: "Parts."},
	}
	fragments := collect(t, func(fn func(string) error) error {
		return f.orch.AskWithHistory(context.Background(), id, "For how long?", history, fn)
	})
	assert.Equal(t, []string{"Two years."}, fragments)

	messages := f.model.LastMessages()
	require.Len(t, messages, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, messages[2].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, messages[3].Role)

	last := messages[3].Parts[0].(llms.TextContent).Text
	assert.True(t, strings.HasPrefix(last, "Question: For how long?\n\nDocument Context:\n"))
}

func TestSummarize(t *testing.T) {
	f := newFixture(t, "A contract ", "about invoices.")
	id := f.ingest(t, sampleDoc)

	fragments := collect(t, func(fn func(string) error) error {
		return f.orch.SummarizeStream(context.Background(), id, fn)
	})
	assert.Equal(t, []string{"A contract ", "about invoices."}, fragments)

	sess, _ := f.sessions.Get(id)
	assert.Equal(t, "Summarize this document clearly:\n\n"+sess.FullText+"\n", f.model.LastPrompt())
}

func TestSummarizeTruncatesLongDocuments(t *testing.T) {
	f := newFixture(t, "short")
	long := strings.Repeat("é", 300) + "TAIL"
	id := f.ingest(t, long)

	summary, err := f.orch.Summarize(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "short", summary)

	prompt := f.model.LastPrompt()
	assert.NotContains(t, prompt, "TAIL")
	assert.Contains(t, prompt, strings.Repeat("é", 200))
	assert.NotContains(t, prompt, strings.Repeat("é", 201))
}

func TestSummarizeInvalidInput(t *testing.T) {
	f := newFixture(t, "never")
	empty := f.sessions.Create(nil, "", session.Meta{})

	summary, err := f.orch.Summarize(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, rag.MsgInvalidSession, summary)

	summary, err = f.orch.Summarize(context.Background(), empty)
	require.NoError(t, err)
	assert.Equal(t, rag.MsgNoDocument, summary)

	assert.Equal(t, 0, f.model.Calls())
}

func TestSummarizeUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t, sampleDoc)
	f.model.Err = errUpstream

	summary, err := f.orch.Summarize(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "Error summarizing document: "))
	assert.Contains(t, summary, "upstream unavailable")
}
