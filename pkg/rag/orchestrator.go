package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/session"
	"go.uber.org/zap"
)

// Messages returned in place of an answer.
const (
	MsgInvalidSession  = "Please process a PDF first (invalid session)."
	MsgInvalidQuestion = "Please enter a valid question."
	MsgNoDocument      = "Please process a PDF first."
)

const (
	qaTemplate = `Answer the question using ONLY the provided context.

Context:
{{.context}}

Question:
{{.question}}`

	summaryTemplate = `Summarize this document clearly:

{{.text}}`

	historySystemPrompt = "You are a document assistant. Use ONLY the provided document context to answer. " +
		"If the answer is not in the context, say you don't know and suggest what to ask instead."

	historyTemplate = `Question: {{.question}}

Document Context:
{{.context}}`
)

type OrchestratorConfig struct {
	MaxInputChars int // summaries see at most this many runes of the document
}

// Orchestrator answers questions about, and summarizes, ingested documents.
type Orchestrator struct {
	config   OrchestratorConfig
	sessions *session.Store
	gen      types.Generator
	logger   *zap.Logger

	qaPrompt      prompts.PromptTemplate
	summaryPrompt prompts.PromptTemplate
	historyPrompt prompts.PromptTemplate
}

func NewOrchestrator(config OrchestratorConfig, sessions *session.Store, gen types.Generator, logger *zap.Logger) *Orchestrator {
	if config.MaxInputChars == 0 {
		config.MaxInputChars = 24000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		config:        config,
		sessions:      sessions,
		gen:           gen,
		logger:        logger,
		qaPrompt:      prompts.NewPromptTemplate(qaTemplate, []string{"context", "question"}),
		summaryPrompt: prompts.NewPromptTemplate(summaryTemplate, []string{"text"}),
		historyPrompt: prompts.NewPromptTemplate(historyTemplate, []string{"question", "context"}),
	}
}

// Ask returns the complete answer to question.
func (o *Orchestrator) Ask(ctx context.Context, sessionID, question string) (string, error) {
	var sb strings.Builder
	err := o.AskStream(ctx, sessionID, question, func(fragment string) error {
		sb.WriteString(fragment)
		return nil
	})
	return sb.String(), err
}

// AskStream calls fn with every fragment of the answer in generation order.
// Invalid input and upstream failures arrive as a fragment too; the returned
// error is only ever fn's or the context's.
func (o *Orchestrator) AskStream(ctx context.Context, sessionID, question string, fn func(string) error) error {
	return o.AskWithHistory(ctx, sessionID, question, nil, fn)
}

// AskWithHistory is AskStream with prior turns of the conversation placed
// ahead of the question.
func (o *Orchestrator) AskWithHistory(ctx context.Context, sessionID, question string, history []models.Turn, fn func(string) error) error {
	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		return fn(MsgInvalidSession)
	}
	if strings.TrimSpace(question) == "" {
		return fn(MsgInvalidQuestion)
	}

	messages, err := o.questionMessages(ctx, sess, question, history)
	if err != nil {
		return o.upstreamFailure(ctx, "Error processing question", sessionID, err, fn)
	}

	return o.stream(ctx, "Error processing question", sessionID, messages, fn)
}

func (o *Orchestrator) questionMessages(ctx context.Context, sess models.Session, question string, history []models.Turn) ([]llms.MessageContent, error) {
	docs, err := sess.Retriever.GetRelevantDocuments(ctx, question)
	if err != nil {
		return nil, err
	}

	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = doc.PageContent
	}
	values := map[string]any{
		"context":  strings.Join(parts, "\n\n"),
		"question": question,
	}

	if len(history) == 0 {
		prompt, err := o.qaPrompt.Format(values)
		if err != nil {
			return nil, err
		}
		return []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, nil
	}

	prompt, err := o.historyPrompt.Format(values)
	if err != nil {
		return nil, err
	}

	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, historySystemPrompt))
	for _, turn := range history {
		messages = append(messages, llms.TextParts(turnRole(turn.Role), turn.Content))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
	return messages, nil
}

func turnRole(role string) llms.ChatMessageType {
	switch strings.ToLower(role) {
	case "assistant", "ai":
		return llms.ChatMessageTypeAI
	case "system":
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

// Summarize returns the complete summary of the session's document.
func (o *Orchestrator) Summarize(ctx context.Context, sessionID string) (string, error) {
	var sb strings.Builder
	err := o.SummarizeStream(ctx, sessionID, func(fragment string) error {
		sb.WriteString(fragment)
		return nil
	})
	return sb.String(), err
}

// SummarizeStream calls fn with every fragment of the summary.
func (o *Orchestrator) SummarizeStream(ctx context.Context, sessionID string, fn func(string) error) error {
	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		return fn(MsgInvalidSession)
	}
	if sess.FullText == "" {
		return fn(MsgNoDocument)
	}

	prompt, err := o.summaryPrompt.Format(map[string]any{"text": truncate(sess.FullText, o.config.MaxInputChars)})
	if err != nil {
		return o.upstreamFailure(ctx, "Error summarizing document", sessionID, err, fn)
	}

	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}
	return o.stream(ctx, "Error summarizing document", sessionID, messages, fn)
}

func (o *Orchestrator) stream(ctx context.Context, label, sessionID string, messages []llms.MessageContent, fn func(string) error) error {
	var fnErr error
	err := o.gen.Stream(ctx, messages, func(_ context.Context, fragment string) error {
		if fnErr = fn(fragment); fnErr != nil {
			return fnErr
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return o.upstreamFailure(ctx, label, sessionID, err, fn)
	}
	return nil
}

// upstreamFailure reports err to the caller as a fragment, unless the
// request itself is gone.
func (o *Orchestrator) upstreamFailure(ctx context.Context, label, sessionID string, err error, fn func(string) error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	o.logger.Error(label, zap.String("session_id", sessionID), zap.Error(err))
	return fn(fmt.Sprintf("%s: %v", label, err))
}

func truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
