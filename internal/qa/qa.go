// Package qa answers free-form chat questions from a single reference
// document using the LLM.
package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zulandar/signalbox/internal/llm"
)

// Replies posted when an answer cannot be produced.
const (
	ReplyNoDocument = "I cannot read the document, please check if the bot has 'Viewer' access to the Doc."
	ReplyNoAnswer   = "AI Error."
	ReplyFailed     = "AI Processing Error."
)

const systemPromptFormat = "You are OSE-AI. Strictly use this document context to answer: %s. Be concise."

// DocumentFetcher returns the plain-text content of a document.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, token, docToken string) (string, error)
}

// Poster posts a text message to a chat.
type Poster interface {
	PostText(ctx context.Context, chatID, token, text string) error
}

// Answerer replies to questions using the configured document as context.
type Answerer struct {
	docs     DocumentFetcher
	llm      llm.Completer
	chat     Poster
	docToken string
	logger   zerolog.Logger
}

// Opts holds parameters for creating an Answerer. LLM may be nil.
type Opts struct {
	Docs     DocumentFetcher
	LLM      llm.Completer
	Chat     Poster
	DocToken string
	Logger   zerolog.Logger
}

// New creates an Answerer.
func New(opts Opts) (*Answerer, error) {
	if opts.Docs == nil {
		return nil, fmt.Errorf("qa: document fetcher is required")
	}
	if opts.Chat == nil {
		return nil, fmt.Errorf("qa: chat poster is required")
	}
	return &Answerer{
		docs:     opts.Docs,
		llm:      opts.LLM,
		chat:     opts.Chat,
		docToken: opts.DocToken,
		logger:   opts.Logger.With().Str("component", "qa").Logger(),
	}, nil
}

// Answer posts exactly one reply to chatID.
func (a *Answerer) Answer(ctx context.Context, chatID, token, question string) {
	reply := a.reply(ctx, token, question)
	if err := a.chat.PostText(ctx, chatID, token, reply); err != nil {
		a.logger.Error().Err(err).Str("chat_id", chatID).Msg("post answer")
	}
}

func (a *Answerer) reply(ctx context.Context, token, question string) string {
	doc := a.document(ctx, token)
	if doc == "" {
		return ReplyNoDocument
	}
	if a.llm == nil {
		return ReplyNoAnswer
	}
	out, err := a.llm.Complete(ctx, fmt.Sprintf(systemPromptFormat, doc), question)
	switch {
	case errors.Is(err, llm.ErrNoChoices):
		return ReplyNoAnswer
	case err != nil:
		a.logger.Error().Err(err).Msg("llm answer")
		return ReplyFailed
	case strings.TrimSpace(out) == "":
		return ReplyNoAnswer
	}
	return out
}

func (a *Answerer) document(ctx context.Context, token string) string {
	if a.docToken == "" {
		a.logger.Warn().Msg("no reference document configured")
		return ""
	}
	doc, err := a.docs.FetchDocument(ctx, token, a.docToken)
	if err != nil {
		a.logger.Warn().Err(err).Msg("fetch reference document")
		return ""
	}
	return doc
}
