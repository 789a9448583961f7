package qa

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/zulandar/signalbox/internal/llm"
)

type fakeDocs struct {
	content string
	err     error
	calls   int
}

func (f *fakeDocs) FetchDocument(ctx context.Context, token, docToken string) (string, error) {
	f.calls++
	return f.content, f.err
}

type fakeLLM struct {
	out    string
	err    error
	system string
	user   string
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	f.system, f.user = system, user
	return f.out, f.err
}

type fakeChat struct {
	texts []string
}

func (f *fakeChat) PostText(ctx context.Context, chatID, token, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func newAnswerer(t *testing.T, docs *fakeDocs, model llm.Completer, chat *fakeChat, docToken string) *Answerer {
	t.Helper()
	a, err := New(Opts{Docs: docs, LLM: model, Chat: chat, DocToken: docToken, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{Chat: &fakeChat{}}); err == nil {
		t.Error("expected error without fetcher")
	}
	if _, err := New(Opts{Docs: &fakeDocs{}}); err == nil {
		t.Error("expected error without poster")
	}
}

func TestAnswer_UsesDocumentAsContext(t *testing.T) {
	docs := &fakeDocs{content: "Runbook: restart the gateway."}
	model := &fakeLLM{out: "Restart the gateway."}
	chat := &fakeChat{}
	a := newAnswerer(t, docs, model, chat, "doc1")

	a.Answer(context.Background(), "oc_1", "tok", "how do I fix login?")

	if len(chat.texts) != 1 || chat.texts[0] != "Restart the gateway." {
		t.Fatalf("texts = %v", chat.texts)
	}
	if !strings.Contains(model.system, "Runbook: restart the gateway.") {
		t.Errorf("system prompt missing document: %q", model.system)
	}
	if model.user != "how do I fix login?" {
		t.Errorf("user = %q", model.user)
	}
}

func TestAnswer_Replies(t *testing.T) {
	tests := []struct {
		name     string
		docs     *fakeDocs
		model    llm.Completer
		docToken string
		want     string
	}{
		{"no doc token", &fakeDocs{content: "x"}, &fakeLLM{out: "y"}, "", ReplyNoDocument},
		{"fetch error", &fakeDocs{err: errors.New("403")}, &fakeLLM{out: "y"}, "doc", ReplyNoDocument},
		{"empty doc", &fakeDocs{}, &fakeLLM{out: "y"}, "doc", ReplyNoDocument},
		{"no llm", &fakeDocs{content: "x"}, nil, "doc", ReplyNoAnswer},
		{"no choices", &fakeDocs{content: "x"}, &fakeLLM{err: llm.ErrNoChoices}, "doc", ReplyNoAnswer},
		{"llm failure", &fakeDocs{content: "x"}, &fakeLLM{err: errors.New("timeout")}, "doc", ReplyFailed},
		{"blank answer", &fakeDocs{content: "x"}, &fakeLLM{out: "  "}, "doc", ReplyNoAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{}
			a := newAnswerer(t, tt.docs, tt.model, chat, tt.docToken)
			a.Answer(context.Background(), "oc_1", "tok", "question?")
			if len(chat.texts) != 1 || chat.texts[0] != tt.want {
				t.Errorf("texts = %v, want [%q]", chat.texts, tt.want)
			}
		})
	}
}
