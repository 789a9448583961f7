// Package telegraph classifies inbound Lark events and routes them to the
// P0 state machine or the Q&A fallback.
package telegraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zulandar/signalbox/internal/incident"
	"github.com/zulandar/signalbox/internal/lark"
	"github.com/zulandar/signalbox/internal/metrics"
)

var (
	triggerRe  = regexp.MustCompile(`(?i)\b(p0|priority\s*0)\b`)
	endRe      = regexp.MustCompile(`(?i)\b(p0\s*end|end\s*p0|resolved|close\s*p0|p0\s*resolved)\b`)
	negationRe = regexp.MustCompile(`(?i)\bnot\b.*\bp0\b`)
)

// Message is a plain chat message.
type Message struct {
	ChatID   string
	SenderID string
	Text     string
}

// Incidents is the state machine the router drives.
type Incidents interface {
	HasSession(chatID string) bool
	Start(ctx context.Context, chatID, token string) error
	Submit(ctx context.Context, ev *lark.CardActionEvent, token string)
	End(ctx context.Context, chatID string)
}

// Answerer handles questions that are not incident commands.
type Answerer interface {
	Answer(ctx context.Context, chatID, token, question string)
}

// TokenSource yields the tenant bearer token, or "" when unavailable.
type TokenSource interface {
	Get(ctx context.Context) string
}

// Router classifies events and routes them. Routing for plain messages:
//  1. Blank text → ignore
//  2. Chat outside the monitored set → Q&A
//  3. End phrase → end the session
//  4. Negated P0 ("not ... p0") → ignore
//  5. P0 trigger → start a session unless one is active
//  6. Question mark → Q&A
//  7. Everything else → ignore
type Router struct {
	incidents Incidents
	answerer  Answerer
	tokens    TokenSource
	channels  map[string]bool
	logger    zerolog.Logger
}

// RouterOpts holds parameters for creating a Router. Answerer may be nil.
type RouterOpts struct {
	Incidents Incidents
	Answerer  Answerer
	Tokens    TokenSource
	Channels  []string
	Logger    zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Incidents == nil {
		return nil, fmt.Errorf("telegraph: router: incidents is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("telegraph: router: token source is required")
	}
	if len(opts.Channels) == 0 {
		return nil, fmt.Errorf("telegraph: router: at least one channel is required")
	}
	channels := make(map[string]bool, len(opts.Channels))
	for _, c := range opts.Channels {
		channels[c] = true
	}
	return &Router{
		incidents: opts.Incidents,
		answerer:  opts.Answerer,
		tokens:    opts.Tokens,
		channels:  channels,
		logger:    opts.Logger.With().Str("component", "router").Logger(),
	}, nil
}

// HandleEvent classifies a decoded webhook envelope. A tenant token is
// fetched first; without one the event is dropped.
func (r *Router) HandleEvent(ctx context.Context, env *lark.Envelope) {
	token := r.tokens.Get(ctx)
	if token == "" {
		r.logger.Error().Str("event_id", env.Header.EventID).Msg("no tenant token, dropping event")
		metrics.Events.WithLabelValues("dropped").Inc()
		return
	}

	if env.Header.EventType == lark.EventTypeCardAction {
		var ev lark.CardActionEvent
		if err := json.Unmarshal(env.Event, &ev); err != nil {
			r.logger.Warn().Err(err).Msg("decode card action")
			metrics.Events.WithLabelValues("ignored").Inc()
			return
		}
		if ev.ActionName() == lark.SubmitAction {
			metrics.Events.WithLabelValues("card_action").Inc()
			r.incidents.Submit(ctx, &ev, token)
			return
		}
	}

	var me lark.MessageEvent
	if len(env.Event) == 0 || json.Unmarshal(env.Event, &me) != nil || me.Message.Content == "" {
		metrics.Events.WithLabelValues("ignored").Inc()
		return
	}
	text, err := me.Text()
	if err != nil {
		r.logger.Warn().Err(err).Msg("decode message text")
		metrics.Events.WithLabelValues("ignored").Inc()
		return
	}
	metrics.Events.WithLabelValues("message").Inc()
	r.HandleMessage(ctx, Message{
		ChatID:   me.Message.ChatID,
		SenderID: me.Sender.SenderID.OpenID,
		Text:     text,
	}, token)
}

// HandleMessage applies the routing table to one plain message.
func (r *Router) HandleMessage(ctx context.Context, msg Message, token string) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	log := r.logger.With().Str("chat_id", msg.ChatID).Str("sender", msg.SenderID).Logger()
	log.Debug().Str("text", truncate(text, 80)).Msg("recv")

	if !r.channels[msg.ChatID] {
		r.answer(ctx, msg.ChatID, token, text)
		return
	}

	switch {
	case endRe.MatchString(text):
		log.Info().Msg("→ end")
		r.incidents.End(ctx, msg.ChatID)
	case negationRe.MatchString(text):
		log.Debug().Msg("→ negated trigger, ignore")
	case triggerRe.MatchString(text):
		if r.incidents.HasSession(msg.ChatID) {
			log.Debug().Msg("→ trigger with active session, ignore")
			return
		}
		log.Info().Msg("→ start")
		if err := r.incidents.Start(ctx, msg.ChatID, token); err != nil && !errors.Is(err, incident.ErrSessionExists) {
			log.Error().Err(err).Msg("start P0")
		}
	case strings.Contains(text, "?"):
		r.answer(ctx, msg.ChatID, token, text)
	default:
		log.Debug().Msg("→ ignore")
	}
}

func (r *Router) answer(ctx context.Context, chatID, token, text string) {
	if r.answerer == nil {
		return
	}
	r.answerer.Answer(ctx, chatID, token, text)
}

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
