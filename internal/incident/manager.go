package incident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zulandar/signalbox/internal/audit"
	"github.com/zulandar/signalbox/internal/lark"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/notify"
	"github.com/zulandar/signalbox/internal/oncall"
)

// RejectionMessage is posted when a non-owner submits the overview form.
const RejectionMessage = "❌ Owner only. You cannot submit this overview."

// callTimeout bounds a background on-call calling round.
const callTimeout = 5 * time.Minute

// Chat is the slice of the chat platform the state machine talks to.
type Chat interface {
	PostText(ctx context.Context, chatID, token, text string) error
	PostCard(ctx context.Context, chatID, token string, card lark.Card) error
	CreateMeeting(ctx context.Context, token string) string
}

// Trigger launches a best-effort side effect without blocking.
type Trigger interface {
	Trigger() bool
}

// Caller places on-call phone calls for a declared incident.
type Caller interface {
	TriggerCalls(ctx context.Context, incidentChat, notifyChat, token string) oncall.Report
}

// Recorder appends lifecycle events to the audit trail.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event) error
}

// Manager owns the P0 session lifecycle: start, submit and end.
type Manager struct {
	store        *Store
	chat         Chat
	translator   Translator
	broadcaster  notify.Broadcaster
	automation   Trigger
	caller       Caller
	recorder     Recorder
	notifyChatID string
	owners       map[string]bool
	primaryOwner string
	topic        string
	loc          *time.Location
	ttl          time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	wg sync.WaitGroup
}

// ManagerOpts holds parameters for creating a Manager. Automation, Caller and
// Recorder are optional.
type ManagerOpts struct {
	Store        *Store
	Chat         Chat
	Translator   Translator
	Broadcaster  notify.Broadcaster
	Automation   Trigger
	Caller       Caller
	Recorder     Recorder
	NotifyChatID string
	Owners       []string
	MeetingTopic string
	Location     *time.Location
	SessionTTL   time.Duration // <= 0 keeps sessions until ended or submitted
	Logger       zerolog.Logger
	Now          func() time.Time
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Chat == nil {
		return nil, fmt.Errorf("incident: manager: chat is required")
	}
	if opts.Translator == nil {
		return nil, fmt.Errorf("incident: manager: translator is required")
	}
	if opts.Broadcaster == nil {
		return nil, fmt.Errorf("incident: manager: broadcaster is required")
	}
	if len(opts.Owners) == 0 {
		return nil, fmt.Errorf("incident: manager: at least one owner is required")
	}
	if opts.Store == nil {
		opts.Store = NewStore()
	}
	if opts.Location == nil {
		opts.Location = LoadLocation(DefaultTimezone)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	owners := make(map[string]bool, len(opts.Owners))
	for _, o := range opts.Owners {
		owners[o] = true
	}
	return &Manager{
		store:        opts.Store,
		chat:         opts.Chat,
		translator:   opts.Translator,
		broadcaster:  opts.Broadcaster,
		automation:   opts.Automation,
		caller:       opts.Caller,
		recorder:     opts.Recorder,
		notifyChatID: opts.NotifyChatID,
		owners:       owners,
		primaryOwner: opts.Owners[0],
		topic:        opts.MeetingTopic,
		loc:          opts.Location,
		ttl:          opts.SessionTTL,
		logger:       opts.Logger.With().Str("component", "incident").Logger(),
		now:          opts.Now,
	}, nil
}

// HasSession reports whether the chat has an active P0.
func (m *Manager) HasSession(chatID string) bool {
	_, ok := m.store.Get(chatID)
	return ok
}

// Start declares a P0 in chatID. A chat that already has a session returns
// ErrSessionExists and nothing else happens. Downstream failures are logged;
// once the session is inserted Start always completes.
func (m *Manager) Start(ctx context.Context, chatID, token string) error {
	sess := Session{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		StartedAt: m.now(),
		Owner:     m.primaryOwner,
	}
	if err := m.store.Insert(sess); err != nil {
		return err
	}
	metrics.Declared.Inc()
	log := m.logger.With().Str("chat_id", chatID).Str("incident_id", sess.ID).Logger()
	log.Info().Msg("P0 declared")

	sess.MeetingLink = m.chat.CreateMeeting(ctx, token)
	if !m.store.Replace(sess) {
		log.Warn().Msg("session ended before meeting link was resolved")
	}

	if err := m.chat.PostCard(ctx, chatID, token, lark.DeclarationCard(m.topic, sess.MeetingLink)); err != nil {
		log.Error().Err(err).Msg("post declaration card")
	}

	if m.automation != nil {
		m.automation.Trigger()
	}
	if m.caller != nil && m.notifyChatID != "" {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("on-call calling panicked")
				}
			}()
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callTimeout)
			defer cancel()
			rep := m.caller.TriggerCalls(callCtx, chatID, m.notifyChatID, token)
			log.Info().Int("placed", rep.Placed).Int("attempted", rep.Attempted).
				Strs("skipped", rep.Skipped).Str("aborted", rep.Aborted).Msg("on-call calling finished")
		}()
	}

	m.broadcaster.Broadcast(ctx, declarationMessage(m.topic, sess.StartedAt, m.loc, sess.MeetingLink))
	m.broadcaster.Broadcast(ctx, callingAdvisory)

	m.record(ctx, audit.Event{
		IncidentID:  sess.ID,
		ChatID:      chatID,
		Kind:        audit.KindDeclared,
		Actor:       sess.Owner,
		MeetingLink: sess.MeetingLink,
		CreatedAt:   sess.StartedAt,
	})
	return nil
}

// Submit handles the overview form submission. Non-owners get a rejection
// message and the session stays active. An owner submission always posts one
// result card and ends the session, even without a prior Start.
func (m *Manager) Submit(ctx context.Context, ev *lark.CardActionEvent, token string) {
	if ev == nil {
		return
	}
	chatID := ev.Context.OpenChatID
	if chatID == "" {
		return
	}
	operator := ev.OperatorID()
	log := m.logger.With().Str("chat_id", chatID).Str("operator", operator).Logger()

	sess, ok := m.store.Get(chatID)
	if !m.owners[operator] {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		log.Warn().Msg("overview submit rejected")
		if err := m.chat.PostText(ctx, chatID, token, RejectionMessage); err != nil {
			log.Error().Err(err).Msg("post rejection")
		}
		m.record(ctx, audit.Event{IncidentID: sess.ID, ChatID: chatID, Kind: audit.KindRejected, Actor: operator})
		return
	}

	start := m.now()
	if ok {
		start = sess.StartedAt
	}
	md := BuildSummary(ctx, m.translator, start, m.loc, Overview{
		Issue:   formField(ev.FormString(lark.FieldIssue)),
		Impact:  formField(ev.FormString(lark.FieldImpact)),
		Support: formField(ev.FormString(lark.FieldSupport)),
	})

	if err := m.chat.PostCard(ctx, chatID, token, lark.ResultCard(md)); err != nil {
		log.Error().Err(err).Msg("post result card")
	}
	m.broadcaster.Broadcast(ctx, md)

	m.store.Delete(chatID)
	metrics.Submissions.WithLabelValues("accepted").Inc()
	log.Info().Msg("P0 overview submitted, session ended")
	m.record(ctx, audit.Event{IncidentID: sess.ID, ChatID: chatID, Kind: audit.KindResolved, Actor: operator, Summary: md})
}

// End removes the chat's session. It is silent whether or not one existed.
func (m *Manager) End(ctx context.Context, chatID string) {
	sess, ok := m.store.Delete(chatID)
	if !ok {
		return
	}
	m.logger.Info().Str("chat_id", chatID).Str("incident_id", sess.ID).Msg("P0 ended")
	m.record(ctx, audit.Event{IncidentID: sess.ID, ChatID: chatID, Kind: audit.KindEnded})
}

// Reap drops sessions older than the configured TTL and returns how many
// were removed.
func (m *Manager) Reap(ctx context.Context) int {
	expired := m.store.Expire(m.now(), m.ttl)
	for _, sess := range expired {
		m.logger.Warn().Str("chat_id", sess.ChatID).Str("incident_id", sess.ID).
			Time("started_at", sess.StartedAt).Msg("P0 session expired")
		m.record(ctx, audit.Event{IncidentID: sess.ID, ChatID: sess.ChatID, Kind: audit.KindExpired})
	}
	return len(expired)
}

// Wait blocks until background on-call rounds have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) record(ctx context.Context, ev audit.Event) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error().Err(err).Str("kind", ev.Kind).Msg("audit record")
	}
}
