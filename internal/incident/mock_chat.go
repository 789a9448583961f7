package incident

import (
	"context"
	"sync"

	"github.com/zulandar/signalbox/internal/lark"
)

// PostedText is a text message recorded by MockChat.
type PostedText struct {
	ChatID string
	Token  string
	Text   string
}

// PostedCard is a card recorded by MockChat.
type PostedCard struct {
	ChatID string
	Token  string
	Card   lark.Card
}

// MockChat implements Chat for testing. It records every post and returns a
// fixed meeting link.
type MockChat struct {
	mu           sync.Mutex
	texts        []PostedText
	cards        []PostedCard
	meetingCalls int

	// MeetingLink is returned by CreateMeeting.
	MeetingLink string
	// PostErr, when set, is returned by PostText and PostCard after recording.
	PostErr error
}

// NewMockChat creates a MockChat returning link from CreateMeeting.
func NewMockChat(link string) *MockChat {
	return &MockChat{MeetingLink: link}
}

// PostText records the message.
func (m *MockChat) PostText(ctx context.Context, chatID, token, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, PostedText{ChatID: chatID, Token: token, Text: text})
	return m.PostErr
}

// PostCard records the card.
func (m *MockChat) PostCard(ctx context.Context, chatID, token string, card lark.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards = append(m.cards, PostedCard{ChatID: chatID, Token: token, Card: card})
	return m.PostErr
}

// CreateMeeting counts the call and returns MeetingLink.
func (m *MockChat) CreateMeeting(ctx context.Context, token string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meetingCalls++
	return m.MeetingLink
}

// Texts returns a copy of all posted text messages.
func (m *MockChat) Texts() []PostedText {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PostedText, len(m.texts))
	copy(out, m.texts)
	return out
}

// Cards returns a copy of all posted cards.
func (m *MockChat) Cards() []PostedCard {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PostedCard, len(m.cards))
	copy(out, m.cards)
	return out
}

// MeetingCalls returns how many times CreateMeeting was called.
func (m *MockChat) MeetingCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meetingCalls
}

// MockBroadcaster records broadcast messages.
type MockBroadcaster struct {
	mu   sync.Mutex
	msgs []string
}

// Broadcast records text.
func (b *MockBroadcaster) Broadcast(ctx context.Context, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, text)
}

// Messages returns a copy of the broadcast messages.
func (b *MockBroadcaster) Messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.msgs))
	copy(out, b.msgs)
	return out
}
