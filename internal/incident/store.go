package incident

import (
	"errors"
	"sync"
	"time"

	"github.com/zulandar/signalbox/internal/metrics"
)

// ErrSessionExists is returned by Store.Insert when the chat already has an
// active P0 session.
var ErrSessionExists = errors.New("incident: session already active")

// Session is the snapshot of one active P0 incident. Values are never mutated
// in place; the store replaces them wholesale.
type Session struct {
	ID          string
	ChatID      string
	StartedAt   time.Time
	MeetingLink string
	Owner       string
}

// Store holds at most one Session per chat.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session // key: chat ID
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]Session)}
}

// Insert adds s atomically. It returns ErrSessionExists if the chat already
// has a session.
func (s *Store) Insert(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ChatID]; ok {
		return ErrSessionExists
	}
	s.sessions[sess.ChatID] = sess
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return nil
}

// Replace swaps the session for sess.ChatID only if one with the same ID is
// still present. It reports whether the swap happened.
func (s *Store) Replace(sess Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ChatID]
	if !ok || cur.ID != sess.ID {
		return false
	}
	s.sessions[sess.ChatID] = sess
	return true
}

// Get returns the session for a chat.
func (s *Store) Get(chatID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	return sess, ok
}

// Delete removes the chat's session and returns it. Missing chats are a no-op.
func (s *Store) Delete(chatID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	if ok {
		delete(s.sessions, chatID)
		metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	return sess, ok
}

// Expire removes every session started at or before now-ttl and returns them.
func (s *Store) Expire(now time.Time, ttl time.Duration) []Session {
	if ttl <= 0 {
		return nil
	}
	cutoff := now.Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Session
	for chatID, sess := range s.sessions {
		if !sess.StartedAt.After(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, chatID)
		}
	}
	if len(expired) > 0 {
		metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	return expired
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
