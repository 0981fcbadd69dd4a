// Package conversation maintains bounded, persisted per-chat dialogue
// history used as AI context. Sessions are keyed by a normalized chat
// identifier, capped at a fixed number of messages, and swept after a
// period of inactivity.
package conversation

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultMaxMessages is the per-session history cap. Oldest entries are
// evicted first when the cap is exceeded.
const DefaultMaxMessages = 50

// DefaultSessionTimeout is the inactivity period after which a session is
// eligible for removal by the sweep.
const DefaultSessionTimeout = 24 * time.Hour

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a session's history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds the dialogue history for one chat.
type Session struct {
	SessionID    string            `json:"sessionId"`
	ChatID       string            `json:"chatId"`
	Messages     []Message         `json:"messages"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
	Metadata     map[string]string `json:"metadata"`
}

// Persister is the storage backend for the full session map. Load and
// Save have read-all/write-all semantics; the store is small enough
// that partial updates are not worth the complexity.
type Persister interface {
	Load() (map[string]*Session, error)
	Save(sessions map[string]*Session) error
}

// Store manages conversation sessions. All mutations are persisted
// write-through; persistence failures are logged and swallowed, leaving
// the in-memory state authoritative for the process lifetime.
type Store struct {
	sessions    map[string]*Session
	maxMessages int
	persister   Persister
	logger      *slog.Logger

	// now is replaceable for deterministic sweep tests.
	now func() time.Time

	mu sync.Mutex
}

// NewStore creates a Store, loading any persisted sessions. Malformed or
// missing persisted data is treated as an empty store.
func NewStore(persister Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation")

	sessions := make(map[string]*Session)
	if persister != nil {
		loaded, err := persister.Load()
		if err != nil {
			logger.Warn("loading conversations failed, starting empty", "error", err)
		} else if loaded != nil {
			sessions = loaded
			logger.Info("conversation sessions loaded", "count", len(sessions))
		}
	}

	return &Store{
		sessions:    sessions,
		maxMessages: DefaultMaxMessages,
		persister:   persister,
		logger:      logger,
		now:         time.Now,
	}
}

// SessionID normalizes a chat identifier to a stable session key by
// stripping the domain suffix (e.g. "5511999999999@s.whatsapp.net" →
// "5511999999999").
func SessionID(chatID string) string {
	if idx := strings.IndexByte(chatID, '@'); idx >= 0 {
		return chatID[:idx]
	}
	return chatID
}

// Append records a message for a chat, creating the session if needed,
// trimming to the cap, and persisting.
func (s *Store) Append(chatID string, role Role, content string) {
	s.mu.Lock()
	session := s.getOrCreate(chatID)

	session.Messages = append(session.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})

	// Keep only the last N messages.
	if len(session.Messages) > s.maxMessages {
		session.Messages = session.Messages[len(session.Messages)-s.maxMessages:]
	}

	session.LastActivity = s.now()
	s.mu.Unlock()

	s.persist()
}

// History returns the last maxMessages entries for a chat in
// chronological order. Does not mutate the session.
func (s *Store) History(chatID string, maxMessages int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[SessionID(chatID)]
	if !ok {
		return nil
	}

	msgs := session.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}

	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// FormatForPrompt renders recent history as "Role: content" lines with a
// header, for prepending verbatim to AI prompts. Returns the empty string
// when the chat has no history.
func (s *Store) FormatForPrompt(chatID string, maxMessages int) string {
	history := s.History(chatID, maxMessages)
	if len(history) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, msg := range history {
		prefix := "Assistant"
		if msg.Role == RoleUser {
			prefix = "User"
		}
		fmt.Fprintf(&b, "%s: %s\n", prefix, msg.Content)
	}
	b.WriteString("\n")
	return b.String()
}

// Metadata returns a copy of the session's metadata bag.
func (s *Store) Metadata(chatID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[SessionID(chatID)]
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(session.Metadata))
	for k, v := range session.Metadata {
		out[k] = v
	}
	return out
}

// UpdateMetadata merges the given keys into the session's metadata bag
// (existing keys not named are kept) and persists.
func (s *Store) UpdateMetadata(chatID string, metadata map[string]string) {
	s.mu.Lock()
	session := s.getOrCreate(chatID)
	for k, v := range metadata {
		session.Metadata[k] = v
	}
	s.mu.Unlock()

	s.persist()
}

// Clear deletes a session entirely and persists.
func (s *Store) Clear(chatID string) {
	s.mu.Lock()
	delete(s.sessions, SessionID(chatID))
	s.mu.Unlock()

	s.persist()
}

// SweepExpired removes all sessions idle longer than the timeout.
// Persists only when something was removed. Returns the removal count.
func (s *Store) SweepExpired(timeout time.Duration) int {
	s.mu.Lock()
	cutoff := s.now().Add(-timeout)
	removed := 0
	for id, session := range s.sessions {
		if session.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("expired conversation sessions removed", "count", removed)
		s.persist()
	}
	return removed
}

// Stats summarizes the store for the dashboard.
type Stats struct {
	TotalSessions int        `json:"totalSessions"`
	TotalMessages int        `json:"totalMessages"`
	OldestSession *time.Time `json:"oldestSession,omitempty"`
	NewestSession *time.Time `json:"newestSession,omitempty"`
}

// GetStats returns aggregate counts over all sessions.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{TotalSessions: len(s.sessions)}
	for _, session := range s.sessions {
		stats.TotalMessages += len(session.Messages)
		created := session.CreatedAt
		if stats.OldestSession == nil || created.Before(*stats.OldestSession) {
			t := created
			stats.OldestSession = &t
		}
		if stats.NewestSession == nil || created.After(*stats.NewestSession) {
			t := created
			stats.NewestSession = &t
		}
	}
	return stats
}

// getOrCreate returns the session for a chat, creating it if absent.
// Caller must hold s.mu.
func (s *Store) getOrCreate(chatID string) *Session {
	id := SessionID(chatID)
	session, ok := s.sessions[id]
	if !ok {
		session = &Session{
			SessionID:    id,
			ChatID:       chatID,
			Messages:     []Message{},
			CreatedAt:    s.now(),
			LastActivity: s.now(),
			Metadata:     map[string]string{},
		}
		s.sessions[id] = session
	}
	if session.Metadata == nil {
		session.Metadata = map[string]string{}
	}
	return session
}

// persist writes the full store through the persister. Failures are
// logged and swallowed; in-memory state stays authoritative.
func (s *Store) persist() {
	if s.persister == nil {
		return
	}

	s.mu.Lock()
	snapshot := make(map[string]*Session, len(s.sessions))
	for id, session := range s.sessions {
		copied := *session
		copied.Messages = make([]Message, len(session.Messages))
		copy(copied.Messages, session.Messages)
		if session.Metadata != nil {
			copied.Metadata = make(map[string]string, len(session.Metadata))
			for k, v := range session.Metadata {
				copied.Metadata[k] = v
			}
		}
		snapshot[id] = &copied
	}
	s.mu.Unlock()

	if err := s.persister.Save(snapshot); err != nil {
		s.logger.Error("saving conversations failed", "error", err)
	}
}
