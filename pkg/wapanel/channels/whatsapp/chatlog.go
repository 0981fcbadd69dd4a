// chatlog.go maintains the live chat registry: the chats seen during the
// current session and a bounded ring of their most recent messages. The
// daily report's real-time path reads from this registry instead of the
// historical database.
package whatsapp

import (
	"sort"
	"strings"
	"sync"

	"github.com/jholhewres/wapanel/pkg/wapanel/channels"
)

type chatRegistry struct {
	mu    sync.RWMutex
	chats map[string]*chatEntry
	depth int
}

type chatEntry struct {
	info     channels.ChatInfo
	messages []channels.ChatMessage
}

func newChatRegistry(depth int) *chatRegistry {
	return &chatRegistry{
		chats: make(map[string]*chatEntry),
		depth: depth,
	}
}

// Record adds a message to the registry, creating the chat entry on first
// sight. Messages from the linked account count toward history but not
// toward the unread counter.
func (r *chatRegistry) Record(msg *channels.IncomingMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.chats[msg.ChatID]
	if !ok {
		entry = &chatEntry{
			info: channels.ChatInfo{
				ID:      msg.ChatID,
				IsGroup: msg.IsGroup,
			},
		}
		r.chats[msg.ChatID] = entry
	}

	name := msg.GroupName
	if name == "" && !msg.IsGroup {
		name = msg.FromName
	}
	if name != "" {
		entry.info.Name = name
	}

	body := displayBody(msg)
	entry.info.LastMessage = body
	entry.info.LastTimestamp = msg.Timestamp
	if !msg.FromMe {
		entry.info.UnreadCount++
	}

	entry.messages = append(entry.messages, channels.ChatMessage{
		ID:         msg.ID,
		Body:       body,
		Timestamp:  msg.Timestamp,
		FromMe:     msg.FromMe,
		HasMedia:   msg.HasMedia(),
		Type:       string(msg.Type),
		SenderName: msg.FromName,
		GroupName:  msg.GroupName,
		IsGroup:    msg.IsGroup,
		Phone:      phoneFromJID(msg.From),
	})
	if len(entry.messages) > r.depth {
		entry.messages = entry.messages[len(entry.messages)-r.depth:]
	}
}

// List returns the known chats, most recently active first.
func (r *chatRegistry) List() []channels.ChatInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]channels.ChatInfo, 0, len(r.chats))
	for _, entry := range r.chats {
		out = append(out, entry.info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTimestamp.After(out[j].LastTimestamp)
	})
	return out
}

// Recent returns up to limit recent messages for a chat, chronologically
// ascending. Returns nil for unknown chats.
func (r *chatRegistry) Recent(chatID string, limit int) []channels.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.chats[chatID]
	if !ok {
		return nil
	}

	msgs := entry.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]channels.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// MarkRead resets the unread counter for a chat.
func (r *chatRegistry) MarkRead(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.chats[chatID]; ok {
		entry.info.UnreadCount = 0
	}
}

// phoneFromJID strips the server suffix from a JID, leaving the phone
// number or group identifier.
func phoneFromJID(jid string) string {
	if idx := strings.IndexByte(jid, '@'); idx >= 0 {
		return jid[:idx]
	}
	return jid
}
