package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/wapanel/pkg/wapanel/ai"
	"github.com/jholhewres/wapanel/pkg/wapanel/conversation"
)

// audioPlaceholder stands in for the message text when the user sent
// audio without a caption.
const audioPlaceholder = "[Audio Message]"

// AIClient is the generation backend used for the AI fallback.
type AIClient interface {
	Available() bool
	GenerateReply(ctx context.Context, systemInstruction, prompt string, media *ai.MediaAttachment) (string, error)
}

// Responder turns an incoming message into an optional reply. The
// decision pipeline is: chat commands, then static patterns in
// configured order, then the AI fallback when enabled.
type Responder struct {
	config        *ConfigStore
	conversations *conversation.Store
	ai            AIClient
	logger        *slog.Logger
}

// NewResponder creates a Responder. The AI client may be nil when AI
// features are disabled entirely.
func NewResponder(config *ConfigStore, conversations *conversation.Store, aiClient AIClient, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		config:        config,
		conversations: conversations,
		ai:            aiClient,
		logger:        logger.With("component", "bot"),
	}
}

// Respond produces a reply for a user message, or reports that the bot
// stays silent. Media, when present, is an audio attachment already
// downloaded by the caller. AI failures are logged and produce silence
// rather than an error reply.
func (r *Responder) Respond(ctx context.Context, chatID, text string, media *ai.MediaAttachment) (string, bool) {
	cfg := r.config.Get()
	if !cfg.Enabled {
		return "", false
	}

	if reply, ok := r.handleCommand(chatID, text); ok {
		return reply, true
	}

	// The user's message goes into memory before generating, so the
	// history passed to the AI includes it.
	stored := text
	if media != nil {
		stored = audioPlaceholder
	}
	r.conversations.Append(chatID, conversation.RoleUser, stored)

	reply := r.generate(ctx, cfg, chatID, text, media)
	if reply == "" {
		return "", false
	}

	r.conversations.Append(chatID, conversation.RoleAssistant, reply)
	return reply, true
}

// handleCommand processes the /clear and /history chat commands.
func (r *Responder) handleCommand(chatID, text string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/clear":
		r.conversations.Clear(chatID)
		return "🗑️ Conversation history cleared! Let's start fresh.", true

	case "/history":
		history := r.conversations.History(chatID, 5)
		if len(history) == 0 {
			return "No conversation history yet.", true
		}
		lines := make([]string, 0, len(history))
		for _, m := range history {
			icon := "🤖"
			if m.Role == conversation.RoleUser {
				icon = "👤"
			}
			lines = append(lines, fmt.Sprintf("%s %s", icon, m.Content))
		}
		return "📜 Recent messages:\n\n" + strings.Join(lines, "\n\n"), true
	}
	return "", false
}

// generate runs pattern matching and, when nothing matches, the AI
// fallback.
func (r *Responder) generate(ctx context.Context, cfg Config, chatID, text string, media *ai.MediaAttachment) string {
	lower := strings.ToLower(strings.TrimSpace(text))

	// First matching pattern wins, in configured order.
	for _, p := range cfg.Patterns {
		if strings.Contains(lower, strings.ToLower(p.Trigger)) {
			return p.Response
		}
	}

	if !cfg.UseAI || r.ai == nil || !r.ai.Available() {
		return ""
	}

	history := r.conversations.FormatForPrompt(chatID, 10)
	display := text
	if display == "" {
		display = audioPlaceholder
	}

	var prompt string
	if history != "" {
		prompt = fmt.Sprintf("%sCurrent message from user: %s\n\nProvide a helpful and contextual response based on the conversation so far:", history, display)
	} else {
		prompt = fmt.Sprintf("User message: %s\n\nProvide a helpful and friendly response:", display)
	}

	reply, err := r.ai.GenerateReply(ctx, cfg.SystemInstruction, prompt, media)
	if err != nil {
		r.logger.Error("AI reply failed", "chat", chatID, "error", err)
		return ""
	}
	return reply
}
