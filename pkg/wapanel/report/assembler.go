// Package report builds daily activity reports. Today's report prefers
// the channel's live conversation state; past days come from the SQLite
// message index. Summaries use AI when requested and available, with a
// deterministic fallback.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jholhewres/wapanel/pkg/wapanel/channels"
	"github.com/jholhewres/wapanel/pkg/wapanel/database"
)

// liveFetchLimit caps how many recent messages are pulled per chat on
// the live path.
const liveFetchLimit = 100

// defaultSummaryPrompt introduces the transcript when no custom prompt
// is configured.
const defaultSummaryPrompt = "Summarize this conversation briefly, highlighting key topics and any important information the user shared:"

// Source tags for the report's data origin.
const (
	SourceRealTime         = "real-time"
	SourceDatabase         = "database"
	SourceDatabaseFallback = "database (fallback)"
)

// MessageIndex is the historical message store.
type MessageIndex interface {
	SaveMessage(ctx context.Context, msg *database.MessageRecord) error
	MessagesForDay(ctx context.Context, date string, loc *time.Location) ([]*database.MessageRecord, error)
}

// LiveSource exposes the channel's current conversation state. Calls
// fail when the channel is not connected.
type LiveSource interface {
	ListChats(ctx context.Context) ([]channels.ChatInfo, error)
	RecentMessages(ctx context.Context, chatID string, limit int) ([]channels.ChatMessage, error)
}

// Summarizer generates the AI summary.
type Summarizer interface {
	Available() bool
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Report is the assembled daily report. Summary is nil when no
// summarization was requested, serializing as JSON null.
type Report struct {
	Date     string                    `json:"date"`
	Source   string                    `json:"source"`
	Summary  *string                   `json:"summary"`
	Count    int                       `json:"count"`
	Messages []*database.MessageRecord `json:"messages"`
}

// Assembler builds daily reports.
type Assembler struct {
	index        MessageIndex
	live         LiveSource
	summarizer   Summarizer
	customPrompt string
	logger       *slog.Logger

	// now is replaceable for deterministic "today" tests.
	now func() time.Time
}

// NewAssembler creates an Assembler. live and summarizer may be nil,
// disabling the real-time path and AI summaries respectively.
func NewAssembler(index MessageIndex, live LiveSource, summarizer Summarizer, customPrompt string, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		index:        index,
		live:         live,
		summarizer:   summarizer,
		customPrompt: customPrompt,
		logger:       logger.With("component", "report"),
		now:          time.Now,
	}
}

// Assemble builds the report for a calendar day (YYYY-MM-DD, local
// time). Zero messages is a normal result, never an error.
func (a *Assembler) Assemble(ctx context.Context, date string, useAI bool) (*Report, error) {
	now := a.now()
	loc := now.Location()

	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	var (
		msgs   []*database.MessageRecord
		source string
	)

	if isSameDay(day, now) {
		msgs, source = a.fetchToday(ctx, date, day, loc)
	} else {
		msgs, err = a.index.MessagesForDay(ctx, date, loc)
		if err != nil {
			return nil, err
		}
		source = SourceDatabase
		if len(msgs) == 0 {
			// The index may be missing days the channel still remembers.
			a.syncFromLive(ctx)
			msgs, err = a.index.MessagesForDay(ctx, date, loc)
			if err != nil {
				return nil, err
			}
		}
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})

	rep := &Report{
		Date:     date,
		Source:   source,
		Count:    len(msgs),
		Messages: msgs,
	}
	if rep.Messages == nil {
		rep.Messages = []*database.MessageRecord{}
	}

	if rep.Count == 0 {
		empty := "No messages found for this day."
		rep.Summary = &empty
		return rep, nil
	}

	if useAI {
		summary := a.summarize(ctx, date, msgs)
		rep.Summary = &summary
	}
	return rep, nil
}

// fetchToday tries the live path first and falls back to the index.
func (a *Assembler) fetchToday(ctx context.Context, date string, startOfDay time.Time, loc *time.Location) ([]*database.MessageRecord, string) {
	if a.live != nil {
		msgs, err := a.fetchLive(ctx, startOfDay)
		if err == nil {
			return msgs, SourceRealTime
		}
		a.logger.Warn("live fetch failed, using index", "error", err)
	}

	msgs, err := a.index.MessagesForDay(ctx, date, loc)
	if err != nil {
		a.logger.Error("index fallback failed", "date", date, "error", err)
		return nil, SourceDatabaseFallback
	}
	return msgs, SourceDatabaseFallback
}

// fetchLive collects today's messages from every known chat.
func (a *Assembler) fetchLive(ctx context.Context, startOfDay time.Time) ([]*database.MessageRecord, error) {
	chats, err := a.live.ListChats(ctx)
	if err != nil {
		return nil, err
	}

	var out []*database.MessageRecord
	for _, chat := range chats {
		recent, err := a.live.RecentMessages(ctx, chat.ID, liveFetchLimit)
		if err != nil {
			return nil, err
		}
		for _, m := range recent {
			if m.Timestamp.Before(startOfDay) {
				continue
			}
			out = append(out, liveToRecord(m))
		}
	}
	return out, nil
}

// syncFromLive pushes the channel's remembered messages into the index.
// Best effort: failures are logged and skipped.
func (a *Assembler) syncFromLive(ctx context.Context) {
	if a.live == nil {
		return
	}
	chats, err := a.live.ListChats(ctx)
	if err != nil {
		a.logger.Warn("sync pass skipped", "error", err)
		return
	}

	synced := 0
	for _, chat := range chats {
		recent, err := a.live.RecentMessages(ctx, chat.ID, liveFetchLimit)
		if err != nil {
			a.logger.Warn("sync pass aborted", "chat", chat.ID, "error", err)
			return
		}
		for _, m := range recent {
			if err := a.index.SaveMessage(ctx, liveToRecord(m)); err != nil {
				a.logger.Warn("sync upsert failed", "message", m.ID, "error", err)
				continue
			}
			synced++
		}
	}
	if synced > 0 {
		a.logger.Info("synchronized live messages into index", "count", synced)
	}
}

// summarize produces the AI summary, or the deterministic fallback when
// AI is unavailable or fails.
func (a *Assembler) summarize(ctx context.Context, date string, msgs []*database.MessageRecord) string {
	if a.summarizer != nil && a.summarizer.Available() {
		prompt := a.buildPrompt(msgs)
		summary, err := a.summarizer.Summarize(ctx, prompt)
		if err == nil {
			return summary
		}
		a.logger.Warn("AI summary failed, using fallback", "date", date, "error", err)
	}
	return fallbackSummary(date, msgs)
}

// buildPrompt flattens the transcript under the configured or default
// instruction.
func (a *Assembler) buildPrompt(msgs []*database.MessageRecord) string {
	intro := a.customPrompt
	if intro == "" {
		intro = defaultSummaryPrompt
	}

	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", senderLabel(m), bodyLabel(m))
	}
	b.WriteString("\nSummary:")
	return b.String()
}

// fallbackSummary is the deterministic summary: total count plus the
// top five senders by message count, ties kept in encounter order.
func fallbackSummary(date string, msgs []*database.MessageRecord) string {
	counts := make(map[string]int)
	var order []string
	for _, m := range msgs {
		sender := senderLabel(m)
		if _, seen := counts[sender]; !seen {
			order = append(order, sender)
		}
		counts[sender]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 5 {
		order = order[:5]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily report for %s: %d messages.\n\nTop contributors:\n", date, len(msgs))
	for i, sender := range order {
		fmt.Fprintf(&b, "%d. %s (%d messages)\n", i+1, sender, counts[sender])
	}
	return strings.TrimRight(b.String(), "\n")
}

func senderLabel(m *database.MessageRecord) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	if m.Phone != "" {
		return m.Phone
	}
	return "Unknown"
}

func bodyLabel(m *database.MessageRecord) string {
	if m.Body != "" {
		return m.Body
	}
	if m.HasMedia {
		if m.MediaDescription != "" {
			return m.MediaDescription
		}
		return "[Media]"
	}
	return ""
}

func liveToRecord(m channels.ChatMessage) *database.MessageRecord {
	return &database.MessageRecord{
		ID:         m.ID,
		Timestamp:  m.Timestamp.Unix(),
		Phone:      m.Phone,
		SenderName: m.SenderName,
		GroupName:  m.GroupName,
		Body:       m.Body,
		HasMedia:   m.HasMedia,
		IsGroup:    m.IsGroup,
	}
}

func isSameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
