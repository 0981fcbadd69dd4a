package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MessageRecord is one indexed message row.
type MessageRecord struct {
	ID               string `json:"id"`
	Timestamp        int64  `json:"timestamp"`
	Phone            string `json:"phone"`
	SenderName       string `json:"sender_name"`
	GroupName        string `json:"group_name,omitempty"`
	Body             string `json:"body"`
	HasMedia         bool   `json:"has_media"`
	MediaDescription string `json:"media_description,omitempty"`
	IsGroup          bool   `json:"is_group"`
}

// SaveMessage upserts a message into the index. Replays of the same
// message ID overwrite the previous row.
func (s *SQLite) SaveMessage(ctx context.Context, msg *MessageRecord) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages
		(id, timestamp, phone, sender_name, group_name, body, has_media, media_description, is_group)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.Timestamp,
		msg.Phone,
		msg.SenderName,
		nullable(msg.GroupName),
		msg.Body,
		msg.HasMedia,
		nullable(msg.MediaDescription),
		msg.IsGroup,
	)
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

// MessagesForDay returns all messages for a calendar day in the given
// location, ordered oldest first. date is YYYY-MM-DD.
func (s *SQLite) MessagesForDay(ctx context.Context, date string, loc *time.Location) ([]*MessageRecord, error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	start := day.Unix()
	end := day.AddDate(0, 0, 1).Add(-time.Second).Unix()

	return s.MessagesBetween(ctx, start, end)
}

// MessagesBetween returns messages with start <= timestamp <= end,
// ordered oldest first.
func (s *SQLite) MessagesBetween(ctx context.Context, start, end int64) ([]*MessageRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, timestamp, phone, sender_name, group_name, body, has_media, media_description, is_group
		FROM messages
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*MessageRecord
	for rows.Next() {
		var rec MessageRecord
		var groupName, mediaDesc sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&rec.Phone,
			&rec.SenderName,
			&groupName,
			&rec.Body,
			&rec.HasMedia,
			&mediaDesc,
			&rec.IsGroup,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		rec.GroupName = groupName.String
		rec.MediaDescription = mediaDesc.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// MessageCount returns the total number of indexed messages.
func (s *SQLite) MessageCount(ctx context.Context) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
