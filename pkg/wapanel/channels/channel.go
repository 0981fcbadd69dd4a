// Package channels defines the interfaces and types for wapanel messaging
// channels. The WhatsApp channel implements the Channel interface so the
// panel can receive and send messages without depending on whatsmeow types.
package channels

import (
	"context"
	"fmt"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
)

// Channel defines the interface the messaging backend must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a text message and returns the sent message receipt.
	Send(ctx context.Context, to string, text string) (*SendReceipt, error)

	// SendMedia sends a media message with an optional caption.
	SendMedia(ctx context.Context, to string, media *MediaPayload, caption string) (*SendReceipt, error)

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// ChatLister exposes the live conversation state of a channel: the chats
// it has seen this session and their most recent messages. Used by the
// daily report for real-time data.
type ChatLister interface {
	// ListChats returns the known chats, most recently active first.
	ListChats() []ChatInfo

	// RecentMessages returns up to limit recent messages for a chat,
	// chronologically ascending.
	RecentMessages(chatID string, limit int) []ChatMessage
}

// SendReceipt is the result of a successful send.
type SendReceipt struct {
	ID        string
	Timestamp time.Time
}

// IncomingMessage represents a message received from the channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "whatsapp").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the group or DM identifier.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// GroupName is the group subject (only for group chats).
	GroupName string

	// FromMe indicates a message sent by the linked account itself.
	FromMe bool

	// Type is the message content type.
	Type MessageType

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Media contains media attachment details, nil for text-only messages.
	// A message is either text-only (Media == nil) or carries exactly one
	// media variant; there are no other shapes.
	Media *MediaInfo
}

// HasMedia reports whether the message carries a media attachment.
func (m *IncomingMessage) HasMedia() bool { return m.Media != nil }

// MediaPayload is a media file to be sent, already decoded.
type MediaPayload struct {
	// Type is the media type (image, audio, video, document).
	Type MessageType

	// Data is the raw media bytes.
	Data []byte

	// MimeType is the MIME type (e.g. "image/jpeg", "video/mp4").
	MimeType string

	// Filename is the original filename (for documents).
	Filename string
}

// MediaInfo describes media attached to an incoming message. The download
// fields are platform-specific references used to fetch the bytes lazily.
type MediaInfo struct {
	// Type is the media type.
	Type MessageType

	// MimeType is the MIME type of the media.
	MimeType string

	// Filename is the original filename (for documents).
	Filename string

	// FileSize is the size in bytes.
	FileSize uint64

	// Caption is the media caption text.
	Caption string

	// Duration is the duration in seconds (audio/video).
	Duration uint32

	// URL is the platform media URL.
	URL string

	// DirectPath is the platform-specific media path.
	DirectPath string

	// MediaKey is the encryption key for the media.
	MediaKey []byte

	// FileSHA256 is the SHA256 hash of the file.
	FileSHA256 []byte

	// FileEncSHA256 is the SHA256 hash of the encrypted file.
	FileEncSHA256 []byte
}

// ChatInfo summarizes a known chat for listing.
type ChatInfo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	IsGroup       bool      `json:"is_group"`
	UnreadCount   int       `json:"unread_count"`
	LastMessage   string    `json:"last_message"`
	LastTimestamp time.Time `json:"timestamp"`
}

// ChatMessage is a single message in a chat's recent history.
type ChatMessage struct {
	ID         string    `json:"id"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
	FromMe     bool      `json:"fromMe"`
	HasMedia   bool      `json:"hasMedia"`
	Type       string    `json:"type"`
	SenderName string    `json:"sender_name"`
	GroupName  string    `json:"group_name"`
	IsGroup    bool      `json:"is_group"`
	Phone      string    `json:"phone"`
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrMediaNotSupported   = fmt.Errorf("media not supported by this channel")
	ErrMediaDownloadFailed = fmt.Errorf("failed to download media")
)
