// Package whatsapp implements the wapanel messaging channel using
// whatsmeow, a native Go WhatsApp Web API library.
//
// Features:
//   - QR code login with persistent session (SQLite)
//   - Send/receive text, images, audio, video, documents
//   - Group message support
//   - Media upload/download with encryption
//   - Live chat registry feeding the daily report's real-time path
//   - Connection state management and QR observers for the web UI
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/wapanel/pkg/wapanel/channels"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.
)

// Config holds WhatsApp channel configuration.
type Config struct {
	// SessionDir is the directory for session persistence (SQLite).
	// Ignored if DatabasePath is set.
	SessionDir string `yaml:"session_dir"`

	// DatabasePath is the path to the SQLite database file for session
	// storage. If empty, defaults to {SessionDir}/whatsapp-session.db.
	DatabasePath string `yaml:"database_path"`

	// ListenToGroups includes group chats in the inbound event stream.
	ListenToGroups bool `yaml:"listen_to_groups"`

	// ListenToDMs includes direct messages in the inbound event stream.
	ListenToDMs bool `yaml:"listen_to_dms"`

	// MaxMediaSizeMB is the maximum media file size to download.
	MaxMediaSizeMB int `yaml:"max_media_size_mb"`

	// ChatCacheDepth is how many recent messages are kept per chat in the
	// live registry.
	ChatCacheDepth int `yaml:"chat_cache_depth"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionDir:     "./sessions/whatsapp",
		ListenToGroups: true,
		ListenToDMs:    true,
		MaxMediaSizeMB: 16,
		ChatCacheDepth: 100,
	}
}

// QREvent represents a QR code event sent to observers.
type QREvent struct {
	// Type is "code", "success", "timeout", "error", or "refresh".
	Type string `json:"type"`
	// Code is the raw QR code string (only for Type == "code").
	Code string `json:"code,omitempty"`
	// Message is a human-readable description.
	Message string `json:"message,omitempty"`
	// SecondsLeft is seconds until expiration.
	SecondsLeft int `json:"seconds_left,omitempty"`
}

// SessionInfo describes the linked WhatsApp account.
type SessionInfo struct {
	PhoneNumber string `json:"phoneNumber"`
	Platform    string `json:"platform"`
	PushName    string `json:"pushname"`
}

// WhatsApp implements the channels.Channel and channels.ChatLister interfaces.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	// messages is the channel for incoming messages.
	messages chan *channels.IncomingMessage

	// connected tracks connection state.
	connected atomic.Bool

	// state tracks detailed connection state.
	state atomic.Value // ConnectionState

	// lastMsg tracks the last message timestamp for health.
	lastMsg atomic.Value // time.Time

	// errorCount tracks consecutive errors.
	errorCount atomic.Int64

	// chats is the live registry of chats seen this session.
	chats *chatRegistry

	// groupNames caches group subjects resolved via GetGroupInfo.
	groupNames   map[string]string
	groupNamesMu sync.Mutex

	// qrObservers receives QR events (for web UI).
	qrObservers   []chan QREvent
	qrObserversMu sync.Mutex
	// lastQR caches the most recent QR code so late-joining observers get it.
	lastQR *QREvent
	// qrGeneratedAt tracks when QR was generated for expiration.
	qrGeneratedAt time.Time

	// ctx and cancel for lifecycle management.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new WhatsApp channel instance.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChatCacheDepth <= 0 {
		cfg.ChatCacheDepth = 100
	}
	if cfg.MaxMediaSizeMB <= 0 {
		cfg.MaxMediaSizeMB = 16
	}

	w := &WhatsApp{
		cfg:        cfg,
		logger:     logger.With("component", "whatsapp"),
		messages:   make(chan *channels.IncomingMessage, 256),
		chats:      newChatRegistry(cfg.ChatCacheDepth),
		groupNames: make(map[string]string),
	}
	// ctx is replaced on Connect; a background context keeps
	// emitMessage safe before the channel is connected.
	w.ctx = context.Background()
	w.setState(StateDisconnected)
	return w
}

// ---------- State Management ----------

func (w *WhatsApp) getState() ConnectionState {
	if v := w.state.Load(); v != nil {
		return v.(ConnectionState)
	}
	return StateDisconnected
}

func (w *WhatsApp) setState(state ConnectionState) {
	w.state.Store(state)
}

// GetState returns the current connection state (public API).
func (w *WhatsApp) GetState() ConnectionState {
	return w.getState()
}

func (w *WhatsApp) getClientJID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.String()
	}
	return ""
}

// Info returns the linked account details, or nil when not authenticated.
func (w *WhatsApp) Info() *SessionInfo {
	if w.client == nil || w.client.Store.ID == nil {
		return nil
	}
	return &SessionInfo{
		PhoneNumber: w.client.Store.ID.User,
		Platform:    w.client.Store.Platform,
		PushName:    w.client.Store.PushName,
	}
}

// ---------- QR Code Subscription ----------

// SubscribeQR registers a channel to receive QR code events.
// Returns an unsubscribe function.
func (w *WhatsApp) SubscribeQR() (chan QREvent, func()) {
	ch := make(chan QREvent, 8)
	w.qrObserversMu.Lock()
	w.qrObservers = append(w.qrObservers, ch)
	// Replay the last QR code to the new observer so it doesn't miss it.
	if w.lastQR != nil {
		evt := *w.lastQR
		if !w.qrGeneratedAt.IsZero() {
			elapsed := time.Since(w.qrGeneratedAt)
			evt.SecondsLeft = max(0, 60-int(elapsed.Seconds()))
		}
		select {
		case ch <- evt:
		default:
		}
	}
	w.qrObserversMu.Unlock()

	return ch, func() {
		w.qrObserversMu.Lock()
		defer w.qrObserversMu.Unlock()
		for i, obs := range w.qrObservers {
			if obs == ch {
				w.qrObservers = append(w.qrObservers[:i], w.qrObservers[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// CurrentQR returns the cached QR code, or nil if none is pending.
func (w *WhatsApp) CurrentQR() *QREvent {
	w.qrObserversMu.Lock()
	defer w.qrObserversMu.Unlock()
	if w.lastQR == nil {
		return nil
	}
	evt := *w.lastQR
	if !w.qrGeneratedAt.IsZero() {
		elapsed := time.Since(w.qrGeneratedAt)
		evt.SecondsLeft = max(0, 60-int(elapsed.Seconds()))
	}
	return &evt
}

// notifyQR sends a QR event to all observers.
func (w *WhatsApp) notifyQR(evt QREvent) {
	w.qrObserversMu.Lock()
	defer w.qrObserversMu.Unlock()

	// Cache the latest QR code for late-joining observers.
	if evt.Type == "code" {
		w.lastQR = &evt
		w.qrGeneratedAt = time.Now()
	} else {
		// Clear cache on success/timeout/error, the QR is no longer valid.
		w.lastQR = nil
		w.qrGeneratedAt = time.Time{}
	}

	for _, ch := range w.qrObservers {
		select {
		case ch <- evt:
		default:
			// Observer too slow, skip.
		}
	}
}

// ---------- Channel Interface ----------

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect establishes the WhatsApp Web connection via whatsmeow.
// If no existing session is found, the QR login process runs in the
// background (non-blocking) so the server can start immediately.
// The QR code is streamed to web UI observers for scanning via browser.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.setState(StateConnecting)
	w.logger.Info("whatsapp: initializing connection...")

	dbPath := w.cfg.DatabasePath
	if dbPath == "" {
		dbPath = w.cfg.SessionDir + "/whatsapp-session.db"
	}
	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath),
		waLog.Noop)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("getting device: %w", err)
	}

	// Device name shown in WhatsApp linked devices list.
	store.SetOSInfo("Wapanel", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)

	// whatsmeow's built-in auto-reconnect handles network hiccups and
	// server-initiated disconnects.
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		// First login: start QR process in background (non-blocking).
		w.setState(StateWaitingQR)
		w.logger.Info("whatsapp: no existing session, QR code required, scan via web UI")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp: QR login pending", "error", err)
			}
		}()
		return nil
	}

	// Existing session, reconnect.
	if err := w.client.Connect(); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("connecting: %w", err)
	}

	w.connected.Store(true)
	w.logger.Info("whatsapp: connected (existing session)",
		"jid", w.getClientJID())

	return nil
}

// Disconnect gracefully closes the WhatsApp connection.
func (w *WhatsApp) Disconnect() error {
	w.setState(StateDisconnected)
	w.connected.Store(false)

	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}

	// The messages channel is never closed. A whatsmeow event handler
	// can still be emitting while we disconnect; emitMessage bails out
	// on the canceled context instead.

	w.logger.Info("whatsapp: disconnected")
	return nil
}

// Logout logs out and clears the session, requiring a fresh QR scan.
func (w *WhatsApp) Logout() error {
	if w.client == nil {
		return nil
	}

	w.setState(StateLoggingOut)
	w.connected.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := w.client.Logout(ctx)
	if err != nil {
		w.logger.Warn("whatsapp: logout error, forcing cleanup", "error", err)
		w.client.Disconnect()
		if w.client.Store != nil {
			if delErr := w.client.Store.Delete(ctx); delErr != nil {
				w.logger.Warn("whatsapp: failed to delete store", "error", delErr)
			}
		}
	}

	w.setState(StateDisconnected)
	w.lastQR = nil

	w.logger.Info("whatsapp: logged out, session cleared")
	return nil
}

// Send sends a text message to the specified chat or phone number.
func (w *WhatsApp) Send(ctx context.Context, to string, text string) (*channels.SendReceipt, error) {
	if !w.connected.Load() {
		return nil, channels.ErrChannelDisconnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return nil, fmt.Errorf("invalid JID %q: %w", to, err)
	}

	resp, err := w.client.SendMessage(ctx, jid, buildTextMessage(text))
	if err != nil {
		w.errorCount.Add(1)
		return nil, fmt.Errorf("sending message: %w", err)
	}

	// Track the outgoing message in the live registry so today's report
	// sees both sides of the conversation.
	w.chats.Record(&channels.IncomingMessage{
		ID:        string(resp.ID),
		Channel:   "whatsapp",
		From:      w.getClientJID(),
		ChatID:    jid.String(),
		IsGroup:   jid.Server == types.GroupServer,
		FromMe:    true,
		Type:      channels.MessageText,
		Content:   text,
		Timestamp: resp.Timestamp,
	})

	return &channels.SendReceipt{
		ID:        string(resp.ID),
		Timestamp: resp.Timestamp,
	}, nil
}

// Receive returns the incoming messages channel.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage {
	return w.messages
}

// IsConnected returns true if WhatsApp is connected.
func (w *WhatsApp) IsConnected() bool {
	return w.connected.Load()
}

// NeedsQR returns true if the WhatsApp session is not linked (needs QR scan).
func (w *WhatsApp) NeedsQR() bool {
	return w.client != nil && w.client.Store.ID == nil && !w.connected.Load()
}

// Health returns the WhatsApp channel health status.
func (w *WhatsApp) Health() channels.HealthStatus {
	h := channels.HealthStatus{
		Connected:  w.connected.Load(),
		ErrorCount: int(w.errorCount.Load()),
		Details:    make(map[string]any),
	}
	if t, ok := w.lastMsg.Load().(time.Time); ok {
		h.LastMessageAt = t
	}
	h.Details["state"] = string(w.getState())
	if w.client != nil && w.client.Store.ID != nil {
		h.Details["jid"] = w.client.Store.ID.String()
		h.Details["platform"] = w.client.Store.Platform
	}
	return h
}

// ---------- ChatLister Interface ----------

// ListChats returns the chats seen this session, most recently active first.
func (w *WhatsApp) ListChats() []channels.ChatInfo {
	return w.chats.List()
}

// RecentMessages returns up to limit recent messages for a chat.
func (w *WhatsApp) RecentMessages(chatID string, limit int) []channels.ChatMessage {
	return w.chats.Recent(chatID, limit)
}

// MarkChatRead resets the unread counter for a chat in the live registry.
func (w *WhatsApp) MarkChatRead(chatID string) {
	w.chats.MarkRead(chatID)
}

// ---------- Internal ----------

// getDevice retrieves an existing device or creates a new one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR handles the QR code login flow.
// QR codes are delivered exclusively to web UI observers (no terminal
// output); wapanel is a headless server managed via the dashboard.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	w.setState(StateWaitingQR)
	w.logger.Info("whatsapp: waiting for QR code scan via web UI")

	qrAttempts := 0

	for {
		select {
		case <-ctx.Done():
			w.setState(StateDisconnected)
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}

			switch evt.Event {
			case "code":
				qrAttempts++
				w.setState(StateWaitingQR)
				w.logger.Info("whatsapp: QR code ready", "attempt", qrAttempts)

				w.notifyQR(QREvent{
					Type:    "code",
					Code:    evt.Code,
					Message: "Scan the QR code with WhatsApp to link your device",
				})

			case "success":
				w.connected.Store(true)
				w.setState(StateConnected)
				w.logger.Info("whatsapp: login successful!")
				w.notifyQR(QREvent{
					Type:    "success",
					Message: "WhatsApp linked successfully!",
				})
				return nil

			case "timeout":
				w.setState(StateDisconnected)
				w.logger.Warn("whatsapp: QR code expired")
				w.notifyQR(QREvent{
					Type:    "timeout",
					Message: "QR code expired, request a new one to try again",
				})
				return fmt.Errorf("QR code timeout")

			default:
				if evt.Error != nil {
					w.setState(StateDisconnected)
					w.logger.Error("whatsapp: QR login error", "error", evt.Error)
					w.notifyQR(QREvent{
						Type:    "error",
						Message: fmt.Sprintf("Error: %s", evt.Error.Error()),
					})
					return fmt.Errorf("QR login error: %v", evt.Error)
				}
			}
		}
	}
}

// RequestNewQR disconnects and reconnects to generate a fresh QR code.
// Used when the web UI needs a new QR after timeout. A default timeout
// of 2 minutes is applied if the context has no deadline.
func (w *WhatsApp) RequestNewQR(ctx context.Context) error {
	if w.connected.Load() {
		return fmt.Errorf("already connected")
	}
	if w.client == nil {
		return fmt.Errorf("client not initialized")
	}

	w.client.Disconnect()
	w.lastQR = nil

	w.notifyQR(QREvent{
		Type:    "refresh",
		Message: "Generating new QR code...",
	})

	go func() {
		qrCtx := ctx
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			qrCtx, cancel = context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
		}

		if err := w.loginWithQR(qrCtx); err != nil {
			w.logger.Error("whatsapp: QR re-login failed", "error", err)
		}
	}()

	return nil
}

// emitMessage sends a message to the incoming messages channel.
func (w *WhatsApp) emitMessage(msg *channels.IncomingMessage) {
	select {
	case <-w.ctx.Done():
		return
	default:
	}

	select {
	case w.messages <- msg:
		w.lastMsg.Store(time.Now())
	case <-w.ctx.Done():
	default:
		w.logger.Warn("whatsapp: message channel full, dropping message",
			"from", msg.From, "type", msg.Type)
	}
}

// groupName resolves and caches the subject of a group chat.
func (w *WhatsApp) groupName(jid types.JID) string {
	key := jid.String()

	w.groupNamesMu.Lock()
	if name, ok := w.groupNames[key]; ok {
		w.groupNamesMu.Unlock()
		return name
	}
	w.groupNamesMu.Unlock()

	info, err := w.client.GetGroupInfo(w.ctx, jid)
	if err != nil {
		w.logger.Debug("whatsapp: group info lookup failed", "jid", key, "error", err)
		return ""
	}

	w.groupNamesMu.Lock()
	w.groupNames[key] = info.Name
	w.groupNamesMu.Unlock()
	return info.Name
}

// parseJID converts a string JID to types.JID.
// Accepts formats: "5511999999999" or "5511999999999@s.whatsapp.net"
// or group IDs like "123456789-1234@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	// Already a full JID with server.
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	// Bare phone number: strip non-digits and add the default server.
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}
