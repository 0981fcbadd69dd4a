// events.go processes incoming whatsmeow events and converts them into
// the unified channels.IncomingMessage type.
package whatsapp

import (
	"fmt"

	"github.com/jholhewres/wapanel/pkg/wapanel/channels"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// ConnectionState represents the current connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateWaitingQR    ConnectionState = "waiting_qr"
	StateLoggingOut   ConnectionState = "logging_out"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.handleConnected(evt)

	case *events.Disconnected:
		w.handleDisconnected(evt)

	case *events.LoggedOut:
		w.handleLoggedOut(evt)

	case *events.StreamReplaced:
		w.logger.Error("whatsapp: stream replaced - another device connected")
		w.setState(StateDisconnected)
		w.connected.Store(false)

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired",
			"jid", evt.ID, "platform", evt.Platform)
		w.notifyQR(QREvent{
			Type:    "success",
			Message: fmt.Sprintf("Paired with %s successfully!", evt.ID.String()),
		})

	case *events.HistorySync:
		w.logger.Debug("whatsapp: history sync received")
	}
}

// handleConnected handles successful connection.
func (w *WhatsApp) handleConnected(_ *events.Connected) {
	w.setState(StateConnected)
	w.connected.Store(true)
	w.errorCount.Store(0)

	w.logger.Info("whatsapp: connected", "jid", w.getClientJID())

	// Clear any QR state.
	w.notifyQR(QREvent{
		Type:    "success",
		Message: "WhatsApp connected successfully!",
	})
}

// handleDisconnected handles disconnection. whatsmeow's auto-reconnect
// takes care of re-establishing the connection.
func (w *WhatsApp) handleDisconnected(_ *events.Disconnected) {
	w.setState(StateDisconnected)
	w.logger.Warn("whatsapp: disconnected",
		"was_connected", w.connected.Load())
	w.connected.Store(false)
}

// handleLoggedOut handles session invalidation.
func (w *WhatsApp) handleLoggedOut(evt *events.LoggedOut) {
	w.setState(StateDisconnected)
	w.connected.Store(false)

	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}

	w.logger.Error("whatsapp: logged out",
		"reason", reason,
		"on_connect", evt.OnConnect)

	// Request new QR code.
	w.lastQR = nil
	go func() {
		if err := w.loginWithQR(w.ctx); err != nil {
			w.logger.Warn("whatsapp: QR re-login failed", "error", err)
		}
	}()
}

// handleMessageEvt processes an incoming WhatsApp message event.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	// Skip status broadcasts.
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	isGroup := evt.Info.IsGroup
	if isGroup && !w.cfg.ListenToGroups {
		return
	}
	if !isGroup && !w.cfg.ListenToDMs {
		return
	}

	// Resolve sender JID. WhatsApp may use LID (Linked Identity) format
	// instead of phone numbers.
	senderJID := evt.Info.Sender
	resolvedSender := senderJID.String()
	if senderJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, senderJID); err == nil && !altJID.IsEmpty() {
			resolvedSender = altJID.String()
			w.logger.Debug("whatsapp: resolved LID to phone",
				"lid", senderJID.String(), "phone", resolvedSender)
		}
	}

	chatJID := evt.Info.Chat
	resolvedChat := chatJID.String()
	if chatJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, chatJID); err == nil && !altJID.IsEmpty() {
			resolvedChat = altJID.String()
		}
	}

	msg := &channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		From:      resolvedSender,
		FromName:  evt.Info.PushName,
		ChatID:    resolvedChat,
		IsGroup:   isGroup,
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
	}
	if isGroup {
		msg.GroupName = w.groupName(chatJID)
	}

	// Extract message content by type.
	w.extractMessageContent(evt.Message, msg)

	// Keep the live chat registry current: the daily report's real-time
	// path reads from it.
	w.chats.Record(msg)

	// Own messages are tracked for reporting but never dispatched to the bot.
	if msg.FromMe {
		return
	}

	w.emitMessage(msg)
}

// extractMessageContent extracts the text/media content from a WhatsApp message.
func (w *WhatsApp) extractMessageContent(waMsg *waE2E.Message, msg *channels.IncomingMessage) {
	if waMsg == nil {
		return
	}

	// Text message (simple conversation).
	if waMsg.Conversation != nil {
		msg.Type = channels.MessageText
		msg.Content = waMsg.GetConversation()
		return
	}

	// Extended text message (with preview, formatting, etc.).
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		msg.Type = channels.MessageText
		msg.Content = ext.GetText()
		return
	}

	// Image message.
	if img := waMsg.ImageMessage; img != nil {
		msg.Type = channels.MessageImage
		msg.Content = img.GetCaption()
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageImage,
			MimeType:      img.GetMimetype(),
			FileSize:      img.GetFileLength(),
			Caption:       img.GetCaption(),
			URL:           img.GetURL(),
			DirectPath:    img.GetDirectPath(),
			MediaKey:      img.GetMediaKey(),
			FileSHA256:    img.GetFileSHA256(),
			FileEncSHA256: img.GetFileEncSHA256(),
		}
		return
	}

	// Audio message (voice note or audio file).
	if audio := waMsg.AudioMessage; audio != nil {
		msg.Type = channels.MessageAudio
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageAudio,
			MimeType:      audio.GetMimetype(),
			FileSize:      audio.GetFileLength(),
			Duration:      audio.GetSeconds(),
			URL:           audio.GetURL(),
			DirectPath:    audio.GetDirectPath(),
			MediaKey:      audio.GetMediaKey(),
			FileSHA256:    audio.GetFileSHA256(),
			FileEncSHA256: audio.GetFileEncSHA256(),
		}
		return
	}

	// Video message.
	if video := waMsg.VideoMessage; video != nil {
		msg.Type = channels.MessageVideo
		msg.Content = video.GetCaption()
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageVideo,
			MimeType:      video.GetMimetype(),
			FileSize:      video.GetFileLength(),
			Caption:       video.GetCaption(),
			Duration:      video.GetSeconds(),
			URL:           video.GetURL(),
			DirectPath:    video.GetDirectPath(),
			MediaKey:      video.GetMediaKey(),
			FileSHA256:    video.GetFileSHA256(),
			FileEncSHA256: video.GetFileEncSHA256(),
		}
		return
	}

	// Document message.
	if doc := waMsg.DocumentMessage; doc != nil {
		msg.Type = channels.MessageDocument
		msg.Content = doc.GetCaption()
		if msg.Content == "" {
			msg.Content = fmt.Sprintf("[document: %s]", doc.GetFileName())
		}
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageDocument,
			MimeType:      doc.GetMimetype(),
			Filename:      doc.GetFileName(),
			FileSize:      doc.GetFileLength(),
			Caption:       doc.GetCaption(),
			URL:           doc.GetURL(),
			DirectPath:    doc.GetDirectPath(),
			MediaKey:      doc.GetMediaKey(),
			FileSHA256:    doc.GetFileSHA256(),
			FileEncSHA256: doc.GetFileEncSHA256(),
		}
		return
	}

	// Sticker message.
	if sticker := waMsg.StickerMessage; sticker != nil {
		msg.Type = channels.MessageSticker
		msg.Content = "[sticker]"
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageSticker,
			MimeType:      sticker.GetMimetype(),
			FileSize:      sticker.GetFileLength(),
			URL:           sticker.GetURL(),
			DirectPath:    sticker.GetDirectPath(),
			MediaKey:      sticker.GetMediaKey(),
			FileSHA256:    sticker.GetFileSHA256(),
			FileEncSHA256: sticker.GetFileEncSHA256(),
		}
		return
	}

	// Fallback: unknown message type.
	msg.Type = channels.MessageText
	msg.Content = "[unsupported message type]"
}

// displayBody renders a human-readable body for the live registry and
// reports when a message has no text.
func displayBody(msg *channels.IncomingMessage) string {
	if msg.Content != "" {
		return msg.Content
	}
	if msg.Media != nil {
		switch msg.Media.Type {
		case channels.MessageAudio:
			return "[Audio Message]"
		case channels.MessageImage:
			return "[Image]"
		case channels.MessageVideo:
			return "[Video]"
		case channels.MessageDocument:
			return "[Document]"
		case channels.MessageSticker:
			return "[Sticker]"
		}
	}
	return ""
}
