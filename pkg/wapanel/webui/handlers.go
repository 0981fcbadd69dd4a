package webui

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/wapanel/pkg/wapanel/bot"
	"github.com/jholhewres/wapanel/pkg/wapanel/channels"
	"github.com/jholhewres/wapanel/pkg/wapanel/channels/whatsapp"
	"github.com/jholhewres/wapanel/pkg/wapanel/conversation"
	"github.com/jholhewres/wapanel/pkg/wapanel/database"
	"github.com/jholhewres/wapanel/pkg/wapanel/report"
	"github.com/jholhewres/wapanel/pkg/wapanel/webhook"
)

// PanelAPI is the surface the web layer needs from the application
// core. Implemented by the panel package.
type PanelAPI interface {
	SendText(ctx context.Context, to, text string) (*channels.SendReceipt, error)
	SendMedia(ctx context.Context, to string, media *channels.MediaPayload, caption string) (*channels.SendReceipt, error)

	Channel() *whatsapp.WhatsApp
	Conversations() *conversation.Store
	BotConfig() *bot.ConfigStore
	Webhook() *webhook.Forwarder
	Reports() *report.Assembler
	Database() *database.SQLite
}

func addrJoin(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// ── Session ──

// handleSessionStart kicks off pairing when no session exists yet.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ch := s.api.Channel()
	if ch.IsConnected() {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "session already active",
			"state":   string(ch.GetState()),
		})
		return
	}

	if ch.NeedsQR() {
		go func() {
			if err := ch.RequestNewQR(context.Background()); err != nil {
				s.logger.Warn("QR request failed", "error", err)
			}
		}()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "session starting, poll /api/session/qr",
		"state":   string(ch.GetState()),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	ch := s.api.Channel()
	writeJSON(w, http.StatusOK, map[string]any{
		"isReady":   ch.IsConnected(),
		"state":     string(ch.GetState()),
		"needsQR":   ch.NeedsQR(),
		"hasQRCode": ch.CurrentQR() != nil,
	})
}

func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	qr := s.api.Channel().CurrentQR()
	if qr == nil {
		writeError(w, http.StatusNotFound, "no QR code available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"qr":      qr.Code,
	})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	ch := s.api.Channel()
	if !ch.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "session is not connected")
		return
	}
	info := ch.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"phoneNumber": info.PhoneNumber,
		"platform":    info.Platform,
		"pushName":    info.PushName,
	})
}

func (s *Server) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.api.Channel().Logout(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ── Messages ──

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Number  string `json:"number"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Number == "" || body.Message == "" {
		writeError(w, http.StatusBadRequest, "number and message are required")
		return
	}

	receipt, err := s.api.SendText(r.Context(), body.Number, body.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result": map[string]any{
			"messageId": receipt.ID,
			"timestamp": receipt.Timestamp.Unix(),
		},
	})
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Number string `json:"number"`
		Media  *struct {
			MimeType string `json:"mimetype"`
			Data     string `json:"data"`
			Filename string `json:"filename"`
		} `json:"media"`
		Caption string `json:"caption"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Number == "" || body.Media == nil {
		writeError(w, http.StatusBadRequest, "number and media are required")
		return
	}
	if body.Media.MimeType == "" || body.Media.Data == "" {
		writeError(w, http.StatusBadRequest, "media must include mimetype and data (base64)")
		return
	}

	var mediaType channels.MessageType
	switch {
	case strings.HasPrefix(body.Media.MimeType, "image/"):
		mediaType = channels.MessageImage
	case strings.HasPrefix(body.Media.MimeType, "video/"):
		mediaType = channels.MessageVideo
	default:
		writeError(w, http.StatusBadRequest, "only image and video mime types are supported")
		return
	}

	data, err := base64.StdEncoding.DecodeString(body.Media.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "media data is not valid base64")
		return
	}

	receipt, err := s.api.SendMedia(r.Context(), body.Number, &channels.MediaPayload{
		Type:     mediaType,
		Data:     data,
		MimeType: body.Media.MimeType,
		Filename: body.Media.Filename,
	}, body.Caption)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result": map[string]any{
			"messageId": receipt.ID,
			"timestamp": receipt.Timestamp.Unix(),
		},
	})
}

// ── Bot ──

func (s *Server) handleBotConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"config":  s.api.BotConfig().Get(),
		})

	case http.MethodPost:
		var update bot.ConfigUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		cfg := s.api.BotConfig().Update(update)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"config":  cfg,
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleBotPatterns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Trigger  string `json:"trigger"`
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.api.BotConfig().AddPattern(body.Trigger, body.Response); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  s.api.BotConfig().Get(),
	})
}

func (s *Server) handleBotPatternByTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	trigger := strings.TrimPrefix(r.URL.Path, "/api/bot/patterns/")
	if trigger == "" {
		writeError(w, http.StatusBadRequest, "trigger is required")
		return
	}
	if !s.api.BotConfig().RemovePattern(trigger) {
		writeError(w, http.StatusNotFound, "pattern not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  s.api.BotConfig().Get(),
	})
}

// ── Webhook ──

func (s *Server) handleWebhookConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"config":  s.api.Webhook().GetConfig(),
		})

	case http.MethodPost:
		var update webhook.ConfigUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		cfg, err := s.api.Webhook().UpdateConfig(update)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"config":  cfg,
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ── Chats ──

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"chats":   s.api.Channel().ListChats(),
	})
}

// handleChatMessages serves /api/chats/{id}/messages.
func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	chatID, ok := strings.CutSuffix(rest, "/messages")
	if !ok || chatID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ch := s.api.Channel()
	msgs := ch.RecentMessages(chatID, limit)
	ch.MarkChatRead(chatID)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"chatId":   chatID,
		"messages": msgs,
	})
}

// ── Conversations ──

func (s *Server) handleConversationStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   s.api.Conversations().GetStats(),
	})
}

// ── Reports ──

func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	useAI := r.URL.Query().Get("useAI") == "true"

	rep, err := s.api.Reports().Assemble(r.Context(), date, useAI)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"date":     rep.Date,
		"source":   rep.Source,
		"summary":  rep.Summary,
		"count":    rep.Count,
		"messages": rep.Messages,
	})
}

// ── Health ──

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ch := s.api.Channel()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"channel":  ch.Health(),
		"database": s.api.Database().Health.Status(),
	})
}
