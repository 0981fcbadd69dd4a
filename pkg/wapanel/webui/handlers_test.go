package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/wapanel/pkg/wapanel/database"
	"github.com/jholhewres/wapanel/pkg/wapanel/panel"
)

func newTestServer(t *testing.T, authToken string) *Server {
	t.Helper()

	cfg := panel.DefaultConfig()
	dir := t.TempDir()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.WhatsApp.SessionDir = filepath.Join(dir, "session")

	p, err := panel.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("panel.New: %v", err)
	}
	t.Cleanup(func() { p.Database().Close() })

	return NewServer(Config{AuthToken: authToken}, p, nil)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, "secret-token")
	handler := s.authMiddleware(s.handleSessionStatus)

	t.Run("missing token rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/api/session/status", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session/status", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session/status", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("query token accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session/status?token=secret-token", nil)
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestSessionStatus(t *testing.T) {
	s := newTestServer(t, "")

	rec := httptest.NewRecorder()
	s.handleSessionStatus(rec, httptest.NewRequest(http.MethodGet, "/api/session/status", nil))

	body := decodeBody(t, rec)
	if body["isReady"] != false {
		t.Errorf("isReady = %v, want false", body["isReady"])
	}
	if body["state"] != "disconnected" {
		t.Errorf("state = %v", body["state"])
	}
}

func TestSessionInfoUnavailable(t *testing.T) {
	s := newTestServer(t, "")

	rec := httptest.NewRecorder()
	s.handleSessionInfo(rec, httptest.NewRequest(http.MethodGet, "/api/session/info", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	s := newTestServer(t, "")

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.handleSendMessage(rec, req)
		return rec
	}

	t.Run("missing fields", func(t *testing.T) {
		if rec := post(`{"number":"5511999999999"}`); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		if rec := post(`{not json`); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("disconnected channel surfaces an error", func(t *testing.T) {
		rec := post(`{"number":"5511999999999","message":"hi"}`)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("GET rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleSendMessage(rec, httptest.NewRequest(http.MethodGet, "/api/messages/send", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}

func TestSendMediaValidation(t *testing.T) {
	s := newTestServer(t, "")

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/messages/send-media", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.handleSendMedia(rec, req)
		return rec
	}

	t.Run("missing media", func(t *testing.T) {
		if rec := post(`{"number":"5511999999999"}`); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unsupported mimetype", func(t *testing.T) {
		rec := post(`{"number":"5511999999999","media":{"mimetype":"application/pdf","data":"aGVsbG8="}}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		rec := post(`{"number":"5511999999999","media":{"mimetype":"image/png","data":"!!!"}}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestBotConfigEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	t.Run("get defaults", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleBotConfig(rec, httptest.NewRequest(http.MethodGet, "/api/bot/config", nil))
		body := decodeBody(t, rec)
		cfg := body["config"].(map[string]any)
		if cfg["enabled"] != false {
			t.Errorf("enabled = %v, want false", cfg["enabled"])
		}
	})

	t.Run("partial update", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/bot/config", strings.NewReader(`{"enabled":true}`))
		rec := httptest.NewRecorder()
		s.handleBotConfig(rec, req)
		body := decodeBody(t, rec)
		cfg := body["config"].(map[string]any)
		if cfg["enabled"] != true {
			t.Errorf("enabled = %v, want true", cfg["enabled"])
		}
		if patterns := cfg["patterns"].([]any); len(patterns) != 3 {
			t.Errorf("patterns = %d, want 3 (unchanged)", len(patterns))
		}
	})

	t.Run("add pattern", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/bot/patterns", strings.NewReader(`{"trigger":"ping","response":"pong"}`))
		rec := httptest.NewRecorder()
		s.handleBotPatterns(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("delete pattern", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/bot/patterns/ping", nil)
		rec := httptest.NewRecorder()
		s.handleBotPatternByTrigger(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("delete unknown pattern", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/bot/patterns/nothing", nil)
		rec := httptest.NewRecorder()
		s.handleBotPatternByTrigger(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestWebhookConfigEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	t.Run("enable without URL rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/webhook/config", strings.NewReader(`{"enabled":true}`))
		rec := httptest.NewRecorder()
		s.handleWebhookConfig(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("valid update", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/webhook/config",
			strings.NewReader(`{"enabled":true,"url":"https://example.com/hook"}`))
		rec := httptest.NewRecorder()
		s.handleWebhookConfig(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := decodeBody(t, rec)
		cfg := body["config"].(map[string]any)
		if cfg["url"] != "https://example.com/hook" {
			t.Errorf("url = %v", cfg["url"])
		}
	})
}

func TestChatsEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	t.Run("empty chat list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleChats(rec, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
		body := decodeBody(t, rec)
		if body["success"] != true {
			t.Errorf("success = %v", body["success"])
		}
	})

	t.Run("chat messages path parsing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/chats/5511999999999@s.whatsapp.net/messages", nil)
		s.handleChatMessages(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["chatId"] != "5511999999999@s.whatsapp.net" {
			t.Errorf("chatId = %v", body["chatId"])
		}
	})

	t.Run("bad limit rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/chats/x@c.us/messages?limit=abc", nil)
		s.handleChatMessages(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing messages suffix", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/chats/x@c.us", nil)
		s.handleChatMessages(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestDailyReportEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	t.Run("invalid date", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/reports/daily?date=31-12-2026", nil)
		s.handleDailyReport(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("empty past day", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/reports/daily?date=2020-01-01", nil)
		s.handleDailyReport(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["count"].(float64) != 0 {
			t.Errorf("count = %v, want 0", body["count"])
		}
		if body["summary"] != "No messages found for this day." {
			t.Errorf("summary = %v", body["summary"])
		}
	})

	t.Run("summary is null without AI", func(t *testing.T) {
		day := time.Date(2020, 1, 2, 10, 0, 0, 0, time.Local)
		err := s.api.Database().SaveMessage(context.Background(), &database.MessageRecord{
			ID:         "rep-1",
			Timestamp:  day.Unix(),
			Phone:      "5511999999999",
			SenderName: "Alice",
			Body:       "hello",
		})
		if err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/reports/daily?date=2020-01-02", nil)
		s.handleDailyReport(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["count"].(float64) != 1 {
			t.Errorf("count = %v, want 1", body["count"])
		}
		summary, present := body["summary"]
		if !present {
			t.Fatal("summary key missing from response")
		}
		if summary != nil {
			t.Errorf("summary = %v, want null", summary)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["database"] == nil {
		t.Error("database status missing")
	}
}
