// Package webui implements the control panel's JSON API: session
// management, message sending, bot and webhook configuration, chat
// browsing, and daily reports.
package webui

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Config holds the HTTP server settings.
type Config struct {
	Host string
	Port int

	// AuthToken protects the API with bearer authentication. Empty
	// disables authentication.
	AuthToken string

	// AllowedOrigins is the CORS allowlist. Empty allows any origin
	// (local development).
	AllowedOrigins []string
}

// Server is the control panel HTTP server.
type Server struct {
	cfg    Config
	api    PanelAPI
	logger *slog.Logger
	server *http.Server
}

// NewServer creates the server. Nothing listens until Start.
func NewServer(cfg Config, api PanelAPI, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		api:    api,
		logger: logger.With("component", "webui"),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/session/start", s.authMiddleware(s.handleSessionStart))
	mux.HandleFunc("/api/session/status", s.authMiddleware(s.handleSessionStatus))
	mux.HandleFunc("/api/session/qr", s.authMiddleware(s.handleSessionQR))
	mux.HandleFunc("/api/session/info", s.authMiddleware(s.handleSessionInfo))
	mux.HandleFunc("/api/session/logout", s.authMiddleware(s.handleSessionLogout))

	mux.HandleFunc("/api/messages/send", s.authMiddleware(s.handleSendMessage))
	mux.HandleFunc("/api/messages/send-media", s.authMiddleware(s.handleSendMedia))

	mux.HandleFunc("/api/bot/config", s.authMiddleware(s.handleBotConfig))
	mux.HandleFunc("/api/bot/patterns", s.authMiddleware(s.handleBotPatterns))
	mux.HandleFunc("/api/bot/patterns/", s.authMiddleware(s.handleBotPatternByTrigger))

	mux.HandleFunc("/api/webhook/config", s.authMiddleware(s.handleWebhookConfig))

	mux.HandleFunc("/api/chats", s.authMiddleware(s.handleChats))
	mux.HandleFunc("/api/chats/", s.authMiddleware(s.handleChatMessages))

	mux.HandleFunc("/api/conversations/stats", s.authMiddleware(s.handleConversationStats))

	mux.HandleFunc("/api/reports/daily", s.authMiddleware(s.handleDailyReport))

	mux.HandleFunc("/api/health", s.handleHealth)

	addr := s.cfg.Host
	if s.cfg.Port != 0 {
		addr = addrJoin(s.cfg.Host, s.cfg.Port)
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("web panel starting", "address", addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("web panel server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
		s.logger.Info("web panel stopped")
	}
}

// corsMiddleware adds CORS headers, restricted to the configured
// origins when set.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
