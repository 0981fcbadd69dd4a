// Package webhook forwards incoming messages to an external HTTP
// endpoint. Delivery is best-effort: failures are logged, never
// retried, and never block message handling.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// deliveryTimeout bounds one webhook POST.
const deliveryTimeout = 30 * time.Second

// Config is the forwarder's persisted configuration.
type Config struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// ConfigUpdate is a partial configuration change. Nil fields keep their
// current value.
type ConfigUpdate struct {
	Enabled *bool   `json:"enabled,omitempty"`
	URL     *string `json:"url,omitempty"`
}

// Event is the JSON document POSTed to the configured endpoint.
type Event struct {
	Event     string    `json:"event"`
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Name      string    `json:"name,omitempty"`
	ChatID    string    `json:"chatId"`
	IsGroup   bool      `json:"isGroup"`
	GroupName string    `json:"groupName,omitempty"`
	Body      string    `json:"body"`
	HasMedia  bool      `json:"hasMedia"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Forwarder delivers message events to a configured URL.
type Forwarder struct {
	cfg    Config
	path   string
	client *http.Client
	logger *slog.Logger

	mu sync.Mutex
}

// NewForwarder creates a Forwarder, loading persisted configuration
// from path. A missing or unreadable file yields the disabled default.
func NewForwarder(path string, logger *slog.Logger) (*Forwarder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "webhook")

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	f := &Forwarder{
		path:   path,
		client: &http.Client{Timeout: deliveryTimeout},
		logger: logger,
	}

	cfg, err := f.load()
	if err != nil {
		logger.Warn("loading webhook config failed, starting disabled", "error", err)
		cfg = Config{}
	}
	f.cfg = cfg
	return f, nil
}

// GetConfig returns the current configuration.
func (f *Forwarder) GetConfig() Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// UpdateConfig applies a partial change after validating the resulting
// configuration, persists it, and returns it.
func (f *Forwarder) UpdateConfig(update ConfigUpdate) (Config, error) {
	f.mu.Lock()
	next := f.cfg
	if update.Enabled != nil {
		next.Enabled = *update.Enabled
	}
	if update.URL != nil {
		next.URL = strings.TrimSpace(*update.URL)
	}

	if err := validate(next); err != nil {
		f.mu.Unlock()
		return Config{}, err
	}

	f.cfg = next
	f.mu.Unlock()

	f.persist()
	return next, nil
}

// validate rejects configurations that could never deliver or that
// target internal addresses.
func validate(cfg Config) error {
	if cfg.Enabled && cfg.URL == "" {
		return errors.New("webhook URL is required when enabled")
	}
	if cfg.URL != "" {
		return validateWebhookURL(cfg.URL)
	}
	return nil
}

// validateWebhookURL rejects URLs that target private or loopback
// addresses to prevent Server-Side Request Forgery (SSRF) via outgoing
// webhooks.
func validateWebhookURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("webhook URL must use http or https scheme")
	}
	hostname := strings.ToLower(parsed.Hostname())
	ip := net.ParseIP(hostname)
	if ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("webhook URL targets a private or loopback address: %s", hostname)
		}
	} else {
		// Block well-known internal hostnames.
		for _, blocked := range []string{"localhost", "localhost.localdomain", "metadata.google.internal"} {
			if hostname == blocked {
				return fmt.Errorf("webhook URL targets a reserved hostname: %s", hostname)
			}
		}
	}
	return nil
}

// Forward POSTs the event to the configured URL. A disabled or
// URL-less configuration is a silent no-op. Intended to run in its own
// goroutine.
func (f *Forwarder) Forward(event *Event) {
	f.mu.Lock()
	cfg := f.cfg
	f.mu.Unlock()

	if !cfg.Enabled || cfg.URL == "" {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("marshaling webhook event failed", "error", err)
		return
	}

	deliveryID := uuid.New().String()
	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		f.logger.Error("building webhook request failed", "url", cfg.URL, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryID)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("webhook delivery failed", "url", cfg.URL, "delivery_id", deliveryID, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Error("webhook delivery rejected", "url", cfg.URL, "delivery_id", deliveryID, "status", resp.StatusCode)
		return
	}
	f.logger.Debug("webhook delivered", "url", cfg.URL, "delivery_id", deliveryID)
}

func (f *Forwarder) load() (Config, error) {
	if f.path == "" {
		return Config{}, nil
	}
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read webhook config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal webhook config: %w", err)
	}
	return cfg, nil
}

func (f *Forwarder) persist() {
	if f.path == "" {
		return
	}
	f.mu.Lock()
	cfg := f.cfg
	f.mu.Unlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		f.logger.Error("marshaling webhook config failed", "error", err)
		return
	}
	if err := os.WriteFile(f.path, data, 0600); err != nil {
		f.logger.Error("saving webhook config failed", "error", err)
	}
}
