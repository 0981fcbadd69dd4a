package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestForwarder(t *testing.T) *Forwarder {
	t.Helper()
	f, err := NewForwarder(filepath.Join(t.TempDir(), "webhook-config.json"), nil)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	return f
}

// setForTest bypasses SSRF validation so tests can point at a local
// httptest server.
func (f *Forwarder) setForTest(cfg Config) {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
}

func TestForwardDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newTestForwarder(t)

	t.Run("disabled with URL", func(t *testing.T) {
		f.setForTest(Config{Enabled: false, URL: srv.URL})
		f.Forward(&Event{Event: "message", Body: "hi"})
	})

	t.Run("enabled without URL", func(t *testing.T) {
		f.setForTest(Config{Enabled: true, URL: ""})
		f.Forward(&Event{Event: "message", Body: "hi"})
	})

	if hits.Load() != 0 {
		t.Errorf("endpoint hit %d times, want 0", hits.Load())
	}
}

func TestForwardDelivers(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if r.Header.Get("X-Delivery-ID") == "" {
			t.Error("missing X-Delivery-ID header")
		}
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode body: %v", err)
		}
		received <- ev
	}))
	defer srv.Close()

	f := newTestForwarder(t)
	f.setForTest(Config{Enabled: true, URL: srv.URL})

	f.Forward(&Event{
		Event:     "message",
		ID:        "m1",
		From:      "5511999999999@s.whatsapp.net",
		Body:      "hello",
		Timestamp: time.Now(),
	})

	select {
	case ev := <-received:
		if ev.ID != "m1" || ev.Body != "hello" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never arrived")
	}
}

func TestUpdateConfig(t *testing.T) {
	f := newTestForwarder(t)

	t.Run("enabled without URL rejected", func(t *testing.T) {
		enabled := true
		if _, err := f.UpdateConfig(ConfigUpdate{Enabled: &enabled}); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("partial merge", func(t *testing.T) {
		u := "https://example.com/hook"
		cfg, err := f.UpdateConfig(ConfigUpdate{URL: &u})
		if err != nil {
			t.Fatalf("UpdateConfig: %v", err)
		}
		if cfg.Enabled {
			t.Error("Enabled changed without being set")
		}

		enabled := true
		cfg, err = f.UpdateConfig(ConfigUpdate{Enabled: &enabled})
		if err != nil {
			t.Fatalf("UpdateConfig: %v", err)
		}
		if !cfg.Enabled || cfg.URL != u {
			t.Errorf("merge lost a field: %+v", cfg)
		}
	})

	t.Run("persists across restarts", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "webhook-config.json")
		f1, err := NewForwarder(path, nil)
		if err != nil {
			t.Fatal(err)
		}
		u := "https://example.com/hook"
		enabled := true
		if _, err := f1.UpdateConfig(ConfigUpdate{Enabled: &enabled, URL: &u}); err != nil {
			t.Fatal(err)
		}

		f2, err := NewForwarder(path, nil)
		if err != nil {
			t.Fatal(err)
		}
		if cfg := f2.GetConfig(); !cfg.Enabled || cfg.URL != u {
			t.Errorf("reloaded config = %+v", cfg)
		}
	})
}

func TestValidateWebhookURL(t *testing.T) {
	valid := []string{
		"https://example.com/hook",
		"http://hooks.example.org:8080/path",
	}
	for _, u := range valid {
		if err := validateWebhookURL(u); err != nil {
			t.Errorf("validateWebhookURL(%q) = %v, want nil", u, err)
		}
	}

	invalid := []string{
		"ftp://example.com/hook",
		"https://localhost/hook",
		"http://127.0.0.1:9000/hook",
		"http://192.168.1.10/hook",
		"http://169.254.169.254/latest/meta-data",
		"http://metadata.google.internal/",
		"http://0.0.0.0/",
	}
	for _, u := range invalid {
		if err := validateWebhookURL(u); err == nil {
			t.Errorf("validateWebhookURL(%q) = nil, want error", u)
		}
	}
}
