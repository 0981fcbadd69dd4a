package conversation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSessionID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5511999999999@s.whatsapp.net", "5511999999999"},
		{"5511999999999@c.us", "5511999999999"},
		{"120363025246125486@g.us", "120363025246125486"},
		{"5511999999999", "5511999999999"},
	}
	for _, tc := range cases {
		if got := SessionID(tc.in); got != tc.want {
			t.Errorf("SessionID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAppendCapsHistory(t *testing.T) {
	store := NewStore(nil, nil)

	for i := 1; i <= 60; i++ {
		store.Append("5511999999999@s.whatsapp.net", RoleUser, fmt.Sprintf("message %d", i))
	}

	history := store.History("5511999999999@s.whatsapp.net", 0)
	if len(history) != DefaultMaxMessages {
		t.Fatalf("history length = %d, want %d", len(history), DefaultMaxMessages)
	}
	if history[0].Content != "message 11" {
		t.Errorf("oldest retained = %q, want %q", history[0].Content, "message 11")
	}
	if history[len(history)-1].Content != "message 60" {
		t.Errorf("newest retained = %q, want %q", history[len(history)-1].Content, "message 60")
	}
}

func TestHistory(t *testing.T) {
	store := NewStore(nil, nil)

	t.Run("unknown chat is empty", func(t *testing.T) {
		if got := store.History("nobody@c.us", 10); len(got) != 0 {
			t.Errorf("expected empty history, got %d messages", len(got))
		}
	})

	t.Run("limit takes the most recent", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			store.Append("chat@c.us", RoleUser, fmt.Sprintf("m%d", i))
		}
		got := store.History("chat@c.us", 2)
		if len(got) != 2 || got[0].Content != "m4" || got[1].Content != "m5" {
			t.Errorf("unexpected history window: %+v", got)
		}
	})

	t.Run("normalized and raw IDs share a session", func(t *testing.T) {
		store.Append("7700@s.whatsapp.net", RoleUser, "hey")
		if got := store.History("7700", 10); len(got) != 1 {
			t.Errorf("expected shared session, got %d messages", len(got))
		}
	})
}

func TestFormatForPrompt(t *testing.T) {
	store := NewStore(nil, nil)

	if got := store.FormatForPrompt("empty@c.us", 10); got != "" {
		t.Errorf("empty chat should produce empty prompt, got %q", got)
	}

	store.Append("chat@c.us", RoleUser, "Hello")
	store.Append("chat@c.us", RoleAssistant, "Hi! How can I help?")

	got := store.FormatForPrompt("chat@c.us", 10)
	want := "Previous conversation:\nUser: Hello\nAssistant: Hi! How can I help?\n\n"
	if got != want {
		t.Errorf("FormatForPrompt = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, "Previous conversation:\n") {
		t.Errorf("missing header: %q", got)
	}
}

func TestSweepExpired(t *testing.T) {
	store := NewStore(nil, nil)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	store.Append("old@c.us", RoleUser, "stale")

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	store.Append("fresh@c.us", RoleUser, "recent")

	store.now = func() time.Time { return base.Add(25 * time.Hour) }
	removed := store.SweepExpired(DefaultSessionTimeout)

	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got := store.History("old@c.us", 10); len(got) != 0 {
		t.Errorf("stale session should be gone, got %d messages", len(got))
	}
	if got := store.History("fresh@c.us", 10); len(got) != 1 {
		t.Errorf("fresh session should survive, got %d messages", len(got))
	}
}

func TestMetadata(t *testing.T) {
	store := NewStore(nil, nil)

	store.UpdateMetadata("chat@c.us", map[string]string{"name": "Alice", "lang": "en"})
	store.UpdateMetadata("chat@c.us", map[string]string{"lang": "pt"})

	meta := store.Metadata("chat@c.us")
	if meta["name"] != "Alice" {
		t.Errorf("merge dropped existing key, got %+v", meta)
	}
	if meta["lang"] != "pt" {
		t.Errorf("merge did not overwrite, got %+v", meta)
	}
}

// capturePersister keeps the last snapshot handed to Save.
type capturePersister struct {
	last map[string]*Session
}

func (p *capturePersister) Load() (map[string]*Session, error) { return nil, nil }

func (p *capturePersister) Save(sessions map[string]*Session) error {
	p.last = sessions
	return nil
}

func TestPersistSnapshotIsolation(t *testing.T) {
	persister := &capturePersister{}
	store := NewStore(persister, nil)

	store.UpdateMetadata("chat@c.us", map[string]string{"lang": "en"})
	store.Append("chat@c.us", RoleUser, "hello")

	snapshot := persister.last["chat"]
	if snapshot == nil {
		t.Fatal("no snapshot captured")
	}

	// Mutations after the snapshot was taken must not leak into it.
	store.UpdateMetadata("chat@c.us", map[string]string{"lang": "pt"})
	store.Append("chat@c.us", RoleUser, "again")

	if snapshot.Metadata["lang"] != "en" {
		t.Errorf("snapshot metadata mutated: %+v", snapshot.Metadata)
	}
	if len(snapshot.Messages) != 1 {
		t.Errorf("snapshot messages mutated: %d entries", len(snapshot.Messages))
	}
}

func TestClear(t *testing.T) {
	store := NewStore(nil, nil)
	store.Append("chat@c.us", RoleUser, "hello")
	store.Clear("chat@c.us")
	if got := store.History("chat@c.us", 10); len(got) != 0 {
		t.Errorf("cleared session should be empty, got %d messages", len(got))
	}
}

func TestGetStats(t *testing.T) {
	store := NewStore(nil, nil)

	stats := store.GetStats()
	if stats.TotalSessions != 0 || stats.TotalMessages != 0 {
		t.Errorf("empty store stats = %+v", stats)
	}

	store.Append("a@c.us", RoleUser, "one")
	store.Append("a@c.us", RoleAssistant, "two")
	store.Append("b@c.us", RoleUser, "three")

	stats = store.GetStats()
	if stats.TotalSessions != 2 {
		t.Errorf("TotalSessions = %d, want 2", stats.TotalSessions)
	}
	if stats.TotalMessages != 3 {
		t.Errorf("TotalMessages = %d, want 3", stats.TotalMessages)
	}
	if stats.OldestSession == nil || stats.NewestSession == nil {
		t.Error("expected session timestamps to be set")
	}
}

func TestFilePersister(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "conversations.json")

	t.Run("round trip", func(t *testing.T) {
		p, err := NewFilePersister(path)
		if err != nil {
			t.Fatalf("NewFilePersister: %v", err)
		}

		store := NewStore(p, nil)
		store.Append("chat@c.us", RoleUser, "persist me")

		reloaded := NewStore(p, nil)
		got := reloaded.History("chat@c.us", 10)
		if len(got) != 1 || got[0].Content != "persist me" {
			t.Errorf("reloaded history = %+v", got)
		}
	})

	t.Run("missing file loads empty", func(t *testing.T) {
		p, err := NewFilePersister(filepath.Join(dir, "nothing.json"))
		if err != nil {
			t.Fatalf("NewFilePersister: %v", err)
		}
		sessions, err := p.Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(sessions) != 0 {
			t.Errorf("expected empty map, got %d sessions", len(sessions))
		}
	})

	t.Run("malformed file starts store empty", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(bad, []byte("{not json"), 0600); err != nil {
			t.Fatal(err)
		}
		p, err := NewFilePersister(bad)
		if err != nil {
			t.Fatalf("NewFilePersister: %v", err)
		}
		store := NewStore(p, nil)
		if stats := store.GetStats(); stats.TotalSessions != 0 {
			t.Errorf("expected empty store, got %+v", stats)
		}
	})
}
