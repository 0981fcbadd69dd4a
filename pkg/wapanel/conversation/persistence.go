package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilePersister stores the session map as a single JSON document on
// disk.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister writing to path, ensuring the
// parent directory exists.
func NewFilePersister(path string) (*FilePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FilePersister{path: path}, nil
}

// Load reads the persisted session map. A missing file yields an empty
// map; malformed JSON is reported so the caller can decide to start
// fresh.
func (p *FilePersister) Load() (map[string]*Session, error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]*Session{}, nil
		}
		return nil, fmt.Errorf("read conversations: %w", err)
	}

	var sessions map[string]*Session
	if err := json.Unmarshal(b, &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal conversations: %w", err)
	}
	if sessions == nil {
		sessions = map[string]*Session{}
	}
	return sessions, nil
}

// Save writes the full session map, replacing the previous contents.
func (p *FilePersister) Save(sessions map[string]*Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversations: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0600); err != nil {
		return fmt.Errorf("write conversations: %w", err)
	}
	return nil
}
