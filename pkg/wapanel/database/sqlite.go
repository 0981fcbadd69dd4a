// Package database provides the SQLite-backed message index used by
// daily reports. Connection setup, schema migration, and health checks
// live here; the message queries are in messages.go.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is the version the migrator brings the database to.
const SchemaVersion = 1

// Config holds SQLite connection settings.
type Config struct {
	Path        string
	JournalMode string
	BusyTimeout int
}

// SQLite wraps the database connection with migration and health
// checking.
type SQLite struct {
	DB     *sql.DB
	Config Config

	Migrator *Migrator
	Health   *HealthChecker
}

// Open opens or creates the SQLite database and applies the schema.
func Open(config Config) (*SQLite, error) {
	if config.Path == "" {
		config.Path = "./data/wapanel.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5000
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d", config.Path, config.JournalMode, config.BusyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", config.Path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{
		DB:       db,
		Config:   config,
		Migrator: NewMigrator(db),
		Health:   NewHealthChecker(db),
	}

	if err := s.Migrator.Migrate(SchemaVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.DB.Close()
}

// Migrator handles schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a migrator.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// Migrate applies the schema up to the target version. The schema is
// idempotent via IF NOT EXISTS, so re-running is safe.
func (m *Migrator) Migrate(target int) error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}

	if _, err := m.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if current == 0 {
		_, err = m.db.Exec("INSERT INTO schema_version (version) VALUES (?)", target)
		if err != nil && !isDuplicateKeyError(err) {
			return fmt.Errorf("record migration: %w", err)
		}
	}

	return nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		timestamp INTEGER,
		phone TEXT,
		sender_name TEXT,
		group_name TEXT,
		body TEXT,
		has_media BOOLEAN,
		media_description TEXT,
		is_group BOOLEAN
	);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
`

func isDuplicateKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// HealthChecker monitors database health.
type HealthChecker struct {
	db *sql.DB
}

// NewHealthChecker creates a health checker.
func NewHealthChecker(db *sql.DB) *HealthChecker {
	return &HealthChecker{db: db}
}

// Ping checks database connectivity.
func (h *HealthChecker) Ping() error {
	return h.db.Ping()
}

// Status returns detailed health status for the dashboard.
func (h *HealthChecker) Status() map[string]any {
	stats := h.db.Stats()

	var version string
	if err := h.db.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		version = "unknown"
	}

	return map[string]any{
		"healthy":          h.db.Ping() == nil,
		"version":          version,
		"open_conns":       stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration_ms": stats.WaitDuration.Milliseconds(),
	}
}
