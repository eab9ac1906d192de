// Package db is the optional SQLite event journal. It records what the
// relay did (process lifecycle, turns, commands), never conversation text.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Event type constants: process lifecycle.
const (
	EventProcessStarted  = "process.started"
	EventProcessStopped  = "process.stopped"
	EventPollFailed      = "poll.failed"
	EventCircuitOpened   = "circuit.opened"
	EventCircuitHalfOpen = "circuit.half_open"
	EventCircuitClosed   = "circuit.closed"
)

// Event type constants: message handling.
const (
	EventMessageReceived = "message.received"
	EventCommandHandled  = "command.handled"
	EventTurnCompleted   = "turn.completed"
	EventTurnFailed      = "turn.failed"
	EventHandlerPanicked = "handler.panicked"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates the events table.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	`)
	return err
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// Journal attaches events to a single process root. The zero Journal and a
// nil *Journal discard everything, so callers need no enabled checks.
type Journal struct {
	db *sql.DB

	mu     sync.Mutex
	rootID *int64
}

// NewJournal wraps an initialised database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Start records process.started and makes it the parent of later events.
func (j *Journal) Start(payload map[string]any) error {
	if j == nil || j.db == nil {
		return nil
	}
	id, err := LogEvent(j.db, nil, EventProcessStarted, payload)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.rootID = &id
	j.mu.Unlock()
	return nil
}

// Log records an event under the process root and returns its id. parent,
// when non-nil, overrides the root.
func (j *Journal) Log(parent *int64, eventType string, payload map[string]any) (int64, error) {
	if j == nil || j.db == nil {
		return 0, nil
	}
	if parent == nil {
		j.mu.Lock()
		parent = j.rootID
		j.mu.Unlock()
	}
	return LogEvent(j.db, parent, eventType, payload)
}
