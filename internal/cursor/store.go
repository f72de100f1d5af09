package cursor

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the explicit keyed watermark store: device id to the exclusive
// upper bound already processed. Each device unit owns its own entry; the
// orchestration loop passes the store in rather than sharing ambient state.
type Store interface {
	// Get returns the watermark for a device, ok=false on first run.
	Get(deviceID string) (time.Time, bool, error)
	// Put records the watermark for a device.
	Put(deviceID string, watermark time.Time) error
	Close() error
}

// SQLiteStore persists watermarks so a restart resumes where the previous
// run left off instead of re-fetching the whole backlog.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the state database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS watermarks (
			device_id  TEXT PRIMARY KEY,
			watermark  TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create watermarks table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(deviceID string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRow("SELECT watermark FROM watermarks WHERE device_id = ?", deviceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read watermark: %w", err)
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt watermark %q for device %s: %w", raw, deviceID, err)
	}
	return t, true, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(deviceID string, watermark time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO watermarks (device_id, watermark, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET watermark = excluded.watermark, updated_at = excluded.updated_at`,
		deviceID, watermark.Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore is the in-memory Store used by tests and one-shot runs that do
// not need persistence.
type MemoryStore struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]time.Time)}
}

// Get implements Store.
func (s *MemoryStore) Get(deviceID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.marks[deviceID]
	return t, ok, nil
}

// Put implements Store.
func (s *MemoryStore) Put(deviceID string, watermark time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[deviceID] = watermark
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
