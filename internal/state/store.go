// Package state persists configuration snapshots.
//
// Every successful load on the engine is recorded as an exported
// configuration document so the previous ruleset can be inspected or
// restored after a restart. Storage is SQLite through the pure Go
// modernc.org/sqlite driver.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Common errors
var (
	ErrNotFound    = errors.New("snapshot not found")
	ErrStoreClosed = errors.New("store is closed")
)

// Snapshot is one persisted configuration document.
type Snapshot struct {
	ID        string
	Version   uint64
	CreatedAt time.Time
	Reason    string
	Rules     int
	Data      []byte
}

// Store is the snapshot storage interface.
type Store interface {
	Save(ctx context.Context, reason string, rules int, data []byte) (*Snapshot, error)
	Get(ctx context.Context, id string) (*Snapshot, error)
	Latest(ctx context.Context) (*Snapshot, error)
	// List returns snapshot metadata, newest first. Data is not loaded.
	List(ctx context.Context, limit int) ([]Snapshot, error)
	CurrentVersion() uint64
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.Mutex
	version uint64
	closed  bool
	keep    int
	now     func() time.Time
}

// Options configures the SQLite store.
type Options struct {
	Path    string
	WALMode bool
	// Keep bounds the number of retained snapshots; zero keeps all.
	Keep int
}

// DefaultOptions returns options for a file-backed store.
func DefaultOptions(path string) Options {
	return Options{
		Path:    path,
		WALMode: true,
		Keep:    50,
	}
}

// NewSQLiteStore opens or creates the snapshot database.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && opts.Path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would be a different database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, keep: opts.Keep, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.loadVersion(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load version: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			created_at DATETIME NOT NULL,
			reason TEXT NOT NULL,
			rules INTEGER NOT NULL,
			data BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_version ON snapshots(version);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) loadVersion() error {
	var v sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(version) FROM snapshots").Scan(&v); err != nil {
		return err
	}
	if v.Valid {
		s.version = uint64(v.Int64)
	}
	return nil
}

// Save records a new snapshot and prunes old ones beyond the retention
// bound.
func (s *SQLiteStore) Save(ctx context.Context, reason string, rules int, data []byte) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	snap := &Snapshot{
		ID:        uuid.NewString(),
		Version:   s.version + 1,
		CreatedAt: s.now().UTC(),
		Reason:    reason,
		Rules:     rules,
		Data:      append([]byte{}, data...),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO snapshots (id, version, created_at, reason, rules, data) VALUES (?, ?, ?, ?, ?, ?)",
		snap.ID, snap.Version, snap.CreatedAt, snap.Reason, snap.Rules, snap.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	if s.keep > 0 {
		_, err = tx.ExecContext(ctx, "DELETE FROM snapshots WHERE version <= ?", int64(snap.Version)-int64(s.keep))
		if err != nil {
			return nil, fmt.Errorf("failed to prune snapshots: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.version = snap.Version
	return snap, nil
}

// Get loads a snapshot by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	return s.queryOne(ctx, "SELECT id, version, created_at, reason, rules, data FROM snapshots WHERE id = ?", id)
}

// Latest loads the most recent snapshot.
func (s *SQLiteStore) Latest(ctx context.Context) (*Snapshot, error) {
	return s.queryOne(ctx, "SELECT id, version, created_at, reason, rules, data FROM snapshots ORDER BY version DESC LIMIT 1")
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var snap Snapshot
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&snap.ID, &snap.Version, &snap.CreatedAt, &snap.Reason, &snap.Rules, &snap.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &snap, nil
}

// List returns snapshot metadata, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, version, created_at, reason, rules FROM snapshots ORDER BY version DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.Version, &snap.CreatedAt, &snap.Reason, &snap.Rules); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// CurrentVersion returns the version of the newest snapshot.
func (s *SQLiteStore) CurrentVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
