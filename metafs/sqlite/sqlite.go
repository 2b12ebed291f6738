package sqlite

import (
	"context"
	"database/sql"
	"sync"

	"github.com/tidwall/btree"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteFS stores metadata files in a SQLite database with two layers:
//
// Layer 1: In-memory B-tree for fast path lookups (loaded on Open)
// Layer 2: SQLite tables, disk_entries for path bindings and disk_contents
// for shared record content with explicit link counting
//
// Hard links are content-id bindings: Link inserts a second entry row
// pointing at the same disk_contents row and bumps its link count; content is
// deleted when the count drops to zero.
type SQLiteFS struct {
	mu sync.RWMutex
	db *sql.DB

	// path -> content id; directories are tracked with an empty id.
	keys *btree.Map[string, string]
}

// NewSQLiteFS creates a SQLite-backed metadata filesystem.
// The dbPath can be ":memory:" for an in-memory database or a file path.
func NewSQLiteFS(dbPath string) (*SQLiteFS, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// The database/sql pool breaks ":memory:" (each conn gets its own db).
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteFS{
		db:   db,
		keys: btree.NewMap[string, string](0),
	}, nil
}

// Returns the identifier name defined for this backend
func (*SQLiteFS) Name() string {
	return "sqlite"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (sf *SQLiteFS) Open(ctx context.Context) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if err := sf.initSchema(ctx); err != nil {
		return err
	}

	return sf.loadKeys(ctx)
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (sf *SQLiteFS) Close(ctx context.Context) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.keys.Clear()
	return sf.db.Close()
}

func (sf *SQLiteFS) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS disk_entries (
		path TEXT PRIMARY KEY,
		dir INTEGER NOT NULL DEFAULT 0,
		content_id TEXT,
		mod_time INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS disk_contents (
		id TEXT PRIMARY KEY,
		content BLOB NOT NULL,
		links INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_entries_content ON disk_entries(content_id);

	INSERT OR IGNORE INTO disk_entries (path, dir, mod_time) VALUES ('/', 1, strftime('%s','now'));
	`

	_, err := sf.db.ExecContext(ctx, schema)
	return err
}

// loadKeys rebuilds the in-memory path index from the entries table.
// MUST be called while holding the write lock.
func (sf *SQLiteFS) loadKeys(ctx context.Context) error {
	rows, err := sf.db.QueryContext(ctx, `SELECT path, content_id FROM disk_entries`)
	if err != nil {
		return err
	}
	defer rows.Close()

	sf.keys.Clear()
	for rows.Next() {
		var path string
		var id sql.NullString
		if err := rows.Scan(&path, &id); err != nil {
			return err
		}
		sf.keys.Set(path, id.String)
	}

	return rows.Err()
}
