package cmlyst

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database holding the posts, settings and
// users tables. All access goes through parameterized statements;
// caller values are never interpolated into SQL text.
type Store struct {
	db   *sql.DB
	name string
}

// Opened stores are registered process-wide under their logical name,
// mirroring how engines share one connection pool: opening a name that
// is already registered is a no-op returning the existing store.
var (
	storesMu sync.Mutex
	stores   = map[string]*Store{}
)

// OpenStore opens (or creates) the database at <root>/cmlyst.sqlite
// under the given logical connection name. On first creation the
// schema is initialized exactly once.
func OpenStore(root, name string) (*Store, error) {
	storesMu.Lock()
	defer storesMu.Unlock()

	if s, ok := stores[name]; ok {
		return s, nil
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cmlyst: create root dir: %w", err)
	}
	path := filepath.Join(root, "cmlyst.sqlite")
	_, statErr := os.Stat(path)
	create := os.IsNotExist(statErr)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cmlyst: open database: %w", err)
	}
	// WAL keeps readers unblocked while a write is in flight; the busy
	// timeout makes writers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cmlyst: configure database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cmlyst: ping database: %w", err)
	}

	s := &Store{db: db, name: name}
	if create {
		if err := s.createSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("cmlyst: create schema: %w", err)
		}
	}
	stores[name] = s
	return s, nil
}

// Close closes the database and releases the logical connection name.
func (s *Store) Close() error {
	storesMu.Lock()
	delete(stores, s.name)
	storesMu.Unlock()
	return s.db.Close()
}

func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE posts
		( id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT
		, uuid TEXT NOT NULL UNIQUE
		, path TEXT NOT NULL UNIQUE
		, title TEXT
		, content TEXT
		, html TEXT
		, language TEXT
		, status TEXT
		, meta_title TEXT
		, meta_description TEXT
		, page BOOL NOT NULL
		, published BOOL NOT NULL
		, allow_comments BOOL NOT NULL
		, author_id INTEGER
		, created_at datetime NOT NULL
		, created_by INTEGER
		, updated_at datetime
		, updated_by INTEGER
		, published_at datetime
		, published_by INTEGER
		)`,
		`CREATE TABLE settings
		( key TEXT NOT NULL PRIMARY KEY
		, value TEXT
		)`,
		`CREATE TABLE users
		( id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT
		, slug TEXT NOT NULL UNIQUE
		, email TEXT NOT NULL UNIQUE
		, password TEXT NOT NULL
		, json TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
