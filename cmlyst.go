// Package cmlyst is the persistence and in-memory caching layer of the
// cmlyst content engine. It stores pages, site settings, navigation
// menus and user records in SQLite, and mirrors settings-derived state
// (settings, menus, users, site time zone) in process memory. The
// mirror is refreshed whenever the persisted "modified" token moves, so
// request handling normally costs at most one staleness probe per
// request instead of a full round trip per access.
//
// The engine is framework-agnostic: HTTP routing, authentication and
// template rendering live in callers. The only touch points are the
// echo request context, used to memoize one staleness probe per
// request, and an optional theme-reconciler callback told where the
// active theme's assets live.
package cmlyst

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested page does not exist.
var ErrNotFound = sql.ErrNoRows

// ErrIntegrity is returned when an affected-row count contradicts the
// store's uniqueness invariants, e.g. a delete by id touching more than
// one row.
var ErrIntegrity = errors.New("cmlyst: integrity violation")

// ThemeReconciler is invoked with the absolute path of the active
// theme's asset directory whenever the "theme" setting changes.
type ThemeReconciler func(dir string)

// Engine owns the store handle and the in-memory mirrors of the
// settings, menu and user tables. One Engine instance is shared by all
// requests of a process; all methods are safe for concurrent use.
type Engine struct {
	cfg            Config
	store          *Store
	log            *zap.Logger
	now            func() time.Time
	reconcileTheme ThemeReconciler

	// mu serializes cache reloads and guards every field below.
	// Reloads build new containers and swap them in whole, so readers
	// holding the old ones keep a consistent snapshot.
	mu             sync.RWMutex
	settings       map[string]string
	lastModified   int64
	lastModifiedAt time.Time
	loc            *time.Location
	menus          []*Menu
	menuLocations  map[string]*Menu
	users          []User
	usersByID      map[int64]User
	usersBySlug    map[string]User
	theme          string
}

// New opens (or joins) the store named by cfg and returns an engine
// with empty caches. The first LoadSettings call populates them.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.setDefaults()

	e := &Engine{
		cfg:          cfg,
		log:          zap.NewNop(),
		now:          time.Now,
		lastModified: neverLoaded,
	}
	for _, opt := range opts {
		opt(e)
	}

	store, err := OpenStore(cfg.Root, cfg.DatabaseName)
	if err != nil {
		return nil, err
	}
	e.store = store
	return e, nil
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// LastModified reports the time of the last committed settings
// mutation, as observed by this engine's cache. The zero time means the
// cache has never been loaded.
func (e *Engine) LastModified() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastModifiedAt
}

// location returns the site time zone derived from the "timezone"
// setting, falling back to the process local zone before the first
// load.
func (e *Engine) location() *time.Location {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.loc != nil {
		return e.loc
	}
	return time.Local
}
