package cmlyst

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// memoKey is the key under which the staleness probe result is
// memoized on the request context, so one request hits the store for
// the "modified" token at most once.
const memoKey = "cmlyst.modified"

// Reserved settings keys. "modified" is only ever written by the
// settings write path itself, never by callers.
const (
	settingModified = "modified"
	settingMenus    = "menus"
	settingTimezone = "timezone"
	settingTheme    = "theme"
)

// defaultTheme is used when no "theme" setting exists.
const defaultTheme = "default"

// neverLoaded is the lastModified sentinel forcing the next staleness
// check to treat the cache as stale. The persisted token is a Unix
// epoch in seconds and can never equal it.
const neverLoaded = -1

// LoadSettings returns the settings mirror, reloading it (and the menu
// and user caches with it) when the persisted "modified" token differs
// from the last one this engine saw. The staleness probe runs at most
// once per request: its result is memoized on c. A nil context simply
// skips the memo.
//
// The returned map is the caller's own copy; mutating it does not
// affect the cache.
func (e *Engine) LoadSettings(c echo.Context) map[string]string {
	e.ensureFresh(c)
	return e.settingsSnapshot()
}

// ensureFresh runs the staleness protocol: memo check, token probe,
// reload when the token moved.
func (e *Engine) ensureFresh(c echo.Context) {
	if c != nil {
		if _, ok := c.Get(memoKey).(int64); ok {
			return
		}
	}

	modified := e.readModified()
	if c != nil {
		c.Set(memoKey, modified)
	}

	e.mu.RLock()
	fresh := modified == e.lastModified
	e.mu.RUnlock()
	if !fresh {
		e.reload(modified)
	}
}

// SettingsValue returns the value stored under key, or def when the
// key is absent.
func (e *Engine) SettingsValue(c echo.Context, key string, def ...string) string {
	e.ensureFresh(c)

	e.mu.RLock()
	v, ok := e.settings[key]
	e.mu.RUnlock()
	if ok {
		return v
	}
	if len(def) > 0 {
		return def[0]
	}
	return ""
}

// SetSettingsValue writes key within a transaction that also bumps the
// "modified" token to the current UTC time in seconds, then resets the
// staleness sentinel and synchronously reloads so the writer's own
// next read observes the write. The reserved "modified" key cannot be
// written directly; asking for it only bumps the token.
//
// The token has one-second granularity: two commits within the same
// second produce equal tokens, so a concurrent reader that already saw
// the first may treat its cache as fresh past the second. Writers are
// unaffected because the sentinel reset forces their next check.
func (e *Engine) SetSettingsValue(c echo.Context, key, value string) error {
	tx, err := e.store.db.Begin()
	if err != nil {
		return fmt.Errorf("cmlyst: begin settings write: %w", err)
	}

	if key != settingModified {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
			tx.Rollback()
			e.log.Warn("failed to save setting", zap.String("key", key), zap.Error(err))
			return fmt.Errorf("cmlyst: save setting: %w", err)
		}
	}

	token := strconv.FormatInt(e.now().UTC().Unix(), 10)
	if _, err := tx.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, settingModified, token); err != nil {
		tx.Rollback()
		e.log.Warn("failed to save modified token", zap.Error(err))
		return fmt.Errorf("cmlyst: save setting: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cmlyst: commit settings write: %w", err)
	}

	e.mu.Lock()
	e.lastModified = neverLoaded
	e.lastModifiedAt = time.Time{}
	e.mu.Unlock()
	if c != nil {
		c.Set(memoKey, nil)
	}
	e.ensureFresh(c)
	return nil
}

func (e *Engine) settingsSnapshot() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snapshot := make(map[string]string, len(e.settings))
	for k, v := range e.settings {
		snapshot[k] = v
	}
	return snapshot
}

// readModified probes the store for the current "modified" token. A
// missing or malformed row reads as zero, which still differs from the
// neverLoaded sentinel and forces the initial load.
func (e *Engine) readModified() int64 {
	var raw string
	err := e.store.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, settingModified).Scan(&raw)
	if err != nil {
		if err != sql.ErrNoRows {
			e.log.Warn("failed to read modified token", zap.Error(err))
		}
		return 0
	}
	token, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.log.Warn("malformed modified token", zap.String("value", raw))
		return 0
	}
	return token
}

// reload rebuilds the settings, menu and user caches from the store as
// one unit. Everything is built into fresh containers and swapped in
// only after every load succeeded, so concurrent readers observe either
// the old or the new snapshot, never a partial one. Menus are decoded
// after settings because the menus document is itself a settings value.
func (e *Engine) reload(token int64) {
	e.mu.Lock()
	if token == e.lastModified {
		// Another request finished the same reload first.
		e.mu.Unlock()
		return
	}

	settings, err := e.loadSettingsRows()
	if err != nil {
		e.mu.Unlock()
		e.log.Warn("failed to load settings", zap.Error(err))
		return
	}

	loc := time.Local
	if tz := settings[settingTimezone]; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			e.log.Warn("invalid timezone setting", zap.String("timezone", tz))
		} else {
			loc = l
		}
	}

	menus, menuLocations := decodeMenus(settings[settingMenus], e.log)

	users, usersByID, usersBySlug, err := e.loadUsers()
	if err != nil {
		e.mu.Unlock()
		e.log.Warn("failed to load users", zap.Error(err))
		return
	}

	e.settings = settings
	e.lastModified = token
	e.lastModifiedAt = time.Unix(token, 0).UTC()
	e.loc = loc
	e.menus = menus
	e.menuLocations = menuLocations
	e.users = users
	e.usersByID = usersByID
	e.usersBySlug = usersBySlug

	theme := settings[settingTheme]
	if theme == "" {
		theme = defaultTheme
	}
	var themeDir string
	if theme != e.theme {
		e.theme = theme
		themeDir = filepath.Join(e.cfg.ThemesDir, theme)
	}
	e.mu.Unlock()

	e.log.Debug("caches reloaded",
		zap.Int64("modified", token),
		zap.Int("settings", len(settings)),
		zap.Int("menus", len(menus)),
		zap.Int("users", len(users)))

	// Invoked outside the lock so the reconciler may call back into
	// the engine.
	if themeDir != "" && e.reconcileTheme != nil {
		e.reconcileTheme(themeDir)
	}
}

func (e *Engine) loadSettingsRows() (map[string]string, error) {
	rows, err := e.store.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value.String
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return settings, nil
}
