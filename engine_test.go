package cmlyst

import (
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// dbSeq gives every test engine its own logical connection name so the
// process-wide store registry never crosses test boundaries.
var dbSeq atomic.Int64

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Root:         t.TempDir(),
		DatabaseName: fmt.Sprintf("cmlyst-test-%d", dbSeq.Add(1)),
	}
}

func setupTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return setupTestEngineAt(t, testConfig(t), opts...)
}

func setupTestEngineAt(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// newRequestContext builds a fresh echo context standing in for one
// inbound request.
func newRequestContext() echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return e.NewContext(req, httptest.NewRecorder())
}

// testClock yields a strictly increasing time so successive settings
// writes always produce distinct modified tokens.
func testClock() func() time.Time {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

// rawSetting reads one settings row straight from the store, bypassing
// the cache. An absent key reads as the empty string.
func rawSetting(t *testing.T, e *Engine, key string) string {
	t.Helper()
	var value string
	err := e.store.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return ""
	}
	if err != nil {
		t.Fatalf("failed to read setting %q: %v", key, err)
	}
	return value
}

func countRows(t *testing.T, e *Engine, table string) int {
	t.Helper()
	var n int
	if err := e.store.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("failed to count %s rows: %v", table, err)
	}
	return n
}
