package cmlyst

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSetAndGetSettingsValue(t *testing.T) {
	e := setupTestEngine(t)
	c := newRequestContext()

	if err := e.SetSettingsValue(c, "title", "My Site"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	if got := e.SettingsValue(newRequestContext(), "title"); got != "My Site" {
		t.Errorf("SettingsValue = %q, want %q", got, "My Site")
	}
}

func TestSettingsValueDefault(t *testing.T) {
	e := setupTestEngine(t)

	if got := e.SettingsValue(newRequestContext(), "missing", "fallback"); got != "fallback" {
		t.Errorf("SettingsValue = %q, want %q", got, "fallback")
	}
	if got := e.SettingsValue(newRequestContext(), "missing"); got != "" {
		t.Errorf("SettingsValue = %q, want empty", got)
	}
}

func TestModifiedTokenMonotonic(t *testing.T) {
	e := setupTestEngine(t, WithClock(testClock()))

	var last int64
	for i, key := range []string{"a", "b", "c", "d"} {
		if err := e.SetSettingsValue(newRequestContext(), key, "v"); err != nil {
			t.Fatalf("SetSettingsValue failed: %v", err)
		}
		raw := rawSetting(t, e, "modified")
		token, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			t.Fatalf("modified token %q is not an integer: %v", raw, err)
		}
		if token < last {
			t.Errorf("write %d: modified token went backwards: %d < %d", i, token, last)
		}
		last = token
	}
}

func TestWriterObservesOwnWrite(t *testing.T) {
	e := setupTestEngine(t)
	c := newRequestContext()

	if err := e.SetSettingsValue(c, "color", "blue"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	// Same request context: the write path dropped the memo, so the
	// cache already reflects the write.
	if got := e.SettingsValue(c, "color"); got != "blue" {
		t.Errorf("SettingsValue = %q, want %q", got, "blue")
	}
}

func TestCrossInstanceVisibility(t *testing.T) {
	cfg := testConfig(t)
	a := setupTestEngineAt(t, cfg)
	b := setupTestEngineAt(t, cfg)

	if err := a.SetSettingsValue(newRequestContext(), "color", "green"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	if got := b.SettingsValue(newRequestContext(), "color"); got != "green" {
		t.Errorf("second instance read %q, want %q", got, "green")
	}
}

func TestLoadSettingsMemoizedPerRequest(t *testing.T) {
	e := setupTestEngine(t, WithClock(testClock()))
	c := newRequestContext()

	if err := e.SetSettingsValue(c, "color", "red"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	// Mutate the store behind the engine's back, token included.
	if _, err := e.store.db.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES ('color', 'yellow')`); err != nil {
		t.Fatalf("raw update failed: %v", err)
	}
	if _, err := e.store.db.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES ('modified', '9999999999')`); err != nil {
		t.Fatalf("raw update failed: %v", err)
	}

	// Same request: the memo short-circuits the staleness probe, so
	// the stale value is still served.
	if got := e.SettingsValue(c, "color"); got != "red" {
		t.Errorf("memoized read = %q, want stale %q", got, "red")
	}

	// A new request probes the store again and picks up the change.
	if got := e.SettingsValue(newRequestContext(), "color"); got != "yellow" {
		t.Errorf("fresh request read = %q, want %q", got, "yellow")
	}
}

func TestLoadSettingsIdempotentWithoutWrites(t *testing.T) {
	e := setupTestEngine(t)
	c := newRequestContext()

	if err := e.SetSettingsValue(newRequestContext(), "color", "red"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	first := e.LoadSettings(c)
	second := e.LoadSettings(c)
	if len(first) != len(second) {
		t.Fatalf("cache changed between loads: %d keys then %d", len(first), len(second))
	}
	for k, v := range first {
		if second[k] != v {
			t.Errorf("key %q changed between loads: %q then %q", k, v, second[k])
		}
	}
}

func TestLoadSettingsReturnsCopy(t *testing.T) {
	e := setupTestEngine(t)

	if err := e.SetSettingsValue(newRequestContext(), "title", "My Site"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	settings := e.LoadSettings(newRequestContext())
	settings["title"] = "scribbled"
	delete(settings, "modified")

	if got := e.SettingsValue(newRequestContext(), "title"); got != "My Site" {
		t.Errorf("cached value = %q, want %q after mutating a returned map", got, "My Site")
	}
	if got := e.LoadSettings(newRequestContext())["title"]; got != "My Site" {
		t.Errorf("second load = %q, want %q", got, "My Site")
	}
}

func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	e := setupTestEngine(t, WithClock(testClock()))
	authorID := insertUser(t, e, "eve", "eve@example.com", `{"name": "Eve"}`)

	if err := e.SetSettingsValue(newRequestContext(), "marker", "0:0"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup

	// Single writer: the test clock is not safe for concurrent use.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 1; i <= 25; i++ {
			v := strconv.Itoa(i)
			if err := e.SetSettingsValue(newRequestContext(), "marker", v+":"+v); err != nil {
				t.Errorf("SetSettingsValue failed: %v", err)
				return
			}
			if err := e.SaveMenu(newRequestContext(), &Menu{ID: "main", Name: "menu " + v}); err != nil {
				t.Errorf("SaveMenu failed: %v", err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-done:
					return
				default:
				}

				// Both halves of the marker were written in one
				// transaction, so a reader must never see them split.
				marker := e.LoadSettings(newRequestContext())["marker"]
				parts := strings.SplitN(marker, ":", 2)
				if len(parts) != 2 || parts[0] != parts[1] {
					t.Errorf("torn marker value %q", marker)
					return
				}
				seq, err := strconv.Atoi(parts[0])
				if err != nil {
					t.Errorf("marker %q is not numeric: %v", marker, err)
					return
				}
				if seq < last {
					t.Errorf("marker went backwards: %d after %d", seq, last)
					return
				}
				last = seq

				e.Menus(newRequestContext())
				if _, ok := e.UserByID(authorID); !ok {
					t.Errorf("user %d missing from cache", authorID)
					return
				}
			}
		}()
	}

	wg.Wait()
}

func TestModifiedKeyNotWritableDirectly(t *testing.T) {
	clock := testClock()
	e := setupTestEngine(t, WithClock(clock))

	if err := e.SetSettingsValue(newRequestContext(), "modified", "12345"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	raw := rawSetting(t, e, "modified")
	if raw == "12345" {
		t.Error("caller-supplied modified value was persisted; the token must come from the clock")
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		t.Errorf("modified token %q is not an integer: %v", raw, err)
	}
}

func TestLastModified(t *testing.T) {
	e := setupTestEngine(t, WithClock(testClock()))

	if !e.LastModified().IsZero() {
		t.Error("LastModified should be zero before the first load")
	}

	if err := e.SetSettingsValue(newRequestContext(), "color", "red"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	got := e.LastModified()
	if got.IsZero() {
		t.Fatal("LastModified should be set after a write")
	}
	want, _ := strconv.ParseInt(rawSetting(t, e, "modified"), 10, 64)
	if got.Unix() != want {
		t.Errorf("LastModified = %d, want %d", got.Unix(), want)
	}
}

func TestThemeReconcilerInvokedOncePerChange(t *testing.T) {
	var darkCalls int
	var lastDir string
	reconcile := func(dir string) {
		lastDir = dir
		if strings.HasSuffix(dir, "/dark") {
			darkCalls++
		}
	}

	e := setupTestEngine(t, WithClock(testClock()), WithThemeReconciler(reconcile))

	if err := e.SetSettingsValue(newRequestContext(), "theme", "dark"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}
	if darkCalls != 1 {
		t.Fatalf("reconciler invoked %d times for theme change, want 1", darkCalls)
	}
	if !strings.HasSuffix(lastDir, "/dark") {
		t.Errorf("reconciler got dir %q, want a path ending in /dark", lastDir)
	}

	// Writing the same theme again bumps the token and reloads, but
	// the theme did not change, so the reconciler stays quiet.
	if err := e.SetSettingsValue(newRequestContext(), "theme", "dark"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}
	e.LoadSettings(newRequestContext())
	if darkCalls != 1 {
		t.Errorf("reconciler invoked %d times after unchanged rewrite, want 1", darkCalls)
	}
}

func TestTimezoneSettingConvertsPageTimestamps(t *testing.T) {
	e := setupTestEngine(t, WithClock(testClock()))

	if err := e.SetSettingsValue(newRequestContext(), "timezone", "America/Sao_Paulo"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	created := time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC)
	page := &Page{Path: "/hello", Title: "Hello", Created: created, Updated: created, Published: created}
	if err := e.SavePage(page); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}

	got, err := e.GetPage("/hello")
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if got.Created.Location().String() != "America/Sao_Paulo" {
		t.Errorf("Created zone = %q, want America/Sao_Paulo", got.Created.Location())
	}
	if !got.Created.Equal(created) {
		t.Errorf("Created = %v, want same instant as %v", got.Created, created)
	}
}

func TestInvalidTimezoneFallsBackToLocal(t *testing.T) {
	e := setupTestEngine(t, WithClock(testClock()))

	if err := e.SetSettingsValue(newRequestContext(), "timezone", "Not/AZone"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}

	if loc := e.location(); loc != time.Local {
		t.Errorf("location = %v, want time.Local", loc)
	}
}

func TestSettingsWriteFailureLeavesCacheUntouched(t *testing.T) {
	e := setupTestEngine(t, WithClock(testClock()))

	if err := e.SetSettingsValue(newRequestContext(), "color", "red"); err != nil {
		t.Fatalf("SetSettingsValue failed: %v", err)
	}
	tokenBefore := rawSetting(t, e, "modified")

	// Dropping the settings table makes the next write fail mid-transaction.
	if _, err := e.store.db.Exec(`ALTER TABLE settings RENAME TO settings_gone`); err != nil {
		t.Fatalf("failed to rename table: %v", err)
	}
	if err := e.SetSettingsValue(newRequestContext(), "color", "blue"); err == nil {
		t.Fatal("SetSettingsValue should fail without the settings table")
	}
	if _, err := e.store.db.Exec(`ALTER TABLE settings_gone RENAME TO settings`); err != nil {
		t.Fatalf("failed to restore table: %v", err)
	}

	if got := rawSetting(t, e, "color"); got != "red" {
		t.Errorf("persisted value = %q, want %q", got, "red")
	}
	if got := rawSetting(t, e, "modified"); got != tokenBefore {
		t.Errorf("modified token changed on failed write: %q -> %q", tokenBefore, got)
	}
	if got := e.SettingsValue(newRequestContext(), "color"); got != "red" {
		t.Errorf("cached value = %q, want %q", got, "red")
	}
}
