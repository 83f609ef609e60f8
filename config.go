package cmlyst

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
)

// Config holds engine configuration. Zero-valued fields fall back to
// defaults when the engine is created.
type Config struct {
	// Root is the site root directory. The database file lives at
	// <Root>/cmlyst.sqlite and theme assets under <Root>/themes.
	Root string `env:"CMLYST_ROOT"`

	// DatabaseName is the logical connection name (default "cmlyst").
	// Opening the same name twice in one process shares a single store.
	DatabaseName string `env:"CMLYST_DATABASE_NAME"`

	// ThemesDir overrides the directory holding theme asset
	// directories (default "<Root>/themes").
	ThemesDir string `env:"CMLYST_THEMES_DIR"`
}

func (c *Config) setDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.DatabaseName == "" {
		c.DatabaseName = "cmlyst"
	}
	if c.ThemesDir == "" {
		c.ThemesDir = filepath.Join(c.Root, "themes")
	}
}

// ConfigFromEnv builds a Config from CMLYST_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("cmlyst: parse env config: %w", err)
	}
	return cfg, nil
}

// Option configures additional Engine behavior.
type Option func(*Engine)

// WithLogger sets the logger used for diagnostics. The default logger
// discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithThemeReconciler registers the callback invoked with the active
// theme's asset directory whenever the "theme" setting changes.
func WithThemeReconciler(fn ThemeReconciler) Option {
	return func(e *Engine) {
		e.reconcileTheme = fn
	}
}

// WithClock overrides the time source used for the "modified" token
// and for page timestamp defaults.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}
