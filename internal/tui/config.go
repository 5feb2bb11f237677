package tui

import (
	"github.com/Veraticus/redactor/internal/service"
	"github.com/Veraticus/redactor/internal/tui/themes"
)

// Config holds TUI configuration.
type Config struct {
	Theme   themes.Theme
	Storage service.Storage
	JobID   string
	Width   int
	Height  int
}

// Option is a functional option for configuring the TUI.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Theme:  themes.Default,
		Width:  100,
		Height: 24,
	}
}

// WithStorage sets the job store.
func WithStorage(storage service.Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

// WithJob selects the job to review.
func WithJob(id string) Option {
	return func(c *Config) {
		c.JobID = id
	}
}

// WithTheme sets the visual theme.
func WithTheme(theme themes.Theme) Option {
	return func(c *Config) {
		c.Theme = theme
	}
}

// WithSize sets the initial terminal size.
func WithSize(width, height int) Option {
	return func(c *Config) {
		c.Width = width
		c.Height = height
	}
}
