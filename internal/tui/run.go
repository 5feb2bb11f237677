package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Review opens the audit review screen for one job and blocks until the user quits.
func Review(ctx context.Context, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Storage == nil {
		return fmt.Errorf("storage is required")
	}
	if cfg.JobID == "" {
		return fmt.Errorf("job id is required")
	}

	program := tea.NewProgram(newModel(cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("review UI failed: %w", err)
	}
	return nil
}
