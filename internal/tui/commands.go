package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// loadJob reads the job, its audit log and its unit errors from storage.
func (m Model) loadJob() tea.Cmd {
	storage := m.config.Storage
	id := m.config.JobID

	return func() tea.Msg {
		if storage == nil {
			return jobLoadedMsg{err: fmt.Errorf("storage not configured")}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := storage.GetJob(ctx, id)
		if err != nil {
			return jobLoadedMsg{err: fmt.Errorf("failed to load job %s: %w", id, err)}
		}
		audit, err := storage.GetAuditEntries(ctx, id)
		if err != nil {
			return jobLoadedMsg{err: fmt.Errorf("failed to load audit log: %w", err)}
		}
		unitErrors, err := storage.GetUnitErrors(ctx, id)
		if err != nil {
			return jobLoadedMsg{err: fmt.Errorf("failed to load unit errors: %w", err)}
		}

		return jobLoadedMsg{job: job, audit: audit, errors: unitErrors}
	}
}
