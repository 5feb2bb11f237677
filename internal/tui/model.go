// Package tui implements the interactive audit review screen.
package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/service"
	"github.com/Veraticus/redactor/internal/tui/themes"
)

// View is the table currently shown.
type View int

const (
	ViewAudit View = iota
	ViewErrors
)

// Model holds the review TUI state.
type Model struct {
	theme    themes.Theme
	lastErr  error
	job      *service.JobRecord
	table    table.Model
	help     help.Model
	config   Config
	keymap   KeyMap
	audit    []model.AuditEntry
	errors   []model.UnitError
	filter   string
	width    int
	height   int
	view     View
	ready    bool
	quitting bool
}

func newModel(cfg Config) Model {
	keymap := DefaultKeyMap()
	m := Model{
		config: cfg,
		theme:  cfg.Theme,
		keymap: keymap,
		help:   help.New(),
		width:  cfg.Width,
		height: cfg.Height,
	}

	styles := table.DefaultStyles()
	styles.Header = cfg.Theme.Header
	styles.Selected = cfg.Theme.Selected

	m.table = table.New(
		table.WithColumns(auditColumns()),
		table.WithFocused(true),
		table.WithStyles(styles),
		table.WithKeyMap(table.KeyMap{
			LineUp:     keymap.Up,
			LineDown:   keymap.Down,
			PageUp:     keymap.PageUp,
			PageDown:   keymap.PageDown,
			GotoTop:    keymap.Home,
			GotoBottom: keymap.End,
		}),
	)
	m.handleResize()
	return m
}

// Init loads the job.
func (m Model) Init() tea.Cmd {
	return m.loadJob()
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keymap.ToggleHelp):
			m.help.ShowAll = !m.help.ShowAll
			m.handleResize()
			return m, nil
		case key.Matches(msg, m.keymap.ToggleView):
			if m.view == ViewAudit {
				m.view = ViewErrors
			} else {
				m.view = ViewAudit
			}
			m.refreshTable()
			return m, nil
		case key.Matches(msg, m.keymap.ToggleFilter):
			m.filter = nextCategory(m.categories(), m.filter)
			m.refreshTable()
			return m, nil
		case key.Matches(msg, m.keymap.ClearFilter):
			m.filter = ""
			m.refreshTable()
			return m, nil
		case key.Matches(msg, m.keymap.Refresh):
			return m, m.loadJob()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.handleResize()
		return m, nil

	case jobLoadedMsg:
		m.ready = true
		m.lastErr = msg.err
		if msg.err == nil {
			m.job = msg.job
			m.audit = msg.audit
			m.errors = msg.errors
			if !slices.Contains(m.categories(), m.filter) {
				m.filter = ""
			}
			m.refreshTable()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return m.theme.Subtitle.Render("Loading job " + m.config.JobID + "...")
	}
	if m.lastErr != nil {
		return m.theme.StatusError.Render("Error: "+m.lastErr.Error()) + "\n\n" + m.help.View(m.keymap)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderTabs(),
		m.table.View(),
		m.help.View(m.keymap),
	)
}

// CurrentView returns the table being shown.
func (m Model) CurrentView() View { return m.view }

// Filter returns the active category filter, empty for all.
func (m Model) Filter() string { return m.filter }

// Rows returns the rows currently in the table.
func (m Model) Rows() []table.Row { return m.table.Rows() }

func (m *Model) handleResize() {
	reserved := 8
	if m.help.ShowAll {
		reserved += 3
	}
	m.table.SetHeight(max(m.height-reserved, 3))
	m.table.SetWidth(max(m.width-2, 40))
}

func (m *Model) refreshTable() {
	if m.view == ViewErrors {
		m.table.SetRows(nil)
		m.table.SetColumns(errorColumns())
		m.table.SetRows(errorRows(m.errors))
	} else {
		m.table.SetRows(nil)
		m.table.SetColumns(auditColumns())
		m.table.SetRows(auditRows(m.audit, m.filter))
	}
	m.table.GotoTop()
}

func (m Model) categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range m.audit {
		if !seen[e.Category] {
			seen[e.Category] = true
			out = append(out, e.Category)
		}
	}
	slices.Sort(out)
	return out
}

// nextCategory cycles through categories, returning to "" after the last.
func nextCategory(categories []string, current string) string {
	if len(categories) == 0 {
		return ""
	}
	if current == "" {
		return categories[0]
	}
	i := slices.Index(categories, current)
	if i < 0 || i == len(categories)-1 {
		return ""
	}
	return categories[i+1]
}

func (m Model) renderHeader() string {
	if m.job == nil {
		return ""
	}
	status := m.statusStyle(m.job.Status).Render(string(m.job.Status))
	if m.job.Status == "" {
		status = m.theme.StatusInfo.Render("Running")
	}

	lines := []string{
		m.theme.Title.UnsetMargins().Render("Job " + m.job.ID),
		fmt.Sprintf("%s  %s   %s  %s   %s  %s",
			m.theme.Subtitle.Render("status"), status,
			m.theme.Subtitle.Render("format"), m.job.Format,
			m.theme.Subtitle.Render("stage"), m.job.Stage),
	}
	if r := m.job.Result; r != nil {
		lines = append(lines, fmt.Sprintf("%d units: %d succeeded, %d failed, %d degraded. %d redactions.",
			r.Processed, r.Succeeded, r.Failed, r.Degraded, len(m.audit)))
	}
	if m.job.Message != "" {
		lines = append(lines, m.theme.StatusError.Render(m.job.Message))
	}
	return m.theme.RoundedBox.Render(strings.Join(lines, "\n"))
}

func (m Model) renderTabs() string {
	audit := fmt.Sprintf(" Audit (%d) ", len(m.audit))
	errs := fmt.Sprintf(" Errors (%d) ", len(m.errors))
	if m.view == ViewAudit {
		audit = m.theme.Selected.Render(audit)
	} else {
		errs = m.theme.Selected.Render(errs)
	}
	tabs := audit + " " + errs
	if m.filter != "" && m.view == ViewAudit {
		tabs += "  " + m.theme.Subtitle.Render("category: "+m.filter)
	}
	return tabs
}

func (m Model) statusStyle(status model.Status) lipgloss.Style {
	switch status {
	case model.StatusSuccess:
		return m.theme.StatusSuccess
	case model.StatusPartialFailure, model.StatusCancelled:
		return m.theme.StatusWarning
	default:
		return m.theme.StatusError
	}
}

func auditColumns() []table.Column {
	return []table.Column{
		{Title: "Unit", Width: 24},
		{Title: "Category", Width: 16},
		{Title: "Location", Width: 22},
		{Title: "Strategy", Width: 10},
		{Title: "Source", Width: 12},
		{Title: "Conf", Width: 5},
	}
}

func errorColumns() []table.Column {
	return []table.Column{
		{Title: "Unit", Width: 24},
		{Title: "Detector", Width: 12},
		{Title: "Kind", Width: 22},
		{Title: "Message", Width: 40},
	}
}

func auditRows(entries []model.AuditEntry, category string) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		if category != "" && e.Category != category {
			continue
		}
		location := fmt.Sprintf("bytes %d-%d", e.Start, e.End)
		if e.Box != nil {
			location = fmt.Sprintf("box %d,%d %dx%d", e.Box.MinX, e.Box.MinY, e.Box.MaxX-e.Box.MinX, e.Box.MaxY-e.Box.MinY)
		}
		rows = append(rows, table.Row{
			e.UnitID,
			e.Category,
			location,
			string(e.Strategy),
			string(e.Source),
			fmt.Sprintf("%.2f", e.Confidence),
		})
	}
	return rows
}

func errorRows(errs []model.UnitError) []table.Row {
	rows := make([]table.Row, 0, len(errs))
	for _, e := range errs {
		rows = append(rows, table.Row{e.UnitID, string(e.Detector), string(e.Kind), e.Message})
	}
	return rows
}
