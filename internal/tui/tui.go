// Package tui is an optional, read-only dashboard over the proxy's
// live request data, launched with --tui instead of running the proxy
// as a plain background process. It never mutates
// Active/Recent/Overrides; the HTTP control endpoints remain the only
// write surface.
package tui

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/thushan/codex-helper-proxy/internal/adapter/control"
	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/pkg/eventbus"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

type tickMsg time.Time

type recordMsg domain.RequestRecord

// Model is the root Bubble Tea model for the dashboard.
type Model struct {
	active  *control.ActiveTracker
	recent  *control.RecentRing
	events  <-chan domain.RequestRecord
	cancel  context.CancelFunc

	activeTable table.Model
	recentTable table.Model
	width       int
	height      int
}

// New builds a dashboard Model bound to a running process's shared
// control stores and its metrics EventBus. The stores already aggregate
// across every listen surface started by the application.
func New(active *control.ActiveTracker, recent *control.RecentRing, bus *eventbus.EventBus[domain.RequestRecord]) Model {
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Subscribe(ctx)

	activeCols := []table.Column{
		{Title: "Service", Width: 10},
		{Title: "Config", Width: 16},
		{Title: "Model", Width: 24},
		{Title: "Session", Width: 12},
		{Title: "Age", Width: 8},
	}
	recentCols := []table.Column{
		{Title: "Service", Width: 10},
		{Title: "Status", Width: 8},
		{Title: "Config", Width: 16},
		{Title: "Duration", Width: 10},
		{Title: "Retries", Width: 8},
	}

	return Model{
		active:      active,
		recent:      recent,
		events:      ch,
		cancel:      cancel,
		activeTable: table.New(table.WithColumns(activeCols), table.WithHeight(10)),
		recentTable: table.New(table.WithColumns(recentCols), table.WithHeight(10)),
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(active *control.ActiveTracker, recent *control.RecentRing, bus *eventbus.EventBus[domain.RequestRecord]) error {
	m := New(active, recent, bus)
	// seed the size so the first frame renders full-width; the
	// WindowSizeMsg that follows keeps it current on resize
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		m.width, m.height = w, h
	}
	p := tea.NewProgram(m)
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitForRecord(m.events))
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForRecord(ch <-chan domain.RequestRecord) tea.Cmd {
	return func() tea.Msg {
		rec, ok := <-ch
		if !ok {
			return nil
		}
		return recordMsg(rec)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancel()
			return m, tea.Quit
		}

	case tickMsg:
		m.activeTable.SetRows(activeRows(m.active.Snapshot()))
		return m, tickCmd()

	case recordMsg:
		rec := domain.RequestRecord(msg)
		m.recentTable.SetRows(prependRow(m.recentTable.Rows(), recentRow(rec)))
		return m, waitForRecord(m.events)
	}

	return m, nil
}

func (m Model) View() string {
	header := titleStyle.Render("codex-helper-proxy · live dashboard")
	hint := dimStyle.Render("q to quit · updates every second, plus live on each completed request")

	body := fmt.Sprintf("%s\n\n%s\n\n%s\n%s",
		titleStyle.Render("Active requests"), m.activeTable.View(),
		titleStyle.Render("Recent requests"), m.recentTable.View())

	return borderStyle.Render(fmt.Sprintf("%s\n%s\n\n%s", header, hint, body))
}

func activeRows(reqs []*domain.ActiveRequest) []table.Row {
	now := time.Now().UnixMilli()
	rows := make([]table.Row, 0, len(reqs))
	for _, r := range reqs {
		age := time.Duration(now-r.StartMs) * time.Millisecond
		rows = append(rows, table.Row{r.Service, r.ConfigName, r.Model, r.SessionID, age.Round(time.Second).String()})
	}
	return rows
}

func recentRow(rec domain.RequestRecord) table.Row {
	status := strconv.Itoa(rec.StatusCode)
	retries := "0"
	if rec.Retry != nil {
		retries = strconv.Itoa(rec.Retry.Attempts)
	}
	return table.Row{rec.Service, status, rec.ConfigName, time.Duration(rec.DurationMs * int64(time.Millisecond)).String(), retries}
}

func prependRow(rows []table.Row, row table.Row) []table.Row {
	const maxRows = 10
	rows = append([]table.Row{row}, rows...)
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	return rows
}
