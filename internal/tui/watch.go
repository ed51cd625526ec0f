// Package tui renders a read-only live view of tasks and their progress
// snapshots. It is operator tooling; the mobile client reads the store
// directly and never goes through this view.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yazinsai/mic-worker/internal/task"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#3B4261"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	statusStyles = map[task.Status]lipgloss.Style{
		task.StatusPending:          lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")),
		task.StatusInProgress:       lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true),
		task.StatusCompleted:        lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")),
		task.StatusFailed:           lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		task.StatusCancelled:        lipgloss.NewStyle().Foreground(lipgloss.Color("#999999")),
		task.StatusAwaitingFeedback: lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
	}

	statusGlyphs = map[task.Status]string{
		task.StatusPending:          "·",
		task.StatusInProgress:       "▶",
		task.StatusCompleted:        "✓",
		task.StatusFailed:           "✗",
		task.StatusCancelled:        "⊘",
		task.StatusAwaitingFeedback: "?",
	}
)

// maxFeedRows bounds the detail pane's activity feed.
const maxFeedRows = 10

type tickMsg time.Time

type tasksMsg struct {
	tasks []task.Task
	err   error
}

// Model is the bubbletea model behind mic-watch.
type Model struct {
	store   task.Store
	refresh time.Duration
	spin    spinner.Model

	tasks    []task.Task
	selected int
	loaded   bool
	err      error
	width    int
}

// New builds a watch model refreshing from the store on the given
// interval.
func New(store task.Store, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = 2 * time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = titleStyle
	return Model{store: store, refresh: refresh, spin: sp}
}

// Init starts the spinner, the first load, and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.load(), m.tick())
}

func (m Model) load() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		tasks, err := store.Tasks(context.Background(), task.Query{})
		return tasksMsg{tasks: tasks, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles refresh ticks, load results, and key navigation.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.tasks)-1 {
				m.selected++
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())
	case tasksMsg:
		m.loaded = true
		m.err = msg.err
		if msg.err == nil {
			m.tasks = msg.tasks
			if m.selected >= len(m.tasks) {
				m.selected = len(m.tasks) - 1
			}
			if m.selected < 0 {
				m.selected = 0
			}
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	default:
		return m, nil
	}
}

// View renders the task list with a detail pane for the selection.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("mic-watch") + "\n\n")
	if m.err != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("store error: %v", m.err)) + "\n")
		return b.String()
	}
	if !m.loaded {
		b.WriteString(m.spin.View() + " loading tasks…\n")
		return b.String()
	}
	if len(m.tasks) == 0 {
		b.WriteString(detailStyle.Render("no tasks yet") + "\n")
		b.WriteString("\n" + helpStyle.Render("q quit"))
		return b.String()
	}
	for i, t := range m.tasks {
		b.WriteString(m.renderRow(i, t) + "\n")
	}
	b.WriteString("\n" + m.renderDetail(m.tasks[m.selected]))
	b.WriteString("\n" + helpStyle.Render("↑/↓ select · q quit"))
	return b.String()
}

func (m Model) renderRow(i int, t task.Task) string {
	style, ok := statusStyles[t.Status]
	if !ok {
		style = statusStyles[task.StatusPending]
	}
	glyph := statusGlyphs[t.Status]
	line := fmt.Sprintf("%s %-17s %s", glyph, t.Status, t.Title)
	if t.Status == task.StatusInProgress {
		if snap, err := task.DecodeProgress(t.ProgressJSON); err == nil && snap.TasksTotal > 0 {
			line += fmt.Sprintf("  (%d/%d)", snap.TasksDone, snap.TasksTotal)
		}
		line = m.spin.View() + " " + line
	}
	if i == m.selected {
		return selectedStyle.Render("› " + line)
	}
	return style.Render("  " + line)
}

func (m Model) renderDetail(t task.Task) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(t.Title) + "\n")
	b.WriteString(detailStyle.Render(fmt.Sprintf("%s · %s · %s", t.ID, t.Type, t.Status)) + "\n")
	switch {
	case t.Status == task.StatusFailed:
		b.WriteString(errStyle.Render(fmt.Sprintf("%s: %s", t.ErrorCategory, t.ErrorMessage)) + "\n")
	case t.Status.Terminal() || t.Status == task.StatusAwaitingFeedback:
		if t.Result != "" {
			b.WriteString(firstLines(t.Result, 3) + "\n")
		}
	}
	if t.DeployURL != "" {
		label := t.DeployLabel
		if label == "" {
			label = "deployed"
		}
		b.WriteString(detailStyle.Render(label+": "+t.DeployURL) + "\n")
	}

	snap, err := task.DecodeProgress(t.ProgressJSON)
	if err != nil || t.Status != task.StatusInProgress {
		return b.String()
	}
	if snap.CurrentActivity != "" {
		b.WriteString("\n" + snap.CurrentActivity + "\n")
	}
	if len(snap.Skills) > 0 {
		b.WriteString(detailStyle.Render("skills: "+strings.Join(snap.Skills, ", ")) + "\n")
	}
	if snap.TasksTotal > 0 {
		b.WriteString(detailStyle.Render(fmt.Sprintf("tasks: %d/%d  %s", snap.TasksDone, snap.TasksTotal, snap.CurrentTask)) + "\n")
	}
	feed := snap.Activities
	if len(feed) > maxFeedRows {
		feed = feed[len(feed)-maxFeedRows:]
	}
	for _, e := range feed {
		row := fmt.Sprintf("%s %s", e.Icon, e.Label)
		if e.Detail != "" {
			row += " " + e.Detail
		}
		switch e.Status {
		case task.ActivityActive:
			row += " …"
		case task.ActivityError:
			row += " ✗"
		default:
			if e.DurationMs > 0 {
				row += fmt.Sprintf(" (%.1fs)", float64(e.DurationMs)/1000)
			}
		}
		b.WriteString(detailStyle.Render(row) + "\n")
	}
	return b.String()
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = append(lines[:n], "…")
	}
	return strings.Join(lines, "\n")
}
