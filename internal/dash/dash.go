// Package dash renders a live terminal dashboard for a dispatch run: one
// card per worker, conflict and patch counters, and overall convergence
// progress. It consumes the driver's progress events through a bubbletea
// program.
package dash

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jmcewan/superscene/internal/run"
)

var (
	colorPrimary = lipgloss.Color("#00BFFF")
	colorSuccess = lipgloss.Color("#00E676")
	colorDanger  = lipgloss.Color("#FF5252")
	colorMuted   = lipgloss.Color("#636363")

	styleTitle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	styleCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1).
			Width(24)

	styleBusy = lipgloss.NewStyle().Foreground(colorPrimary)
	styleIdle = lipgloss.NewStyle().Foreground(colorMuted)
	styleDone = lipgloss.NewStyle().Foreground(colorSuccess)
	styleWarn = lipgloss.NewStyle().Foreground(colorDanger)
)

// EventMsg wraps a driver event for the bubbletea update loop.
type EventMsg run.Event

// workerState is what the dashboard knows about one worker.
type workerState struct {
	busy    bool
	patchID string
	nActive int
	patches int
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	spin      spinner.Model
	workers   map[int]*workerState
	order     []int
	collected int
	conflicts int
	done      int
	total     int
	finished  bool
}

// NewModel builds a dashboard over the given worker ids.
func NewModel(workerIDs []int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorPrimary)

	workers := make(map[int]*workerState, len(workerIDs))
	for _, id := range workerIDs {
		workers[id] = &workerState{}
	}
	return Model{
		spin:    sp,
		workers: workers,
		order:   append([]int(nil), workerIDs...),
	}
}

// Init starts the spinner tick.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update handles key presses, spinner ticks, and driver events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case EventMsg:
		return m.applyEvent(run.Event(msg))
	}
	return m, nil
}

func (m Model) applyEvent(e run.Event) (tea.Model, tea.Cmd) {
	switch e.Kind {
	case "submit":
		if w, ok := m.workers[e.Worker]; ok {
			w.busy = true
			w.patchID = e.PatchID
			w.nActive = e.NActive
		}
	case "collect":
		if w, ok := m.workers[e.Worker]; ok {
			w.busy = false
			w.patchID = ""
			w.patches++
		}
		m.collected = e.Collected
		m.done = e.Done
		m.total = e.Total
	case "conflict":
		m.conflicts++
	case "done":
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder

	header := styleTitle.Render("superscene") + "  "
	if m.finished {
		header += styleDone.Render("run complete")
	} else {
		header += m.spin.View() + " dispatching"
	}
	b.WriteString(header + "\n\n")

	var cards []string
	for _, id := range m.order {
		cards = append(cards, m.renderWorker(id))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("patches %s   conflicts %s   %s\n",
		styleDone.Render(fmt.Sprintf("%d", m.collected)),
		styleWarn.Render(fmt.Sprintf("%d", m.conflicts)),
		m.progressLine()))
	b.WriteString(styleIdle.Render("press q to quit") + "\n")
	return b.String()
}

func (m Model) renderWorker(id int) string {
	w := m.workers[id]
	title := fmt.Sprintf("worker %d", id)
	var status string
	if w.busy {
		status = styleBusy.Render(fmt.Sprintf("%s (%d active)", w.patchID, w.nActive))
	} else {
		status = styleIdle.Render("idle")
	}
	body := fmt.Sprintf("%s\n%s\n%s", styleTitle.Render(title), status,
		styleIdle.Render(fmt.Sprintf("%d patches", w.patches)))
	return styleCard.Render(body)
}

func (m Model) progressLine() string {
	if m.total == 0 {
		return styleIdle.Render("converged 0/0")
	}
	const width = 20
	filled := m.done * width / m.total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s %d/%d converged", styleBusy.Render(bar), m.done, m.total)
}

// Bridge returns a driver event callback that forwards into the program.
func Bridge(p *tea.Program) func(run.Event) {
	return func(e run.Event) {
		p.Send(EventMsg(e))
	}
}
