package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"translation-gt/internal/batch"
)

const maxDashEvents = 8

var (
	dashTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dashMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dashErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	dashOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dashWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// runDashboard draws live run progress on stderr while batch.Run works.
type runDashboard struct {
	p    *tea.Program
	done chan struct{}
}

type dashEventMsg batch.Event

type dashDoneMsg struct{}

type dashSlot struct {
	jobID   string
	attempt int
	since   time.Time
}

type dashModel struct {
	runID   string
	workers int
	width   int
	spin    spinner.Model
	bar     progress.Model
	active  map[int]dashSlot
	events  []string
	last    batch.Event
	now     func() time.Time
	stopped bool
}

func startRunDashboard(runID string, workers int) *runDashboard {
	m := newDashModel(runID, workers)
	d := &runDashboard{
		p:    tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil), tea.WithoutSignalHandler()),
		done: make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		_, _ = d.p.Run()
	}()
	return d
}

// Send is safe to call from the run's event callback.
func (d *runDashboard) Send(ev batch.Event) {
	d.p.Send(dashEventMsg(ev))
}

func (d *runDashboard) Stop() {
	d.p.Send(dashDoneMsg{})
	<-d.done
}

func newDashModel(runID string, workers int) dashModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = dashTitleStyle
	return dashModel{
		runID:   runID,
		workers: workers,
		spin:    sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		active:  map[int]dashSlot{},
		events:  make([]string, 0, maxDashEvents),
		now:     time.Now,
	}
}

func (m dashModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width-4, 10), 60)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case dashEventMsg:
		m = m.apply(batch.Event(msg))
		return m, nil
	case dashDoneMsg:
		m.stopped = true
		return m, tea.Quit
	}
	return m, nil
}

func (m dashModel) apply(ev batch.Event) dashModel {
	m.last = ev
	// active is shared with earlier copies of the model; copy on write
	active := make(map[int]dashSlot, len(m.active)+1)
	for k, v := range m.active {
		active[k] = v
	}
	m.active = active

	switch ev.Kind {
	case batch.EventStarted:
		m.active[ev.Worker] = dashSlot{jobID: ev.JobID, attempt: ev.Attempt, since: m.now()}
		return m
	case batch.EventSucceeded:
		m = m.pushEvent(dashOKStyle.Render("done") + " " + ev.JobID + attemptSuffix(ev.Attempt))
	case batch.EventRetrying:
		m = m.pushEvent(dashWarnStyle.Render("retry") + " " + ev.JobID + attemptSuffix(ev.Attempt) + errSuffix(ev.Err))
	case batch.EventQuarantined:
		m = m.pushEvent(dashErrorStyle.Render("quarantined") + " " + ev.JobID + attemptSuffix(ev.Attempt) + errSuffix(ev.Err))
	case batch.EventInterrupted:
		m = m.pushEvent(dashMutedStyle.Render("interrupted") + " " + ev.JobID)
	}
	delete(m.active, ev.Worker)
	return m
}

func (m dashModel) pushEvent(line string) dashModel {
	events := append([]string{line}, m.events...)
	if len(events) > maxDashEvents {
		events = events[:maxDashEvents]
	}
	m.events = events
	return m
}

func (m dashModel) ratio() float64 {
	if m.last.Discovered <= 0 {
		return 0
	}
	return float64(m.last.Succeeded+m.last.Quarantined) / float64(m.last.Discovered)
}

func (m dashModel) View() string {
	var b strings.Builder
	head := m.spin.View() + " "
	if m.stopped {
		head = ""
	}
	b.WriteString(head + dashTitleStyle.Render("translation-gt") + " " + dashMutedStyle.Render(m.runID) + "\n")
	b.WriteString(fmt.Sprintf("active %d/%d | done %d/%d | quarantined %d | waiting %d\n",
		len(m.active), m.workers, m.last.Succeeded, m.last.Discovered, m.last.Quarantined, m.last.Waiting))
	b.WriteString(m.bar.ViewAs(m.ratio()) + "\n")

	ids := make([]int, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if len(ids) == 0 && !m.stopped {
		b.WriteString(dashMutedStyle.Render("(no active workers)") + "\n")
	}
	for _, id := range ids {
		slot := m.active[id]
		elapsed := m.now().Sub(slot.since).Round(time.Second)
		b.WriteString(fmt.Sprintf("w%d %s%s %s\n", id, slot.jobID, attemptSuffix(slot.attempt), dashMutedStyle.Render(elapsed.String())))
	}

	if len(m.events) > 0 {
		b.WriteString(dashMutedStyle.Render(strings.Repeat("-", 40)) + "\n")
		for _, e := range m.events {
			b.WriteString(e + "\n")
		}
	}
	return b.String()
}

func attemptSuffix(n int) string {
	if n <= 1 {
		return ""
	}
	return fmt.Sprintf(" (attempt %d)", n)
}

func errSuffix(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 80 {
		msg = msg[:77] + "..."
	}
	return ": " + msg
}
