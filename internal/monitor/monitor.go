// Package monitor renders a live terminal view of a coupled run: an
// asciigraph of the Picard temperature norm next to a status pane with
// the latest eigenvalue, boron, and relaxation state.
package monitor

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"tandem/internal/coupling"
)

const historyCapacity = 600

var (
	headerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	statsStyle     = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(1, 2).Width(38)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 2)
	convergedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// Feed bridges the driver's observer callback into the monitor. The
// callback never blocks: events beyond the buffer are dropped, the
// stored history is authoritative anyway.
type Feed struct {
	events chan coupling.IterationEvent
	done   chan struct{}
}

func NewFeed() *Feed {
	return &Feed{
		events: make(chan coupling.IterationEvent, 256),
		done:   make(chan struct{}),
	}
}

func (f *Feed) OnIteration(ev coupling.IterationEvent) {
	select {
	case f.events <- ev:
	default:
	}
}

// Close signals the monitor that the run has finished.
func (f *Feed) Close() { close(f.done) }

type eventMsg coupling.IterationEvent

type doneMsg struct{}

// Model is the bubbletea model for the live view.
type Model struct {
	feed *Feed

	norms    []float64
	last     coupling.IterationEvent
	seen     int
	finished bool
}

func NewModel(feed *Feed) Model {
	return Model{feed: feed, norms: make([]float64, 0, historyCapacity)}
}

func (m Model) Init() tea.Cmd {
	return m.wait()
}

// wait produces the next event, or the completion signal once the feed
// closes and drains.
func (m Model) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.feed.events:
			return eventMsg(ev)
		case <-m.feed.done:
			select {
			case ev := <-m.feed.events:
				return eventMsg(ev)
			default:
				return doneMsg{}
			}
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case eventMsg:
		m.last = coupling.IterationEvent(msg)
		m.seen++
		m.norms = append(m.norms, logNorm(m.last.Norm))
		if len(m.norms) > historyCapacity {
			m.norms = m.norms[1:]
		}
		return m, m.wait()
	case doneMsg:
		m.finished = true
		return m, nil
	}
	return m, nil
}

// logNorm compresses the norm's decades for plotting; converged runs
// span many orders of magnitude.
func logNorm(v float64) float64 {
	if v <= 0 {
		return -12
	}
	return math.Log10(v)
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("TANDEM COUPLED SOLVE") + "\n")
	if m.finished {
		s.WriteString(convergedStyle.Render("FINISHED") + "\n")
	} else {
		s.WriteString(runningStyle.Render("RUNNING") + "\n")
	}

	s.WriteString(labelStyle.Render("Timestep") + valueStyle.Render(fmt.Sprintf("%d", m.last.Timestep)) + "\n")
	s.WriteString(labelStyle.Render("Picard") + valueStyle.Render(fmt.Sprintf("%d", m.last.Picard)) + "\n")
	s.WriteString(labelStyle.Render("Norm") + valueStyle.Render(fmt.Sprintf("%.3e", m.last.Norm)) + "\n")
	s.WriteString(labelStyle.Render("k-eff") + valueStyle.Render(fmt.Sprintf("%.5f", m.last.Keff)) + "\n")
	s.WriteString(labelStyle.Render("Boron") + valueStyle.Render(fmt.Sprintf("%.1f ppm", m.last.BoronPPM)) + "\n")
	s.WriteString(labelStyle.Render("Alpha q/T/rho") + valueStyle.Render(fmt.Sprintf("%.2f %.2f %.2f",
		m.last.AlphaHeatSource, m.last.AlphaTemperature, m.last.AlphaDensity)) + "\n")
	if m.last.Converged {
		s.WriteString(convergedStyle.Render("timestep converged") + "\n")
	}
	s.WriteString(helpStyle.Render("Q:Quit"))
	statsView := statsStyle.Render(s.String())

	var chartView string
	if len(m.norms) > 1 {
		chart := asciigraph.Plot(m.norms,
			asciigraph.Height(12),
			asciigraph.Width(60),
			asciigraph.Caption("log10 temperature norm"))
		chartView = graphStyle.Render(chart)
	} else {
		chartView = graphStyle.Render("waiting for iterations...")
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, chartView, statsView)
}
