package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// progressMsg reports how many of the total entry points have finished.
type progressMsg struct {
	done, total int
	label       string
}

type progressModel struct {
	bar   progress.Model
	done  int
	total int
	label string
	final bool
}

func newProgressModel(total int) progressModel {
	return progressModel{
		bar:   progress.New(progress.WithDefaultGradient()),
		total: total,
	}
}

func (m progressModel) Init() tea.Cmd { return nil }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case progressMsg:
		m.done, m.total, m.label = msg.done, msg.total, msg.label
		if m.done >= m.total {
			m.final = true
			return m, tea.Quit
		}
	case progress.FrameMsg:
		newModel, cmd := m.bar.Update(msg)
		m.bar = newModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	var frac float64
	if m.total > 0 {
		frac = float64(m.done) / float64(m.total)
	}
	header := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("vstack %d/%d", m.done, m.total))
	if m.label != "" {
		header += "  " + lipgloss.NewStyle().Faint(true).Render(m.label)
	}
	return header + "\n" + m.bar.ViewAs(frac) + "\n"
}

// runWithProgress drives work, a function that processes entry points one
// at a time and reports progress via report, inside a bubbletea program
// that renders a live bar. report must be safe to call from a goroutine
// other than the TUI's.
func runWithProgress(total int, work func(report func(done int, label string))) error {
	p := tea.NewProgram(newProgressModel(total))

	go func() {
		work(func(done int, label string) {
			p.Send(progressMsg{done: done, total: total, label: label})
		})
		time.Sleep(50 * time.Millisecond)
		p.Send(progressMsg{done: total, total: total})
	}()

	_, err := p.Run()
	return err
}
