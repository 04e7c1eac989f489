// cmd/odin/progress.go
// Bubble Tea progress gauge driven by Session.Flash's ProgressFunc.
package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type progressMsg float64
type doneMsg struct{ err error }

type progressModel struct {
	label   string
	percent float64
	done    bool
	err     error
	updates chan float64
	result  chan error
}

func newProgressModel(label string) *progressModel {
	return &progressModel{
		label:   label,
		updates: make(chan float64, 8),
		result:  make(chan error, 1),
	}
}

func (m *progressModel) Init() tea.Cmd {
	return m.waitForUpdate()
}

func (m *progressModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		select {
		case p, ok := <-m.updates:
			if !ok {
				return nil
			}
			return progressMsg(p)
		case err := <-m.result:
			return doneMsg{err: err}
		}
	}
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.percent = float64(msg)
		return m, m.waitForUpdate()
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *progressModel) View() string {
	if m.done {
		if m.err != nil {
			return fmt.Sprintf("%s failed: %v\n", m.label, m.err)
		}
		return fmt.Sprintf("%s complete.\n", m.label)
	}
	return fmt.Sprintf("%s %s %.1f%%\n", m.label, renderBar(m.percent, 40), m.percent)
}

// renderBar draws a filled/unfilled bar using block characters and a
// lipgloss foreground style.
func renderBar(percent float64, width int) string {
	if width < 3 {
		width = 3
	}
	filled := int(float64(width-2) * percent / 100)
	if filled < 0 {
		filled = 0
	}
	if filled > width-2 {
		filled = width - 2
	}
	empty := width - 2 - filled

	bar := "[" + strings.Repeat("█", filled) + strings.Repeat("░", empty) + "]"
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Render(bar)
}
