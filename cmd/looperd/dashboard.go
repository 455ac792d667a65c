// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amelia-foundation/looper/lib/diag"
	"github.com/amelia-foundation/looper/lib/fuzzyfind"
)

// dashboardKeys are the dashboard's key bindings.
type dashboardKeys struct {
	Quit           key.Binding
	Up             key.Binding
	Down           key.Binding
	FilterActivate key.Binding
	FilterClear    key.Binding
}

func defaultDashboardKeys() dashboardKeys {
	return dashboardKeys{
		Quit:           key.NewBinding(key.WithKeys("q", "ctrl+c")),
		Up:             key.NewBinding(key.WithKeys("up", "k")),
		Down:           key.NewBinding(key.WithKeys("down", "j")),
		FilterActivate: key.NewBinding(key.WithKeys("/")),
		FilterClear:    key.NewBinding(key.WithKeys("esc")),
	}
}

// refreshMsg requests a repaint against the fleet's current diagnostic
// state; it carries no payload since dashboardModel re-reads the
// fleet's History objects directly at render time.
type refreshMsg time.Time

// dashboardModel is the bubbletea Model backing `looperd dashboard`:
// a live per-Looper iteration-time, overload, and queue-depth table
// over the hosted fleet, with a fuzzy name filter.
type dashboardModel struct {
	fleet    *fleet
	keys     dashboardKeys
	refresh  time.Duration
	cursor   int
	filterOn bool
	filter   textinput.Model

	width, height int
}

func newDashboardModel(f *fleet, refresh time.Duration) dashboardModel {
	filter := textinput.New()
	filter.Placeholder = "filter by name"
	filter.Prompt = "/ "

	return dashboardModel{
		fleet:   f,
		keys:    defaultDashboardKeys(),
		refresh: refresh,
		filter:  filter,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tickCmd(m.refresh)
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case refreshMsg:
		return m, tickCmd(m.refresh)

	case tea.KeyMsg:
		if m.filterOn {
			switch {
			case key.Matches(msg, m.keys.FilterClear):
				m.filterOn = false
				m.filter.Blur()
				m.filter.SetValue("")
				return m, nil
			case msg.Type == tea.KeyEnter:
				m.filterOn = false
				m.filter.Blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			return m, cmd
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.FilterActivate):
			m.filterOn = true
			m.filter.Focus()
			return m, textinput.Blink
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case key.Matches(msg, m.keys.Down):
			m.cursor++
			return m, nil
		}
	}
	return m, nil
}

// visibleNames returns the fleet's names matching the current filter
// text, ranked best-match-first.
func (m dashboardModel) visibleNames() []string {
	names := m.fleet.Names()
	query := strings.TrimSpace(m.filter.Value())
	if query == "" {
		return names
	}
	matches := fuzzyfind.Find(query, names)
	out := make([]string, len(matches))
	for i, match := range matches {
		out[i] = match.Text
	}
	return out
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	overloadStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	selectedStyle  = lipgloss.NewStyle().Reverse(true)
	dashboardTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
)

func (m dashboardModel) View() string {
	var b strings.Builder
	fmt.Fprintln(&b, dashboardTitle.Render("looperd fleet dashboard"))
	fmt.Fprintln(&b)

	if m.filterOn || m.filter.Value() != "" {
		fmt.Fprintln(&b, m.filter.View())
	}

	fmt.Fprintln(&b, headerStyle.Render(fmt.Sprintf("%-12s %-10s %8s %8s %10s", "NAME", "STATE", "AVG_MS", "QUEUE", "OVERLOAD")))

	names := m.visibleNames()
	cursor := m.cursor
	if cursor >= len(names) && len(names) > 0 {
		cursor = len(names) - 1
	}

	for i, name := range names {
		w := m.fleet.workers[name]
		var sample diag.Sample
		if last, ok := w.history.Last(); ok {
			sample = last
		}

		state := "running"
		if !w.looper.IsRunning() {
			state = "stopped"
		}
		overloadLabel := ""
		if sample.Overloaded {
			overloadLabel = "OVERLOADED"
		}

		row := fmt.Sprintf("%-12s %-10s %8.1f %8d %10s", name, state, sample.AverageMillis, sample.QueueDepth, overloadLabel)
		if sample.Overloaded {
			row = overloadStyle.Render(row)
		}
		if i == cursor {
			row = selectedStyle.Render(row)
		}
		fmt.Fprintln(&b, row)
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "q quit  / filter  up/down select")
	return b.String()
}
