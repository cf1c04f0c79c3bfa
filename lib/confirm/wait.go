// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package confirm

import (
	"context"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// RemoteWait shows a spinner on the controlling terminal while a
// remote approval round is pending. It is cosmetic: the round's
// outcome comes from the challenge coordinator, and when no terminal
// exists the wait is silent. Stop the spinner by cancelling ctx.
func RemoteWait(ctx context.Context, device string) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil || !term.IsTerminal(int(tty.Fd())) {
		if tty != nil {
			tty.Close()
		}
		return
	}

	go func() {
		defer tty.Close()
		program := tea.NewProgram(newWaitModel(device),
			tea.WithInput(tty),
			tea.WithOutput(tty),
			tea.WithContext(ctx))
		program.Run()
	}()
}

type waitModel struct {
	spinner spinner.Model
	device  string
}

func newWaitModel(device string) waitModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	return waitModel{spinner: s, device: device}
}

func (m waitModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m waitModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(message)
		return m, cmd
	case tea.KeyMsg:
		if message.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m waitModel) View() string {
	return m.spinner.View() + " waiting for approval from " + m.device + "\n"
}
