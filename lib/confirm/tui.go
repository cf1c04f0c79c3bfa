// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package confirm

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// TUI is the full-screen confirmation provider. It renders the
// request in a styled panel and takes a single keypress: y approves,
// n or escape rejects. Like Terminal it drives /dev/tty, keeping
// stdout clean for the secret.
type TUI struct {
	ttyPath string
}

// NewTUI creates a TUI provider bound to /dev/tty.
func NewTUI() *TUI {
	return &TUI{ttyPath: "/dev/tty"}
}

// Name implements Provider.
func (t *TUI) Name() string { return "tui" }

// Available reports whether a controlling terminal with at least
// basic color support exists. Dumb terminals fall through to the
// plain line-mode provider.
func (t *TUI) Available() bool {
	tty, err := os.OpenFile(t.ttyPath, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer tty.Close()
	if !term.IsTerminal(int(tty.Fd())) {
		return false
	}
	return termenv.NewOutput(tty).ColorProfile() != termenv.Ascii
}

// Confirm runs the confirmation model on the controlling terminal.
func (t *TUI) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	tty, err := os.OpenFile(t.ttyPath, os.O_RDWR, 0)
	if err != nil {
		return false, fmt.Errorf("confirm: opening terminal: %w", err)
	}
	defer tty.Close()

	program := tea.NewProgram(newConfirmModel(prompt),
		tea.WithInput(tty),
		tea.WithOutput(tty),
		tea.WithContext(ctx))

	final, err := program.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("confirm: prompt failed: %w", err)
	}
	model, ok := final.(confirmModel)
	if !ok {
		return false, fmt.Errorf("confirm: unexpected final model %T", final)
	}
	return model.approved, nil
}

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("208")).
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))

	labelStyle = lipgloss.NewStyle().
			Faint(true).
			Width(9)

	hintStyle = lipgloss.NewStyle().
			Faint(true).
			MarginTop(1)
)

// confirmModel is the bubbletea model for the approval prompt. It
// quits on the first decisive keypress; everything except an explicit
// y is a rejection.
type confirmModel struct {
	prompt   Prompt
	approved bool
}

func newConfirmModel(prompt Prompt) confirmModel {
	return confirmModel{prompt: prompt}
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := message.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.approved = true
		return m, tea.Quit
	case "n", "N", "esc", "q", "enter", "ctrl+c":
		m.approved = false
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Credential release requested"),
		"",
		labelStyle.Render("command")+m.prompt.Command,
		labelStyle.Render("user")+m.prompt.User+"@"+m.prompt.Host,
		hintStyle.Render("y approve · n/esc reject"),
	)
	return panelStyle.Render(body) + "\n"
}
