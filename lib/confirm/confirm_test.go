// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package confirm

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeProvider struct {
	name      string
	available bool
	answer    bool
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Available() bool { return f.available }
func (f *fakeProvider) Confirm(context.Context, Prompt) (bool, error) {
	return f.answer, nil
}

func TestSelectPrefersFirstAvailable(t *testing.T) {
	first := &fakeProvider{name: "first", available: false}
	second := &fakeProvider{name: "second", available: true}
	third := &fakeProvider{name: "third", available: true}

	selected, err := Select(first, second, third)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if selected.Name() != "second" {
		t.Errorf("selected %q, want second", selected.Name())
	}
}

func TestSelectNoneAvailable(t *testing.T) {
	_, err := Select(&fakeProvider{name: "only", available: false})
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}

func TestTerminalUnavailableWithoutTTY(t *testing.T) {
	provider := &Terminal{ttyPath: "/dev/null/does-not-exist"}
	if provider.Available() {
		t.Error("Terminal reports available with no tty")
	}
}

func TestTUIUnavailableWithoutTTY(t *testing.T) {
	provider := &TUI{ttyPath: "/dev/null/does-not-exist"}
	if provider.Available() {
		t.Error("TUI reports available with no tty")
	}
}

func pressKey(t *testing.T, model confirmModel, key string) confirmModel {
	t.Helper()
	var message tea.KeyMsg
	switch key {
	case "esc":
		message = tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		message = tea.KeyMsg{Type: tea.KeyEnter}
	default:
		message = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	updated, _ := model.Update(message)
	return updated.(confirmModel)
}

func TestConfirmModelDecisions(t *testing.T) {
	prompt := Prompt{Command: "sudo true", User: "alice", Host: "workstation"}

	tests := []struct {
		key      string
		approved bool
	}{
		{"y", true},
		{"Y", true},
		{"n", false},
		{"N", false},
		{"esc", false},
		{"q", false},
		{"enter", false},
	}
	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			model := pressKey(t, newConfirmModel(prompt), test.key)
			if model.approved != test.approved {
				t.Errorf("approved = %v, want %v", model.approved, test.approved)
			}
		})
	}
}

func TestConfirmModelIgnoresOtherKeys(t *testing.T) {
	model := newConfirmModel(Prompt{Command: "sudo true"})
	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if cmd != nil {
		t.Error("undecisive key produced a command")
	}
	if updated.(confirmModel).approved {
		t.Error("undecisive key approved the request")
	}
}

func TestConfirmModelView(t *testing.T) {
	model := newConfirmModel(Prompt{Command: "sudo systemctl restart nginx", User: "alice", Host: "ws"})
	view := model.View()
	if !strings.Contains(view, "sudo systemctl restart nginx") {
		t.Error("view does not show the command")
	}
	if !strings.Contains(view, "alice@ws") {
		t.Error("view does not show the requesting identity")
	}
}
