// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package confirm

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"
)

// Terminal is the plain line-mode confirmation provider. It talks to
// the controlling terminal directly rather than stdin/stdout: in the
// askpass pipeline stdout carries the secret and stdin may be a pipe,
// so /dev/tty is the only channel that reaches the operator.
type Terminal struct {
	ttyPath string
}

// NewTerminal creates a Terminal provider bound to /dev/tty.
func NewTerminal() *Terminal {
	return &Terminal{ttyPath: "/dev/tty"}
}

// Name implements Provider.
func (t *Terminal) Name() string { return "terminal" }

// Available reports whether a controlling terminal exists.
func (t *Terminal) Available() bool {
	tty, err := os.OpenFile(t.ttyPath, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer tty.Close()
	return term.IsTerminal(int(tty.Fd()))
}

// Confirm prompts y/N on the controlling terminal. A single key is
// read in raw mode; anything other than y is a rejection. The default
// is deny: Enter, escape, or a read failure all answer no.
func (t *Terminal) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	tty, err := os.OpenFile(t.ttyPath, os.O_RDWR, 0)
	if err != nil {
		return false, fmt.Errorf("confirm: opening terminal: %w", err)
	}
	defer tty.Close()

	fmt.Fprintf(tty, "Credential release requested\r\n")
	fmt.Fprintf(tty, "  command: %s\r\n", prompt.Command)
	fmt.Fprintf(tty, "  user:    %s@%s\r\n", prompt.User, prompt.Host)
	fmt.Fprintf(tty, "Release credential? [y/N] ")

	previous, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		return false, fmt.Errorf("confirm: raw mode: %w", err)
	}
	defer term.Restore(int(tty.Fd()), previous)

	type answer struct {
		key byte
		err error
	}
	answers := make(chan answer, 1)
	go func() {
		var key [1]byte
		_, readErr := tty.Read(key[:])
		answers <- answer{key[0], readErr}
	}()

	select {
	case received := <-answers:
		fmt.Fprintf(tty, "\r\n")
		if received.err != nil {
			return false, fmt.Errorf("confirm: reading answer: %w", received.err)
		}
		return received.key == 'y' || received.key == 'Y', nil
	case <-ctx.Done():
		fmt.Fprintf(tty, "\r\n")
		return false, ctx.Err()
	}
}
