// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package attest derives the caller's identity from OS process-table
// introspection: the invoking parent process, the working directory,
// and the session environment.
//
// Reading parent-process metadata is platform-specific global-state
// access, so it sits behind the Attestor interface. The gate chain
// depends only on the interface; tests and other platforms substitute
// their own implementation without touching chain logic.
package attest

import (
	"fmt"
	"os"
	"strings"
)

// Attestor reports the identity of the current invocation.
type Attestor interface {
	// ParentProcessName returns the executable name of the immediate
	// parent process. An error means the identity could not be read;
	// the process-identity gate fails closed on it.
	ParentProcessName() (string, error)

	// WorkingDirectory returns the invocation's working directory.
	WorkingDirectory() (string, error)

	// LookupEnv reports whether the named environment variable is
	// present in the session, and its value.
	LookupEnv(name string) (string, bool)

	// PID returns the process ID of this invocation, for audit
	// records.
	PID() int
}

// System returns the production Attestor backed by /proc and the
// process environment.
func System() Attestor { return systemAttestor{} }

type systemAttestor struct{}

// ParentProcessName reads /proc/<ppid>/comm. The comm name is the
// kernel's record of the executable, not an environment-controlled
// string like argv[0], which is the point: a caller cannot spoof it
// by re-execing with a friendly argv.
func (systemAttestor) ParentProcessName() (string, error) {
	ppid := os.Getppid()
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", ppid))
	if err != nil {
		return "", fmt.Errorf("attest: reading parent process %d identity: %w", ppid, err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", fmt.Errorf("attest: parent process %d has empty comm", ppid)
	}
	return name, nil
}

func (systemAttestor) WorkingDirectory() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("attest: reading working directory: %w", err)
	}
	return cwd, nil
}

func (systemAttestor) LookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

func (systemAttestor) PID() int { return os.Getpid() }

// Fake is a test Attestor with fixed answers.
type Fake struct {
	Parent    string
	ParentErr error
	CWD       string
	CWDErr    error
	Env       map[string]string
	ProcessID int
}

var _ Attestor = (*Fake)(nil)

func (f *Fake) ParentProcessName() (string, error) {
	if f.ParentErr != nil {
		return "", f.ParentErr
	}
	return f.Parent, nil
}

func (f *Fake) WorkingDirectory() (string, error) {
	if f.CWDErr != nil {
		return "", f.CWDErr
	}
	return f.CWD, nil
}

func (f *Fake) LookupEnv(name string) (string, bool) {
	value, ok := f.Env[name]
	return value, ok
}

func (f *Fake) PID() int { return f.ProcessID }
