// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"
	"testing"

	"github.com/keyward/keyward/lib/attest"
	"github.com/keyward/keyward/lib/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func mustConfig(t *testing.T, strategy string) *config.Config {
	t.Helper()
	t.Setenv("KEYWARD_STATE_DIR", t.TempDir())
	t.Setenv("KEYWARD_STRATEGY", strategy)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestRequestContext(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		args        []string
		wantCommand string
		wantUser    string
	}{
		{
			name: "sudo environment",
			env: map[string]string{
				"SUDO_COMMAND": "/usr/bin/systemctl restart nginx",
				"SUDO_USER":    "alice",
			},
			wantCommand: "/usr/bin/systemctl restart nginx",
			wantUser:    "alice",
		},
		{
			name:        "prompt argument fallback",
			env:         map[string]string{"USER": "alice"},
			args:        []string{"[sudo] password for alice:"},
			wantCommand: "[sudo] password for alice:",
			wantUser:    "alice",
		},
		{
			name: "sudo user preferred over invoking user",
			env: map[string]string{
				"SUDO_COMMAND": "/usr/bin/true",
				"SUDO_USER":    "alice",
				"USER":         "root",
			},
			wantCommand: "/usr/bin/true",
			wantUser:    "alice",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request := requestContext(&attest.Fake{Env: test.env}, test.args)
			if request.Command != test.wantCommand {
				t.Errorf("command = %q, want %q", request.Command, test.wantCommand)
			}
			if request.User != test.wantUser {
				t.Errorf("user = %q, want %q", request.User, test.wantUser)
			}
			if request.Host == "" {
				t.Error("host is empty")
			}
		})
	}
}

func TestConfirmationGateStrategies(t *testing.T) {
	// Exercised through config defaults in lib/config; here only the
	// off strategy's nil gate matters to the chain assembly.
	cfg := mustConfig(t, "off")
	g, err := confirmationGate(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("confirmationGate: %v", err)
	}
	if g != nil {
		t.Error("off strategy produced a gate")
	}

	cfg = mustConfig(t, "local")
	g, err = confirmationGate(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("confirmationGate: %v", err)
	}
	if g == nil {
		t.Error("local strategy produced no gate")
	}
}
