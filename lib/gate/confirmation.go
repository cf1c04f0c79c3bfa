// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/keyward/keyward/lib/challenge"
	"github.com/keyward/keyward/lib/confirm"
)

// LocalConfirmation asks the operator at the local terminal. The
// provider is selected per invocation: no usable prompt in a
// non-interactive context is a denial, not a silent pass.
type LocalConfirmation struct {
	providers []confirm.Provider
	logger    *slog.Logger
}

// NewLocalConfirmation creates the local confirmation gate. With no
// providers the default preference chain is used.
func NewLocalConfirmation(logger *slog.Logger, providers ...confirm.Provider) *LocalConfirmation {
	if len(providers) == 0 {
		providers = confirm.Default()
	}
	return &LocalConfirmation{providers: providers, logger: logger}
}

// Name implements Gate.
func (g *LocalConfirmation) Name() string { return "confirm-local" }

// Check implements Gate.
func (g *LocalConfirmation) Check(ctx context.Context, request *Request) Result {
	provider, err := confirm.Select(g.providers...)
	if err != nil {
		g.logger.Warn("no confirmation provider available")
		return deny(g.Name(), ReasonConfirmationUnavailable)
	}

	approved, err := provider.Confirm(ctx, confirm.Prompt{
		Command: request.Command,
		User:    request.User,
		Host:    request.Host,
	})
	if err != nil {
		g.logger.Error("confirmation prompt failed", "provider", provider.Name(), "error", err)
		return deny(g.Name(), ReasonConfirmationUnavailable)
	}
	if !approved {
		return deny(g.Name(), ReasonUserDenied)
	}
	return allow(g.Name())
}

// RemoteConfirmation delegates the decision to the paired device via
// a challenge round. Every failure mode short of an explicit signed
// approval is a denial: unanswered rounds, unpaired hosts, and bind
// failures deny as unavailable, and a poisoned round denies as a
// protocol violation.
type RemoteConfirmation struct {
	coordinator *challenge.Coordinator
	device      string
	logger      *slog.Logger
}

// NewRemoteConfirmation creates the remote confirmation gate. The
// device name is used only for the waiting indicator.
func NewRemoteConfirmation(coordinator *challenge.Coordinator, device string, logger *slog.Logger) *RemoteConfirmation {
	if device == "" {
		device = "paired device"
	}
	return &RemoteConfirmation{coordinator: coordinator, device: device, logger: logger}
}

// Name implements Gate.
func (g *RemoteConfirmation) Name() string { return "confirm-remote" }

// Check implements Gate.
func (g *RemoteConfirmation) Check(ctx context.Context, request *Request) Result {
	waitCtx, stopWait := context.WithCancel(ctx)
	confirm.RemoteWait(waitCtx, g.device)

	outcome, err := g.coordinator.RequestApproval(ctx, request.Command, request.User, request.Host)
	stopWait()
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelWarn
		}
		g.logger.Log(ctx, level, "remote approval round failed", "error", err)
		return deny(g.Name(), ReasonConfirmationUnavailable)
	}

	switch outcome {
	case challenge.Approved:
		return allow(g.Name())
	case challenge.Denied:
		return deny(g.Name(), ReasonUserDenied)
	case challenge.Violated:
		return deny(g.Name(), ReasonProtocolViolation)
	default:
		return deny(g.Name(), ReasonConfirmationUnavailable)
	}
}
