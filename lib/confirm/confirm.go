// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package confirm

import (
	"context"
	"errors"
)

// ErrNoProvider means no confirmation provider is usable in the
// current execution context. Callers treat this as a denial: a
// credential release that cannot be confirmed is not released.
var ErrNoProvider = errors.New("confirm: no confirmation provider available")

// Prompt carries the request details shown to the operator before
// they approve or reject a credential release.
type Prompt struct {
	// Command is the full command line requesting the credential.
	Command string

	// User is the requesting local user.
	User string

	// Host is the hostname the request originates from.
	Host string
}

// Provider is one way of asking the operator for a yes/no decision.
// Availability is probed per invocation: whether a provider can run
// depends on the execution context (controlling terminal, color
// support), not on configuration.
type Provider interface {
	// Name identifies the provider in logs and audit records.
	Name() string

	// Available reports whether the provider can run right now.
	Available() bool

	// Confirm presents the prompt and returns the operator's
	// decision. false with a nil error is an explicit rejection.
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// Select returns the first available provider, probing in order.
// Order encodes preference: richer providers come first, plainer
// fallbacks later.
func Select(providers ...Provider) (Provider, error) {
	for _, provider := range providers {
		if provider.Available() {
			return provider, nil
		}
	}
	return nil, ErrNoProvider
}

// Default returns the standard provider preference for interactive
// use: the full-screen prompt when the terminal supports it, the
// plain line-mode prompt otherwise.
func Default() []Provider {
	return []Provider{NewTUI(), NewTerminal()}
}
