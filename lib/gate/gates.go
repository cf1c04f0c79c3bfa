// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/keyward/keyward/lib/attest"
	"github.com/keyward/keyward/lib/ratelimit"
	"github.com/keyward/keyward/lib/vault"
)

// RateLimit wraps the persisted attempt limiter. It records the
// attempt for every decision, so attempts denied by a later gate
// still count toward the ceiling. Persistence faults fail open: the
// limiter logs and admits rather than locking legitimate operators
// out on a corrupt state file.
type RateLimit struct {
	limiter *ratelimit.Limiter
}

// NewRateLimit creates the rate limit gate.
func NewRateLimit(limiter *ratelimit.Limiter) *RateLimit {
	return &RateLimit{limiter: limiter}
}

// Name implements Gate.
func (g *RateLimit) Name() string { return "rate-limit" }

// Check implements Gate.
func (g *RateLimit) Check(_ context.Context, _ *Request) Result {
	if result := g.limiter.Attempt(); !result.Allowed {
		return deny(g.Name(), ReasonRateLimited)
	}
	return allow(g.Name())
}

// PathRestriction admits only requests whose working directory sits
// under one of the allowed prefixes. The match is a raw string prefix
// with no symlink or dot-segment canonicalization; a cwd reachable
// through a symlink into an allowed tree is judged by the path the
// caller reports, not the resolved one.
type PathRestriction struct {
	prefixes []string
	attestor attest.Attestor
}

// NewPathRestriction creates the path gate.
func NewPathRestriction(prefixes []string, attestor attest.Attestor) *PathRestriction {
	return &PathRestriction{prefixes: prefixes, attestor: attestor}
}

// Name implements Gate.
func (g *PathRestriction) Name() string { return "path" }

// Check implements Gate.
func (g *PathRestriction) Check(_ context.Context, _ *Request) Result {
	cwd, err := g.attestor.WorkingDirectory()
	if err != nil {
		return deny(g.Name(), ReasonIdentityUnavailable)
	}
	for _, prefix := range g.prefixes {
		if strings.HasPrefix(cwd, prefix) {
			return allow(g.Name())
		}
	}
	return deny(g.Name(), ReasonUnauthorizedPath)
}

// ProcessIdentity admits only requests whose immediate parent process
// executable name is on the allow-list. An unreadable parent identity
// fails closed: a request that cannot prove where it came from is not
// trusted.
type ProcessIdentity struct {
	allowed  []string
	attestor attest.Attestor
}

// NewProcessIdentity creates the process identity gate.
func NewProcessIdentity(allowed []string, attestor attest.Attestor) *ProcessIdentity {
	return &ProcessIdentity{allowed: allowed, attestor: attestor}
}

// Name implements Gate.
func (g *ProcessIdentity) Name() string { return "process" }

// Check implements Gate.
func (g *ProcessIdentity) Check(_ context.Context, _ *Request) Result {
	name, err := g.attestor.ParentProcessName()
	if err != nil {
		return deny(g.Name(), ReasonIdentityUnavailable)
	}
	for _, candidate := range g.allowed {
		if name == candidate {
			return allow(g.Name())
		}
	}
	return deny(g.Name(), ReasonUnauthorizedProcess)
}

// EnvironmentAttestation requires at least one session-indicator
// variable to be present. This is an existence check on variables an
// interactive session would carry (TERM, SSH agent socket, SSH tty),
// not a secrecy check: it filters invocations from bare daemon
// contexts, not determined attackers.
type EnvironmentAttestation struct {
	variables []string
	attestor  attest.Attestor
}

// NewEnvironmentAttestation creates the environment gate.
func NewEnvironmentAttestation(variables []string, attestor attest.Attestor) *EnvironmentAttestation {
	return &EnvironmentAttestation{variables: variables, attestor: attestor}
}

// Name implements Gate.
func (g *EnvironmentAttestation) Name() string { return "environment" }

// Check implements Gate.
func (g *EnvironmentAttestation) Check(_ context.Context, _ *Request) Result {
	for _, variable := range g.variables {
		if _, present := g.attestor.LookupEnv(variable); present {
			return allow(g.Name())
		}
	}
	return deny(g.Name(), ReasonMissingSessionContext)
}

// CredentialFreshness denies when the stored credential outlived its
// expiration window, deleting the expired ciphertext as a side
// effect. An absent credential passes: absence is reported by the
// vault at reveal time, not judged here. Other vault faults also
// pass, logged; the reveal will surface them with full detail.
type CredentialFreshness struct {
	vault  *vault.Vault
	logger *slog.Logger
}

// NewCredentialFreshness creates the freshness gate.
func NewCredentialFreshness(v *vault.Vault, logger *slog.Logger) *CredentialFreshness {
	return &CredentialFreshness{vault: v, logger: logger}
}

// Name implements Gate.
func (g *CredentialFreshness) Name() string { return "freshness" }

// Check implements Gate.
func (g *CredentialFreshness) Check(_ context.Context, _ *Request) Result {
	age, err := g.vault.Age()
	if err != nil {
		if !errors.Is(err, vault.ErrAbsent) {
			g.logger.Warn("credential age unavailable", "error", err)
		}
		return allow(g.Name())
	}
	if age > g.vault.Expiration() {
		if err := g.vault.Clear(); err != nil {
			g.logger.Error("removing expired credential failed", "error", err)
		}
		return deny(g.Name(), ReasonCredentialExpired)
	}
	return allow(g.Name())
}
