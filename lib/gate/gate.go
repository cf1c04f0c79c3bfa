// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Deny means the credential is not released.
	Deny Decision = iota

	// Allow means the credential may be released.
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// DenyReason describes why a release was denied. The reason is
// recorded in the audit log; callers surface only a plain denial.
type DenyReason int

const (
	// ReasonNone accompanies an Allow decision.
	ReasonNone DenyReason = iota

	// ReasonRateLimited means the per-hour attempt ceiling was
	// reached or a lockout is active.
	ReasonRateLimited

	// ReasonUnauthorizedPath means the working directory is outside
	// every allowed path prefix.
	ReasonUnauthorizedPath

	// ReasonUnauthorizedProcess means the parent process executable
	// is not on the allow-list.
	ReasonUnauthorizedProcess

	// ReasonIdentityUnavailable means the parent process identity
	// could not be read. Fail closed.
	ReasonIdentityUnavailable

	// ReasonMissingSessionContext means none of the configured
	// session-indicator environment variables are present.
	ReasonMissingSessionContext

	// ReasonCredentialExpired means the stored credential outlived
	// its expiration window.
	ReasonCredentialExpired

	// ReasonUserDenied means the operator explicitly rejected the
	// release, locally or from the paired device.
	ReasonUserDenied

	// ReasonConfirmationUnavailable means no confirmation channel
	// could run: no usable prompt, no paired device, a listener that
	// could not bind, or a round that timed out unanswered.
	ReasonConfirmationUnavailable

	// ReasonProtocolViolation means a remote round was poisoned by a
	// stale nonce or an unverifiable signature. Never retried.
	ReasonProtocolViolation
)

// String returns the audit-log name for the reason.
func (r DenyReason) String() string {
	switch r {
	case ReasonNone:
		return "Allowed"
	case ReasonRateLimited:
		return "RateLimited"
	case ReasonUnauthorizedPath:
		return "UnauthorizedPath"
	case ReasonUnauthorizedProcess:
		return "UnauthorizedProcess"
	case ReasonIdentityUnavailable:
		return "IdentityUnavailable"
	case ReasonMissingSessionContext:
		return "MissingSessionContext"
	case ReasonCredentialExpired:
		return "CredentialExpired"
	case ReasonUserDenied:
		return "UserDenied"
	case ReasonConfirmationUnavailable:
		return "ConfirmationUnavailable"
	case ReasonProtocolViolation:
		return "ProtocolViolation"
	default:
		return "Unknown"
	}
}

// Request is the immutable context of one authorization request. The
// caller supplies what it knows about itself; everything observable
// about the environment comes from the attestor, not from here.
type Request struct {
	// Command is the command line the credential is requested for.
	Command string

	// User is the requesting local user.
	User string

	// Host is the local hostname.
	Host string
}

// Result is one gate's verdict.
type Result struct {
	Decision Decision
	Reason   DenyReason

	// Gate names the gate that produced the result.
	Gate string
}

// Gate is one check in the authorization chain.
type Gate interface {
	// Name identifies the gate in logs and results.
	Name() string

	// Check evaluates the request. A Deny result carries the
	// specific reason.
	Check(ctx context.Context, request *Request) Result
}

func allow(name string) Result {
	return Result{Decision: Allow, Reason: ReasonNone, Gate: name}
}

func deny(name string, reason DenyReason) Result {
	return Result{Decision: Deny, Reason: reason, Gate: name}
}
