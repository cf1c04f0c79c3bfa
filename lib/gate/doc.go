// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package gate implements the credential release decision chain.
//
// A release request passes through an ordered series of gates: the
// attempt rate limiter, the working-directory allow-list, parent
// process identity, session environment attestation, credential
// freshness, and finally operator confirmation (local prompt or
// remote challenge round). The first denial ends the evaluation, and
// every decision is appended to the audit log exactly once with its
// specific reason.
//
// Fail-open versus fail-closed is decided per gate, not globally.
// The rate limiter fails open on persistence faults so a corrupt
// state file cannot lock out a legitimate operator; identity and
// confirmation fail closed because a request that cannot prove its
// provenance or obtain an explicit approval has no claim on the
// credential.
package gate
