// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package confirm asks the operator to approve a credential release.
//
// An askpass invocation has no user interface of its own: stdout is
// reserved for the secret and stdin may be a pipe. Every provider in
// this package therefore talks to the controlling terminal (/dev/tty)
// directly, and providers are probed for availability at each
// invocation rather than configured statically. Select walks the
// preference order and returns the first provider that can actually
// run; when none can, the caller denies the release rather than
// guessing.
package confirm
