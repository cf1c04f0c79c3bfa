// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// keyward-askpass is the SUDO_ASKPASS helper. sudo invokes it once
// per authentication; it runs the full authorization chain and, on
// allow, prints the stored credential to stdout and exits zero. Any
// denial exits non-zero with a bare "denied" on stderr; the specific
// reason is recorded only in the audit log.
package main
