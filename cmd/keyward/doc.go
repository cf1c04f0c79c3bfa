// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// keyward is the management companion to keyward-askpass. It owns
// everything that happens outside the release pipeline: generating
// the host keypair, sealing and clearing the stored credential,
// pairing and unpairing the approval device, and reporting status.
package main
