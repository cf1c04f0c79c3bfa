// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package challenge implements the remote approval round-trip: a
// single-use, time-boxed nonce is published to the paired device's
// notification topic, and a short-lived local HTTP listener waits for
// the device's signed verdict.
//
// The two channels have different trust properties. The publish side
// is push-notification-shaped (at-most-once, best-effort, possibly
// dropped or delayed), so correctness never depends on delivery. The
// listener is the authoritative side: it accepts exactly one response
// whose nonce matches the outstanding challenge and whose Ed25519
// signature verifies against the pairing record's public key. The TTL
// bounds the caller's wait and reduces the nonce's replay window to
// zero after expiry.
//
// The device signs canonical CBOR bytes (lib/codec), not re-encoded
// JSON: signature input must be byte-identical on both ends, and the
// asserted verdict is inside the signed envelope so an approval can
// never be replayed as a denial or vice versa.
package challenge
