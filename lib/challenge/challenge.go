// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package challenge

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/keyward/keyward/lib/codec"
)

// nonceSize is the random nonce length in bytes (128 bits).
const nonceSize = 16

// Verdict is the device's asserted decision for one challenge.
type Verdict string

const (
	// VerdictApprove releases the credential.
	VerdictApprove Verdict = "approve"

	// VerdictDeny is an explicit rejection by the device holder.
	VerdictDeny Verdict = "deny"
)

// Valid reports whether the verdict is one of the two known values.
func (v Verdict) Valid() bool {
	return v == VerdictApprove || v == VerdictDeny
}

// Errors surfaced by signature verification.
var (
	// ErrBadSignature means the signature does not verify against
	// the paired device's public key for the claimed verdict.
	ErrBadSignature = errors.New("challenge: invalid approval signature")
)

// Challenge is one single-use, time-boxed approval request. Never
// persisted beyond the request's lifetime; destroyed on first
// consumption or TTL expiry, whichever comes first.
type Challenge struct {
	// Nonce is the single-use random token, hex-encoded. Uniqueness
	// is the correctness anchor preventing replay.
	Nonce string

	// IssuedAt is when the challenge was minted.
	IssuedAt time.Time

	// TTL bounds how long the round may stay open.
	TTL time.Duration

	// Command, User, and Host describe the request being approved.
	// They are bound into the signed payload so the device holder
	// knows exactly what they are releasing a credential for.
	Command string
	User    string
	Host    string
}

// New mints a Challenge with a fresh cryptographically random nonce.
func New(now time.Time, ttl time.Duration, command, user, host string) (*Challenge, error) {
	raw := make([]byte, nonceSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("challenge: generating nonce: %w", err)
	}
	return &Challenge{
		Nonce:    hex.EncodeToString(raw),
		IssuedAt: now,
		TTL:      ttl,
		Command:  command,
		User:     user,
		Host:     host,
	}, nil
}

// ExpiresAt returns the deadline after which the nonce is permanently
// invalid.
func (c *Challenge) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL)
}

// signedPayload is the CBOR structure the device signs over. Integer
// keys with deterministic encoding: the host and the companion app
// must produce byte-identical signature input.
type signedPayload struct {
	Nonce     string `cbor:"1,keyasint"`
	Command   string `cbor:"2,keyasint"`
	User      string `cbor:"3,keyasint"`
	Host      string `cbor:"4,keyasint"`
	IssuedAt  int64  `cbor:"5,keyasint"`
	ExpiresAt int64  `cbor:"6,keyasint"`
}

// verdictEnvelope wraps the payload bytes with the asserted verdict.
// The verdict lives inside the signed message so an approval
// signature cannot be replayed as a denial or vice versa.
type verdictEnvelope struct {
	Payload []byte `cbor:"1,keyasint"`
	Verdict string `cbor:"2,keyasint"`
}

// PayloadBytes returns the canonical CBOR encoding of the challenge's
// signed payload. These exact bytes are published to the device inside
// the notification.
func (c *Challenge) PayloadBytes() ([]byte, error) {
	payload, err := codec.Marshal(signedPayload{
		Nonce:     c.Nonce,
		Command:   c.Command,
		User:      c.User,
		Host:      c.Host,
		IssuedAt:  c.IssuedAt.Unix(),
		ExpiresAt: c.ExpiresAt().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("challenge: encoding signed payload: %w", err)
	}
	return payload, nil
}

// SignatureMessage builds the exact byte sequence a device signs for a
// given payload and verdict. Exported for the companion protocol and
// for tests acting as the device.
func SignatureMessage(payload []byte, verdict Verdict) ([]byte, error) {
	message, err := codec.Marshal(verdictEnvelope{
		Payload: payload,
		Verdict: string(verdict),
	})
	if err != nil {
		return nil, fmt.Errorf("challenge: encoding verdict envelope: %w", err)
	}
	return message, nil
}

// VerifySignature checks that signature covers the payload and verdict
// under the paired device's Ed25519 public key. Returns
// ErrBadSignature on mismatch.
func VerifySignature(publicKey ed25519.PublicKey, payload []byte, verdict Verdict, signature []byte) error {
	message, err := SignatureMessage(payload, verdict)
	if err != nil {
		return err
	}
	if !ed25519.Verify(publicKey, message, signature) {
		return ErrBadSignature
	}
	return nil
}
