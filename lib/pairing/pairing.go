// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package pairing holds the durable record of the paired
// remote-approval device.
//
// At most one device is paired per host: the record's Ed25519 public
// key is the sole root of trust for verifying remote approvals, and a
// successful re-pairing evicts the previous binding. Unpair (Clear) is
// the only way to revoke a remote approver's trust.
package pairing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/zeebo/blake3"

	"github.com/keyward/keyward/lib/statefile"
)

// ErrNotPaired means no device pairing record exists.
var ErrNotPaired = errors.New("pairing: no device paired")

// Record is the durable pairing record. Created once by a successful
// pairing handshake, immutable thereafter until explicitly cleared.
type Record struct {
	// DeviceName is the human-chosen name the device announced at
	// pairing time.
	DeviceName string `json:"device_name"`

	// PublicKey is the device's Ed25519 public key, standard base64.
	// The sole root of trust for verifying remote approvals.
	PublicKey string `json:"public_key"`

	// NotificationTopic is the topic identifier challenges are
	// published to. Agreed at pairing time.
	NotificationTopic string `json:"notification_topic"`

	// CallbackPort is the local port the approval callback listener
	// binds for each challenge round.
	CallbackPort int `json:"callback_port"`

	// Hostname is the host this record was created on, so a copied
	// state directory is detectable.
	Hostname string `json:"hostname"`

	// PairedAt is when the handshake completed.
	PairedAt time.Time `json:"paired_at"`
}

// Key decodes the record's Ed25519 public key.
func (r *Record) Key() (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(r.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("pairing: decoding device public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("pairing: device public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Fingerprint returns a short blake3 fingerprint of the device public
// key for display (`keyward status`, pairing confirmation output).
func (r *Record) Fingerprint() (string, error) {
	key, err := r.Key()
	if err != nil {
		return "", err
	}
	digest := blake3.Sum256(key)
	return hex.EncodeToString(digest[:8]), nil
}

// Registry persists the single pairing record.
type Registry struct {
	path string
}

// NewRegistry creates a Registry storing its record at path.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Save validates and persists the record, overwriting any prior
// record (single-device model: re-pairing evicts the previous
// binding).
func (g *Registry) Save(record Record) error {
	if record.DeviceName == "" {
		return fmt.Errorf("pairing: device name is required")
	}
	if _, err := record.Key(); err != nil {
		return err
	}
	if record.NotificationTopic == "" {
		return fmt.Errorf("pairing: notification topic is required")
	}
	if record.CallbackPort <= 0 || record.CallbackPort > 65535 {
		return fmt.Errorf("pairing: callback port %d out of range", record.CallbackPort)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("pairing: encoding record: %w", err)
	}
	return statefile.WithLock(g.path, func() error {
		return statefile.WriteAtomic(g.path, data, 0o600)
	})
}

// Load returns the active pairing record, or ErrNotPaired.
func (g *Registry) Load() (*Record, error) {
	data, err := os.ReadFile(g.path)
	if os.IsNotExist(err) {
		return nil, ErrNotPaired
	}
	if err != nil {
		return nil, fmt.Errorf("pairing: reading record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("pairing: record is corrupt: %w", err)
	}
	if _, err := record.Key(); err != nil {
		return nil, err
	}
	return &record, nil
}

// Clear removes the pairing record, the only way to revoke a remote
// approver's trust. Clearing an unpaired host is not an error.
func (g *Registry) Clear() error {
	return statefile.WithLock(g.path, func() error {
		err := os.Remove(g.path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("pairing: clearing record: %w", err)
		}
		return nil
	})
}
