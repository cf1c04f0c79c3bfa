// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault holds the ciphertext of the stored administrative
// credential and releases the plaintext on demand.
//
// The vault's responsibilities are deliberately narrow: the freshness
// invariant (an entry older than the expiration window is treated as
// absent and deleted), and handing the plaintext to exactly one caller
// in a secret.Buffer that is zeroed on Close. Encryption and
// decryption delegate to lib/sealed; the vault never sees key
// material beyond passing the host key files through.
//
// Persistence is a single ciphertext file with owner-only permissions.
// The file's modification time is the sole freshness signal. All
// mutations go through an advisory lock with write-new-then-rename so
// concurrent invocations cannot observe partial state.
package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/keyward/keyward/lib/clock"
	"github.com/keyward/keyward/lib/sealed"
	"github.com/keyward/keyward/lib/secret"
	"github.com/keyward/keyward/lib/statefile"
)

// Sentinel results for Reveal.
var (
	// ErrAbsent means no credential is stored.
	ErrAbsent = errors.New("vault: no credential stored")

	// ErrExpired means the stored credential exceeded the expiration
	// window. The ciphertext has been deleted; a subsequent Reveal
	// returns ErrAbsent.
	ErrExpired = errors.New("vault: stored credential expired")
)

// Vault manages the ciphertext file and the host keypair files.
type Vault struct {
	// ciphertextPath is the credential ciphertext file (0600).
	ciphertextPath string

	// publicKeyPath and privateKeyPath hold the host age keypair.
	publicKeyPath  string
	privateKeyPath string

	// expiration is the freshness window. Entries older than this
	// are self-deleted.
	expiration time.Duration

	clock  clock.Clock
	logger *slog.Logger
}

// Config configures a Vault.
type Config struct {
	CiphertextPath string
	PublicKeyPath  string
	PrivateKeyPath string
	Expiration     time.Duration
	Clock          clock.Clock
	Logger         *slog.Logger
}

// New creates a Vault. No files are touched until an operation runs.
func New(config Config) *Vault {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		ciphertextPath: config.CiphertextPath,
		publicKeyPath:  config.PublicKeyPath,
		privateKeyPath: config.PrivateKeyPath,
		expiration:     config.Expiration,
		clock:          clk,
		logger:         logger,
	}
}

// InitKeys generates the host age keypair if the key files do not
// exist yet. Returns the public key string. Safe to call repeatedly.
func (v *Vault) InitKeys() (string, error) {
	if data, err := os.ReadFile(v.publicKeyPath); err == nil {
		existing := string(data)
		if err := sealed.ParsePublicKey(strings.TrimSpace(existing)); err != nil {
			return "", fmt.Errorf("vault: existing public key file is invalid: %w", err)
		}
		return strings.TrimSpace(existing), nil
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return "", fmt.Errorf("vault: generating host keypair: %w", err)
	}
	defer keypair.Close()

	if err := statefile.WriteAtomic(v.privateKeyPath, keypair.PrivateKey.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("vault: writing private key: %w", err)
	}
	if err := statefile.WriteAtomic(v.publicKeyPath, []byte(keypair.PublicKey+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("vault: writing public key: %w", err)
	}
	return keypair.PublicKey, nil
}

// Store seals the plaintext to the host public key and replaces the
// ciphertext file. The plaintext buffer is borrowed, not closed.
// Replace-only: there is no in-place mutation of a stored entry.
func (v *Vault) Store(plaintext *secret.Buffer) error {
	publicKey, err := v.readPublicKey()
	if err != nil {
		return err
	}

	// Encrypt wants a heap slice; copy and zero it after sealing.
	heapCopy := append([]byte(nil), plaintext.Bytes()...)
	ciphertext, err := sealed.Encrypt(heapCopy, publicKey)
	secret.Zero(heapCopy)
	if err != nil {
		return fmt.Errorf("vault: sealing credential: %w", err)
	}

	return statefile.WithLock(v.ciphertextPath, func() error {
		if err := statefile.WriteAtomic(v.ciphertextPath, []byte(ciphertext), 0o600); err != nil {
			return fmt.Errorf("vault: writing ciphertext: %w", err)
		}
		return nil
	})
}

// Reveal decrypts and returns the stored credential. Returns ErrAbsent
// when nothing is stored and ErrExpired when the entry exceeded the
// expiration window, in which case the ciphertext is deleted
// (self-cleaning) and the next Reveal reports ErrAbsent.
//
// The plaintext is returned in a secret.Buffer backed by mmap memory
// that is zeroed and released on Close. The vault keeps no copy; the
// caller is the single recipient.
func (v *Vault) Reveal() (*secret.Buffer, error) {
	var plaintext *secret.Buffer

	err := statefile.WithLock(v.ciphertextPath, func() error {
		info, err := os.Stat(v.ciphertextPath)
		if os.IsNotExist(err) {
			return ErrAbsent
		}
		if err != nil {
			return fmt.Errorf("vault: reading ciphertext metadata: %w", err)
		}

		if v.clock.Now().Sub(info.ModTime()) > v.expiration {
			// Self-clean: an expired entry is treated as absent.
			if removeErr := os.Remove(v.ciphertextPath); removeErr != nil {
				v.logger.Error("removing expired credential failed", "error", removeErr)
			}
			return ErrExpired
		}

		ciphertext, err := os.ReadFile(v.ciphertextPath)
		if err != nil {
			return fmt.Errorf("vault: reading ciphertext: %w", err)
		}

		privateKey, err := secret.ReadFromPath(v.privateKeyPath)
		if err != nil {
			return fmt.Errorf("vault: reading host private key: %w", err)
		}
		defer privateKey.Close()

		plaintext, err = sealed.Decrypt(string(ciphertext), privateKey)
		if err != nil {
			return fmt.Errorf("vault: unsealing credential: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Clear removes the ciphertext file. Returns nil when nothing was
// stored.
func (v *Vault) Clear() error {
	return statefile.WithLock(v.ciphertextPath, func() error {
		err := os.Remove(v.ciphertextPath)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("vault: clearing credential: %w", err)
		}
		return nil
	})
}

// Age returns how old the stored entry is. Returns ErrAbsent when
// nothing is stored. Age does not trigger self-cleaning; only Reveal
// does.
func (v *Vault) Age() (time.Duration, error) {
	info, err := os.Stat(v.ciphertextPath)
	if os.IsNotExist(err) {
		return 0, ErrAbsent
	}
	if err != nil {
		return 0, fmt.Errorf("vault: reading ciphertext metadata: %w", err)
	}
	return v.clock.Now().Sub(info.ModTime()), nil
}

// Expiration returns the configured freshness window.
func (v *Vault) Expiration() time.Duration { return v.expiration }

func (v *Vault) readPublicKey() (string, error) {
	data, err := os.ReadFile(v.publicKeyPath)
	if err != nil {
		return "", fmt.Errorf("vault: reading host public key (run keygen first): %w", err)
	}
	key := strings.TrimSpace(string(data))
	if err := sealed.ParsePublicKey(key); err != nil {
		return "", fmt.Errorf("vault: host public key file is invalid: %w", err)
	}
	return key, nil
}
