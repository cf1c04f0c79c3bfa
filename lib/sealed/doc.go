// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption and decryption for the vault's
// stored credential. It wraps filippo.io/age to provide the specific
// operations the vault needs: generate a host keypair, encrypt a
// plaintext credential to the host public key, decrypt the stored
// ciphertext with the host private key.
//
// Ciphertext is base64-encoded for storage in the vault's single
// ciphertext file. The base64 encoding is handled internally; callers
// pass plaintext []byte in and get base64 strings out (and vice versa
// for decryption).
//
// Private keys and decrypted plaintext are returned as *secret.Buffer
// values, which are backed by mmap memory outside the Go heap (locked
// against swap, excluded from core dumps, zeroed on close).
package sealed
