// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"

	"golang.org/x/crypto/ssh"
)

// Kind classifies the stored credential's shape. The pipeline does not
// behave differently per kind; classification exists so `keyward
// store` can confirm what it is sealing and `keyward status` can
// report it without ever printing the value.
type Kind string

const (
	// KindPassword is an opaque single-line credential.
	KindPassword Kind = "password"

	// KindSSHKey is a parseable SSH private key in PEM form.
	KindSSHKey Kind = "ssh-key"

	// KindPEM is PEM-framed material that is not a recognizable SSH
	// private key (for example a certificate pasted by mistake).
	KindPEM Kind = "pem"
)

// DetectKind classifies plaintext credential material. The plaintext
// is borrowed; no copy is retained.
func DetectKind(plaintext []byte) Kind {
	if !bytes.Contains(plaintext, []byte("-----BEGIN ")) {
		return KindPassword
	}

	_, err := ssh.ParseRawPrivateKey(plaintext)
	if err == nil {
		return KindSSHKey
	}
	if _, missing := err.(*ssh.PassphraseMissingError); missing {
		// Passphrase-protected keys are still keys.
		return KindSSHKey
	}
	return KindPEM
}
