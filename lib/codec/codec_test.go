// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type wirePayload struct {
	Nonce   string `cbor:"1,keyasint"`
	Command string `cbor:"2,keyasint"`
	Issued  int64  `cbor:"3,keyasint"`
}

func TestMarshalDeterministic(t *testing.T) {
	payload := wirePayload{Nonce: "abc123", Command: "sudo systemctl restart nginx", Issued: 1767225600}

	first, err := Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same payload produced different bytes")
	}
}

func TestRoundTrip(t *testing.T) {
	payload := wirePayload{Nonce: "deadbeef", Command: "sudo -A id", Issued: 42}

	encoded, err := Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded wirePayload
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != payload {
		t.Errorf("round trip = %+v, want %+v", decoded, payload)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	// A payload with an extra field a newer companion might send.
	extended := struct {
		Nonce   string `cbor:"1,keyasint"`
		Command string `cbor:"2,keyasint"`
		Issued  int64  `cbor:"3,keyasint"`
		Extra   string `cbor:"9,keyasint"`
	}{Nonce: "n", Command: "c", Issued: 1, Extra: "future"}

	encoded, err := Marshal(extended)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded wirePayload
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Nonce != "n" || decoded.Issued != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}
