// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package challenge

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type roundHarness struct {
	round   *round
	server  *httptest.Server
	payload []byte
	nonce   string
	private ed25519.PrivateKey
}

func startRound(t *testing.T) *roundHarness {
	t.Helper()
	public, private := deviceKeys(t)
	c := testChallenge(t)
	payload, err := c.PayloadBytes()
	if err != nil {
		t.Fatal(err)
	}

	activeRound := newRound(c.Nonce, payload, public, testLogger())
	mux := http.NewServeMux()
	mux.Handle("POST /auth/response", activeRound)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &roundHarness{
		round:   activeRound,
		server:  server,
		payload: payload,
		nonce:   c.Nonce,
		private: private,
	}
}

func (h *roundHarness) post(t *testing.T, body []byte) *http.Response {
	t.Helper()
	response, err := http.Post(h.server.URL+"/auth/response", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /auth/response: %v", err)
	}
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func (h *roundHarness) signedBody(t *testing.T, nonce string, verdict Verdict) []byte {
	t.Helper()
	message, err := SignatureMessage(h.payload, verdict)
	if err != nil {
		t.Fatal(err)
	}
	signature := ed25519.Sign(h.private, message)
	body, err := json.Marshal(callbackRequest{
		Nonce:     nonce,
		Verdict:   string(verdict),
		Signature: base64.StdEncoding.EncodeToString(signature),
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func (h *roundHarness) expectEvent(t *testing.T, want event) {
	t.Helper()
	select {
	case got := <-h.round.events:
		if got != want {
			t.Errorf("event = %d, want %d", got, want)
		}
	default:
		t.Error("no event emitted")
	}
}

func TestRoundAcceptsValidApproval(t *testing.T) {
	harness := startRound(t)

	response := harness.post(t, harness.signedBody(t, harness.nonce, VerdictApprove))
	if response.StatusCode != http.StatusOK {
		t.Fatalf("valid approval = %d, want 200", response.StatusCode)
	}
	harness.expectEvent(t, eventApproved)
}

func TestRoundAcceptsExplicitDenial(t *testing.T) {
	harness := startRound(t)

	response := harness.post(t, harness.signedBody(t, harness.nonce, VerdictDeny))
	if response.StatusCode != http.StatusOK {
		t.Fatalf("valid denial = %d, want 200", response.StatusCode)
	}
	harness.expectEvent(t, eventDenied)
}

func TestRoundRejectsReplay(t *testing.T) {
	harness := startRound(t)
	body := harness.signedBody(t, harness.nonce, VerdictApprove)

	if got := harness.post(t, body).StatusCode; got != http.StatusOK {
		t.Fatalf("first response = %d, want 200", got)
	}

	// Replay of the identical signed response: the nonce is consumed.
	if got := harness.post(t, body).StatusCode; got != http.StatusConflict {
		t.Errorf("replay = %d, want 409", got)
	}
}

func TestRoundRejectsStaleNonce(t *testing.T) {
	harness := startRound(t)

	response := harness.post(t, harness.signedBody(t, "00000000000000000000000000000000", VerdictApprove))
	if response.StatusCode != http.StatusConflict {
		t.Errorf("stale nonce = %d, want 409", response.StatusCode)
	}
	harness.expectEvent(t, eventViolation)
}

func TestRoundConsumesNonceOnBadSignature(t *testing.T) {
	harness := startRound(t)

	body, err := json.Marshal(callbackRequest{
		Nonce:     harness.nonce,
		Verdict:   string(VerdictApprove),
		Signature: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xaa}, ed25519.SignatureSize)),
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := harness.post(t, body).StatusCode; got != http.StatusForbidden {
		t.Fatalf("forged signature = %d, want 403", got)
	}
	harness.expectEvent(t, eventViolation)

	// The forgery burned the nonce: even a now-valid signature is too
	// late.
	if got := harness.post(t, harness.signedBody(t, harness.nonce, VerdictApprove)).StatusCode; got != http.StatusConflict {
		t.Errorf("valid response after forgery = %d, want 409", got)
	}
}

func TestRoundRejectsMalformedBodies(t *testing.T) {
	harness := startRound(t)

	tests := []struct {
		name string
		body []byte
		want int
	}{
		{"not json", []byte("{nope"), http.StatusBadRequest},
		{"missing fields", []byte(`{"nonce":""}`), http.StatusBadRequest},
		{"unknown verdict", []byte(`{"nonce":"abc","verdict":"maybe","signature":"AAAA"}`), http.StatusBadRequest},
		{"oversized", []byte(`{"nonce":"` + strings.Repeat("a", maxResponseBody) + `"}`), http.StatusRequestEntityTooLarge},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := harness.post(t, test.body).StatusCode; got != test.want {
				t.Errorf("status = %d, want %d", got, test.want)
			}
		})
	}

	// Malformed bodies do not consume the challenge.
	if got := harness.post(t, harness.signedBody(t, harness.nonce, VerdictApprove)).StatusCode; got != http.StatusOK {
		t.Errorf("valid response after malformed rejects = %d, want 200", got)
	}
}

func TestRoundExpireInvalidates(t *testing.T) {
	harness := startRound(t)
	harness.round.expire()

	// Late but otherwise valid response: rejected by identity.
	if got := harness.post(t, harness.signedBody(t, harness.nonce, VerdictApprove)).StatusCode; got != http.StatusConflict {
		t.Errorf("post-expiry response = %d, want 409", got)
	}
}

func TestRoundWrongPath(t *testing.T) {
	harness := startRound(t)
	response, err := http.Post(harness.server.URL+"/pair", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatal(err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Errorf("wrong path = %d, want 404", response.StatusCode)
	}
}
