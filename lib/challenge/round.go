// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package challenge

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// maxResponseBody bounds the POST /auth/response body. A response is a
// nonce, a verdict, and a signature; anything larger is hostile.
const maxResponseBody = 4096

// event is a terminal event observed by the round's listener.
type event int

const (
	eventApproved event = iota
	eventDenied
	eventViolation
)

// callbackRequest is the JSON body of POST /auth/response.
type callbackRequest struct {
	Nonce     string `json:"nonce"`
	Verdict   string `json:"verdict"`
	Signature string `json:"signature"`
}

// round is the HTTP handler for one challenge round. It adjudicates
// exactly one outstanding nonce: the first valid signed response
// consumes it, and every subsequent attempt (including a replay of the
// identical signature) is rejected with a conflict status.
//
// round is the authoritative side of the protocol. The published
// notification is best-effort and unacknowledged; whatever arrives
// here, verified against the pairing record's public key, is what
// decides the outcome.
type round struct {
	nonce   string
	payload []byte
	key     ed25519.PublicKey
	logger  *slog.Logger

	mu       sync.Mutex
	consumed bool

	// events delivers the first terminal event. Buffered so the
	// handler never blocks on a coordinator that already moved on.
	events chan event
}

func newRound(nonce string, payload []byte, key ed25519.PublicKey, logger *slog.Logger) *round {
	return &round{
		nonce:   nonce,
		payload: payload,
		key:     key,
		logger:  logger,
		events:  make(chan event, 1),
	}
}

// expire permanently invalidates the nonce. Late responses after TTL
// are rejected by identity (409), not merely ignored.
func (r *round) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed = true
}

func (r *round) emit(e event) {
	select {
	case r.events <- e:
	default:
	}
}

// ServeHTTP handles POST /auth/response.
func (r *round) ServeHTTP(w http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(io.LimitReader(request.Body, maxResponseBody+1))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	if len(body) > maxResponseBody {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var callback callbackRequest
	if err := json.Unmarshal(body, &callback); err != nil {
		r.logger.Warn("malformed callback body")
		http.Error(w, "malformed JSON", http.StatusBadRequest)
		return
	}
	if callback.Nonce == "" || callback.Signature == "" {
		http.Error(w, "missing nonce or signature", http.StatusBadRequest)
		return
	}
	verdict := Verdict(callback.Verdict)
	if !verdict.Valid() {
		http.Error(w, "unknown verdict", http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	if r.consumed {
		r.mu.Unlock()
		http.Error(w, "no matching challenge", http.StatusConflict)
		return
	}
	if callback.Nonce != r.nonce {
		// A response for a nonce this round never issued. Either a
		// stale round's reply or an active probe; both poison the
		// round.
		r.mu.Unlock()
		r.logger.Warn("callback nonce does not match outstanding challenge")
		http.Error(w, "no matching challenge", http.StatusConflict)
		r.emit(eventViolation)
		return
	}

	// Nonce matches: consume it now, before signature verification.
	// A matching but unverifiable response burns the challenge, so a
	// forger does not get further tries against a live nonce.
	r.consumed = true
	r.mu.Unlock()

	signature, err := base64.StdEncoding.DecodeString(callback.Signature)
	if err != nil {
		r.logger.Warn("callback signature is not valid base64")
		http.Error(w, "malformed signature", http.StatusBadRequest)
		r.emit(eventViolation)
		return
	}

	if err := VerifySignature(r.key, r.payload, verdict, signature); err != nil {
		r.logger.Warn("callback signature verification failed")
		http.Error(w, "invalid signature", http.StatusForbidden)
		r.emit(eventViolation)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))

	if verdict == VerdictApprove {
		r.emit(eventApproved)
	} else {
		r.emit(eventDenied)
	}
}
