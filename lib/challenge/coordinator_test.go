// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package challenge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/keyward/keyward/lib/clock"
	"github.com/keyward/keyward/lib/pairing"
)

// capturePublisher records published notifications and signals each
// delivery, so tests can play the device's role.
type capturePublisher struct {
	delivered chan Notification
	topics    chan string
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{
		delivered: make(chan Notification, 1),
		topics:    make(chan string, 1),
	}
}

func (p *capturePublisher) Publish(_ context.Context, topic string, notification Notification) error {
	p.topics <- topic
	p.delivered <- notification
	return nil
}

type coordinatorHarness struct {
	coordinator *Coordinator
	publisher   *capturePublisher
	clock       *clock.FakeClock
	private     ed25519.PrivateKey
	addresses   chan net.Addr
}

func newCoordinatorHarness(t *testing.T, ttl time.Duration) *coordinatorHarness {
	t.Helper()
	public, private := deviceKeys(t)

	registry := pairing.NewRegistry(filepath.Join(t.TempDir(), "pairing.json"))
	err := registry.Save(pairing.Record{
		DeviceName:        "pixel-of-record",
		PublicKey:         base64.StdEncoding.EncodeToString(public),
		NotificationTopic: "keyward-test-topic",
		CallbackPort:      8731,
		Hostname:          "workstation",
		PairedAt:          time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	harness := &coordinatorHarness{
		publisher: newCapturePublisher(),
		clock:     clock.Fake(time.Now()),
		private:   private,
		addresses: make(chan net.Addr, 1),
	}
	harness.coordinator = NewCoordinator(CoordinatorConfig{
		Registry:      registry,
		Publisher:     harness.publisher,
		TTL:           ttl,
		Clock:         harness.clock,
		Logger:        testLogger(),
		ListenAddress: "127.0.0.1:0",
		OnListen:      func(addr net.Addr) { harness.addresses <- addr },
	})
	return harness
}

type roundResult struct {
	outcome Outcome
	err     error
}

func (h *coordinatorHarness) startRound(t *testing.T) <-chan roundResult {
	t.Helper()
	results := make(chan roundResult, 1)
	go func() {
		outcome, err := h.coordinator.RequestApproval(context.Background(), "sudo systemctl restart nginx", "alice", "workstation")
		results <- roundResult{outcome, err}
	}()
	return results
}

// respond plays the paired device: decode the published payload, sign
// the verdict, and POST the callback.
func (h *coordinatorHarness) respond(t *testing.T, verdict Verdict, mutate func(*callbackRequest)) *http.Response {
	t.Helper()
	notification := <-h.publisher.delivered
	addr := <-h.addresses

	payload, err := base64.StdEncoding.DecodeString(notification.Payload)
	if err != nil {
		t.Fatal(err)
	}
	message, err := SignatureMessage(payload, verdict)
	if err != nil {
		t.Fatal(err)
	}
	callback := callbackRequest{
		Nonce:     notification.Nonce,
		Verdict:   string(verdict),
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(h.private, message)),
	}
	if mutate != nil {
		mutate(&callback)
	}
	body, err := json.Marshal(callback)
	if err != nil {
		t.Fatal(err)
	}

	response, err := http.Post(fmt.Sprintf("http://%s/auth/response", addr), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("posting callback: %v", err)
	}
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func (h *coordinatorHarness) await(t *testing.T, results <-chan roundResult) roundResult {
	t.Helper()
	select {
	case result := <-results:
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("round did not terminate")
		return roundResult{}
	}
}

func TestCoordinatorApproval(t *testing.T) {
	harness := newCoordinatorHarness(t, time.Minute)
	results := harness.startRound(t)

	if topic := <-harness.publisher.topics; topic != "keyward-test-topic" {
		t.Errorf("published topic = %q, want keyward-test-topic", topic)
	}
	response := harness.respond(t, VerdictApprove, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("callback = %d, want 200", response.StatusCode)
	}

	result := harness.await(t, results)
	if result.err != nil {
		t.Fatalf("RequestApproval: %v", result.err)
	}
	if result.outcome != Approved {
		t.Errorf("outcome = %v, want Approved", result.outcome)
	}
}

func TestCoordinatorDenial(t *testing.T) {
	harness := newCoordinatorHarness(t, time.Minute)
	results := harness.startRound(t)
	<-harness.publisher.topics

	harness.respond(t, VerdictDeny, nil)

	result := harness.await(t, results)
	if result.err != nil {
		t.Fatalf("RequestApproval: %v", result.err)
	}
	if result.outcome != Denied {
		t.Errorf("outcome = %v, want Denied", result.outcome)
	}
}

func TestCoordinatorViolation(t *testing.T) {
	harness := newCoordinatorHarness(t, time.Minute)
	results := harness.startRound(t)
	<-harness.publisher.topics

	// A signed response carrying a nonce this round never issued.
	response := harness.respond(t, VerdictApprove, func(callback *callbackRequest) {
		callback.Nonce = "ffffffffffffffffffffffffffffffff"
	})
	if response.StatusCode != http.StatusConflict {
		t.Fatalf("stale-nonce callback = %d, want 409", response.StatusCode)
	}

	result := harness.await(t, results)
	if result.outcome != Violated {
		t.Errorf("outcome = %v, want Violated", result.outcome)
	}
}

func TestCoordinatorTimeout(t *testing.T) {
	harness := newCoordinatorHarness(t, 30*time.Second)
	results := harness.startRound(t)
	<-harness.publisher.topics
	addr := <-harness.addresses

	harness.clock.WaitForTimers(1)
	harness.clock.Advance(30 * time.Second)

	result := harness.await(t, results)
	if result.err != nil {
		t.Fatalf("RequestApproval: %v", result.err)
	}
	if result.outcome != TimedOut {
		t.Errorf("outcome = %v, want TimedOut", result.outcome)
	}

	// The callback port must be released when the round ends.
	if conn, err := net.Dial("tcp", addr.String()); err == nil {
		conn.Close()
		t.Error("callback port still accepting connections after timeout")
	}
}

func TestCoordinatorCancellation(t *testing.T) {
	harness := newCoordinatorHarness(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	results := make(chan roundResult, 1)
	go func() {
		outcome, err := harness.coordinator.RequestApproval(ctx, "sudo true", "alice", "workstation")
		results <- roundResult{outcome, err}
	}()
	<-harness.publisher.topics
	<-harness.addresses
	cancel()

	result := harness.await(t, results)
	if result.outcome != TimedOut {
		t.Errorf("outcome = %v, want TimedOut", result.outcome)
	}
	if !errors.Is(result.err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", result.err)
	}
}

func TestCoordinatorSingleFlight(t *testing.T) {
	harness := newCoordinatorHarness(t, time.Minute)
	results := harness.startRound(t)
	<-harness.publisher.topics
	<-harness.addresses

	_, err := harness.coordinator.RequestApproval(context.Background(), "sudo true", "alice", "workstation")
	if !errors.Is(err, ErrRoundInProgress) {
		t.Errorf("concurrent round err = %v, want ErrRoundInProgress", err)
	}

	// Finish the pending round, then a fresh one must be admitted.
	harness.clock.WaitForTimers(1)
	harness.clock.Advance(time.Minute)
	harness.await(t, results)
	<-harness.publisher.delivered

	next := harness.startRound(t)
	<-harness.publisher.topics
	harness.respond(t, VerdictApprove, nil)
	if result := harness.await(t, next); result.outcome != Approved {
		t.Errorf("follow-up outcome = %v, want Approved", result.outcome)
	}
}

func TestCoordinatorUnpaired(t *testing.T) {
	registry := pairing.NewRegistry(filepath.Join(t.TempDir(), "pairing.json"))
	coordinator := NewCoordinator(CoordinatorConfig{
		Registry:  registry,
		Publisher: newCapturePublisher(),
		Logger:    testLogger(),
	})

	_, err := coordinator.RequestApproval(context.Background(), "sudo true", "alice", "workstation")
	if !errors.Is(err, pairing.ErrNotPaired) {
		t.Errorf("err = %v, want ErrNotPaired", err)
	}
}
