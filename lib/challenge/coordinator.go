// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/keyward/keyward/lib/clock"
	"github.com/keyward/keyward/lib/pairing"
)

// Outcome is the terminal result of one approval round. Exactly one
// outcome is returned per RequestApproval call.
type Outcome int

const (
	// TimedOut means the TTL elapsed with no valid response. Also
	// returned when the caller's context was cancelled first.
	TimedOut Outcome = iota

	// Approved means the paired device signed an approval for this
	// round's nonce within the TTL.
	Approved

	// Denied means the device holder explicitly rejected the request.
	Denied

	// Violated means the round was poisoned by a protocol violation:
	// a response for a stale nonce, or a nonce-matching response
	// whose signature did not verify. Never retried within the round.
	Violated
)

// String returns a lowercase name for logs and audit records.
func (o Outcome) String() string {
	switch o {
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	case Violated:
		return "protocol violation"
	default:
		return "timed out"
	}
}

// Errors returned by RequestApproval.
var (
	// ErrRoundInProgress means another approval round is already
	// pending on this coordinator. Rounds are single-flight per
	// host: two rounds must not interleave on the same callback
	// port.
	ErrRoundInProgress = errors.New("challenge: an approval round is already in progress")

	// ErrListenerBind means the callback listener could not bind its
	// port. Fail closed: no listener, no way to verify an approval.
	ErrListenerBind = errors.New("challenge: callback listener failed to bind")
)

// Coordinator orchestrates one challenge/response round-trip: mint a
// nonce, open the bounded-lifetime callback listener, publish the
// challenge, and race the listener against the TTL.
type Coordinator struct {
	registry  *pairing.Registry
	publisher Publisher
	ttl       time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	// listenAddress overrides the record's ":<callback_port>" listen
	// address. Tests use "127.0.0.1:0".
	listenAddress string
	onListen      func(net.Addr)

	mu       sync.Mutex
	inFlight bool
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Registry supplies the pairing record (device key, topic,
	// callback port). Required.
	Registry *pairing.Registry

	// Publisher delivers challenge notifications. Required.
	Publisher Publisher

	// TTL bounds each round. Defaults to 30 seconds.
	TTL time.Duration

	// Clock drives the TTL deadline. Defaults to clock.Real().
	Clock clock.Clock

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// ListenAddress overrides the callback listen address derived
	// from the pairing record. Intended for tests.
	ListenAddress string

	// OnListen, when set, is invoked with the bound listener address
	// at the start of each round, before the challenge is published.
	OnListen func(net.Addr)
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	if config.Registry == nil {
		panic("challenge.Coordinator: Registry is required")
	}
	if config.Publisher == nil {
		panic("challenge.Coordinator: Publisher is required")
	}
	ttl := config.TTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry:      config.Registry,
		publisher:     config.Publisher,
		ttl:           ttl,
		clock:         clk,
		logger:        logger,
		listenAddress: config.ListenAddress,
		onListen:      config.OnListen,
	}
}

// RequestApproval runs one approval round and returns its terminal
// outcome. The callback listener is bound for the lifetime of the
// call and released synchronously before return under every outcome,
// so a subsequent call can bind the same port without contention.
//
// Rounds are single-flight: a second call while one is pending fails
// with ErrRoundInProgress rather than interleaving on the callback
// port.
func (c *Coordinator) RequestApproval(ctx context.Context, command, user, host string) (Outcome, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return TimedOut, ErrRoundInProgress
	}
	c.inFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	record, err := c.registry.Load()
	if err != nil {
		return TimedOut, fmt.Errorf("challenge: loading pairing record: %w", err)
	}
	deviceKey, err := record.Key()
	if err != nil {
		return TimedOut, err
	}

	outstanding, err := New(c.clock.Now(), c.ttl, command, user, host)
	if err != nil {
		return TimedOut, err
	}
	payload, err := outstanding.PayloadBytes()
	if err != nil {
		return TimedOut, err
	}

	// Bind the listener before publishing: the notification must not
	// race ahead of the thing that can receive its answer.
	address := c.listenAddress
	if address == "" {
		address = fmt.Sprintf(":%d", record.CallbackPort)
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return TimedOut, fmt.Errorf("%w: %v", ErrListenerBind, err)
	}

	if c.onListen != nil {
		c.onListen(listener.Addr())
	}

	activeRound := newRound(outstanding.Nonce, payload, deviceKey, c.logger)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/response", activeRound)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("callback listener failed", "error", err)
		}
	}()

	// Publish concurrently, fire-and-forget. A publish failure is an
	// anomaly, not a round failure: the device may still learn of the
	// challenge through an earlier subscription fetch, and the
	// listener remains authoritative either way.
	go func() {
		notification := NewNotification(outstanding, payload, record.CallbackPort)
		if err := c.publisher.Publish(ctx, record.NotificationTopic, notification); err != nil {
			c.logger.Warn("publishing challenge notification failed", "error", err)
		}
	}()

	c.logger.Info("approval round open",
		"nonce", outstanding.Nonce,
		"device", record.DeviceName,
		"ttl", c.ttl)

	// Race the listener against the TTL and caller cancellation.
	outcome := TimedOut
	var roundErr error
	select {
	case received := <-activeRound.events:
		switch received {
		case eventApproved:
			outcome = Approved
		case eventDenied:
			outcome = Denied
		case eventViolation:
			outcome = Violated
		}
	case <-c.clock.After(c.ttl):
		outcome = TimedOut
	case <-ctx.Done():
		outcome = TimedOut
		roundErr = fmt.Errorf("challenge: round cancelled: %w", ctx.Err())
	}

	// Invalidate the nonce, then release the port synchronously.
	// Close (not Shutdown): a late in-flight request must not keep
	// the port bound past this call's return.
	activeRound.expire()
	server.Close()
	<-serveDone

	c.logger.Info("approval round closed", "outcome", outcome.String())
	return outcome, roundErr
}
