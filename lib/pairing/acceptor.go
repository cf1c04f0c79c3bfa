// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/keyward/keyward/lib/clock"
)

// maxPairingBody bounds the POST /pair request body. Pairing requests
// are a name, a key, and a topic; anything larger is hostile.
const maxPairingBody = 4096

// pairRequest is the JSON body of POST /pair.
type pairRequest struct {
	Name   string `json:"name"`
	Pubkey string `json:"pubkey"`
	Topic  string `json:"topic"`
}

// pairResponse is the JSON reply on successful pairing.
type pairResponse struct {
	Status       string `json:"status"`
	Hostname     string `json:"hostname"`
	CallbackPort int    `json:"callback_port"`
}

// Acceptor is the short-lived HTTP server that completes a pairing
// handshake. It is active only while a pairing flow is in progress
// (`keyward pair`), accepts exactly one valid POST /pair, persists the
// Record, and shuts down.
type Acceptor struct {
	registry     *Registry
	address      string
	hostname     string
	callbackPort int
	clock        clock.Clock
	logger       *slog.Logger

	ready chan struct{}
	addr  net.Addr

	mu     sync.Mutex
	paired *Record
	done   chan struct{}
}

// AcceptorConfig configures an Acceptor.
type AcceptorConfig struct {
	// Registry persists the record on a successful handshake.
	Registry *Registry

	// Address is the TCP listen address (e.g., ":8490"). Required.
	Address string

	// Hostname is recorded in the pairing record and echoed to the
	// device. Required.
	Hostname string

	// CallbackPort is the approval listener port the paired device
	// must post responses to. Recorded and echoed. Required.
	CallbackPort int

	// Clock stamps PairedAt. Defaults to clock.Real().
	Clock clock.Clock

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewAcceptor creates an Acceptor. Call Serve to run the handshake.
func NewAcceptor(config AcceptorConfig) *Acceptor {
	if config.Registry == nil {
		panic("pairing.Acceptor: Registry is required")
	}
	if config.Address == "" {
		panic("pairing.Acceptor: Address is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Acceptor{
		registry:     config.Registry,
		address:      config.Address,
		hostname:     config.Hostname,
		callbackPort: config.CallbackPort,
		clock:        clk,
		logger:       logger,
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Ready returns a channel closed once the acceptor is bound and
// accepting connections.
func (a *Acceptor) Ready() <-chan struct{} { return a.ready }

// Addr returns the resolved listen address. Only valid after Ready()
// is closed.
func (a *Acceptor) Addr() net.Addr { return a.addr }

// Serve runs the pairing handshake: binds the listener, waits for one
// valid POST /pair, persists the record, and returns it. Returns an
// error when ctx is cancelled before a device pairs. The listener is
// released before Serve returns under every outcome.
func (a *Acceptor) Serve(ctx context.Context) (*Record, error) {
	listener, err := net.Listen("tcp", a.address)
	if err != nil {
		return nil, fmt.Errorf("pairing: listening on %s: %w", a.address, err)
	}
	a.addr = listener.Addr()
	close(a.ready)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /pair", a.handlePair)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	a.logger.Info("pairing acceptor listening", "address", a.addr.String())

	select {
	case <-ctx.Done():
		server.Close()
		<-serveDone
		return nil, fmt.Errorf("pairing: cancelled before a device paired: %w", ctx.Err())
	case err := <-serveDone:
		server.Close()
		if err != nil {
			return nil, fmt.Errorf("pairing: serving handshake: %w", err)
		}
		return nil, fmt.Errorf("pairing: listener closed unexpectedly")
	case <-a.done:
	}

	// A device paired. Stop accepting and release the port before
	// returning.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Close()
	}
	<-serveDone

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paired, nil
}

func (a *Acceptor) handlePair(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPairingBody+1))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	if len(body) > maxPairingBody {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var request pairRequest
	if err := json.Unmarshal(body, &request); err != nil {
		http.Error(w, "malformed JSON", http.StatusBadRequest)
		return
	}
	if request.Name == "" || request.Pubkey == "" || request.Topic == "" {
		http.Error(w, "missing name, pubkey, or topic", http.StatusBadRequest)
		return
	}

	record := Record{
		DeviceName:        request.Name,
		PublicKey:         request.Pubkey,
		NotificationTopic: request.Topic,
		CallbackPort:      a.callbackPort,
		Hostname:          a.hostname,
		PairedAt:          a.clock.Now(),
	}

	a.mu.Lock()
	if a.paired != nil {
		a.mu.Unlock()
		http.Error(w, "already paired in this session", http.StatusConflict)
		return
	}
	if err := a.registry.Save(record); err != nil {
		a.mu.Unlock()
		a.logger.Error("persisting pairing record failed", "error", err)
		http.Error(w, "invalid pairing request", http.StatusBadRequest)
		return
	}
	a.paired = &record
	a.mu.Unlock()

	response, _ := json.Marshal(pairResponse{
		Status:       "ok",
		Hostname:     a.hostname,
		CallbackPort: a.callbackPort,
	})
	w.Header().Set("Content-Type", "application/json")
	w.Write(response)

	fingerprint, _ := record.Fingerprint()
	a.logger.Info("device paired",
		"device", record.DeviceName,
		"fingerprint", fingerprint,
		"topic", record.NotificationTopic)

	close(a.done)
}
