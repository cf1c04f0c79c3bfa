// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/keyward/keyward/lib/attest"
	"github.com/keyward/keyward/lib/audit"
	"github.com/keyward/keyward/lib/clock"
)

// stubGate answers with a fixed result and counts invocations.
type stubGate struct {
	name   string
	result Result
	calls  int
}

func (g *stubGate) Name() string { return g.name }

func (g *stubGate) Check(context.Context, *Request) Result {
	g.calls++
	return g.result
}

func allowStub(name string) *stubGate {
	return &stubGate{name: name, result: Result{Decision: Allow, Reason: ReasonNone, Gate: name}}
}

func denyStub(name string, reason DenyReason) *stubGate {
	return &stubGate{name: name, result: Result{Decision: Deny, Reason: reason, Gate: name}}
}

func testChain(t *testing.T, gates ...Gate) (*Chain, *audit.Sink) {
	t.Helper()
	sink := audit.NewSink(filepath.Join(t.TempDir(), "audit.log"), clock.Fake(time.Now()), testLogger())
	chain := NewChain(ChainConfig{
		Gates: gates,
		Sink:  sink,
		Attestor: &attest.Fake{
			Parent:    "sudo",
			CWD:       "/home/alice",
			ProcessID: 4321,
		},
		Logger: testLogger(),
	})
	return chain, sink
}

func auditStatuses(t *testing.T, sink *audit.Sink) []string {
	t.Helper()
	records, err := sink.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	statuses := make([]string, len(records))
	for i, record := range records {
		statuses[i] = record.Status
	}
	return statuses
}

func TestChainAllowsOnFullTraversal(t *testing.T) {
	first := allowStub("first")
	second := allowStub("second")
	chain, sink := testChain(t, first, second)

	result := chain.Decide(context.Background(), &Request{Command: "sudo true", User: "alice"})
	checkResult(t, result, Allow, ReasonNone)
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d, %d, want 1, 1", first.calls, second.calls)
	}

	statuses := auditStatuses(t, sink)
	if len(statuses) != 1 || statuses[0] != "Allowed" {
		t.Errorf("audit statuses = %v, want [Allowed]", statuses)
	}
}

func TestChainShortCircuitsOnFirstDenial(t *testing.T) {
	first := allowStub("first")
	second := denyStub("second", ReasonUnauthorizedPath)
	third := allowStub("third")
	chain, sink := testChain(t, first, second, third)

	result := chain.Decide(context.Background(), &Request{Command: "sudo true", User: "alice"})
	checkResult(t, result, Deny, ReasonUnauthorizedPath)
	if result.Gate != "second" {
		t.Errorf("denying gate = %q, want second", result.Gate)
	}
	if third.calls != 0 {
		t.Error("gate after the denial was evaluated")
	}

	// Exactly one record, carrying the denial reason.
	statuses := auditStatuses(t, sink)
	if len(statuses) != 1 || statuses[0] != "UnauthorizedPath" {
		t.Errorf("audit statuses = %v, want [UnauthorizedPath]", statuses)
	}
}

func TestChainOneAuditRecordPerDecision(t *testing.T) {
	chain, sink := testChain(t, allowStub("only"))

	for i := 0; i < 3; i++ {
		chain.Decide(context.Background(), &Request{Command: "sudo true", User: "alice"})
	}
	if statuses := auditStatuses(t, sink); len(statuses) != 3 {
		t.Errorf("audit records = %d, want 3", len(statuses))
	}
}

func TestChainAuditCarriesIdentity(t *testing.T) {
	chain, sink := testChain(t, allowStub("only"))
	chain.Decide(context.Background(), &Request{Command: "sudo systemctl restart nginx", User: "alice", Host: "ws"})

	records, err := sink.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	record := records[0]
	if record.PID != 4321 || record.ProcessName != "sudo" || record.CWD != "/home/alice" {
		t.Errorf("identity fields = %d/%q/%q", record.PID, record.ProcessName, record.CWD)
	}
	if record.Command != "sudo systemctl restart nginx" || record.User != "alice" {
		t.Errorf("request fields = %q/%q", record.Command, record.User)
	}
}

// The ordered end-to-end shape: same request, unauthorized working
// directory, everything else in order.
func TestChainUnauthorizedWorkingDirectory(t *testing.T) {
	attestor := &attest.Fake{
		Parent:    "sudo",
		CWD:       "/opt",
		Env:       map[string]string{"TERM": "xterm-256color"},
		ProcessID: 99,
	}
	sink := audit.NewSink(filepath.Join(t.TempDir(), "audit.log"), clock.Fake(time.Now()), testLogger())
	chain := NewChain(ChainConfig{
		Gates: []Gate{
			NewPathRestriction([]string{"/home/alice"}, attestor),
			NewProcessIdentity([]string{"sudo"}, attestor),
			NewEnvironmentAttestation([]string{"TERM"}, attestor),
		},
		Sink:     sink,
		Attestor: attestor,
		Logger:   testLogger(),
	})

	result := chain.Decide(context.Background(), &Request{Command: "sudo true", User: "alice"})
	checkResult(t, result, Deny, ReasonUnauthorizedPath)

	statuses := auditStatuses(t, sink)
	if len(statuses) != 1 || statuses[0] != "UnauthorizedPath" {
		t.Errorf("audit statuses = %v, want [UnauthorizedPath]", statuses)
	}
}
