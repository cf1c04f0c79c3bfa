// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"
	"log/slog"

	"github.com/keyward/keyward/lib/attest"
	"github.com/keyward/keyward/lib/audit"
)

// Chain runs gates in a fixed order, stopping at the first denial.
// Exactly one audit record is appended per decision, carrying the
// final outcome and its reason.
type Chain struct {
	gates    []Gate
	sink     *audit.Sink
	attestor attest.Attestor
	logger   *slog.Logger
}

// ChainConfig configures a Chain.
type ChainConfig struct {
	// Gates are evaluated in order. Required, at least one.
	Gates []Gate

	// Sink receives one audit record per decision. Required.
	Sink *audit.Sink

	// Attestor supplies process identity for audit records. Required.
	Attestor attest.Attestor

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewChain creates a Chain.
func NewChain(config ChainConfig) *Chain {
	if len(config.Gates) == 0 {
		panic("gate.Chain: Gates is required")
	}
	if config.Sink == nil {
		panic("gate.Chain: Sink is required")
	}
	if config.Attestor == nil {
		panic("gate.Chain: Attestor is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		gates:    config.Gates,
		sink:     config.Sink,
		attestor: config.Attestor,
		logger:   logger,
	}
}

// Decide evaluates the request against every gate in order. The
// first denial short-circuits and becomes the decision; a full
// traversal allows. The decision is appended to the audit sink
// before return. An audit write failure is logged but does not turn
// an allow into a deny: auditing must not become a denial vector.
func (c *Chain) Decide(ctx context.Context, request *Request) Result {
	result := allow("")
	for _, g := range c.gates {
		result = g.Check(ctx, request)
		if result.Decision == Deny {
			c.logger.Warn("release denied",
				"gate", result.Gate,
				"reason", result.Reason.String(),
				"command", request.Command,
				"user", request.User)
			break
		}
	}
	if result.Decision == Allow {
		c.logger.Info("release allowed", "command", request.Command, "user", request.User)
	}

	c.append(request, result)
	return result
}

// append writes the decision's audit record. Identity fields are
// best-effort: an unreadable parent or cwd is recorded as empty
// rather than blocking the audit trail.
func (c *Chain) append(request *Request, result Result) {
	processName, _ := c.attestor.ParentProcessName()
	cwd, _ := c.attestor.WorkingDirectory()

	record := audit.Record{
		PID:         c.attestor.PID(),
		ProcessName: processName,
		Command:     request.Command,
		User:        request.User,
		CWD:         cwd,
		Status:      result.Reason.String(),
	}
	if err := c.sink.Append(record); err != nil {
		c.logger.Error("audit append failed", "error", err)
	}
}
