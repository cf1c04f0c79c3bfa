// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit bounds credential-release attempts per time window.
//
// Attempts are persisted as a JSON file of timestamps plus an optional
// lockout deadline, because each external invocation is a fresh
// process: the window only means something if it survives process
// exit. Read-modify-write runs under an advisory file lock to avoid
// lost updates from concurrent sudo-style invocations.
//
// On unreadable or corrupt state the limiter fails open (treats the
// window as empty) and logs the anomaly: failing closed here would be
// a denial-of-service vector against legitimate operators. This
// control exists to slow an attacker down, not to be load-bearing on
// its own.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/keyward/keyward/lib/clock"
	"github.com/keyward/keyward/lib/statefile"
)

// window is the sliding window over which attempts are counted.
const window = time.Hour

// state is the persisted JSON shape.
type state struct {
	// Attempts holds the timestamp of every decision attempt inside
	// the current window, oldest first. Entries older than the window
	// are pruned before every count check.
	Attempts []time.Time `json:"attempts"`

	// LockoutUntil is set when the attempt ceiling was hit. Nil when
	// no lockout is active.
	LockoutUntil *time.Time `json:"lockout_until"`
}

// Result describes one rate-limit decision.
type Result struct {
	// Allowed is false when a lockout is active or the per-hour
	// ceiling is reached.
	Allowed bool

	// Remaining is the number of attempts left in the window after
	// this one. Zero when denied.
	Remaining int

	// LockoutUntil is the active lockout deadline. Zero when no
	// lockout is in effect.
	LockoutUntil time.Time
}

// Limiter enforces the per-hour attempt ceiling with a persisted
// window.
type Limiter struct {
	path            string
	maxPerHour      int
	lockoutDuration time.Duration
	clock           clock.Clock
	logger          *slog.Logger
}

// New creates a Limiter persisting to path.
func New(path string, maxPerHour int, lockoutDuration time.Duration, clk clock.Clock, logger *slog.Logger) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		path:            path,
		maxPerHour:      maxPerHour,
		lockoutDuration: lockoutDuration,
		clock:           clk,
		logger:          logger,
	}
}

// Attempt records one decision attempt and reports whether it may
// proceed. The attempt is recorded regardless of what later gates
// decide: the window counts attempts, not successes.
//
// When the ceiling is hit, a lockout deadline is persisted; no attempt
// succeeds again until it has elapsed.
func (l *Limiter) Attempt() Result {
	now := l.clock.Now()
	result := Result{Allowed: true}

	err := statefile.WithLock(l.path, func() error {
		current := l.load(now)

		if current.LockoutUntil != nil && now.Before(*current.LockoutUntil) {
			result = Result{Allowed: false, LockoutUntil: *current.LockoutUntil}
			return nil
		}
		current.LockoutUntil = nil

		if len(current.Attempts) >= l.maxPerHour {
			deadline := now.Add(l.lockoutDuration)
			current.LockoutUntil = &deadline
			result = Result{Allowed: false, LockoutUntil: deadline}
			return l.persist(current)
		}

		current.Attempts = append(current.Attempts, now)
		result = Result{Allowed: true, Remaining: l.maxPerHour - len(current.Attempts)}
		return l.persist(current)
	})
	if err != nil {
		// Fail open: the attempt proceeds, loudly.
		l.logger.Error("rate limit state unavailable, failing open", "path", l.path, "error", err)
		return Result{Allowed: true, Remaining: l.maxPerHour}
	}
	return result
}

// Status returns the current window without recording an attempt.
func (l *Limiter) Status() Result {
	now := l.clock.Now()
	current := l.load(now)

	result := Result{Allowed: true, Remaining: l.maxPerHour - len(current.Attempts)}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if current.LockoutUntil != nil && now.Before(*current.LockoutUntil) {
		result.Allowed = false
		result.Remaining = 0
		result.LockoutUntil = *current.LockoutUntil
	}
	return result
}

// load reads and prunes the persisted window. Unreadable or corrupt
// state yields an empty window (fail open) with the anomaly logged.
func (l *Limiter) load(now time.Time) state {
	var current state

	data, err := os.ReadFile(l.path)
	switch {
	case os.IsNotExist(err):
		return current
	case err != nil:
		l.logger.Error("rate limit state unreadable, starting fresh window", "path", l.path, "error", err)
		return state{}
	}

	if err := json.Unmarshal(data, &current); err != nil {
		l.logger.Error("rate limit state corrupt, starting fresh window", "path", l.path, "error", err)
		return state{}
	}

	// Prune entries older than the window before any count check.
	cutoff := now.Add(-window)
	pruned := current.Attempts[:0]
	for _, attempt := range current.Attempts {
		if attempt.After(cutoff) {
			pruned = append(pruned, attempt)
		}
	}
	current.Attempts = pruned

	if current.LockoutUntil != nil && !now.Before(*current.LockoutUntil) {
		current.LockoutUntil = nil
	}
	return current
}

func (l *Limiter) persist(current state) error {
	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Errorf("ratelimit: encoding state: %w", err)
	}
	if err := statefile.WriteAtomic(l.path, data, 0o600); err != nil {
		return fmt.Errorf("ratelimit: persisting state: %w", err)
	}
	return nil
}
