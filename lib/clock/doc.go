// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, time.AfterFunc, or time.Sleep directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when Advance
// is called.
//
// Components with time-dependent behavior take a Clock so their
// deadline logic can be tested without real sleeps: the challenge
// coordinator for TTL expiry, the rate limiter for window pruning and
// lockout deadlines, and the vault for freshness checks.
//
// # FakeClock Synchronization
//
// When a goroutine calls Sleep, After, or AfterFunc on a FakeClock, it
// registers a pending waiter. Use WaitForTimers to block until a
// specific number of waiters are registered before calling Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go func() { <-c.After(30 * time.Second) }()
//	c.WaitForTimers(1)
//	c.Advance(30 * time.Second)
//
// This eliminates the race between timer registration and time
// advancement that plagues tests using time.Sleep for synchronization.
package clock
