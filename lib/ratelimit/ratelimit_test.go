// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keyward/keyward/lib/clock"
)

func testLimiter(t *testing.T, maxPerHour int, lockout time.Duration) (*Limiter, *clock.FakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rate_limit.json")
	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return New(path, maxPerHour, lockout, fake, nil), fake, path
}

func TestAttemptsUpToCeilingAllowed(t *testing.T) {
	limiter, _, _ := testLimiter(t, 3, 15*time.Minute)

	for i := 0; i < 3; i++ {
		result := limiter.Attempt()
		if !result.Allowed {
			t.Fatalf("attempt %d denied, want allowed", i+1)
		}
		if result.Remaining != 3-(i+1) {
			t.Errorf("attempt %d Remaining = %d, want %d", i+1, result.Remaining, 3-(i+1))
		}
	}
}

func TestCeilingTriggersLockout(t *testing.T) {
	limiter, fake, _ := testLimiter(t, 3, 15*time.Minute)

	for i := 0; i < 3; i++ {
		limiter.Attempt()
	}

	// The (maxPerHour+1)-th attempt within the window is denied.
	result := limiter.Attempt()
	if result.Allowed {
		t.Fatal("attempt over ceiling allowed")
	}
	wantDeadline := fake.Now().Add(15 * time.Minute)
	if !result.LockoutUntil.Equal(wantDeadline) {
		t.Errorf("LockoutUntil = %v, want %v", result.LockoutUntil, wantDeadline)
	}

	// Still denied until the lockout elapses, even though attempts
	// would otherwise age out.
	fake.Advance(14 * time.Minute)
	if limiter.Attempt().Allowed {
		t.Error("attempt during lockout allowed")
	}

	fake.Advance(2 * time.Minute)
	fake.Advance(time.Hour) // age out the recorded attempts
	if !limiter.Attempt().Allowed {
		t.Error("attempt after lockout and window expiry denied")
	}
}

func TestWindowPrunesOldAttempts(t *testing.T) {
	limiter, fake, _ := testLimiter(t, 2, time.Hour)

	limiter.Attempt()
	limiter.Attempt()

	// Both attempts fall out of the 60-minute window.
	fake.Advance(61 * time.Minute)

	if !limiter.Attempt().Allowed {
		t.Error("attempt after window expiry denied")
	}
}

func TestCorruptStateFailsOpen(t *testing.T) {
	limiter, _, path := testLimiter(t, 1, time.Hour)

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	result := limiter.Attempt()
	if !result.Allowed {
		t.Error("corrupt state caused denial, want fail-open")
	}

	// The corrupt file was replaced with a fresh valid window.
	if !limiter.Status().Allowed {
		t.Error("Status after recovery denied")
	}
}

func TestStateSurvivesNewLimiter(t *testing.T) {
	limiter, fake, path := testLimiter(t, 2, time.Hour)
	limiter.Attempt()
	limiter.Attempt()

	// A fresh process constructs a new Limiter over the same file.
	reopened := New(path, 2, time.Hour, fake, nil)
	if reopened.Attempt().Allowed {
		t.Error("persisted attempts not visible to new limiter")
	}
}

func TestStatusDoesNotRecord(t *testing.T) {
	limiter, _, _ := testLimiter(t, 1, time.Hour)

	for i := 0; i < 5; i++ {
		if !limiter.Status().Allowed {
			t.Fatal("Status consumed window capacity")
		}
	}
	if !limiter.Attempt().Allowed {
		t.Error("first real attempt denied")
	}
}
