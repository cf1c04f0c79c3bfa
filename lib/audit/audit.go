// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit provides the append-only decision log.
//
// Every authorization decision, allow or deny with its specific
// reason, is appended as one JSON line. The sink never edits or
// removes prior entries; the log file is opened O_APPEND and records
// are written whole, so concurrent invocations interleave at record
// granularity, not byte granularity.
//
// The credential value itself must never reach this package. Records
// carry request metadata (process, command, user, cwd) and the decision
// status only.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/keyward/keyward/lib/clock"
)

// Record is one immutable audit log entry. Written once, never
// mutated.
type Record struct {
	// Timestamp is when the decision was made, RFC3339 with
	// sub-second precision.
	Timestamp time.Time `json:"timestamp"`

	// PID is the process ID of the invocation being decided.
	PID int `json:"pid"`

	// ProcessName is the invoking parent process's executable name,
	// or "unknown" when identity attestation failed.
	ProcessName string `json:"process_name"`

	// Command is the command line the credential release was
	// requested for, as reported by the caller.
	Command string `json:"command"`

	// User is the requesting OS user name.
	User string `json:"user"`

	// CWD is the working directory of the invocation.
	CWD string `json:"cwd"`

	// Status is the decision outcome: "Allow" or a deny reason such
	// as "UnauthorizedPath" or "RateLimited".
	Status string `json:"status"`
}

// Sink appends records to the audit log file.
type Sink struct {
	path   string
	clock  clock.Clock
	logger *slog.Logger
}

// NewSink creates a sink writing to the given path. The file and its
// parent directory are created on first append.
func NewSink(path string, clk clock.Clock, logger *slog.Logger) *Sink {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{path: path, clock: clk, logger: logger}
}

// Append stamps the record with the current time (unless the caller
// already set one) and writes it as a single JSON line. The write is
// O_APPEND on a 0600 file; a failure is returned so the caller can log
// it, but an audit write failure must not itself become a denial
// vector; callers log and continue.
func (s *Sink) Append(record Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = s.clock.Now()
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("audit: encoding record: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("audit: creating log directory: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("audit: opening log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("audit: appending record: %w", err)
	}
	return nil
}

// ReadAll returns every record in the log, oldest first. Used by tests
// and by status reporting; the hot path only appends.
func (s *Sink) ReadAll() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: reading log: %w", err)
	}

	var records []Record
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var record Record
				if err := json.Unmarshal(data[start:i], &record); err != nil {
					return nil, fmt.Errorf("audit: corrupt record at offset %d: %w", start, err)
				}
				records = append(records, record)
			}
			start = i + 1
		}
	}
	return records, nil
}
