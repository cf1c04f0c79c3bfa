// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of keyward binaries.
package version

import "runtime/debug"

// Version is the release version, overridden at build time via
// -ldflags "-X github.com/keyward/keyward/lib/version.Version=...".
var Version = "dev"

// Info returns the version string, augmented with the VCS revision
// from build info when available.
func Info() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	var revision, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			if setting.Value == "true" {
				modified = "-dirty"
			}
		}
	}
	if revision == "" {
		return Version
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	return Version + " (" + revision + modified + ")"
}
