// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads keyward's layered configuration.
//
// The effective configuration is built once at startup from three
// layers, later layers overriding earlier ones: compiled-in defaults,
// a config file (YAML, JSON, or JSONC), and KEYWARD_* environment
// variables. The result is an immutable struct handed to the gates at
// construction; no gate consults the environment or the file again at
// decision time.
//
// Environment overrides cover scalar knobs only. List-valued policy
// (allowed paths, allowed processes) comes exclusively from the file,
// where a reviewer can see it.
package config
